package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"

	"github.com/mattjoyce/uplink/internal/api"
	"github.com/mattjoyce/uplink/internal/auth"
	"github.com/mattjoyce/uplink/internal/config"
	"github.com/mattjoyce/uplink/internal/diag"
	"github.com/mattjoyce/uplink/internal/dispatch"
	"github.com/mattjoyce/uplink/internal/envelope"
	"github.com/mattjoyce/uplink/internal/events"
	"github.com/mattjoyce/uplink/internal/host"
	"github.com/mattjoyce/uplink/internal/janitor"
	"github.com/mattjoyce/uplink/internal/lock"
	"github.com/mattjoyce/uplink/internal/log"
	"github.com/mattjoyce/uplink/internal/protocol"
	"github.com/mattjoyce/uplink/internal/signals"
	"github.com/mattjoyce/uplink/internal/storage"
	"github.com/mattjoyce/uplink/internal/task"
	"github.com/mattjoyce/uplink/internal/uploads"
	"github.com/mattjoyce/uplink/internal/worker"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "serve":
		os.Exit(runServe(args))
	case "dispatch":
		os.Exit(runDispatch(args))
	case "cancel":
		os.Exit(runCancel(args))
	case "job":
		os.Exit(runJob(args))
	case "version":
		fmt.Printf("uplink version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`uplink - background upload dispatch and correlation

Usage:
  uplink <command> [args] [flags]

Commands:
  serve                 Run the worker (and the API when enabled)
  dispatch <kind>       Launch an upload job and print its job id
  cancel <job-id>       Send a cancel signal to a job
  job <job-id>          Show the latest status of a job
  version               Show version information
  help                  Show this help message

Common flags:
  --config <path>       Config file or directory (default: discovered)

Dispatch flags:
  --params <file>       JSON parameters file ("-" for stdin)
  --url <url>           Server URL (when --params is not used)
  --file <path>         File to upload, repeatable
  --field <name>        Multipart field name (default "file")
  --method <verb>       HTTP method (default POST)
  --id <job-id>         Job id (default: random uuid)
  --channel <id>        Notification channel, enables foreground launches
  --max-retries <n>     Retry budget
`)
}

// splitArgs separates leading positional arguments from flags so flags may
// follow them, as in 'uplink cancel <id> --config x'.
func splitArgs(args []string) (positional, flags []string) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if strings.HasPrefix(arg, "-") {
			flags = append(flags, arg)
			if !strings.Contains(arg, "=") && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") && !isBoolFlag(arg) {
				flags = append(flags, args[i+1])
				i++
			}
			continue
		}
		positional = append(positional, arg)
	}
	return positional, flags
}

func isBoolFlag(arg string) bool {
	return arg == "--json" || arg == "-json"
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			return nil, err
		}
		path = discovered
	}
	return config.Load(path)
}

func openState(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("open state %s: %w", cfg.State.Path, err)
	}
	return db, nil
}

// wiring is the object graph shared by serve and dispatch.
type wiring struct {
	registry *task.Registry
	sink     diag.Sink
	codec    *envelope.Codec
	mailbox  *host.Mailbox
	bus      *host.SignalBus
	gateway  *dispatch.Gateway
}

func wire(cfg *config.Config, db *sql.DB) (*wiring, error) {
	reg := task.NewRegistry()
	if err := uploads.Register(reg); err != nil {
		return nil, err
	}
	tier, err := dispatch.ParseTier(cfg.Service.Tier)
	if err != nil {
		return nil, err
	}

	sink := diag.NewSlogSink(log.WithComponent("diag"))
	codec := envelope.NewCodec(cfg.Service.DispatchAction, task.CapabilityUpload, reg, sink)
	mailbox := host.NewMailbox(db)
	return &wiring{
		registry: reg,
		sink:     sink,
		codec:    codec,
		mailbox:  mailbox,
		bus:      host.NewSignalBus(db),
		gateway:  dispatch.NewGateway(codec, mailbox, dispatch.Capability{Tier: tier}, cfg.Service.Namespace, sink),
	}, nil
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.SetupWriter(os.Stderr, cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("uplink starting", "version", version, "namespace", cfg.Service.Namespace, "tier", cfg.Service.Tier)

	workerLock, err := lock.Acquire(cfg.State.Path)
	if err != nil {
		logger.Error("failed to acquire worker lock (another worker may be running)", "error", err)
		return 1
	}
	defer workerLock.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := openState(ctx, cfg)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		return 1
	}
	defer db.Close()

	wr, err := wire(cfg, db)
	if err != nil {
		logger.Error("failed to wire components", "error", err)
		return 1
	}
	logger.Info("job kinds registered", "kinds", wr.registry.Names())

	hub := events.NewHub(256)

	jan := janitor.New(janitor.Config{
		Target:    cfg.Service.Namespace,
		MaxClaims: cfg.Uploads.MaxClaims,
		Retention: cfg.State.Retention,
	}, wr.mailbox, hub, log.Get())
	if requeued, failed, err := jan.Recover(ctx); err != nil {
		logger.Error("crash recovery failed", "error", err)
		return 1
	} else if requeued+failed > 0 {
		logger.Warn("crash recovery complete", "requeued", requeued, "failed", failed)
	}

	w := worker.New(
		worker.Config{
			Namespace:     cfg.Service.Namespace,
			PollInterval:  cfg.Service.PollInterval,
			MaxConcurrent: cfg.Uploads.MaxConcurrent,
		},
		wr.codec,
		task.NewResolver(wr.sink),
		wr.mailbox,
		wr.bus,
		hub,
		task.ExecContext{Client: &http.Client{Timeout: cfg.Uploads.Timeout}},
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	svc := newServices(3)
	svc.Go("worker", func() error { return w.Start(ctx) })
	svc.Go("janitor", func() error { return jan.Run(ctx) })

	if cfg.API.Enabled {
		tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
		for _, t := range cfg.API.Auth.Tokens {
			tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
		}
		apiServer := api.New(api.Config{
			Listen:    cfg.API.Listen,
			Namespace: cfg.Service.Namespace,
			APIKey:    cfg.API.Auth.APIKey,
			Tokens:    tokens,
		}, wr.gateway, wr.mailbox, wr.registry, wr.bus, hub, log.WithComponent("api"))
		svc.Go("api", func() error { return apiServer.Start(ctx) })
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("uplink running (press Ctrl+C to stop)")

	code := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-svc.Errors():
		logger.Error("component failed", "error", err)
		code = 1
	}
	cancel()
	// Everything touching the database stops before the deferred Close.
	svc.Wait()

	logger.Info("uplink stopped")
	return code
}

// services runs the long-lived serve components and waits for all of them.
type services struct {
	wg    sync.WaitGroup
	errCh chan error
}

// newServices sizes the error channel for n components so Go never blocks.
func newServices(n int) *services {
	return &services{errCh: make(chan error, n)}
}

// Go runs fn in its own goroutine. A non-cancellation error is reported on Errors.
func (s *services) Go(name string, fn func() error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
			s.errCh <- fmt.Errorf("%s: %w", name, err)
		}
	}()
}

func (s *services) Errors() <-chan error { return s.errCh }

// Wait blocks until every component has returned.
func (s *services) Wait() { s.wg.Wait() }

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string     { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error { *s = append(*s, v); return nil }

func runDispatch(args []string) int {
	positional, flagArgs := splitArgs(args)

	fs := flag.NewFlagSet("dispatch", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	paramsPath := fs.String("params", "", "JSON parameters file (- for stdin)")
	serverURL := fs.String("url", "", "Server URL")
	field := fs.String("field", "file", "Multipart field name")
	method := fs.String("method", "", "HTTP method")
	jobID := fs.String("id", "", "Job id")
	channel := fs.String("channel", "", "Notification channel id")
	maxRetries := fs.Int("max-retries", 0, "Retry budget")
	var files stringList
	fs.Var(&files, "file", "File to upload (repeatable)")
	if err := fs.Parse(flagArgs); err != nil {
		return 1
	}
	if len(positional) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: uplink dispatch <kind> [flags]")
		return 1
	}
	kind := positional[0]

	params, err := buildParams(*paramsPath, *serverURL, *field, *method, *jobID, *channel, *maxRetries, files)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid parameters: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.SetupWriter(os.Stderr, "warn", cfg.Service.LogFormat)

	ctx := context.Background()
	db, err := openState(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer db.Close()

	wr, err := wire(cfg, db)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if _, ok := wr.registry.Lookup(kind); !ok {
		fmt.Fprintf(os.Stderr, "Unknown upload kind %q (registered: %s)\n", kind, strings.Join(wr.registry.Names(), ", "))
		return 1
	}

	id, err := wr.gateway.Dispatch(ctx, kind, params)
	if errors.Is(err, dispatch.ErrNotificationRequired) {
		fmt.Fprintf(os.Stderr, "%v\nHint: pass --channel or set notification_config in the parameters file\n", err)
		return 2
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Dispatch failed: %v\n", err)
		return 1
	}
	fmt.Println(id)
	return 0
}

func buildParams(paramsPath, serverURL, field, method, jobID, channel string, maxRetries int, files []string) (protocol.Parameters, error) {
	var p protocol.Parameters
	if paramsPath != "" {
		var (
			raw []byte
			err error
		)
		if paramsPath == "-" {
			raw, err = io.ReadAll(os.Stdin)
		} else {
			raw, err = os.ReadFile(paramsPath)
		}
		if err != nil {
			return p, fmt.Errorf("read params: %w", err)
		}
		if err := json.Unmarshal(raw, &p); err != nil {
			return p, fmt.Errorf("parse params: %w", err)
		}
	} else {
		p.ServerURL = serverURL
		p.Method = method
		p.MaxRetries = maxRetries
		for _, f := range files {
			p.Files = append(p.Files, protocol.UploadFile{Path: f, FieldName: field})
		}
	}

	if jobID != "" {
		p.ID = jobID
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if channel != "" && p.Notification == nil {
		p.Notification = &protocol.NotificationConfig{ChannelID: channel}
	}
	return p, p.Validate()
}

func runCancel(args []string) int {
	positional, flagArgs := splitArgs(args)
	fs := flag.NewFlagSet("cancel", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(flagArgs); err != nil {
		return 1
	}
	if len(positional) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: uplink cancel <job-id> [--config path]")
		return 1
	}
	jobID := positional[0]

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	ctx := context.Background()
	db, err := openState(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer db.Close()

	sig := signals.NewAddressor(cfg.Service.Namespace).BuildCancelSignal(jobID, signals.RequestCodeFor(jobID))
	if err := host.NewSignalBus(db).Send(ctx, sig); err != nil {
		fmt.Fprintf(os.Stderr, "Cancel failed: %v\n", err)
		return 1
	}
	fmt.Printf("cancel requested for %s\n", jobID)
	return 0
}

func runJob(args []string) int {
	positional, flagArgs := splitArgs(args)
	fs := flag.NewFlagSet("job", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output JSON")
	if err := fs.Parse(flagArgs); err != nil {
		return 1
	}
	if len(positional) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: uplink job <job-id> [--json] [--config path]")
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	ctx := context.Background()
	db, err := openState(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer db.Close()

	rec, err := host.NewMailbox(db).Get(ctx, positional[0])
	if errors.Is(err, host.ErrJobNotFound) {
		fmt.Fprintf(os.Stderr, "job %s not found\n", positional[0])
		return 1
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(rec)
		return 0
	}
	fmt.Printf("job:     %s\nkind:    %s\nmode:    %s\nstatus:  %s\ncreated: %s\n",
		rec.JobID, rec.Kind, rec.Mode, rec.Status, rec.CreatedAt.Format("2006-01-02 15:04:05"))
	if rec.LastError != nil {
		fmt.Printf("error:   %s\n", *rec.LastError)
	}
	return 0
}
