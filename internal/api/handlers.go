package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mattjoyce/uplink/internal/dispatch"
	"github.com/mattjoyce/uplink/internal/events"
	"github.com/mattjoyce/uplink/internal/host"
	"github.com/mattjoyce/uplink/internal/protocol"
	"github.com/mattjoyce/uplink/internal/signals"
)

const maxBodyBytes = 1 << 20

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	depth, err := s.jobs.Depth(r.Context(), s.config.Namespace)
	if err != nil {
		s.logger.Error("failed to compute queue depth", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to compute queue depth")
		return
	}

	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		QueueDepth:    depth,
		Kinds:         s.kinds.Names(),
	})
}

// handleDispatch handles POST /uploads/{kind}. The body is the upload
// parameters; an empty id is filled with a fresh uuid.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	if _, ok := s.kinds.Lookup(kind); !ok {
		s.writeError(w, http.StatusNotFound, "unknown upload kind: "+kind)
		return
	}

	var params protocol.Parameters
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&params); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if params.ID == "" {
		params.ID = uuid.NewString()
	}
	if err := params.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobID, err := s.dispatcher.Dispatch(r.Context(), kind, params)
	if err != nil {
		if errors.Is(err, dispatch.ErrNotificationRequired) {
			s.writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.logger.Error("failed to dispatch upload", "kind", kind, "job_id", params.ID, "error", err)
		s.writeError(w, http.StatusBadGateway, "failed to dispatch upload")
		return
	}

	s.events.Publish(events.JobDispatched, jobID, map[string]string{"kind": kind})
	respondJSON(w, http.StatusAccepted, DispatchResponse{JobID: jobID, Kind: kind, Status: "dispatched"})
}

// handleCancel handles POST /uploads/{jobID}/cancel. Cancelling an unknown
// or finished job is accepted and has no effect.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	code := signals.RequestCodeFor(jobID)

	if err := s.sender.Send(r.Context(), s.addressor.BuildCancelSignal(jobID, code)); err != nil {
		s.logger.Error("failed to send cancel signal", "job_id", jobID, "error", err)
		s.writeError(w, http.StatusBadGateway, "failed to send cancel signal")
		return
	}

	s.events.Publish(events.CancelSent, jobID, map[string]int{"request_code": code})
	respondJSON(w, http.StatusAccepted, CancelResponse{JobID: jobID, Status: "cancel_requested", RequestCode: code})
}

// handleGetJob handles GET /uploads/{jobID}.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	rec, err := s.jobs.Get(r.Context(), jobID)
	if errors.Is(err, host.ErrJobNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get job", "job_id", jobID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	respondJSON(w, http.StatusOK, JobStatusResponse{
		JobID:       rec.JobID,
		Kind:        rec.Kind,
		Mode:        string(rec.Mode),
		Status:      string(rec.Status),
		CreatedAt:   rec.CreatedAt,
		ClaimedAt:   rec.ClaimedAt,
		CompletedAt: rec.CompletedAt,
		LastError:   rec.LastError,
	})
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.kinds.Names()))
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
