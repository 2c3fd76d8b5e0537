package api

import "fmt"

// buildOpenAPIDoc returns an OpenAPI 3.1 document with one dispatch path per
// registered upload kind plus the shared job endpoints.
func buildOpenAPIDoc(kinds []string) map[string]any {
	security := []any{map[string]any{"BearerAuth": []string{}}}
	paths := map[string]any{}

	for _, kind := range kinds {
		paths["/uploads/"+kind] = map[string]any{
			"post": map[string]any{
				"operationId": "dispatch__" + kind,
				"summary":     fmt.Sprintf("Dispatch a %s upload", kind),
				"tags":        []string{"uploads"},
				"requestBody": map[string]any{
					"required": true,
					"content": map[string]any{
						"application/json": map[string]any{
							"schema": map[string]any{"$ref": "#/components/schemas/UploadParameters"},
						},
					},
				},
				"responses": map[string]any{
					"202": map[string]any{"description": "Upload dispatched"},
					"400": map[string]any{"description": "Invalid parameters"},
					"403": map[string]any{"description": "Insufficient scope"},
					"422": map[string]any{"description": "Notification config required for foreground launch"},
				},
				"security": security,
			},
		}
	}

	paths["/uploads/{job_id}"] = map[string]any{
		"get": map[string]any{
			"operationId": "getUpload",
			"summary":     "Upload job status",
			"tags":        []string{"uploads"},
			"responses": map[string]any{
				"200": map[string]any{"description": "Job status"},
				"404": map[string]any{"description": "Job not found"},
			},
			"security": security,
		},
	}
	paths["/uploads/{job_id}/cancel"] = map[string]any{
		"post": map[string]any{
			"operationId": "cancelUpload",
			"summary":     "Request cancellation of an upload",
			"tags":        []string{"uploads"},
			"responses": map[string]any{
				"202": map[string]any{"description": "Cancel signal sent"},
			},
			"security": security,
		},
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "Uplink",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"schemas": map[string]any{
				"UploadParameters": map[string]any{
					"type":     "object",
					"required": []string{"server_url"},
					"properties": map[string]any{
						"id":                  map[string]any{"type": "string"},
						"server_url":          map[string]any{"type": "string", "format": "uri"},
						"method":              map[string]any{"type": "string"},
						"max_retries":         map[string]any{"type": "integer", "minimum": 0},
						"auto_delete_files":   map[string]any{"type": "boolean"},
						"files":               map[string]any{"type": "array"},
						"headers":             map[string]any{"type": "object"},
						"request_parameters":  map[string]any{"type": "object"},
						"notification_config": map[string]any{"type": "object"},
					},
				},
			},
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}
