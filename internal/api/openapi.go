package api

import (
	"net/http"
	"strings"
)

type route struct {
	method  string
	path    string
	summary string
	// body names the request schema, if any.
	body string
}

var routes = []route{
	{http.MethodPost, "/v1/sessions", "Create an editing session", "CreateSessionRequest"},
	{http.MethodGet, "/v1/sessions/{id}", "Get a session, restoring it from storage if needed", ""},
	{http.MethodDelete, "/v1/sessions/{id}", "Delete a session and its history", ""},
	{http.MethodPost, "/v1/sessions/{id}/edits", "Apply one edit event", "Event"},
	{http.MethodGet, "/v1/sessions/{id}/revisions", "List stored revisions, newest first", ""},
	{http.MethodPost, "/v1/jobs/parse", "Parse a job list into a graph", "TextRequest"},
	{http.MethodPost, "/v1/jobs/generate", "Write a graph as a job list", "GraphRequest"},
	{http.MethodPost, "/v1/script/parse", "Parse a shell script into a graph", "TextRequest"},
	{http.MethodPost, "/v1/script/generate", "Write a graph as a shell script", "GraphRequest"},
	{http.MethodPost, "/v1/workflow/generate", "Write a graph as a CI workflow", "GraphRequest"},
	{http.MethodPost, "/v1/graph/dot", "Export a graph as Graphviz DOT", "GraphRequest"},
	{http.MethodGet, "/v1/events", "Stream session events (SSE)", ""},
}

// buildOpenAPIDoc returns an OpenAPI 3.1 document describing the /v1 routes.
func buildOpenAPIDoc(secured bool) map[string]any {
	paths := map[string]map[string]any{}
	for _, rt := range routes {
		op := map[string]any{
			"summary": rt.summary,
			"responses": map[string]any{
				"200": map[string]any{"description": "OK"},
				"400": map[string]any{"description": "Bad request"},
				"404": map[string]any{"description": "Not found"},
			},
		}
		if rt.body != "" {
			op["requestBody"] = map[string]any{
				"required": true,
				"content": map[string]any{
					"application/json": map[string]any{
						"schema": map[string]any{"$ref": "#/components/schemas/" + rt.body},
					},
				},
			}
		}
		if secured {
			op["security"] = []any{map[string]any{"BearerAuth": []string{}}}
		}
		if paths[rt.path] == nil {
			paths[rt.path] = map[string]any{}
		}
		paths[rt.path][strings.ToLower(rt.method)] = op
	}

	schemas := map[string]any{}
	for _, rt := range routes {
		if rt.body != "" {
			schemas[rt.body] = map[string]any{"type": "object"}
		}
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "Tandem",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"schemas": schemas,
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}

// handleOpenAPI handles GET /openapi.json.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.config.Token != ""))
}
