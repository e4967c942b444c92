package api

import (
	"net/http"
	"strings"
)

type access int

const (
	public access = iota
	session
	admin
)

type routeDoc struct {
	Method    string
	Path      string
	Summary   string
	Access    access
	Responses map[string]string
}

// routeDocs describes the API surface served by setupRoutes.
var routeDocs = []routeDoc{
	{http.MethodGet, "/healthz", "Service health and devbench counts", public, map[string]string{"200": "Healthy"}},
	{http.MethodPost, "/login", "Exchange credentials for a session token", public, map[string]string{"200": "Logged in", "401": "Invalid credentials", "403": "User disabled", "429": "Too many login attempts"}},
	{http.MethodGet, "/logout", "Clear the session cookie", public, map[string]string{"200": "Logged out"}},
	{http.MethodGet, "/dashboard", "Current user and their devbenches", session, map[string]string{"200": "Dashboard data"}},
	{http.MethodGet, "/devbenches", "List the caller's devbenches", session, map[string]string{"200": "Devbench list"}},
	{http.MethodGet, "/devbenches/{id}", "Get one devbench", session, map[string]string{"200": "Devbench", "404": "Not found"}},
	{http.MethodGet, "/devbenches/{id}/logs", "Recent provisioning script runs", session, map[string]string{"200": "Operations, newest first", "404": "Not found"}},
	{http.MethodPost, "/create-devbench", "Create and provision a devbench", session, map[string]string{"201": "Created in Creating state", "400": "Invalid or duplicate name"}},
	{http.MethodPost, "/activate-devbench/{id}", "Start a provisioned devbench", session, map[string]string{"202": "Accepted", "400": "Not provisioned", "404": "Not found", "409": "Operation in progress"}},
	{http.MethodPost, "/retry-devbench/{id}", "Replay create for a devbench in Error", session, map[string]string{"202": "Accepted", "400": "Not in Error", "404": "Not found", "409": "Operation in progress"}},
	{http.MethodPost, "/delete-devbench/{id}", "Tear down and remove a devbench", session, map[string]string{"200": "Deleted", "404": "Not found", "409": "Operation in progress"}},
	{http.MethodGet, "/check-status/{id}", "Run a liveness check now", session, map[string]string{"200": "Current state", "400": "Not provisioned", "404": "Not found", "409": "Operation in progress", "502": "Status check failed"}},
	{http.MethodGet, "/ws", "Live update websocket", session, map[string]string{"101": "Switching protocols"}},
	{http.MethodGet, "/admin", "All users and devbenches", admin, map[string]string{"200": "Overview", "403": "Not an admin"}},
	{http.MethodGet, "/admin/users", "List users", admin, map[string]string{"200": "Users"}},
	{http.MethodPost, "/admin/users", "Create a user", admin, map[string]string{"201": "Created", "400": "Invalid input", "409": "Already exists"}},
	{http.MethodPost, "/admin/users/{id}/disable", "Disable a user", admin, map[string]string{"200": "Disabled", "404": "Not found"}},
	{http.MethodPost, "/admin/users/{id}/enable", "Enable a user", admin, map[string]string{"200": "Enabled", "404": "Not found"}},
	{http.MethodDelete, "/admin/users/{id}", "Delete a user without devbenches", admin, map[string]string{"200": "Deleted", "404": "Not found", "409": "User owns devbenches"}},
}

// buildOpenAPIDoc returns an OpenAPI 3.1 document for routeDocs.
func buildOpenAPIDoc(cookieName string) map[string]any {
	paths := map[string]any{}
	for _, rd := range routeDocs {
		item, ok := paths[rd.Path].(map[string]any)
		if !ok {
			item = map[string]any{}
			paths[rd.Path] = item
		}

		responses := map[string]any{}
		for code, desc := range rd.Responses {
			responses[code] = map[string]any{"description": desc}
		}
		if rd.Access != public {
			responses["401"] = map[string]any{"description": "Missing or invalid session"}
		}

		op := map[string]any{
			"summary":   rd.Summary,
			"responses": responses,
		}
		if rd.Access != public {
			op["security"] = []any{
				map[string]any{"BearerAuth": []string{}},
				map[string]any{"SessionCookie": []string{}},
			}
		}
		if rd.Access == admin {
			op["tags"] = []string{"admin"}
		}
		item[strings.ToLower(rd.Method)] = op
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "Devbench Console",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":         "http",
					"scheme":       "bearer",
					"bearerFormat": "JWT",
				},
				"SessionCookie": map[string]any{
					"type": "apiKey",
					"in":   "cookie",
					"name": cookieName,
				},
			},
		},
	}
}

// handleOpenAPI handles GET /openapi.json.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.config.CookieName))
}
