package api

import "github.com/mattjoyce/switchyard/internal/auth"

type operation struct {
	method  string
	path    string
	id      string
	summary string
	scope   string
	body    map[string]any
}

var operations = []operation{
	{method: "post", path: "/api/v1/tickets/{ticketID}/dispatch", id: "dispatchTicket",
		summary: "Route a trigger to personas for a ticket", scope: auth.ScopeDispatch,
		body: objectSchema(map[string]string{
			"personaId": "string", "mention": "string", "role": "string", "broadcast": "boolean",
			"kind": "string", "message": "string", "suppressAck": "boolean", "wait": "boolean",
		})},
	{method: "post", path: "/api/v1/tickets/{ticketID}/complete", id: "completeTicket",
		summary: "Apply an agent's completion payload", scope: auth.ScopeComplete,
		body: objectSchema(map[string]string{
			"personaId": "string", "content": "string", "conversational": "boolean",
			"documentType": "string", "sessionDir": "string", "outcome": "string",
		})},
	{method: "get", path: "/api/v1/tickets/{ticketID}/sessions", id: "listSessions",
		summary: "List a ticket's session directories", scope: auth.ScopeRead},
	{method: "post", path: "/api/v1/sweep", id: "sweep",
		summary: "Run one scheduler sweep now", scope: auth.ScopeAdmin},
	{method: "get", path: "/api/v1/system", id: "systemState",
		summary: "Read the system pause state", scope: auth.ScopeRead},
	{method: "post", path: "/api/v1/system/pause", id: "pauseSystem",
		summary: "Pause all dispatching", scope: auth.ScopeAdmin,
		body: objectSchema(map[string]string{"reason": "string", "for": "string"})},
	{method: "post", path: "/api/v1/system/resume", id: "resumeSystem",
		summary: "Clear the system pause", scope: auth.ScopeAdmin},
	{method: "get", path: "/events", id: "events",
		summary: "Server-sent event stream", scope: auth.ScopeRead},
}

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the authenticated routes.
func buildOpenAPIDoc() map[string]any {
	paths := map[string]any{}
	for _, op := range operations {
		item, _ := paths[op.path].(map[string]any)
		if item == nil {
			item = map[string]any{}
			paths[op.path] = item
		}
		entry := map[string]any{
			"operationId": op.id,
			"summary":     op.summary,
			"x-scope":     op.scope,
			"responses": map[string]any{
				"200": map[string]any{"description": "OK"},
				"400": map[string]any{"description": "Bad request"},
				"401": map[string]any{"description": "Missing or invalid token"},
				"403": map[string]any{"description": "Insufficient scope"},
			},
			"security": []any{map[string]any{"BearerAuth": []string{}}},
		}
		if op.body != nil {
			entry["requestBody"] = map[string]any{
				"required": false,
				"content": map[string]any{
					"application/json": map[string]any{"schema": op.body},
				},
			}
		}
		item[op.method] = entry
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "Switchyard",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}

func objectSchema(props map[string]string) map[string]any {
	properties := make(map[string]any, len(props))
	for name, typ := range props {
		properties[name] = map[string]any{"type": typ}
	}
	return map[string]any{"type": "object", "properties": properties}
}
