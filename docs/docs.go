package docs

import "github.com/swaggo/swag"

const docTemplate = `{
  "swagger": "2.0",
  "info": {
    "title": "ftex",
    "description": "Thread mining and derived intelligence cache for support tickets",
    "version": "1.0"
  },
  "basePath": "/",
  "securityDefinitions": {
    "AdminKey": {"type": "apiKey", "name": "X-Admin-Key", "in": "header"}
  },
  "paths": {
    "/healthz": {"get": {"tags": ["health"], "summary": "Health check", "responses": {"200": {"description": "OK"}}}},
    "/api/tickets/{id}/intelligence": {
      "get": {"tags": ["tickets"], "summary": "Cached intelligence for a ticket", "parameters": [{"name": "id", "in": "path", "required": true, "type": "integer"}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not analyzed"}}},
      "patch": {"tags": ["tickets"], "summary": "Edit cached intelligence", "security": [{"AdminKey": []}], "parameters": [{"name": "id", "in": "path", "required": true, "type": "integer"}, {"name": "request", "in": "body", "required": true, "schema": {"type": "object"}}], "responses": {"200": {"description": "OK"}, "400": {"description": "Validation error"}}}
    },
    "/api/tickets/{id}/analysis": {"get": {"tags": ["tickets"], "summary": "Fresh thread analysis for a ticket", "parameters": [{"name": "id", "in": "path", "required": true, "type": "integer"}], "responses": {"200": {"description": "OK"}, "404": {"description": "Ticket not found"}}}},
    "/api/tickets/{id}/pending": {"get": {"tags": ["tickets"], "summary": "Who the ticket is waiting on", "parameters": [{"name": "id", "in": "path", "required": true, "type": "integer"}], "responses": {"200": {"description": "OK"}, "404": {"description": "Ticket not found"}}}},
    "/api/tickets/{id}/invalidate": {"post": {"tags": ["tickets"], "summary": "Drop the cached record for a ticket", "security": [{"AdminKey": []}], "parameters": [{"name": "id", "in": "path", "required": true, "type": "integer"}], "responses": {"200": {"description": "OK"}}}},
    "/api/entities": {"get": {"tags": ["entities"], "summary": "Entity profiles", "responses": {"200": {"description": "OK"}}}},
    "/api/entities/{name}": {"get": {"tags": ["entities"], "summary": "One entity profile with its latest metrics", "parameters": [{"name": "name", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}, "404": {"description": "Entity not found"}}}},
    "/api/metrics/dashboard": {"get": {"tags": ["metrics"], "summary": "Dashboard metrics", "responses": {"200": {"description": "OK"}, "404": {"description": "Not computed"}}}},
    "/api/metrics/agents": {"get": {"tags": ["metrics"], "summary": "Per-agent metrics", "responses": {"200": {"description": "OK"}}}},
    "/api/metrics/entities": {"get": {"tags": ["metrics"], "summary": "Per-entity metrics", "responses": {"200": {"description": "OK"}}}},
    "/api/metrics/ai": {"get": {"tags": ["metrics"], "summary": "AI coverage metrics", "responses": {"200": {"description": "OK"}, "404": {"description": "Not computed"}}}},
    "/api/metrics/recompute": {"post": {"tags": ["metrics"], "summary": "Recompute dataset metrics", "security": [{"AdminKey": []}], "responses": {"200": {"description": "OK"}}}},
    "/api/cache/stats": {"get": {"tags": ["cache"], "summary": "Cache statistics", "responses": {"200": {"description": "OK"}}}},
    "/api/cache/stale": {"post": {"tags": ["cache"], "summary": "Find tickets whose cached record is missing or old", "security": [{"AdminKey": []}], "responses": {"200": {"description": "OK"}}}},
    "/api/cache/clear": {"post": {"tags": ["cache"], "summary": "Wipe the cache and metrics", "security": [{"AdminKey": []}], "responses": {"200": {"description": "OK"}}}},
    "/api/process": {"post": {"tags": ["process"], "summary": "Run the processing pipeline", "security": [{"AdminKey": []}], "responses": {"200": {"description": "OK"}, "409": {"description": "Run in progress"}}}},
    "/api/import": {"post": {"tags": ["import"], "summary": "Import a ticket export into the database", "security": [{"AdminKey": []}], "consumes": ["multipart/form-data"], "parameters": [{"name": "tickets", "in": "formData", "required": true, "type": "file"}], "responses": {"200": {"description": "OK"}}}},
    "/api/runs/latest": {"get": {"tags": ["runs"], "summary": "Latest processing run", "responses": {"200": {"description": "OK"}, "404": {"description": "No runs"}}}}
  }
}`

func init() {
	swag.Register(swag.Name, &s{})
}

type s struct{}

func (s *s) ReadDoc() string {
	return docTemplate
}
