package httpapi

import "net/http"

const docsPage = `<!doctype html>
<html>
<head>
  <title>Medic API</title>
  <meta charset="utf-8"/>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css"/>
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({url: "/docs/swagger.json", dom_id: "#swagger-ui"});
  </script>
</body>
</html>`

const swaggerJSON = `{
  "openapi": "3.0.3",
  "info": {
    "title": "Medic",
    "description": "Heartbeat monitoring, alerting and automated remediation.",
    "version": "2.0"
  },
  "paths": {
    "/heartbeat": {
      "post": {"summary": "Record a heartbeat", "responses": {"201": {"description": "accepted"}}},
      "get": {"summary": "List recent heartbeat events", "responses": {"200": {"description": "events"}}}
    },
    "/v2/heartbeat/{id}/start": {"post": {"summary": "Mark a job run started", "responses": {"201": {"description": "accepted"}}}},
    "/v2/heartbeat/{id}/complete": {"post": {"summary": "Mark a job run completed", "responses": {"201": {"description": "accepted"}}}},
    "/v2/heartbeat/{id}/fail": {"post": {"summary": "Mark a job run failed", "responses": {"201": {"description": "accepted"}}}},
    "/service": {
      "post": {"summary": "Register a service", "responses": {"201": {"description": "registered"}}},
      "get": {"summary": "List services", "responses": {"200": {"description": "services"}}}
    },
    "/service/{heartbeat_name}": {
      "get": {"summary": "Get a service", "responses": {"200": {"description": "service"}}},
      "post": {"summary": "Update a service", "responses": {"200": {"description": "updated"}}}
    },
    "/alerts": {"get": {"summary": "List alerts", "responses": {"200": {"description": "alerts"}}}},
    "/v2/snapshots": {"get": {"summary": "List configuration snapshots", "responses": {"200": {"description": "snapshots"}}}},
    "/v2/snapshots/{id}/restore": {"post": {"summary": "Restore a snapshot", "responses": {"200": {"description": "restored"}}}},
    "/v2/playbooks": {
      "get": {"summary": "List playbooks", "responses": {"200": {"description": "playbooks"}}},
      "post": {"summary": "Create or update a playbook", "responses": {"201": {"description": "saved"}}}
    },
    "/v2/playbooks/{id}/execute": {"post": {"summary": "Execute a playbook", "responses": {"201": {"description": "started"}}}},
    "/v2/executions": {"get": {"summary": "List executions", "responses": {"200": {"description": "executions"}}}},
    "/v2/executions/{id}/approve": {"post": {"summary": "Approve a pending execution", "responses": {"200": {"description": "approved"}}}},
    "/v2/executions/{id}/cancel": {"post": {"summary": "Cancel an execution", "responses": {"200": {"description": "cancelled"}}}},
    "/v2/triggers": {
      "get": {"summary": "List auto-remediation triggers", "responses": {"200": {"description": "triggers"}}},
      "post": {"summary": "Create a trigger", "responses": {"201": {"description": "created"}}}
    },
    "/v2/secrets": {
      "get": {"summary": "List secret names", "responses": {"200": {"description": "names"}}},
      "post": {"summary": "Store a secret", "responses": {"201": {"description": "stored"}}}
    },
    "/v2/maintenance": {
      "get": {"summary": "List maintenance windows", "responses": {"200": {"description": "windows"}}},
      "post": {"summary": "Create a maintenance window", "responses": {"201": {"description": "created"}}}
    },
    "/v1/events/ws": {"get": {"summary": "Live event stream over WebSocket", "responses": {"101": {"description": "upgrade"}}}},
    "/metrics": {"get": {"summary": "Prometheus metrics", "responses": {"200": {"description": "metrics"}}}}
  }
}`

func (r *router) handleDocs(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(docsPage))
}

func (r *router) handleSwagger(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(swaggerJSON))
}
