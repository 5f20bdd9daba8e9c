package playbook

import (
	"strings"
	"testing"
	"time"
)

const samplePlaybookYAML = `
name: restart-worker
description: Restart the worker fleet when heartbeats stop.
approval: timeout:10m
parameters:
  REGION: us-east-1
steps:
  - name: page-oncall
    type: webhook
    url: https://hooks.example.com/page?region=${REGION}
    method: POST
    headers:
      Authorization: Bearer ${secrets.HOOK_TOKEN}
    body:
      service: ${SERVICE_NAME}
    success_codes: [200, 204]
    on_failure: continue
  - name: restart
    type: script
    script_name: restart-worker
    parameters:
      REGION: eu-west-1
      FLEET: workers
    timeout_seconds: 60
  - name: settle
    type: wait
    duration_seconds: 30
  - name: verify
    type: condition
    condition_type: heartbeat_received
    min_count: 2
    status: up
    timeout_seconds: 120
    on_failure: escalate
`

func TestParseFullPlaybook(t *testing.T) {
	parsed, err := Parse(samplePlaybookYAML)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Name != "restart-worker" {
		t.Fatalf("unexpected name %q", parsed.Name)
	}
	if parsed.Approval.Mode != ApprovalTimeout || parsed.Approval.Timeout != 10*time.Minute {
		t.Fatalf("unexpected approval %+v", parsed.Approval)
	}
	if parsed.Parameters["REGION"] != "us-east-1" {
		t.Fatalf("unexpected parameters %v", parsed.Parameters)
	}
	if len(parsed.Steps) != 4 {
		t.Fatalf("expected 4 steps, got %d", len(parsed.Steps))
	}

	webhook := parsed.Steps[0]
	if webhook.Type != StepTypeWebhook || webhook.OnFailure != OnFailureContinue {
		t.Fatalf("unexpected webhook step %+v", webhook)
	}
	if len(webhook.Webhook.SuccessCodes) != 2 || webhook.Webhook.SuccessCodes[1] != 204 {
		t.Fatalf("unexpected success codes %v", webhook.Webhook.SuccessCodes)
	}

	script := parsed.Steps[1]
	if script.Type != StepTypeScript || script.Script.ScriptName != "restart-worker" || script.Script.TimeoutSeconds != 60 {
		t.Fatalf("unexpected script step %+v", script)
	}
	if script.Script.Parameters["REGION"] != "eu-west-1" || script.Script.Parameters["FLEET"] != "workers" {
		t.Fatalf("unexpected step parameters %v", script.Script.Parameters)
	}
	if script.OnFailure != OnFailureFail {
		t.Fatalf("expected default on_failure, got %q", script.OnFailure)
	}

	wait := parsed.Steps[2]
	if wait.Type != StepTypeWait || wait.Wait.DurationSeconds != 30 {
		t.Fatalf("unexpected wait step %+v", wait)
	}

	condition := parsed.Steps[3]
	if condition.Type != StepTypeCondition || condition.Condition.MinCount != 2 || condition.Condition.Status != "UP" {
		t.Fatalf("unexpected condition step %+v", condition)
	}
	if condition.OnFailure != OnFailureEscalate {
		t.Fatalf("unexpected on_failure %q", condition.OnFailure)
	}
}

func TestParseDefaults(t *testing.T) {
	parsed, err := Parse(`
name: minimal
steps:
  - name: hook
    type: webhook
    url: https://hooks.example.com/x
`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Approval.Mode != ApprovalNone {
		t.Fatalf("expected approval none, got %q", parsed.Approval.Mode)
	}
	webhook := parsed.Steps[0].Webhook
	if webhook.Method != "POST" {
		t.Fatalf("expected default POST, got %q", webhook.Method)
	}
	if len(webhook.SuccessCodes) != 3 || webhook.SuccessCodes[0] != 200 {
		t.Fatalf("expected default success codes, got %v", webhook.SuccessCodes)
	}
}

func TestMergeStepParameters(t *testing.T) {
	vars := map[string]string{"REGION": "us-east-1", "SERVICE_ID": "svc-1"}
	merged := mergeStepParameters(vars, map[string]string{"REGION": "eu-west-1", "FLEET": "workers"})
	if merged["REGION"] != "eu-west-1" {
		t.Fatalf("expected step parameter to win, got %q", merged["REGION"])
	}
	if merged["SERVICE_ID"] != "svc-1" || merged["FLEET"] != "workers" {
		t.Fatalf("unexpected merge %v", merged)
	}
	if vars["REGION"] != "us-east-1" {
		t.Fatal("merge must not mutate the shared variable map")
	}
	if got := mergeStepParameters(vars, nil); len(got) != len(vars) || got["REGION"] != "us-east-1" {
		t.Fatalf("unexpected result for empty parameters: %v", got)
	}
}

func TestParseRejectsInvalidDocuments(t *testing.T) {
	cases := map[string]string{
		"missing name":        "steps:\n  - name: a\n    type: wait\n    duration_seconds: 1\n",
		"no steps":            "name: x\nsteps: []\n",
		"bad approval":        "name: x\napproval: maybe\nsteps:\n  - name: a\n    type: wait\n    duration_seconds: 1\n",
		"bad approval window": "name: x\napproval: timeout:0m\nsteps:\n  - name: a\n    type: wait\n    duration_seconds: 1\n",
		"bad step type":       "name: x\nsteps:\n  - name: a\n    type: teleport\n",
		"webhook without url": "name: x\nsteps:\n  - name: a\n    type: webhook\n",
		"script without name": "name: x\nsteps:\n  - name: a\n    type: script\n",
		"wait without time":   "name: x\nsteps:\n  - name: a\n    type: wait\n",
		"bad condition":       "name: x\nsteps:\n  - name: a\n    type: condition\n    condition_type: moon_phase\n",
		"bad on_failure":      "name: x\nsteps:\n  - name: a\n    type: wait\n    duration_seconds: 1\n    on_failure: retry\n",
		"not yaml":            "{{{",
	}
	for label, doc := range cases {
		if _, err := Parse(doc); err == nil {
			t.Fatalf("expected parse error for %s", label)
		}
	}
}

func TestSubstituteStringLeavesUnknownReferences(t *testing.T) {
	vars := map[string]string{"SERVICE_NAME": "worker", "REGION": "us-east-1"}
	got := SubstituteString("restart ${SERVICE_NAME} in ${REGION}, keep ${UNKNOWN}", vars)
	want := "restart worker in us-east-1, keep ${UNKNOWN}"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestSubstituteValueRecursesIntoCollections(t *testing.T) {
	vars := map[string]string{"NAME": "worker"}
	value := map[string]any{
		"service": "${NAME}",
		"count":   3,
		"tags":    []any{"${NAME}-primary", 7},
		"nested":  map[string]any{"deep": "${NAME}"},
	}
	result := SubstituteValue(value, vars).(map[string]any)
	if result["service"] != "worker" {
		t.Fatalf("unexpected service %v", result["service"])
	}
	if result["count"] != 3 {
		t.Fatalf("non-string leaf changed: %v", result["count"])
	}
	tags := result["tags"].([]any)
	if tags[0] != "worker-primary" || tags[1] != 7 {
		t.Fatalf("unexpected tags %v", tags)
	}
	if result["nested"].(map[string]any)["deep"] != "worker" {
		t.Fatalf("unexpected nested %v", result["nested"])
	}
	if !strings.Contains(SubstituteString("${secrets.TOKEN}", vars), "${secrets.TOKEN}") {
		t.Fatal("secret references must not be touched by variable substitution")
	}
}
