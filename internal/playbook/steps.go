package playbook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/medic-ops/medic/internal/secrets"
	"github.com/medic-ops/medic/internal/store"
)

const (
	webhookOutputLimit = 4096
	scriptOutputLimit  = 8192
)

// Env vars that pass through from the parent process into scripts.
var scriptEnvAllowlist = []string{"PATH", "HOME", "USER", "LANG", "LC_ALL", "TZ"}

func (e *Engine) runWebhookStep(ctx context.Context, step *WebhookStep, vars map[string]string, substituter *secrets.Substituter) stepOutcome {
	fail := func(message string) stepOutcome {
		return stepOutcome{status: store.StepStatusFailed, errorMessage: message}
	}

	targetURL := SubstituteString(step.URL, vars)
	targetURL, err := substituter.Substitute(ctx, targetURL)
	if err != nil {
		return fail(err.Error())
	}

	headers := map[string]string{}
	for key, value := range step.Headers {
		resolved, err := substituter.Substitute(ctx, SubstituteString(value, vars))
		if err != nil {
			return fail(err.Error())
		}
		headers[key] = resolved
	}

	body := SubstituteValue(step.Body, vars)
	body, err = substituteSecretsValue(ctx, substituter, body)
	if err != nil {
		return fail(err.Error())
	}

	if err := e.validator.Validate(ctx, targetURL); err != nil {
		return fail(err.Error())
	}

	var requestBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fail(fmt.Sprintf("encode request body: %v", err))
		}
		requestBody = bytes.NewReader(encoded)
	}

	timeout := e.cfg.WebhookTimeout
	if step.TimeoutSeconds > 0 {
		timeout = time.Duration(step.TimeoutSeconds) * time.Second
	}
	requestCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(requestCtx, step.Method, targetURL, requestBody)
	if err != nil {
		return fail("invalid webhook request")
	}
	request.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		request.Header.Set(key, value)
	}

	response, err := e.httpClient.Do(request)
	if err != nil {
		return fail(fmt.Sprintf("webhook request failed: %v", err))
	}
	defer response.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(response.Body, webhookOutputLimit+1))
	output := string(raw)
	if len(output) > webhookOutputLimit {
		output = output[:webhookOutputLimit] + "...[truncated]"
	}

	for _, code := range step.SuccessCodes {
		if response.StatusCode == code {
			return stepOutcome{status: store.StepStatusCompleted, output: output}
		}
	}
	return stepOutcome{
		status:       store.StepStatusFailed,
		output:       output,
		errorMessage: fmt.Sprintf("unexpected status code %d", response.StatusCode),
	}
}

// substituteSecretsValue applies secret substitution to every string leaf.
func substituteSecretsValue(ctx context.Context, substituter *secrets.Substituter, value any) (any, error) {
	switch typed := value.(type) {
	case string:
		return substituter.Substitute(ctx, typed)
	case map[string]any:
		result := make(map[string]any, len(typed))
		for key, item := range typed {
			resolved, err := substituteSecretsValue(ctx, substituter, item)
			if err != nil {
				return nil, err
			}
			result[key] = resolved
		}
		return result, nil
	case []any:
		result := make([]any, len(typed))
		for i, item := range typed {
			resolved, err := substituteSecretsValue(ctx, substituter, item)
			if err != nil {
				return nil, err
			}
			result[i] = resolved
		}
		return result, nil
	default:
		return value, nil
	}
}

func (e *Engine) runScriptStep(ctx context.Context, execution *store.PlaybookExecution, step *ScriptStep, vars map[string]string, substituter *secrets.Substituter) stepOutcome {
	fail := func(message string) stepOutcome {
		return stepOutcome{status: store.StepStatusFailed, errorMessage: message}
	}

	script, err := e.store.GetScript(ctx, step.ScriptName)
	if err != nil {
		return fail(fmt.Sprintf("script %q is not registered", step.ScriptName))
	}

	vars = mergeStepParameters(vars, step.Parameters)
	content := SubstituteString(script.Content, vars)
	content, err = substituter.Substitute(ctx, content)
	if err != nil {
		return fail(err.Error())
	}

	var interpreter string
	switch script.Interpreter {
	case "python":
		interpreter = "python3"
	case "bash":
		interpreter = "bash"
	default:
		return fail(fmt.Sprintf("unsupported interpreter %q", script.Interpreter))
	}

	file, err := os.CreateTemp(e.cfg.ScriptWorkDir, "medic-script-*")
	if err != nil {
		return fail(fmt.Sprintf("write script file: %v", err))
	}
	defer os.Remove(file.Name())
	if _, err := file.WriteString(content); err != nil {
		file.Close()
		return fail(fmt.Sprintf("write script file: %v", err))
	}
	file.Close()

	timeout := e.cfg.DefaultScriptTimeout
	if step.TimeoutSeconds > 0 {
		timeout = time.Duration(step.TimeoutSeconds) * time.Second
	} else if script.TimeoutSeconds > 0 {
		timeout = time.Duration(script.TimeoutSeconds) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Resource caps apply inside the child shell: virtual memory and CPU
	// seconds, with the wall clock enforced by the context.
	memoryKB := e.cfg.ScriptMemoryLimitMB * 1024
	cpuSeconds := int(timeout.Seconds()) + 5
	wrapper := fmt.Sprintf("ulimit -v %d 2>/dev/null; ulimit -t %d 2>/dev/null; exec %s %s",
		memoryKB, cpuSeconds, interpreter, shellQuote(file.Name()))

	cmd := exec.CommandContext(runCtx, "/bin/bash", "-c", wrapper)
	cmd.Env = e.scriptEnv(execution)
	cmd.Dir = e.cfg.ScriptWorkDir

	combined, err := cmd.CombinedOutput()
	output := string(combined)
	if len(output) > scriptOutputLimit {
		output = output[:scriptOutputLimit] + "...[truncated]"
	}
	if runCtx.Err() == context.DeadlineExceeded {
		return stepOutcome{status: store.StepStatusFailed, output: output, errorMessage: "script timed out"}
	}
	if err != nil {
		return stepOutcome{status: store.StepStatusFailed, output: output, errorMessage: fmt.Sprintf("script exited with error: %v", err)}
	}
	return stepOutcome{status: store.StepStatusCompleted, output: output}
}

// mergeStepParameters layers step-level parameters over the playbook-wide
// variables. Step values win.
func mergeStepParameters(vars, params map[string]string) map[string]string {
	if len(params) == 0 {
		return vars
	}
	merged := make(map[string]string, len(vars)+len(params))
	for name, value := range vars {
		merged[name] = value
	}
	for name, value := range params {
		merged[name] = value
	}
	return merged
}

// scriptEnv builds the allowlisted environment. Secrets substituted into the
// script body are never exported here.
func (e *Engine) scriptEnv(execution *store.PlaybookExecution) []string {
	env := []string{}
	for _, name := range scriptEnvAllowlist {
		if value, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+value)
		}
	}
	for _, name := range e.cfg.AdditionalScriptEnv {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if value, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+value)
		}
	}
	env = append(env, "MEDIC_EXECUTION_ID="+execution.ID)
	env = append(env, "MEDIC_PLAYBOOK_ID="+execution.PlaybookID)
	if execution.ServiceID != "" {
		env = append(env, "MEDIC_SERVICE_ID="+execution.ServiceID)
	}
	return env
}

func shellQuote(path string) string {
	return "'" + strings.ReplaceAll(filepath.Clean(path), "'", `'\''`) + "'"
}

func (e *Engine) runWaitStep(ctx context.Context, execution *store.PlaybookExecution, step *WaitStep) stepOutcome {
	resumeAt := execution.ResumeAt
	if resumeAt.IsZero() {
		resumeAt = e.now().UTC().Add(time.Duration(step.DurationSeconds) * time.Second)
		if err := e.store.MarkExecutionWaiting(ctx, execution.ID, resumeAt); err != nil {
			return stepOutcome{status: store.StepStatusFailed, errorMessage: err.Error()}
		}
	}

	if err := e.sleep(ctx, resumeAt.Sub(e.now())); err != nil {
		return stepOutcome{cancelled: true}
	}

	_, applied, err := e.store.UpdateExecutionStatus(ctx, execution.ID, store.ExecutionStatusRunning, store.ExecutionStatusWaiting)
	if err != nil {
		return stepOutcome{status: store.StepStatusFailed, errorMessage: err.Error()}
	}
	if !applied {
		// Cancelled while waiting.
		return stepOutcome{cancelled: true}
	}
	execution.Status = store.ExecutionStatusRunning
	execution.ResumeAt = time.Time{}
	return stepOutcome{status: store.StepStatusCompleted, output: fmt.Sprintf("waited %d seconds", step.DurationSeconds)}
}

func (e *Engine) runConditionStep(ctx context.Context, execution *store.PlaybookExecution, step Step) stepOutcome {
	condition := step.Condition
	if execution.ServiceID == "" {
		return stepOutcome{status: store.StepStatusFailed, errorMessage: "condition step requires a service-bound execution"}
	}

	timeout := e.cfg.ConditionTimeout
	if condition.TimeoutSeconds > 0 {
		timeout = time.Duration(condition.TimeoutSeconds) * time.Second
	}
	start := e.now().UTC()
	deadline := start.Add(timeout)

	for {
		count, err := e.store.CountHeartbeatsMatching(ctx, execution.ServiceID, start, condition.Status)
		if err != nil {
			return stepOutcome{status: store.StepStatusFailed, errorMessage: err.Error()}
		}
		if count >= condition.MinCount {
			return stepOutcome{
				status: store.StepStatusCompleted,
				output: fmt.Sprintf("condition met: %d heartbeat(s) received", count),
			}
		}
		if !e.now().Before(deadline) {
			break
		}
		if err := e.sleep(ctx, e.cfg.ConditionPoll); err != nil {
			return stepOutcome{cancelled: true}
		}
		// Bail out promptly when the execution was cancelled mid-poll.
		reloaded, err := e.store.GetExecution(ctx, execution.ID)
		if err == nil && reloaded.Terminal() {
			return stepOutcome{cancelled: true}
		}
	}

	switch step.OnFailure {
	case OnFailureContinue:
		return stepOutcome{status: store.StepStatusCompleted, output: "condition timed out; continuing per on_failure policy"}
	case OnFailureEscalate:
		return stepOutcome{
			status:       store.StepStatusFailed,
			output:       "escalate_requested",
			errorMessage: "condition timed out",
		}
	default:
		return stepOutcome{status: store.StepStatusFailed, errorMessage: "condition timed out"}
	}
}
