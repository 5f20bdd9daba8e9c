// Package playbook implements the remediation workflow engine: a YAML
// playbook grammar, variable and secret substitution, the execution state
// machine, and the trigger evaluator that starts playbooks from alerts.
package playbook

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Step variants.
const (
	StepTypeWebhook   = "webhook"
	StepTypeScript    = "script"
	StepTypeWait      = "wait"
	StepTypeCondition = "condition"
)

// Failure policies.
const (
	OnFailureFail     = "fail"
	OnFailureContinue = "continue"
	OnFailureEscalate = "escalate"
)

// Approval modes.
const (
	ApprovalNone     = "none"
	ApprovalRequired = "required"
	ApprovalTimeout  = "timeout"
)

var defaultSuccessCodes = []int{200, 201, 202}

type Playbook struct {
	Name        string
	Description string
	Approval    Approval
	Parameters  map[string]string
	Metadata    map[string]any
	Steps       []Step
}

// Approval gates execution start. Timeout mode auto-approves after the
// configured delay.
type Approval struct {
	Mode    string
	Timeout time.Duration
}

type Step struct {
	Name      string
	Type      string
	OnFailure string

	Webhook   *WebhookStep
	Script    *ScriptStep
	Wait      *WaitStep
	Condition *ConditionStep
}

type WebhookStep struct {
	URL            string
	Method         string
	Headers        map[string]string
	Body           map[string]any
	SuccessCodes   []int
	TimeoutSeconds int
}

type ScriptStep struct {
	ScriptName     string
	Parameters     map[string]string
	TimeoutSeconds int
}

type WaitStep struct {
	DurationSeconds int
}

type ConditionStep struct {
	ConditionType  string
	MinCount       int
	Status         string
	TimeoutSeconds int
}

type rawPlaybook struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Approval    string            `yaml:"approval"`
	Parameters  map[string]string `yaml:"parameters"`
	Metadata    map[string]any    `yaml:"metadata"`
	Steps       []rawStep         `yaml:"steps"`
}

type rawStep struct {
	Name      string `yaml:"name"`
	Type      string `yaml:"type"`
	OnFailure string `yaml:"on_failure"`

	URL            string            `yaml:"url"`
	Method         string            `yaml:"method"`
	Headers        map[string]string `yaml:"headers"`
	Body           map[string]any    `yaml:"body"`
	SuccessCodes   []int             `yaml:"success_codes"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`

	ScriptName string            `yaml:"script_name"`
	Parameters map[string]string `yaml:"parameters"`

	DurationSeconds int `yaml:"duration_seconds"`

	ConditionType string `yaml:"condition_type"`
	MinCount      int    `yaml:"min_count"`
	Status        string `yaml:"status"`
}

// Parse decodes and validates a playbook document.
func Parse(yamlContent string) (Playbook, error) {
	var raw rawPlaybook
	if err := yaml.Unmarshal([]byte(yamlContent), &raw); err != nil {
		return Playbook{}, fmt.Errorf("parse playbook yaml: %w", err)
	}
	if strings.TrimSpace(raw.Name) == "" {
		return Playbook{}, fmt.Errorf("playbook name is required")
	}
	if len(raw.Steps) == 0 {
		return Playbook{}, fmt.Errorf("playbook %q has no steps", raw.Name)
	}
	approval, err := parseApproval(raw.Approval)
	if err != nil {
		return Playbook{}, fmt.Errorf("playbook %q: %w", raw.Name, err)
	}

	playbook := Playbook{
		Name:        strings.TrimSpace(raw.Name),
		Description: strings.TrimSpace(raw.Description),
		Approval:    approval,
		Parameters:  raw.Parameters,
		Metadata:    raw.Metadata,
	}
	for i, rawStep := range raw.Steps {
		step, err := parseStep(rawStep)
		if err != nil {
			return Playbook{}, fmt.Errorf("playbook %q step %d: %w", raw.Name, i, err)
		}
		playbook.Steps = append(playbook.Steps, step)
	}
	return playbook, nil
}

func parseApproval(value string) (Approval, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	switch {
	case value == "" || value == ApprovalNone:
		return Approval{Mode: ApprovalNone}, nil
	case value == ApprovalRequired:
		return Approval{Mode: ApprovalRequired}, nil
	case strings.HasPrefix(value, "timeout:"):
		spec := strings.TrimSuffix(strings.TrimPrefix(value, "timeout:"), "m")
		minutes, err := strconv.Atoi(spec)
		if err != nil || minutes < 1 {
			return Approval{}, fmt.Errorf("invalid approval timeout %q", value)
		}
		return Approval{Mode: ApprovalTimeout, Timeout: time.Duration(minutes) * time.Minute}, nil
	default:
		return Approval{}, fmt.Errorf("unsupported approval mode %q", value)
	}
}

func parseStep(raw rawStep) (Step, error) {
	name := strings.TrimSpace(raw.Name)
	if name == "" {
		return Step{}, fmt.Errorf("step name is required")
	}
	onFailure := strings.ToLower(strings.TrimSpace(raw.OnFailure))
	switch onFailure {
	case "":
		onFailure = OnFailureFail
	case OnFailureFail, OnFailureContinue, OnFailureEscalate:
	default:
		return Step{}, fmt.Errorf("unsupported on_failure %q", raw.OnFailure)
	}
	step := Step{Name: name, Type: strings.ToLower(strings.TrimSpace(raw.Type)), OnFailure: onFailure}

	switch step.Type {
	case StepTypeWebhook:
		if strings.TrimSpace(raw.URL) == "" {
			return Step{}, fmt.Errorf("webhook step requires url")
		}
		method := strings.ToUpper(strings.TrimSpace(raw.Method))
		if method == "" {
			method = "POST"
		}
		codes := raw.SuccessCodes
		if len(codes) == 0 {
			codes = defaultSuccessCodes
		}
		step.Webhook = &WebhookStep{
			URL:            strings.TrimSpace(raw.URL),
			Method:         method,
			Headers:        raw.Headers,
			Body:           raw.Body,
			SuccessCodes:   codes,
			TimeoutSeconds: raw.TimeoutSeconds,
		}
	case StepTypeScript:
		if strings.TrimSpace(raw.ScriptName) == "" {
			return Step{}, fmt.Errorf("script step requires script_name")
		}
		step.Script = &ScriptStep{
			ScriptName:     strings.TrimSpace(raw.ScriptName),
			Parameters:     raw.Parameters,
			TimeoutSeconds: raw.TimeoutSeconds,
		}
	case StepTypeWait:
		if raw.DurationSeconds < 1 {
			return Step{}, fmt.Errorf("wait step requires duration_seconds >= 1")
		}
		step.Wait = &WaitStep{DurationSeconds: raw.DurationSeconds}
	case StepTypeCondition:
		conditionType := strings.ToLower(strings.TrimSpace(raw.ConditionType))
		if conditionType != "heartbeat_received" {
			return Step{}, fmt.Errorf("unsupported condition_type %q", raw.ConditionType)
		}
		minCount := raw.MinCount
		if minCount < 1 {
			minCount = 1
		}
		step.Condition = &ConditionStep{
			ConditionType:  conditionType,
			MinCount:       minCount,
			Status:         strings.ToUpper(strings.TrimSpace(raw.Status)),
			TimeoutSeconds: raw.TimeoutSeconds,
		}
	default:
		return Step{}, fmt.Errorf("unsupported step type %q", raw.Type)
	}
	return step, nil
}
