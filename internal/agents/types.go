// Package agents runs the fixed per-case pipeline: severity classifier,
// diagnostic summarizer, appointment recommendation and customer-message
// composer. LLM-backed stages are pure functions from typed inputs to typed
// outputs behind an injectable Backend; retries and schema validation live
// in a generic stage wrapper.
package agents

import (
	"fmt"
	"strings"

	"fleetwatch/internal/domain"
)

// Stage names, used as agent-result keys on the case.
const (
	StageSeverity       = "severity"
	StageDiagnostic     = "diagnostic"
	StageRecommendation = "recommendation"
	StageMessage        = "message"
)

// Customer contact policies stage A may select.
const (
	ContactNone      = "none"
	ContactDelayed   = "delayed"
	ContactImmediate = "immediate"
)

// SeverityInput is the stage A input.
type SeverityInput struct {
	Prediction *domain.PredictionEvent `json:"prediction"`
	Vehicle    *domain.Vehicle         `json:"vehicle"`
}

// SeverityPlan is the stage A output: the case severity plus which later
// stages to invoke and how to contact the customer.
type SeverityPlan struct {
	Severity        domain.Severity `json:"severity"`
	StagesToInvoke  []string        `json:"stages_to_invoke"`
	CustomerContact string          `json:"customer_contact"`
	WorkflowType    string          `json:"workflow_type"`
}

// Validate checks the plan against the declared enumerations.
func (p *SeverityPlan) Validate() error {
	switch p.Severity {
	case domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh, domain.SeverityCritical:
	default:
		return fmt.Errorf("severity plan: invalid severity %q", p.Severity)
	}
	for _, s := range p.StagesToInvoke {
		switch s {
		case StageDiagnostic, StageRecommendation, StageMessage:
		default:
			return fmt.Errorf("severity plan: unknown stage %q", s)
		}
	}
	switch p.CustomerContact {
	case ContactNone, ContactDelayed, ContactImmediate:
	default:
		return fmt.Errorf("severity plan: invalid customer contact %q", p.CustomerContact)
	}
	return nil
}

// Wants reports whether the plan requests the named stage.
func (p *SeverityPlan) Wants(stage string) bool {
	for _, s := range p.StagesToInvoke {
		if s == stage {
			return true
		}
	}
	return false
}

// DiagnosticInput is the stage B input.
type DiagnosticInput struct {
	Prediction *domain.PredictionEvent `json:"prediction"`
	Vehicle    *domain.Vehicle         `json:"vehicle"`
}

// DiagnosticSummary is the stage B output.
type DiagnosticSummary struct {
	Summary             string `json:"summary"`
	Risk                string `json:"risk"`
	Urgency             string `json:"urgency"`
	CustomerExplanation string `json:"customer_explanation"`
}

// Validate requires a non-empty technical summary.
func (d *DiagnosticSummary) Validate() error {
	if strings.TrimSpace(d.Summary) == "" {
		return fmt.Errorf("diagnostic summary: empty summary")
	}
	return nil
}

// MessageInput is the stage D input.
type MessageInput struct {
	Diagnostic *DiagnosticSummary  `json:"diagnostic"`
	Severity   domain.Severity     `json:"severity"`
	Owner      *domain.UserProfile `json:"owner,omitempty"`
	Vehicle    *domain.Vehicle     `json:"vehicle"`
}

// MessagePlan is the stage D output. Channel and FallbackChannel must
// differ and MessageText must be non-empty.
type MessagePlan struct {
	Channel         string `json:"channel"`
	Tone            string `json:"tone"`
	MessageText     string `json:"message_text"`
	FallbackChannel string `json:"fallback_channel"`
}

// Validate enforces the stage D contract.
func (m *MessagePlan) Validate() error {
	valid := func(ch string) bool { return ch == "voice" || ch == "app" }
	if !valid(m.Channel) {
		return fmt.Errorf("message plan: invalid channel %q", m.Channel)
	}
	if !valid(m.FallbackChannel) {
		return fmt.Errorf("message plan: invalid fallback channel %q", m.FallbackChannel)
	}
	if m.Channel == m.FallbackChannel {
		return fmt.Errorf("message plan: channel and fallback must differ")
	}
	switch m.Tone {
	case "urgent", "concerned", "informative", "routine":
	default:
		return fmt.Errorf("message plan: invalid tone %q", m.Tone)
	}
	if strings.TrimSpace(m.MessageText) == "" {
		return fmt.Errorf("message plan: empty message text")
	}
	return nil
}
