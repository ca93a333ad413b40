package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"fleetwatch/internal/domain"
)

// Stub is a deterministic Backend for tests and offline simulation. Canned
// responses, when set, win over the computed defaults.
type Stub struct {
	mu     sync.Mutex
	canned map[string]json.RawMessage
	errs   map[string]error
	calls  map[string]int
}

// NewStub returns a stub that derives plausible stage outputs from its
// inputs, so full pipeline runs work without any LLM.
func NewStub() *Stub {
	return &Stub{
		canned: make(map[string]json.RawMessage),
		errs:   make(map[string]error),
		calls:  make(map[string]int),
	}
}

// SetResponse pins the raw JSON returned for a stage.
func (s *Stub) SetResponse(stage string, raw json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canned[stage] = raw
}

// SetError makes a stage fail every invocation.
func (s *Stub) SetError(stage string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[stage] = err
}

// Calls returns how often a stage was invoked.
func (s *Stub) Calls(stage string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[stage]
}

func (s *Stub) Invoke(ctx context.Context, stage string, input any) (json.RawMessage, error) {
	s.mu.Lock()
	s.calls[stage]++
	canned, hasCanned := s.canned[stage]
	err := s.errs[stage]
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if hasCanned {
		return canned, nil
	}

	switch stage {
	case StageSeverity:
		in, ok := input.(SeverityInput)
		if !ok {
			return nil, fmt.Errorf("stub: unexpected severity input %T", input)
		}
		return json.Marshal(severityPlanFor(in))
	case StageDiagnostic:
		in, ok := input.(DiagnosticInput)
		if !ok {
			return nil, fmt.Errorf("stub: unexpected diagnostic input %T", input)
		}
		return json.Marshal(diagnosticFor(in))
	case StageMessage:
		in, ok := input.(MessageInput)
		if !ok {
			return nil, fmt.Errorf("stub: unexpected message input %T", input)
		}
		return json.Marshal(messageFor(in))
	default:
		return nil, fmt.Errorf("stub: unknown stage %q", stage)
	}
}

func severityPlanFor(in SeverityInput) SeverityPlan {
	eta := in.Prediction.Outcome.EtaDays
	var sev domain.Severity
	contact := ContactDelayed
	switch {
	case eta < 5:
		sev = domain.SeverityCritical
		contact = ContactImmediate
	case eta < 15:
		sev = domain.SeverityHigh
		contact = ContactImmediate
	case eta < 30:
		sev = domain.SeverityMedium
	default:
		sev = domain.SeverityLow
	}
	return SeverityPlan{
		Severity:        sev,
		StagesToInvoke:  []string{StageDiagnostic, StageRecommendation, StageMessage},
		CustomerContact: contact,
		WorkflowType:    "predictive_maintenance",
	}
}

func diagnosticFor(in DiagnosticInput) DiagnosticSummary {
	out := in.Prediction.Outcome
	return DiagnosticSummary{
		Summary: fmt.Sprintf("%s predicted for %s with %.0f days of remaining useful life (confidence %.2f)",
			out.PredictionType, in.Vehicle.ID, out.EtaDays, out.Confidence),
		Risk:    fmt.Sprintf("component degradation expected within %.0f days", out.EtaDays),
		Urgency: fmt.Sprintf("book service within %.0f days", out.EtaDays*0.8),
		CustomerExplanation: fmt.Sprintf("Your %s %s needs a workshop visit soon to avoid a breakdown.",
			in.Vehicle.Make, in.Vehicle.Model),
	}
}

func messageFor(in MessageInput) MessagePlan {
	channel := "app"
	fallback := "voice"
	if in.Owner != nil && in.Owner.NotifyChannel == domain.NotifyVoice {
		channel, fallback = "voice", "app"
	}
	tone := "informative"
	switch in.Severity {
	case domain.SeverityCritical:
		tone = "urgent"
	case domain.SeverityHigh:
		tone = "concerned"
	case domain.SeverityLow:
		tone = "routine"
	}
	text := "Your vehicle needs a service appointment."
	if in.Diagnostic != nil && in.Diagnostic.CustomerExplanation != "" {
		text = in.Diagnostic.CustomerExplanation
	}
	return MessagePlan{Channel: channel, Tone: tone, MessageText: text, FallbackChannel: fallback}
}
