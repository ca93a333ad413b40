package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

// scripted returns each queued reply in order, repeating the last one.
type scripted struct {
	replies []any // json.RawMessage or error
	calls   int
}

func (s *scripted) Invoke(_ context.Context, _ string, _ any) (json.RawMessage, error) {
	i := s.calls
	s.calls++
	if i >= len(s.replies) {
		i = len(s.replies) - 1
	}
	switch r := s.replies[i].(type) {
	case error:
		return nil, r
	case json.RawMessage:
		return r, nil
	default:
		return nil, fmt.Errorf("scripted: bad reply %T", r)
	}
}

var validDiagnostic = json.RawMessage(`{"summary":"dpf clogging","risk":"regen failure","urgency":"this week","customer_explanation":"Book a service soon."}`)

func TestRunStageRecoversFromTransientError(t *testing.T) {
	b := &scripted{replies: []any{
		errors.New("timeout"),
		json.RawMessage(`{"summary":""}`), // fails validation
		validDiagnostic,
	}}
	retry := RetryConfig{Attempts: 5, Backoff: time.Millisecond}

	out, raw, err := runStage[DiagnosticSummary](context.Background(), b, retry, StageDiagnostic, DiagnosticInput{})
	if err != nil {
		t.Fatalf("runStage: %v", err)
	}
	if b.calls != 3 {
		t.Errorf("calls: %d", b.calls)
	}
	if out.Summary != "dpf clogging" {
		t.Errorf("summary: %q", out.Summary)
	}
	if string(raw) != string(validDiagnostic) {
		t.Errorf("raw payload not preserved: %s", raw)
	}
}

func TestRunStageExhaustsBudget(t *testing.T) {
	b := &scripted{replies: []any{errors.New("down")}}
	retry := RetryConfig{Attempts: 3, Backoff: time.Millisecond}

	_, _, err := runStage[DiagnosticSummary](context.Background(), b, retry, StageDiagnostic, DiagnosticInput{})
	if !errors.Is(err, ErrStageFailed) {
		t.Fatalf("want ErrStageFailed, got %v", err)
	}
	if b.calls != 3 {
		t.Errorf("calls: %d", b.calls)
	}
}

func TestRunStageHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := &scripted{replies: []any{validDiagnostic}}

	_, _, err := runStage[DiagnosticSummary](ctx, b, RetryConfig{}, StageDiagnostic, DiagnosticInput{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("want context.Canceled, got %v", err)
	}
}

func TestRunStageRejectsMalformedJSON(t *testing.T) {
	b := &scripted{replies: []any{json.RawMessage(`not json`)}}
	retry := RetryConfig{Attempts: 2, Backoff: time.Millisecond}

	_, _, err := runStage[DiagnosticSummary](context.Background(), b, retry, StageDiagnostic, DiagnosticInput{})
	if !errors.Is(err, ErrStageFailed) {
		t.Errorf("want ErrStageFailed, got %v", err)
	}
}

func TestMessagePlanValidate(t *testing.T) {
	good := MessagePlan{Channel: "voice", Tone: "urgent", MessageText: "come in", FallbackChannel: "app"}
	if err := good.Validate(); err != nil {
		t.Errorf("valid plan rejected: %v", err)
	}
	cases := []MessagePlan{
		{Channel: "sms", Tone: "urgent", MessageText: "x", FallbackChannel: "app"},
		{Channel: "voice", Tone: "urgent", MessageText: "x", FallbackChannel: "voice"},
		{Channel: "voice", Tone: "calm", MessageText: "x", FallbackChannel: "app"},
		{Channel: "voice", Tone: "urgent", MessageText: "   ", FallbackChannel: "app"},
	}
	for i, m := range cases {
		if err := m.Validate(); err == nil {
			t.Errorf("case %d: invalid plan accepted: %+v", i, m)
		}
	}
}

func TestSeverityPlanValidate(t *testing.T) {
	good := SeverityPlan{
		Severity:        "high",
		StagesToInvoke:  []string{StageDiagnostic, StageMessage},
		CustomerContact: ContactImmediate,
	}
	if err := good.Validate(); err != nil {
		t.Errorf("valid plan rejected: %v", err)
	}
	bad := []SeverityPlan{
		{Severity: "catastrophic", CustomerContact: ContactNone},
		{Severity: "high", StagesToInvoke: []string{"triage"}, CustomerContact: ContactNone},
		{Severity: "high", CustomerContact: "carrier_pigeon"},
	}
	for i, p := range bad {
		if err := p.Validate(); err == nil {
			t.Errorf("case %d: invalid plan accepted: %+v", i, p)
		}
	}
}
