package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/arisofia/ocr-backend/internal/pkg/logger"
	"github.com/arisofia/ocr-backend/internal/types"
)

type fakeProvider struct {
	name    string
	text    string
	err     error
	calls   int
	prompts []string
}

func (p *fakeProvider) Name() string  { return p.name }
func (p *fakeProvider) Model() string { return p.name + "-model" }
func (p *fakeProvider) Reconstruct(ctx context.Context, image []byte, prompt string) (*types.ReconResult, error) {
	p.calls++
	p.prompts = append(p.prompts, prompt)
	if p.err != nil {
		return nil, p.err
	}
	return &types.ReconResult{Text: p.text, Model: p.Model()}, nil
}

func newTestReconSet(t *testing.T, probe func() (string, bool), providers ...*fakeProvider) *reconService {
	t.Helper()
	rs := &reconService{
		log:   logger.NewNop(),
		probe: probe,
	}
	for _, p := range providers {
		rs.providers = append(rs.providers, p)
	}
	return rs
}

func TestProbeRunsOnce(t *testing.T) {
	probes := 0
	rs := newTestReconSet(t, func() (string, bool) {
		probes++
		return "5.3.0", true
	})

	for i := 0; i < 3; i++ {
		if !rs.ReconstructionAvailable() {
			t.Fatalf("expected available toolchain")
		}
	}
	if rs.ReconstructionVersion() != "5.3.0" {
		t.Fatalf("version: got=%q", rs.ReconstructionVersion())
	}
	if probes != 1 {
		t.Fatalf("probes: want=1 got=%d", probes)
	}
}

func TestProbeFailureReportsNotInstalled(t *testing.T) {
	rs := newTestReconSet(t, func() (string, bool) { return "", false })
	if rs.ReconstructionAvailable() {
		t.Fatalf("expected unavailable toolchain")
	}
	if rs.ReconstructionVersion() != "not-installed" {
		t.Fatalf("version: want=not-installed got=%q", rs.ReconstructionVersion())
	}
}

func TestBuildPrompt(t *testing.T) {
	if got := buildPrompt(nil); got != reconBasePrompt {
		t.Fatalf("no context must yield the bare prompt")
	}

	got := buildPrompt(map[string]any{
		"font_metadata":  `{"family":"mono"}`,
		"accuracy_score": 0.85,
	})
	if !strings.Contains(got, `Context from similar documents: {"family":"mono"}.`) {
		t.Fatalf("font metadata missing: %q", got)
	}
	if !strings.Contains(got, "Accuracy of previous similar reconstructions: 0.85.") {
		t.Fatalf("accuracy missing: %q", got)
	}

	// Context present but sparse: placeholders spell out what is unknown.
	got = buildPrompt(map[string]any{"layout_type": "standard_form"})
	if !strings.Contains(got, "No font metadata available") {
		t.Fatalf("font placeholder missing: %q", got)
	}
	if !strings.Contains(got, "Accuracy of previous similar reconstructions: N/A.") {
		t.Fatalf("accuracy placeholder missing: %q", got)
	}
}

func TestReconstructWithAINoProviders(t *testing.T) {
	rs := newTestReconSet(t, func() (string, bool) { return "", false })
	if _, err := rs.ReconstructWithAI(context.Background(), nil, "", nil, true); !errors.Is(err, ErrNoProviders) {
		t.Fatalf("want ErrNoProviders got=%v", err)
	}
}

func TestReconstructWithAIPreferredProvider(t *testing.T) {
	a := &fakeProvider{name: "openai", text: "from openai"}
	b := &fakeProvider{name: "gemini", text: "from gemini"}
	rs := newTestReconSet(t, func() (string, bool) { return "", false }, a, b)

	res, err := rs.ReconstructWithAI(context.Background(), nil, "gemini", nil, true)
	if err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	if res.Text != "from gemini" {
		t.Fatalf("preferred provider not used: got=%q", res.Text)
	}
	if a.calls != 0 {
		t.Fatalf("non-preferred provider called %d times", a.calls)
	}
}

func TestReconstructWithAIFallbackOrder(t *testing.T) {
	a := &fakeProvider{name: "openai", err: errors.New("quota")}
	b := &fakeProvider{name: "gemini", err: errors.New("down")}
	c := &fakeProvider{name: "huggingface", text: "recovered"}
	rs := newTestReconSet(t, func() (string, bool) { return "", false }, a, b, c)

	res, err := rs.ReconstructWithAI(context.Background(), nil, "", nil, true)
	if err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	if res.Text != "recovered" {
		t.Fatalf("fallback result: got=%q", res.Text)
	}
	if a.calls != 1 || b.calls != 1 || c.calls != 1 {
		t.Fatalf("call counts: openai=%d gemini=%d huggingface=%d", a.calls, b.calls, c.calls)
	}
}

func TestReconstructWithAIAllFail(t *testing.T) {
	a := &fakeProvider{name: "openai", err: errors.New("quota")}
	b := &fakeProvider{name: "gemini", err: errors.New("down")}
	rs := newTestReconSet(t, func() (string, bool) { return "", false }, a, b)

	if _, err := rs.ReconstructWithAI(context.Background(), nil, "", nil, true); !errors.Is(err, ErrAllProvidersFailed) {
		t.Fatalf("want ErrAllProvidersFailed got=%v", err)
	}
}

func TestReconstructWithAINoFallback(t *testing.T) {
	a := &fakeProvider{name: "openai", err: errors.New("quota")}
	b := &fakeProvider{name: "gemini", text: "would recover"}
	rs := newTestReconSet(t, func() (string, bool) { return "", false }, a, b)

	if _, err := rs.ReconstructWithAI(context.Background(), nil, "openai", nil, false); !errors.Is(err, ErrAllProvidersFailed) {
		t.Fatalf("want ErrAllProvidersFailed got=%v", err)
	}
	if b.calls != 0 {
		t.Fatalf("fallback disabled but secondary called %d times", b.calls)
	}
}
