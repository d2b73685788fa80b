package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openclinika/medlex/internal/config"
	"github.com/openclinika/medlex/internal/engine"
	"github.com/openclinika/medlex/internal/perfmon"
	"github.com/openclinika/medlex/internal/rules"
	"github.com/openclinika/medlex/internal/terminology"
	"github.com/openclinika/medlex/pkg/clinical"
)

func newTestEngine(t *testing.T, opts ...engine.Option) *engine.Engine {
	t.Helper()
	cfg := &config.Config{
		Disambiguation: config.DisambiguationConfig{
			PrimaryDomain:       "general",
			ConfidenceThreshold: 0.6,
		},
	}
	eng, err := engine.New(context.Background(), cfg, nil, opts...)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return eng
}

func TestNew_LoadsBuiltins(t *testing.T) {
	t.Parallel()
	eng := newTestEngine(t)

	if c := eng.RuleCounts(); c.Static == 0 {
		t.Error("no builtin static rules loaded")
	}
	if s := eng.DisambiguationStats(); s.KnownTerms == 0 {
		t.Error("no builtin terms loaded")
	}
}

func TestNew_DisableBuiltinTerms(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	termFile := filepath.Join(dir, "terms.yaml")
	const doc = `
terms:
  - surface: "XTERM"
    definitions:
      - term: "extended terminology example"
        domain: general
        base: 0.7
        meaning: "test-only entry"
`
	if err := os.WriteFile(termFile, []byte(doc), 0o644); err != nil {
		t.Fatalf("write term file: %v", err)
	}

	cfg := &config.Config{
		Knowledge: config.KnowledgeConfig{
			DisableBuiltin: true,
			TermFiles:      []string{termFile},
		},
		Disambiguation: config.DisambiguationConfig{PrimaryDomain: "general"},
	}
	eng, err := engine.New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	if got := eng.DisambiguationStats().KnownTerms; got != 1 {
		t.Errorf("known terms = %d, want 1 (overlay only)", got)
	}
}

func TestNew_StaticRuleFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ruleFile := filepath.Join(dir, "rules.yaml")
	const doc = `
rules:
  - raw: "metoprollol"
    fix: "metoprolol"
    category: medication
`
	if err := os.WriteFile(ruleFile, []byte(doc), 0o644); err != nil {
		t.Fatalf("write rule file: %v", err)
	}

	cfg := &config.Config{
		Rules:          config.RulesConfig{StaticFiles: []string{ruleFile}},
		Disambiguation: config.DisambiguationConfig{PrimaryDomain: "general"},
	}
	eng, err := engine.New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	out := eng.ApplyCorrections(context.Background(), "continue metoprollol 50 mg")
	if !strings.Contains(out, "metoprolol 50 mg") {
		t.Errorf("ApplyCorrections = %q", out)
	}
}

func TestNew_MalformedRuleFileFailsStartup(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ruleFile := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(ruleFile, []byte("rules: [\n"), 0o644); err != nil {
		t.Fatalf("write rule file: %v", err)
	}

	cfg := &config.Config{
		Rules: config.RulesConfig{StaticFiles: []string{ruleFile}},
	}
	if _, err := engine.New(context.Background(), cfg, nil); err == nil {
		t.Fatal("malformed rule file did not fail construction")
	}
}

func TestApplyCorrections(t *testing.T) {
	t.Parallel()
	eng := newTestEngine(t)

	out := eng.ApplyCorrections(context.Background(), "for seymour forty milligrams twice daily")
	if !strings.Contains(out, "frusemide") {
		t.Errorf("out = %q, want frusemide", out)
	}
	if !strings.Contains(out, "BD") {
		t.Errorf("out = %q, want BD", out)
	}
}

func TestApplySafeCorrections(t *testing.T) {
	t.Parallel()
	eng := newTestEngine(t)

	applied, rejected := eng.ApplySafeCorrections(context.Background(), []rules.Rule{
		{Raw: "atorvastatine", Fix: "atorvastatin"},
		{Raw: "same", Fix: "same"},
	})
	if len(applied) != 1 {
		t.Errorf("applied = %d, want 1", len(applied))
	}
	if len(rejected) != 1 {
		t.Errorf("rejected = %d, want 1", len(rejected))
	}
}

func TestDisambiguateTerm_UsesConfiguredDefaults(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Disambiguation: config.DisambiguationConfig{
			PrimaryDomain:       "cardiology",
			ConfidenceThreshold: 0.6,
		},
	}
	eng, err := engine.New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	// No per-call domain: the configured cardiology default applies.
	res, err := eng.DisambiguateTerm(context.Background(),
		"AS", "mean gradient of 45 on echo with a systolic murmur", terminology.Options{})
	if err != nil {
		t.Fatalf("DisambiguateTerm: %v", err)
	}
	if res.ResolvedTerm != "aortic stenosis" {
		t.Errorf("resolved = %q", res.ResolvedTerm)
	}
}

func TestDisambiguateTerm_PerCallOverride(t *testing.T) {
	t.Parallel()
	eng := newTestEngine(t)

	res, err := eng.DisambiguateTerm(context.Background(),
		"AS", "chronic back pain with morning stiffness, sacroiliac joint changes, referred to rheumatology",
		terminology.Options{PrimaryDomain: clinical.DomainRheumatology})
	if err != nil {
		t.Fatalf("DisambiguateTerm: %v", err)
	}
	if res.ResolvedTerm != "ankylosing spondylitis" {
		t.Errorf("resolved = %q", res.ResolvedTerm)
	}
}

func TestSetDefaults_HotReload(t *testing.T) {
	t.Parallel()
	eng := newTestEngine(t)

	eng.SetDefaults(config.DisambiguationConfig{
		PrimaryDomain:       "respiratory",
		PreferAustralian:    true,
		ConfidenceThreshold: 0.5,
	})

	res, err := eng.DisambiguateTerm(context.Background(),
		"PE", "CTPA tomorrow to exclude PE, d-dimer raised", terminology.Options{})
	if err != nil {
		t.Fatalf("DisambiguateTerm: %v", err)
	}
	if res.Domain != clinical.DomainRespiratory {
		t.Errorf("domain = %q, want respiratory", res.Domain)
	}
}

func TestExpandAcronym_InvalidDomainFallsBack(t *testing.T) {
	t.Parallel()
	eng := newTestEngine(t)

	res, err := eng.ExpandAcronym(context.Background(), "CCF", "decompensated CCF", clinical.Domain("bogus"))
	if err != nil {
		t.Fatalf("ExpandAcronym: %v", err)
	}
	if res == nil || res.ResolvedTerm != "congestive cardiac failure" {
		t.Errorf("result = %+v", res)
	}
}

func TestBatchDisambiguate(t *testing.T) {
	t.Parallel()
	eng := newTestEngine(t)

	results := eng.BatchDisambiguate(context.Background(),
		[]string{"PE", "MS"},
		"CTPA confirmed segmental PE; background of MS with optic neuritis and MRI brain lesions",
		terminology.Options{})
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].ResolvedTerm != "pulmonary embolism" {
		t.Errorf("PE resolved to %q", results[0].ResolvedTerm)
	}
}

func TestMetricsMirroredToReporter(t *testing.T) {
	t.Parallel()

	sink := &captureReporter{}
	eng := newTestEngine(t, engine.WithMetricReporter(sink))

	eng.ApplyCorrections(engine.WithCaller(context.Background(), "test-client"), "trope negative")

	if len(sink.metrics) != 1 {
		t.Fatalf("reporter saw %d metrics, want 1", len(sink.metrics))
	}
	m := sink.metrics[0]
	if m.Operation != perfmon.OpCorrection {
		t.Errorf("operation = %q", m.Operation)
	}
	if m.Caller != "test-client" {
		t.Errorf("caller = %q", m.Caller)
	}
}

type captureReporter struct {
	metrics []perfmon.Metric
}

func (c *captureReporter) ReportMetric(m perfmon.Metric) {
	c.metrics = append(c.metrics, m)
}

func TestPerformanceReport(t *testing.T) {
	t.Parallel()
	eng := newTestEngine(t)

	for range 3 {
		eng.ApplyCorrections(context.Background(), "full blood count and liver function test")
	}

	rep := eng.PerformanceReport(24)
	if rep.TotalCalls != 3 {
		t.Errorf("TotalCalls = %d, want 3", rep.TotalCalls)
	}
}
