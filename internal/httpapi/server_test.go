package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openclinika/medlex/internal/config"
	"github.com/openclinika/medlex/internal/engine"
	"github.com/openclinika/medlex/internal/httpapi"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := &config.Config{
		Disambiguation: config.DisambiguationConfig{
			PrimaryDomain:       "general",
			ConfidenceThreshold: 0.6,
		},
	}
	eng, err := engine.New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	ts := httptest.NewServer(httpapi.New(eng, nil).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestCorrectionsEndpoint(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	resp := postJSON(t, ts, "/v1/corrections", map[string]any{
		"text": "Started frusomide forty milligrams twice daily.",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body struct {
		Corrected string `json:"corrected"`
	}
	decodeBody(t, resp, &body)

	if !strings.Contains(body.Corrected, "frusemide") {
		t.Errorf("corrected = %q, want frusemide applied", body.Corrected)
	}
	if !strings.Contains(body.Corrected, "mg") {
		t.Errorf("corrected = %q, want mg applied", body.Corrected)
	}
	if !strings.Contains(body.Corrected, "BD") {
		t.Errorf("corrected = %q, want BD applied", body.Corrected)
	}
}

func TestCorrectionsEndpoint_EmptyText(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	resp := postJSON(t, ts, "/v1/corrections", map[string]any{"text": ""})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCorrectionsEndpoint_UnknownCategory(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	resp := postJSON(t, ts, "/v1/corrections", map[string]any{
		"text":       "some text",
		"categories": []string{"astrology"},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCorrectionsEndpoint_RejectsUnknownFields(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	resp := postJSON(t, ts, "/v1/corrections", map[string]any{
		"text": "some text",
		"txet": "typo",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSafeCorrectionsEndpoint(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	resp := postJSON(t, ts, "/v1/corrections/safe", map[string]any{
		"rules": []map[string]string{
			{"raw": "metoprollol", "fix": "metoprolol"},
			{"raw": "", "fix": "broken"},
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body struct {
		Applied []struct {
			Raw string `json:"Raw"`
		} `json:"applied"`
		Rejected []struct {
			Reason string `json:"reason"`
		} `json:"rejected"`
	}
	decodeBody(t, resp, &body)

	if len(body.Applied) != 1 {
		t.Errorf("applied = %d rules, want 1", len(body.Applied))
	}
	if len(body.Rejected) != 1 {
		t.Fatalf("rejected = %d rules, want 1", len(body.Rejected))
	}
	if body.Rejected[0].Reason == "" {
		t.Error("rejection reason is empty")
	}
}

func TestDisambiguateEndpoint(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	resp := postJSON(t, ts, "/v1/disambiguate", map[string]any{
		"term":           "AS",
		"context":        "Severe AS with a mean gradient of 45 on echo, loud systolic murmur.",
		"primary_domain": "cardiology",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body struct {
		ResolvedTerm string  `json:"resolved_term"`
		Confidence   float64 `json:"confidence"`
		Domain       string  `json:"domain"`
	}
	decodeBody(t, resp, &body)

	if body.ResolvedTerm != "aortic stenosis" {
		t.Errorf("resolved_term = %q, want aortic stenosis", body.ResolvedTerm)
	}
	if body.Domain != "cardiology" {
		t.Errorf("domain = %q", body.Domain)
	}
	if body.Confidence < 0.6 {
		t.Errorf("confidence = %v, want >= 0.6", body.Confidence)
	}
}

func TestDisambiguateEndpoint_EmptyTerm(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	resp := postJSON(t, ts, "/v1/disambiguate", map[string]any{
		"term":    "",
		"context": "some context",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestDisambiguateEndpoint_InvalidDomain(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	resp := postJSON(t, ts, "/v1/disambiguate", map[string]any{
		"term":           "AS",
		"context":        "context",
		"primary_domain": "astrology",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestBatchDisambiguateEndpoint(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	resp := postJSON(t, ts, "/v1/disambiguate/batch", map[string]any{
		"terms":   []string{"PE", "AS"},
		"context": "CTPA confirmed a segmental PE; the echo also showed severe AS with a raised gradient.",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body struct {
		Results []struct {
			OriginalTerm string `json:"original_term"`
			ResolvedTerm string `json:"resolved_term"`
		} `json:"results"`
	}
	decodeBody(t, resp, &body)

	if len(body.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(body.Results))
	}
	if body.Results[0].ResolvedTerm != "pulmonary embolism" {
		t.Errorf("PE resolved to %q", body.Results[0].ResolvedTerm)
	}
}

func TestAcronymEndpoint(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	resp := postJSON(t, ts, "/v1/acronym", map[string]any{
		"acronym": "CCF",
		"context": "admitted with decompensated CCF on frusemide",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body struct {
		ResolvedTerm string `json:"resolved_term"`
	}
	decodeBody(t, resp, &body)
	if body.ResolvedTerm != "congestive cardiac failure" {
		t.Errorf("resolved_term = %q", body.ResolvedTerm)
	}
}

func TestAcronymEndpoint_Unregistered(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	resp := postJSON(t, ts, "/v1/acronym", map[string]any{
		"acronym": "ZZZZ",
		"context": "no such acronym",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStatsEndpoints(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	for _, path := range []string{
		"/v1/stats/pool",
		"/v1/stats/disambiguation",
		"/v1/stats/rules",
		"/v1/report",
		"/v1/glossary",
		"/healthz",
		"/readyz",
	} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d", path, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestRuleStatsEndpoint_Counts(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/stats/rules")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Static      int    `json:"static"`
		SourceState string `json:"source_state"`
	}
	decodeBody(t, resp, &body)

	if body.Static == 0 {
		t.Error("static rule count is zero, builtin rules missing")
	}
	if body.SourceState == "" {
		t.Error("source_state is empty")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/corrections")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}
