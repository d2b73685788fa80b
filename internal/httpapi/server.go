// Package httpapi exposes the medlex engine over HTTP: JSON endpoints for
// correction, disambiguation and diagnostics, a WebSocket for streaming
// transcript segments, and the Prometheus metrics endpoint.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openclinika/medlex/internal/engine"
	"github.com/openclinika/medlex/internal/health"
	"github.com/openclinika/medlex/internal/observe"
	"github.com/openclinika/medlex/internal/rules"
	"github.com/openclinika/medlex/internal/terminology"
	"github.com/openclinika/medlex/pkg/clinical"
)

// maxBodyBytes bounds request bodies. Dictation segments are short; a larger
// payload is a client bug.
const maxBodyBytes = 1 << 20

// Server routes HTTP requests to the engine.
type Server struct {
	eng     *engine.Engine
	metrics *observe.Metrics
	health  *health.Handler
}

// New builds the HTTP surface over eng. metrics may be nil, in which case the
// process-wide default instruments are used.
func New(eng *engine.Engine, metrics *observe.Metrics, checkers ...health.Checker) *Server {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Server{
		eng:     eng,
		metrics: metrics,
		health:  health.New(checkers...),
	}
}

// Handler returns the fully-routed HTTP handler, wrapped with the tracing and
// metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/corrections", s.handleCorrections)
	mux.HandleFunc("POST /v1/corrections/safe", s.handleSafeCorrections)
	mux.HandleFunc("POST /v1/disambiguate", s.handleDisambiguate)
	mux.HandleFunc("POST /v1/disambiguate/batch", s.handleBatchDisambiguate)
	mux.HandleFunc("POST /v1/acronym", s.handleAcronym)
	mux.HandleFunc("GET /v1/glossary", s.handleGlossary)
	mux.HandleFunc("GET /v1/stats/pool", s.handlePoolStats)
	mux.HandleFunc("GET /v1/stats/disambiguation", s.handleDisambiguationStats)
	mux.HandleFunc("GET /v1/stats/rules", s.handleRuleStats)
	mux.HandleFunc("GET /v1/report", s.handleReport)
	mux.HandleFunc("GET /v1/stream", s.handleStream)
	mux.Handle("GET /metrics", promhttp.Handler())
	s.health.Register(mux)

	return observe.Middleware(s.metrics)(mux)
}

// ── corrections ──────────────────────────────────────────────────────────────

type correctionsRequest struct {
	Text       string              `json:"text"`
	Categories []clinical.Category `json:"categories,omitempty"`
}

type correctionsResponse struct {
	Text      string `json:"text"`
	Corrected string `json:"corrected"`
}

func (s *Server) handleCorrections(w http.ResponseWriter, r *http.Request) {
	var req correctionsRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	for _, c := range req.Categories {
		if !c.IsValid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown category %q", c))
			return
		}
	}

	ctx := engine.WithCaller(r.Context(), callerLabel(r))
	out := s.eng.ApplyCorrections(ctx, req.Text, req.Categories...)
	writeJSON(w, http.StatusOK, correctionsResponse{Text: req.Text, Corrected: out})
}

type safeCorrectionsRequest struct {
	Rules []rules.Rule `json:"rules"`
}

type safeCorrectionsResponse struct {
	Applied  []rules.Rule    `json:"applied"`
	Rejected []rejectionBody `json:"rejected"`
}

type rejectionBody struct {
	Rule   rules.Rule `json:"rule"`
	Reason string     `json:"reason"`
}

func (s *Server) handleSafeCorrections(w http.ResponseWriter, r *http.Request) {
	var req safeCorrectionsRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Rules) == 0 {
		writeError(w, http.StatusBadRequest, "rules is required")
		return
	}

	ctx := engine.WithCaller(r.Context(), callerLabel(r))
	applied, rejected := s.eng.ApplySafeCorrections(ctx, req.Rules)

	resp := safeCorrectionsResponse{Applied: applied, Rejected: make([]rejectionBody, 0, len(rejected))}
	for _, rej := range rejected {
		s.metrics.RecordRuleRejection(ctx, rej.Reason)
		resp.Rejected = append(resp.Rejected, rejectionBody{Rule: rej.Rule, Reason: rej.Reason})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ── disambiguation ───────────────────────────────────────────────────────────

type disambiguateRequest struct {
	Term                string  `json:"term"`
	Context             string  `json:"context"`
	PrimaryDomain       string  `json:"primary_domain,omitempty"`
	PreferAustralian    bool    `json:"prefer_australian,omitempty"`
	ConfidenceThreshold float64 `json:"confidence_threshold,omitempty"`
	MaxAlternatives     int     `json:"max_alternatives,omitempty"`
}

func (r disambiguateRequest) options() terminology.Options {
	return terminology.Options{
		PrimaryDomain:       clinical.Domain(r.PrimaryDomain),
		PreferAustralian:    r.PreferAustralian,
		ConfidenceThreshold: r.ConfidenceThreshold,
		MaxAlternatives:     r.MaxAlternatives,
	}
}

type disambiguateResponse struct {
	OriginalTerm        string            `json:"original_term"`
	ResolvedTerm        string            `json:"resolved_term"`
	Confidence          float64           `json:"confidence"`
	Domain              clinical.Domain   `json:"domain"`
	Definition          string            `json:"definition,omitempty"`
	Reasoning           string            `json:"reasoning"`
	Alternatives        []alternativeBody `json:"alternatives,omitempty"`
	AustralianCompliant bool              `json:"australian_compliant"`
	LowConfidence       bool              `json:"low_confidence,omitempty"`
	Unknown             bool              `json:"unknown,omitempty"`
}

type alternativeBody struct {
	Term       string          `json:"term"`
	Domain     clinical.Domain `json:"domain"`
	Confidence float64         `json:"confidence"`
}

func toDisambiguateResponse(res terminology.Result) disambiguateResponse {
	out := disambiguateResponse{
		OriginalTerm:        res.OriginalTerm,
		ResolvedTerm:        res.ResolvedTerm,
		Confidence:          res.Confidence,
		Domain:              res.Domain,
		Definition:          res.Definition,
		Reasoning:           res.Reasoning,
		AustralianCompliant: res.AustralianCompliant,
		LowConfidence:       res.LowConfidence,
		Unknown:             res.Unknown,
	}
	for _, alt := range res.Alternatives {
		out.Alternatives = append(out.Alternatives, alternativeBody(alt))
	}
	return out
}

func (s *Server) handleDisambiguate(w http.ResponseWriter, r *http.Request) {
	var req disambiguateRequest
	if !decode(w, r, &req) {
		return
	}
	if req.PrimaryDomain != "" && !clinical.Domain(req.PrimaryDomain).IsValid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown primary_domain %q", req.PrimaryDomain))
		return
	}

	ctx := engine.WithCaller(r.Context(), callerLabel(r))
	res, err := s.eng.DisambiguateTerm(ctx, req.Term, req.Context, req.options())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toDisambiguateResponse(res))
}

type batchDisambiguateRequest struct {
	Terms   []string `json:"terms"`
	Context string   `json:"context"`
	disambiguateRequest
}

func (s *Server) handleBatchDisambiguate(w http.ResponseWriter, r *http.Request) {
	var req batchDisambiguateRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Terms) == 0 {
		writeError(w, http.StatusBadRequest, "terms is required")
		return
	}

	ctx := engine.WithCaller(r.Context(), callerLabel(r))
	results := s.eng.BatchDisambiguate(ctx, req.Terms, req.Context, req.options())

	out := make([]disambiguateResponse, 0, len(results))
	for _, res := range results {
		out = append(out, toDisambiguateResponse(res))
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

type acronymRequest struct {
	Acronym       string `json:"acronym"`
	Context       string `json:"context"`
	PrimaryDomain string `json:"primary_domain,omitempty"`
}

func (s *Server) handleAcronym(w http.ResponseWriter, r *http.Request) {
	var req acronymRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Acronym == "" {
		writeError(w, http.StatusBadRequest, "acronym is required")
		return
	}

	ctx := engine.WithCaller(r.Context(), callerLabel(r))
	res, err := s.eng.ExpandAcronym(ctx, req.Acronym, req.Context, clinical.Domain(req.PrimaryDomain))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if res == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("acronym %q not registered", req.Acronym))
		return
	}
	writeJSON(w, http.StatusOK, toDisambiguateResponse(*res))
}

// ── diagnostics ──────────────────────────────────────────────────────────────

func (s *Server) handleGlossary(w http.ResponseWriter, r *http.Request) {
	max := intQuery(r, "max", 100)
	writeJSON(w, http.StatusOK, map[string]any{"terms": s.eng.GlossaryTerms(max)})
}

func (s *Server) handlePoolStats(w http.ResponseWriter, _ *http.Request) {
	st := s.eng.PatternPoolStats()
	writeJSON(w, http.StatusOK, map[string]any{
		"size":              st.Size,
		"max_size":          st.MaxSize,
		"estimated_bytes":   st.EstimatedBytes,
		"hit_rate":          st.HitRate,
		"evictions":         st.Evictions,
		"mean_compile_ms":   float64(st.MeanCompileTime) / float64(time.Millisecond),
		"dominant_category": st.DominantCategory,
	})
}

func (s *Server) handleDisambiguationStats(w http.ResponseWriter, _ *http.Request) {
	st := s.eng.DisambiguationStats()
	writeJSON(w, http.StatusOK, map[string]any{
		"calls":           st.Calls,
		"cache_hits":      st.CacheHits,
		"cache_hit_rate":  st.CacheHitRate,
		"unknown":         st.Unknown,
		"low_confidence":  st.LowConfidence,
		"mean_confidence": st.MeanConfidence,
		"known_terms":     st.KnownTerms,
	})
}

func (s *Server) handleRuleStats(w http.ResponseWriter, _ *http.Request) {
	c := s.eng.RuleCounts()
	writeJSON(w, http.StatusOK, map[string]any{
		"static":         c.Static,
		"learned":        c.Learned,
		"dynamic_cached": c.DynamicCached,
		"source_state":   c.SourceState,
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	hours := intQuery(r, "hours", 24)
	writeJSON(w, http.StatusOK, s.eng.PerformanceReport(hours))
}

// ── plumbing ─────────────────────────────────────────────────────────────────

// callerLabel identifies the client for performance attribution. The optional
// X-Medlex-Caller header lets the browser extension name itself.
func callerLabel(r *http.Request) string {
	if c := r.Header.Get("X-Medlex-Caller"); c != "" {
		return c
	}
	return "http"
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func intQuery(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(raw, "%d", &n); err != nil || n <= 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("httpapi: encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
