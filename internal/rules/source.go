package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrDynamicUnavailable wraps every dynamic-source failure. It never reaches
// a text-processing caller: [Store.Apply] logs it and degrades to
// static-only correction.
var ErrDynamicUnavailable = errors.New("rules: dynamic source unavailable")

// RuleSet is the payload delivered by a dynamic rule source: learned
// vocabulary for ASR prompt seeding plus learned correction rules.
type RuleSet struct {
	GlossaryTerms []string `json:"glossaryTerms"`
	Rules         []Rule   `json:"correctionRules"`
}

// Source delivers the current dynamic rule set. Implementations must be
// safe for concurrent use. Fetch may block on network I/O and must respect
// ctx cancellation.
type Source interface {
	Fetch(ctx context.Context) (RuleSet, error)
}

// Saver persists rules accepted through the safe-apply path so they survive
// restarts. Implemented by the Postgres source; optional.
type Saver interface {
	Save(ctx context.Context, rules []Rule) error
}

// HTTPSource fetches the dynamic rule set from the optimization service's
// JSON endpoint.
type HTTPSource struct {
	url    string
	client *http.Client
}

// Compile-time assertion that HTTPSource satisfies Source.
var _ Source = (*HTTPSource)(nil)

// NewHTTPSource creates an HTTPSource for url. client may be nil, in which
// case a client with a 3s timeout is used.
func NewHTTPSource(url string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 3 * time.Second}
	}
	return &HTTPSource{url: url, client: client}
}

// Fetch implements [Source]. Any transport, status, or decode failure is
// wrapped in [ErrDynamicUnavailable].
func (s *HTTPSource) Fetch(ctx context.Context) (RuleSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return RuleSet{}, fmt.Errorf("%w: build request: %v", ErrDynamicUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return RuleSet{}, fmt.Errorf("%w: %v", ErrDynamicUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return RuleSet{}, fmt.Errorf("%w: unexpected status %d", ErrDynamicUnavailable, resp.StatusCode)
	}

	var set RuleSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return RuleSet{}, fmt.Errorf("%w: decode payload: %v", ErrDynamicUnavailable, err)
	}
	for i := range set.Rules {
		set.Rules[i].Provenance = ProvenanceDynamic
	}
	return set, nil
}
