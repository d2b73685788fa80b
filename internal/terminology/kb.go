package terminology

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/openclinika/medlex/pkg/clinical"
)

// ErrNotFound is returned by lookups for terms absent from the knowledge base.
var ErrNotFound = errors.New("terminology: term not found")

// termEntry groups all registered meanings of one surface term plus its
// per-domain usage counters.
type termEntry struct {
	surface string
	defs    []Definition // registration order is the tie-break order
	freq    map[clinical.Domain]int64
}

// KnowledgeBase is the registry of ambiguous terms, their domain-specific
// definitions, aliases, and usage frequency counters. It is built once at
// startup and mutated only through explicit registration calls. Safe for
// concurrent use.
type KnowledgeBase struct {
	mu      sync.RWMutex
	entries map[string]*termEntry // lowercased surface term
	aliases map[string]string     // lowercased alias → lowercased surface term
}

// NewKnowledgeBase returns an empty KnowledgeBase. Call [LoadBuiltin] or
// Register* to populate it.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		entries: make(map[string]*termEntry),
		aliases: make(map[string]string),
	}
}

// Register adds a definition for surface. Definitions for the same surface
// term accumulate in registration order; a duplicate (surface, domain, term)
// triple is rejected.
func (kb *KnowledgeBase) Register(surface string, def Definition) error {
	surface = strings.TrimSpace(surface)
	if surface == "" {
		return errors.New("terminology: empty surface term")
	}
	if strings.TrimSpace(def.Term) == "" {
		return fmt.Errorf("terminology: register %q: empty expansion", surface)
	}
	if !def.Domain.IsValid() {
		return fmt.Errorf("terminology: register %q: unknown domain %q", surface, def.Domain)
	}
	if def.Base < 0 || def.Base > 1 {
		return fmt.Errorf("terminology: register %q: base confidence %.2f outside [0,1]", surface, def.Base)
	}

	key := strings.ToLower(surface)

	kb.mu.Lock()
	defer kb.mu.Unlock()

	e, ok := kb.entries[key]
	if !ok {
		e = &termEntry{surface: surface, freq: make(map[clinical.Domain]int64)}
		kb.entries[key] = e
	}
	for _, existing := range e.defs {
		if existing.Domain == def.Domain && strings.EqualFold(existing.Term, def.Term) {
			return fmt.Errorf("terminology: register %q: duplicate definition %q (%s)",
				surface, def.Term, def.Domain)
		}
	}
	e.defs = append(e.defs, def)
	return nil
}

// RegisterAlias maps an alias surface form (mishearing, punctuated variant)
// to an already-registered term.
func (kb *KnowledgeBase) RegisterAlias(alias, surface string) error {
	alias = strings.ToLower(strings.TrimSpace(alias))
	key := strings.ToLower(strings.TrimSpace(surface))
	if alias == "" || key == "" {
		return errors.New("terminology: empty alias or surface term")
	}

	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, ok := kb.entries[key]; !ok {
		return fmt.Errorf("terminology: alias %q: %w", alias, ErrNotFound)
	}
	kb.aliases[alias] = key
	return nil
}

// Lookup resolves surface to its definitions, trying exact match first and
// the alias index second. The returned slice is a copy in registration order.
func (kb *KnowledgeBase) Lookup(surface string) ([]Definition, bool) {
	key := strings.ToLower(strings.TrimSpace(surface))

	kb.mu.RLock()
	defer kb.mu.RUnlock()

	e, ok := kb.entries[key]
	if !ok {
		if target, aliased := kb.aliases[key]; aliased {
			e, ok = kb.entries[target]
		}
	}
	if !ok {
		return nil, false
	}
	defs := make([]Definition, len(e.defs))
	copy(defs, e.defs)
	return defs, true
}

// Terms returns every registered surface term, sorted, for fuzzy fallback
// candidate lists and diagnostics.
func (kb *KnowledgeBase) Terms() []string {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	out := make([]string, 0, len(kb.entries))
	for _, e := range kb.entries {
		out = append(out, e.surface)
	}
	sort.Strings(out)
	return out
}

// RecordUsage increments the (term, domain) frequency counter. Counters are
// monotonically non-decreasing for the process lifetime; only [Clear] resets
// them. Recording against an unregistered term is a no-op.
func (kb *KnowledgeBase) RecordUsage(surface string, domain clinical.Domain) {
	key := strings.ToLower(strings.TrimSpace(surface))

	kb.mu.Lock()
	defer kb.mu.Unlock()

	if target, aliased := kb.aliases[key]; aliased {
		key = target
	}
	if e, ok := kb.entries[key]; ok {
		e.freq[domain]++
	}
}

// FrequencyRatio returns the share of recorded usages of surface that
// resolved to domain, or 0 when the term has no usage history.
func (kb *KnowledgeBase) FrequencyRatio(surface string, domain clinical.Domain) float64 {
	key := strings.ToLower(strings.TrimSpace(surface))

	kb.mu.RLock()
	defer kb.mu.RUnlock()

	if target, aliased := kb.aliases[key]; aliased {
		key = target
	}
	e, ok := kb.entries[key]
	if !ok {
		return 0
	}
	var total int64
	for _, n := range e.freq {
		total += n
	}
	if total == 0 {
		return 0
	}
	return float64(e.freq[domain]) / float64(total)
}

// Len returns the number of registered surface terms.
func (kb *KnowledgeBase) Len() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.entries)
}

// Clear removes every term, alias, and frequency counter. Used by tests and
// full reloads.
func (kb *KnowledgeBase) Clear() {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.entries = make(map[string]*termEntry)
	kb.aliases = make(map[string]string)
}
