package patternpool

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/openclinika/medlex/pkg/clinical"
)

func TestCompileHitReturnsSamePattern(t *testing.T) {
	t.Parallel()

	p := New()
	re1, err := p.Compile(`\bmg\b`, "i", clinical.CategoryMeasurement, "")
	if err != nil {
		t.Fatalf("Compile: unexpected error: %v", err)
	}
	re2, err := p.Compile(`\bmg\b`, "i", clinical.CategoryMeasurement, "")
	if err != nil {
		t.Fatalf("Compile (hit): unexpected error: %v", err)
	}
	if re1 != re2 {
		t.Fatal("Compile: expected pooled hit to return the identical compiled pattern")
	}
	if p.Size() != 1 {
		t.Fatalf("Size: expected 1 entry, got %d", p.Size())
	}
}

func TestCompileDistinctKeys(t *testing.T) {
	t.Parallel()

	p := New()
	// Same source, different flags and categories must pool separately.
	if _, err := p.Compile(`severe`, "", clinical.CategorySpelling, ""); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if _, err := p.Compile(`severe`, "i", clinical.CategorySpelling, ""); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if _, err := p.Compile(`severe`, "i", clinical.CategoryArtifact, ""); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if p.Size() != 3 {
		t.Fatalf("Size: expected 3 distinct entries, got %d", p.Size())
	}
}

func TestCompileInvalidCategory(t *testing.T) {
	t.Parallel()

	p := New()
	if _, err := p.Compile(`x`, "", clinical.Category("bogus"), ""); err == nil {
		t.Fatal("Compile: expected error for unknown category")
	}
}

func TestCompileFlagsApplied(t *testing.T) {
	t.Parallel()

	p := New()
	re, err := p.Compile(`severe`, "i", clinical.CategorySpelling, "")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !re.MatchString("SEVERE aortic stenosis") {
		t.Fatal("Compile: case-insensitive flag was not applied")
	}
}

func TestCompileTimeout(t *testing.T) {
	t.Parallel()

	// A 1ns budget cannot be met even by a trivial pattern.
	p := New(WithCompileTimeout(time.Nanosecond))
	_, err := p.Compile(`\b(?:one|two|three)\b`, "i", clinical.CategoryArtifact, "")
	if !errors.Is(err, ErrPatternTimeout) {
		t.Fatalf("Compile: expected ErrPatternTimeout, got %v", err)
	}
	if p.Size() != 0 {
		t.Fatalf("Size: pool must be unchanged after a timed-out compile, got %d", p.Size())
	}
}

func TestEvictionBound(t *testing.T) {
	t.Parallel()

	const cap = 10
	p := New(WithMaxSize(cap))

	// Compile one pattern and use it heavily so it survives eviction.
	hot := `\bhot\b`
	if _, err := p.Compile(hot, "", clinical.CategoryArtifact, ""); err != nil {
		t.Fatalf("Compile hot: %v", err)
	}
	for i := 0; i < 50; i++ {
		if _, err := p.Compile(hot, "", clinical.CategoryArtifact, ""); err != nil {
			t.Fatalf("Compile hot reuse: %v", err)
		}
	}

	for i := 0; i < 3*cap; i++ {
		src := fmt.Sprintf(`\bcold%d\b`, i)
		if _, err := p.Compile(src, "", clinical.CategoryArtifact, ""); err != nil {
			t.Fatalf("Compile cold %d: %v", i, err)
		}
		if p.Size() > cap {
			t.Fatalf("Size: pool exceeded cap after %d compiles: %d > %d", i, p.Size(), cap)
		}
	}

	// The heavily-used pattern must never be among the evicted.
	before := p.Stats().Evictions
	if _, err := p.Compile(hot, "", clinical.CategoryArtifact, ""); err != nil {
		t.Fatalf("Compile hot after churn: %v", err)
	}
	if p.Stats().Evictions != before {
		t.Fatal("Compile hot: expected a pool hit, not a recompile")
	}
}

func TestInvalidate(t *testing.T) {
	t.Parallel()

	p := New()
	if _, err := p.Compile(`\bfoo\b`, "", clinical.CategorySpelling, clinical.DomainGeneral); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	p.Invalidate(`\bfoo\b`, "", clinical.CategorySpelling)
	if p.Size() != 0 {
		t.Fatalf("Invalidate: expected empty pool, got %d entries", p.Size())
	}
	if p.DomainSize(clinical.DomainGeneral) != 0 {
		t.Fatal("Invalidate: domain index not cleaned up")
	}
	// Invalidating again is a no-op.
	p.Invalidate(`\bfoo\b`, "", clinical.CategorySpelling)
}

func TestStats(t *testing.T) {
	t.Parallel()

	p := New()
	p.Compile(`a`, "", clinical.CategoryAnatomy, clinical.DomainCardiology)
	p.Compile(`b`, "", clinical.CategoryAnatomy, "")
	p.Compile(`c`, "", clinical.CategoryMedication, "")
	p.Compile(`a`, "", clinical.CategoryAnatomy, clinical.DomainCardiology) // hit

	s := p.Stats()
	if s.Size != 3 {
		t.Fatalf("Stats.Size: expected 3, got %d", s.Size)
	}
	if s.DominantCategory != clinical.CategoryAnatomy {
		t.Fatalf("Stats.DominantCategory: expected anatomy, got %q", s.DominantCategory)
	}
	if s.HitRate <= 0 || s.HitRate >= 1 {
		t.Fatalf("Stats.HitRate: expected value in (0,1), got %f", s.HitRate)
	}
	if s.EstimatedBytes <= 0 {
		t.Fatal("Stats.EstimatedBytes: expected positive estimate")
	}
	if p.CategorySize(clinical.CategoryAnatomy) != 2 {
		t.Fatalf("CategorySize: expected 2, got %d", p.CategorySize(clinical.CategoryAnatomy))
	}
	if p.DomainSize(clinical.DomainCardiology) != 1 {
		t.Fatalf("DomainSize: expected 1, got %d", p.DomainSize(clinical.DomainCardiology))
	}
}

func TestPreWarm(t *testing.T) {
	t.Parallel()

	p := New()
	if err := p.PreWarm(clinical.CategoryMeasurement); err != nil {
		t.Fatalf("PreWarm: %v", err)
	}
	if p.CategorySize(clinical.CategoryMeasurement) == 0 {
		t.Fatal("PreWarm: expected measurement patterns in the pool")
	}

	if err := p.PreWarm(clinical.CategorySpelling); err == nil {
		t.Fatal("PreWarm: expected error for category without a curated set")
	}
}

func TestPreWarmAllCuratedSetsCompile(t *testing.T) {
	t.Parallel()

	p := New()
	if err := p.PreWarmAll(); err != nil {
		t.Fatalf("PreWarmAll: %v", err)
	}
	for cat, set := range warmSets {
		if got := p.CategorySize(cat); got != len(set) {
			t.Errorf("category %s: %d patterns compiled, want %d", cat, got, len(set))
		}
	}
}

func TestConcurrentCompileSingleEntry(t *testing.T) {
	t.Parallel()

	p := New()
	const workers = 16

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Compile(`\bconcurrent\b`, "i", clinical.CategoryArtifact, ""); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Compile: unexpected error under concurrency: %v", err)
	}

	if p.Size() != 1 {
		t.Fatalf("Size: expected exactly one pooled entry, got %d", p.Size())
	}
}
