package clinical_test

import (
	"testing"

	"github.com/openclinika/medlex/pkg/clinical"
)

func TestDomainIsValid(t *testing.T) {
	t.Parallel()
	for _, d := range clinical.Domains {
		if !d.IsValid() {
			t.Errorf("listed domain %q reported invalid", d)
		}
	}
	for _, bad := range []clinical.Domain{"", "astrology", "Cardiology"} {
		if bad.IsValid() {
			t.Errorf("%q should be invalid", bad)
		}
	}
}

func TestCategoryIsValid(t *testing.T) {
	t.Parallel()
	for _, c := range clinical.Categories {
		if !c.IsValid() {
			t.Errorf("listed category %q reported invalid", c)
		}
	}
	if clinical.Category("grammar").IsValid() {
		t.Error("\"grammar\" should be invalid")
	}
}

func TestFactorTypeIsValid(t *testing.T) {
	t.Parallel()
	for _, f := range clinical.FactorTypes {
		if !f.IsValid() {
			t.Errorf("listed factor type %q reported invalid", f)
		}
	}
	if clinical.FactorType("astral").IsValid() {
		t.Error("\"astral\" should be invalid")
	}
}

func TestIsProtectedTerm(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want bool
	}{
		{"mg", true},
		{"MG", true},
		{"  severe  ", true},
		{"fbc", true},
		{"bilateral", true},
		{"frusemide", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := clinical.IsProtectedTerm(tc.in); got != tc.want {
			t.Errorf("IsProtectedTerm(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestAustralianSpelling(t *testing.T) {
	t.Parallel()

	au, ok := clinical.AustralianSpelling("Anemia")
	if !ok || au != "anaemia" {
		t.Errorf("AustralianSpelling(Anemia) = %q, %v", au, ok)
	}

	if au, ok := clinical.AustralianSpelling("acetaminophen"); !ok || au != "paracetamol" {
		t.Errorf("AustralianSpelling(acetaminophen) = %q, %v", au, ok)
	}

	if _, ok := clinical.AustralianSpelling("haemoglobin"); ok {
		t.Error("already-Australian form should not map")
	}
}

func TestAustralianSpellingsCopyIsSafe(t *testing.T) {
	t.Parallel()

	m := clinical.AustralianSpellings()
	m["edema"] = "corrupted"

	if au, _ := clinical.AustralianSpelling("edema"); au != "oedema" {
		t.Errorf("mutating the returned copy leaked into the table: %q", au)
	}
}
