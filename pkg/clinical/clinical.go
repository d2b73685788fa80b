// Package clinical defines the closed vocabulary shared by every medlex
// component: clinical specialty domains, correction-rule categories, context
// factor types, the protected-term list, and the Australian spelling table.
//
// All types are simple string enums with IsValid methods so that unknown
// values coming from configuration or external rule sources are caught at
// the boundary instead of silently creating new string-keyed buckets.
package clinical

// Domain is a clinical specialty used to tag term definitions, patterns,
// and context factors.
type Domain string

const (
	DomainCardiology       Domain = "cardiology"
	DomainRheumatology     Domain = "rheumatology"
	DomainRespiratory      Domain = "respiratory"
	DomainNeurology        Domain = "neurology"
	DomainEndocrinology    Domain = "endocrinology"
	DomainGastroenterology Domain = "gastroenterology"
	DomainRenal            Domain = "renal"
	DomainHaematology      Domain = "haematology"
	DomainGeneral          Domain = "general"
)

// Domains lists every recognised domain in a stable order.
var Domains = []Domain{
	DomainCardiology,
	DomainRheumatology,
	DomainRespiratory,
	DomainNeurology,
	DomainEndocrinology,
	DomainGastroenterology,
	DomainRenal,
	DomainHaematology,
	DomainGeneral,
}

// IsValid reports whether d is a recognised clinical domain.
func (d Domain) IsValid() bool {
	switch d {
	case DomainCardiology, DomainRheumatology, DomainRespiratory,
		DomainNeurology, DomainEndocrinology, DomainGastroenterology,
		DomainRenal, DomainHaematology, DomainGeneral:
		return true
	}
	return false
}

// Category classifies correction rules and pooled patterns by the kind of
// text they target.
type Category string

const (
	CategoryMedication   Category = "medication"
	CategoryMeasurement  Category = "measurement"
	CategoryAnatomy      Category = "anatomy"
	CategoryProcedure    Category = "procedure"
	CategoryPathology    Category = "pathology"
	CategoryAbbreviation Category = "abbreviation"
	CategoryArtifact     Category = "artifact"
	CategorySpelling     Category = "spelling"

	// CategoryContext tags the factor-extraction patterns used during
	// disambiguation rather than text-rewriting rules.
	CategoryContext Category = "context"
)

// Categories lists every recognised category in a stable order.
var Categories = []Category{
	CategoryMedication,
	CategoryMeasurement,
	CategoryAnatomy,
	CategoryProcedure,
	CategoryPathology,
	CategoryAbbreviation,
	CategoryArtifact,
	CategorySpelling,
	CategoryContext,
}

// IsValid reports whether c is a recognised rule/pattern category.
func (c Category) IsValid() bool {
	switch c {
	case CategoryMedication, CategoryMeasurement, CategoryAnatomy,
		CategoryProcedure, CategoryPathology, CategoryAbbreviation,
		CategoryArtifact, CategorySpelling, CategoryContext:
		return true
	}
	return false
}

// FactorType classifies a context clue extracted from the text surrounding
// an ambiguous term.
type FactorType string

const (
	FactorAnatomical  FactorType = "anatomical"
	FactorProcedural  FactorType = "procedural"
	FactorTemporal    FactorType = "temporal"
	FactorSeverity    FactorType = "severity"
	FactorMeasurement FactorType = "measurement"
	FactorMedication  FactorType = "medication"
	FactorDiagnostic  FactorType = "diagnostic"
	FactorSpecialty   FactorType = "specialty"
)

// FactorTypes lists every recognised factor type in a stable order.
var FactorTypes = []FactorType{
	FactorAnatomical,
	FactorProcedural,
	FactorTemporal,
	FactorSeverity,
	FactorMeasurement,
	FactorMedication,
	FactorDiagnostic,
	FactorSpecialty,
}

// IsValid reports whether f is a recognised context factor type.
func (f FactorType) IsValid() bool {
	switch f {
	case FactorAnatomical, FactorProcedural, FactorTemporal, FactorSeverity,
		FactorMeasurement, FactorMedication, FactorDiagnostic, FactorSpecialty:
		return true
	}
	return false
}
