package terminology

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/openclinika/medlex/pkg/clinical"
)

// builtinTerm is one entry in the shipped Australian clinical term set.
type builtinTerm struct {
	surface string
	aliases []string
	defs    []Definition
}

// builtinTerms is the ambiguous-abbreviation knowledge shipped with the
// engine. Registration order within each surface term is the tie-break
// order, so the commonest meaning is listed first.
var builtinTerms = []builtinTerm{
	{
		surface: "AS",
		aliases: []string{"a.s.", "ay ess"},
		defs: []Definition{
			{
				Term: "aortic stenosis", Domain: clinical.DomainCardiology,
				Meaning: "Narrowing of the aortic valve restricting left ventricular outflow.",
				Base:    0.60, CommonUsage: true, AustralianPreferred: true,
				Indicators: []string{"valve", "echo", "gradient", "murmur", "syncope", "tavi"},
				Exclusions: []string{"spine", "sacroiliac"},
			},
			{
				Term: "ankylosing spondylitis", Domain: clinical.DomainRheumatology,
				Meaning: "Chronic inflammatory arthritis of the spine and sacroiliac joints.",
				Base:    0.55, AustralianPreferred: true,
				Indicators: []string{"spine", "back", "stiffness", "sacroiliac", "hla-b27"},
				Exclusions: []string{"valve", "gradient"},
			},
		},
	},
	{
		surface: "MI",
		aliases: []string{"m.i."},
		defs: []Definition{
			{
				Term: "myocardial infarction", Domain: clinical.DomainCardiology,
				Meaning: "Death of heart muscle from interrupted coronary blood supply.",
				Base:    0.70, CommonUsage: true, AustralianPreferred: true,
				Indicators: []string{"troponin", "stemi", "chest pain", "ecg", "stent"},
			},
			{
				Term: "mitral incompetence", Domain: clinical.DomainCardiology,
				Meaning:    "Regurgitant flow through an incompetent mitral valve.",
				Base:       0.40,
				Indicators: []string{"regurgitation", "valve", "murmur"},
			},
			{
				Term: "mesenteric ischaemia", Domain: clinical.DomainGastroenterology,
				Meaning: "Inadequate blood supply to the bowel.",
				Base:    0.35, AustralianPreferred: true,
				Indicators: []string{"abdominal", "lactate", "bowel"},
			},
		},
	},
	{
		surface: "MS",
		aliases: []string{"m.s."},
		defs: []Definition{
			{
				Term: "multiple sclerosis", Domain: clinical.DomainNeurology,
				Meaning: "Demyelinating disease of the central nervous system.",
				Base:    0.60, CommonUsage: true, AustralianPreferred: true,
				Indicators: []string{"demyelinating", "mri", "optic", "relapse", "lesion"},
			},
			{
				Term: "mitral stenosis", Domain: clinical.DomainCardiology,
				Meaning: "Narrowing of the mitral valve, classically rheumatic.",
				Base:    0.50, AustralianPreferred: true,
				Indicators: []string{"valve", "echo", "rheumatic", "murmur"},
			},
		},
	},
	{
		surface: "PE",
		aliases: []string{"p.e."},
		defs: []Definition{
			{
				Term: "pulmonary embolism", Domain: clinical.DomainRespiratory,
				Meaning: "Thrombus occluding the pulmonary arterial circulation.",
				Base:    0.65, CommonUsage: true, AustralianPreferred: true,
				Indicators: []string{"ctpa", "d-dimer", "dyspnoea", "anticoagulation", "dvt"},
			},
			{
				Term: "pleural effusion", Domain: clinical.DomainRespiratory,
				Meaning: "Fluid collection in the pleural space.",
				Base:    0.45, AustralianPreferred: true,
				Indicators: []string{"effusion", "tap", "drain", "dull"},
			},
			{
				Term: "pericardial effusion", Domain: clinical.DomainCardiology,
				Meaning: "Fluid collection in the pericardial sac.",
				Base:    0.35, AustralianPreferred: true,
				Indicators: []string{"tamponade", "echo", "pericardial"},
			},
		},
	},
	{
		surface: "RA",
		aliases: []string{"r.a."},
		defs: []Definition{
			{
				Term: "rheumatoid arthritis", Domain: clinical.DomainRheumatology,
				Meaning: "Autoimmune inflammatory polyarthritis.",
				Base:    0.65, CommonUsage: true, AustralianPreferred: true,
				Indicators: []string{"joint", "methotrexate", "synovitis", "stiffness", "ccp"},
			},
			{
				Term: "right atrium", Domain: clinical.DomainCardiology,
				Meaning: "The right atrial chamber of the heart.",
				Base:    0.45, AustralianPreferred: true,
				Indicators: []string{"echo", "chamber", "atrial", "dilated"},
			},
		},
	},
	{
		surface: "CP",
		defs: []Definition{
			{
				Term: "chest pain", Domain: clinical.DomainCardiology,
				Meaning: "Pain in the chest, cardiac until proven otherwise.",
				Base:    0.60, CommonUsage: true, AustralianPreferred: true,
				Indicators: []string{"troponin", "ecg", "exertional", "radiating"},
			},
			{
				Term: "cerebral palsy", Domain: clinical.DomainNeurology,
				Meaning: "Non-progressive motor disorder of early brain injury.",
				Base:    0.40, AustralianPreferred: true,
				Indicators: []string{"spasticity", "developmental", "motor"},
			},
		},
	},
	{
		surface: "BS",
		defs: []Definition{
			{
				Term: "bowel sounds", Domain: clinical.DomainGastroenterology,
				Meaning: "Auscultated sounds of intestinal peristalsis.",
				Base:    0.50, CommonUsage: true, AustralianPreferred: true,
				Indicators: []string{"abdomen", "auscultation", "obstruction"},
			},
			{
				Term: "breath sounds", Domain: clinical.DomainRespiratory,
				Meaning: "Auscultated sounds of air movement in the lungs.",
				Base:    0.50, AustralianPreferred: true,
				Indicators: []string{"chest", "air entry", "wheeze", "crackles"},
			},
			{
				Term: "blood sugar", Domain: clinical.DomainEndocrinology,
				Meaning: "Circulating glucose concentration.",
				Base:    0.45, AustralianPreferred: true,
				Indicators: []string{"glucose", "insulin", "diabetic", "bsl"},
			},
		},
	},
	{
		surface: "CA",
		defs: []Definition{
			{
				Term: "carcinoma", Domain: clinical.DomainGeneral,
				Meaning: "Malignant epithelial tumour.",
				Base:    0.55, CommonUsage: true,
				AustralianForm: "carcinoma", AustralianPreferred: true,
				Indicators: []string{"malignancy", "mets", "oncology", "biopsy", "tumor", "tumour"},
			},
			{
				Term: "coronary artery", Domain: clinical.DomainCardiology,
				Meaning: "Artery supplying the myocardium.",
				Base:    0.40, AustralianPreferred: true,
				Indicators: []string{"angiogram", "stent", "lad", "stenosis"},
			},
		},
	},
	// Single-expansion acronyms take the direct path in ExpandAcronym.
	{
		surface: "CCF",
		defs: []Definition{{
			Term: "congestive cardiac failure", Domain: clinical.DomainCardiology,
			Meaning: "Failure of the heart to maintain adequate circulation.",
			Base:    0.80, CommonUsage: true, AustralianPreferred: true,
			Indicators: []string{"oedema", "frusemide", "orthopnoea", "bnp"},
		}},
	},
	{
		surface: "TIA",
		defs: []Definition{{
			Term: "transient ischaemic attack", Domain: clinical.DomainNeurology,
			Meaning: "Brief focal neurological deficit of vascular origin.",
			Base:    0.80, CommonUsage: true, AustralianPreferred: true,
			Indicators: []string{"weakness", "resolved", "carotid"},
		}},
	},
	{
		surface: "AF",
		defs: []Definition{{
			Term: "atrial fibrillation", Domain: clinical.DomainCardiology,
			Meaning: "Irregularly irregular atrial rhythm.",
			Base:    0.80, CommonUsage: true, AustralianPreferred: true,
			Indicators: []string{"irregular", "anticoagulation", "rate control"},
		}},
	},
	{
		surface: "CKD",
		defs: []Definition{{
			Term: "chronic kidney disease", Domain: clinical.DomainRenal,
			Meaning: "Progressive loss of renal function over months to years.",
			Base:    0.80, CommonUsage: true, AustralianPreferred: true,
			Indicators: []string{"egfr", "creatinine", "dialysis"},
		}},
	},
	{
		surface: "DVT",
		defs: []Definition{{
			Term: "deep vein thrombosis", Domain: clinical.DomainHaematology,
			Meaning: "Thrombus in the deep venous system, usually of the leg.",
			Base:    0.80, CommonUsage: true, AustralianPreferred: true,
			Indicators: []string{"calf", "swelling", "doppler", "anticoagulation"},
		}},
	},
}

// LoadBuiltin registers the shipped term set into kb. Returns the first
// registration error; the builtin set registering cleanly is covered by a
// package test, so an error here means the dataset itself is broken.
func LoadBuiltin(kb *KnowledgeBase) error {
	for _, t := range builtinTerms {
		for _, d := range t.defs {
			if err := kb.Register(t.surface, d); err != nil {
				return err
			}
		}
		for _, a := range t.aliases {
			if err := kb.RegisterAlias(a, t.surface); err != nil {
				return err
			}
		}
	}
	return nil
}

// TermFile is the top-level structure of a terminology YAML overlay that
// deployments use to extend the builtin set with site-specific vocabulary.
//
// Example:
//
//	terms:
//	  - surface: "POD"
//	    aliases: ["p.o.d."]
//	    definitions:
//	      - term: "post-operative day"
//	        domain: general
//	        base: 0.7
type TermFile struct {
	Terms []struct {
		Surface     string       `yaml:"surface"`
		Aliases     []string     `yaml:"aliases"`
		Definitions []Definition `yaml:"definitions"`
	} `yaml:"terms"`
}

// LoadTermFile reads a terminology YAML overlay and registers its contents
// into kb.
func LoadTermFile(kb *KnowledgeBase, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("terminology: open term file %q: %w", path, err)
	}
	defer f.Close()

	if err := LoadTermsFromReader(kb, f); err != nil {
		return fmt.Errorf("terminology: parse term file %q: %w", path, err)
	}
	return nil
}

// LoadTermsFromReader parses a terminology overlay from r and registers its
// contents into kb. A malformed overlay is a startup failure.
func LoadTermsFromReader(kb *KnowledgeBase, r io.Reader) error {
	var tf TermFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&tf); err != nil {
		return fmt.Errorf("terminology: decode term yaml: %w", err)
	}
	for _, t := range tf.Terms {
		for _, d := range t.Definitions {
			if err := kb.Register(t.Surface, d); err != nil {
				return err
			}
		}
		for _, a := range t.Aliases {
			if err := kb.RegisterAlias(a, t.Surface); err != nil {
				return err
			}
		}
	}
	return nil
}
