package classifier

import (
	"cmp"
	"slices"
)

// MinLikelihood is the lowest tier that counts as a finding.
const MinLikelihood = Possible

// distinctTypesForHigh escalates broad exposure even without a regulated identifier.
const distinctTypesForHigh = 3

var regulatedIdentifiers = map[InfoType]struct{}{
	InfoTypeUSSocialSecurityNumber: {},
	InfoTypeNationalID:             {},
	InfoTypeMedicalRecordNumber:    {},
	InfoTypeUSHealthcareNPI:        {},
	InfoTypeUSDEANumber:            {},
	InfoTypeUSDriversLicense:       {},
	InfoTypeCreditCardNumber:       {},
}

// IsRegulated reports whether t is a regulated identifier type.
func IsRegulated(t InfoType) bool {
	_, ok := regulatedIdentifiers[t]
	return ok
}

// Assess derives the risk level from findings. It is deterministic and
// order-independent.
func Assess(findings []Finding) RiskLevel {
	if len(findings) == 0 {
		return RiskLow
	}
	types := make(map[InfoType]struct{}, len(findings))
	for _, f := range findings {
		if f.Likelihood >= Likely && IsRegulated(f.InfoType) {
			return RiskHigh
		}
		types[f.InfoType] = struct{}{}
	}
	if len(types) >= distinctTypesForHigh {
		return RiskHigh
	}
	return RiskMedium
}

// NewAssessment filters findings below MinLikelihood, orders them
// deterministically and applies the risk policy.
func NewAssessment(findings []Finding) Assessment {
	kept := make([]Finding, 0, len(findings))
	for _, f := range findings {
		if f.Likelihood >= MinLikelihood {
			kept = append(kept, f)
		}
	}
	slices.SortFunc(kept, func(a, b Finding) int {
		return cmp.Or(
			cmp.Compare(a.Field, b.Field),
			cmp.Compare(a.Range.Start, b.Range.Start),
			cmp.Compare(a.InfoType, b.InfoType),
			cmp.Compare(a.Range.End, b.Range.End),
		)
	})
	return Assessment{
		HasSensitiveData: len(kept) > 0,
		Findings:         kept,
		RiskLevel:        Assess(kept),
	}
}

// FailClosed is the assessment used when scanning is unavailable: everything
// is treated as sensitive and high risk.
func FailClosed() Assessment {
	return Assessment{
		HasSensitiveData: true,
		Findings:         []Finding{},
		RiskLevel:        RiskHigh,
		Degraded:         true,
	}
}
