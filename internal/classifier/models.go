package classifier

import (
	"fmt"
	"slices"
	"strings"

	"audiovault/internal/fields"
)

// InfoType names a category of sensitive data a scanner can detect.
type InfoType string

const (
	InfoTypePersonName             InfoType = "PERSON_NAME"
	InfoTypePhoneNumber            InfoType = "PHONE_NUMBER"
	InfoTypeEmailAddress           InfoType = "EMAIL_ADDRESS"
	InfoTypeDateOfBirth            InfoType = "DATE_OF_BIRTH"
	InfoTypeUSSocialSecurityNumber InfoType = "US_SOCIAL_SECURITY_NUMBER"
	InfoTypeNationalID             InfoType = "NATIONAL_ID"
	InfoTypeMedicalRecordNumber    InfoType = "MEDICAL_RECORD_NUMBER"
	InfoTypeUSHealthcareNPI        InfoType = "US_HEALTHCARE_NPI"
	InfoTypeUSDEANumber            InfoType = "US_DEA_NUMBER"
	InfoTypeUSDriversLicense       InfoType = "US_DRIVERS_LICENSE_NUMBER"
	InfoTypeCreditCardNumber       InfoType = "CREDIT_CARD_NUMBER"
	InfoTypePatientID              InfoType = "PATIENT_ID"
	InfoTypeMedicalDeviceID        InfoType = "MEDICAL_DEVICE_ID"
	InfoTypeFHIRResourceID         InfoType = "FHIR_RESOURCE_ID"
)

// Likelihood is the scanner's confidence tier. Tiers are ordered.
type Likelihood int

const (
	VeryUnlikely Likelihood = iota + 1
	Unlikely
	Possible
	Likely
	VeryLikely
)

var likelihoodNames = map[Likelihood]string{
	VeryUnlikely: "VERY_UNLIKELY",
	Unlikely:     "UNLIKELY",
	Possible:     "POSSIBLE",
	Likely:       "LIKELY",
	VeryLikely:   "VERY_LIKELY",
}

func (l Likelihood) String() string {
	if s, ok := likelihoodNames[l]; ok {
		return s
	}
	return "LIKELIHOOD_UNSPECIFIED"
}

func (l Likelihood) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Likelihood) UnmarshalText(b []byte) error {
	s := strings.ToUpper(string(b))
	for k, v := range likelihoodNames {
		if v == s {
			*l = k
			return nil
		}
	}
	return fmt.Errorf("unknown likelihood %q", string(b))
}

// ByteRange is a half-open [Start, End) offset into the scanned text.
type ByteRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Match is what a scanner reports for one piece of text.
type Match struct {
	InfoType   InfoType
	Likelihood Likelihood
	Range      ByteRange
}

// Finding is a match attributed to a field.
type Finding struct {
	Field      fields.Name `json:"field_name"`
	InfoType   InfoType    `json:"info_type"`
	Likelihood Likelihood  `json:"likelihood"`
	Range      ByteRange   `json:"byte_range"`
}

// RiskLevel is the coarse classification driving protection decisions.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// ParseRiskLevel accepts the canonical upper-case names.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch RiskLevel(strings.ToUpper(s)) {
	case RiskLow:
		return RiskLow, nil
	case RiskMedium:
		return RiskMedium, nil
	case RiskHigh:
		return RiskHigh, nil
	}
	return "", fmt.Errorf("unknown risk level %q", s)
}

// Assessment is the immutable output of Classify.
type Assessment struct {
	HasSensitiveData bool      `json:"has_sensitive_data"`
	Findings         []Finding `json:"findings"`
	RiskLevel        RiskLevel `json:"risk_level"`
	// Degraded marks an assessment produced by the fail-closed path rather
	// than by scanning.
	Degraded bool `json:"degraded"`
}

// FieldHasFindings reports whether any finding was attributed to name.
func (a Assessment) FieldHasFindings(name fields.Name) bool {
	return slices.ContainsFunc(a.Findings, func(f Finding) bool { return f.Field == name })
}

// InfoTypes returns the distinct info types found, sorted.
func (a Assessment) InfoTypes() []string {
	seen := make(map[InfoType]struct{}, len(a.Findings))
	out := make([]string, 0, len(a.Findings))
	for _, f := range a.Findings {
		if _, ok := seen[f.InfoType]; ok {
			continue
		}
		seen[f.InfoType] = struct{}{}
		out = append(out, string(f.InfoType))
	}
	slices.Sort(out)
	return out
}
