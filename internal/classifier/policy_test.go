package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"audiovault/internal/fields"
)

func finding(field fields.Name, t InfoType, l Likelihood, start int) Finding {
	return Finding{Field: field, InfoType: t, Likelihood: l, Range: ByteRange{Start: start, End: start + 1}}
}

func TestAssess(t *testing.T) {
	cases := []struct {
		name     string
		findings []Finding
		want     RiskLevel
	}{
		{"no findings is low", nil, RiskLow},
		{"single person name is medium", []Finding{finding(fields.OperatorName, InfoTypePersonName, Likely, 0)}, RiskMedium},
		{"likely national id is high", []Finding{finding(fields.Reason, InfoTypeNationalID, Likely, 0)}, RiskHigh},
		{"possible regulated identifier stays medium", []Finding{finding(fields.Reason, InfoTypeUSSocialSecurityNumber, Possible, 0)}, RiskMedium},
		{"three distinct types is high", []Finding{
			finding(fields.Reason, InfoTypePersonName, Possible, 0),
			finding(fields.Reason, InfoTypeEmailAddress, Possible, 5),
			finding(fields.Reason, InfoTypePhoneNumber, Possible, 9),
		}, RiskHigh},
		{"repeated type does not count twice", []Finding{
			finding(fields.Reason, InfoTypePersonName, Likely, 0),
			finding(fields.OperatorName, InfoTypePersonName, Likely, 0),
			finding(fields.PatientID, InfoTypePatientID, VeryLikely, 0),
		}, RiskMedium},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Assess(tc.findings))
		})
	}
}

func TestNewAssessmentDropsLowLikelihoodAndSorts(t *testing.T) {
	a := NewAssessment([]Finding{
		finding(fields.Reason, InfoTypePersonName, Likely, 7),
		finding(fields.OperatorName, InfoTypePersonName, Likely, 0),
		finding(fields.Reason, InfoTypeEmailAddress, Unlikely, 0),
		finding(fields.Reason, InfoTypePhoneNumber, Possible, 2),
	})

	assert.True(t, a.HasSensitiveData)
	assert.Equal(t, RiskMedium, a.RiskLevel)
	assert.Len(t, a.Findings, 3)
	assert.Equal(t, fields.OperatorName, a.Findings[0].Field)
	assert.Equal(t, 2, a.Findings[1].Range.Start)
	assert.Equal(t, 7, a.Findings[2].Range.Start)
	assert.Equal(t, []string{"PERSON_NAME", "PHONE_NUMBER"}, a.InfoTypes())
	assert.True(t, a.FieldHasFindings(fields.Reason))
	assert.False(t, a.FieldHasFindings(fields.PatientID))
}

func TestNewAssessmentIsOrderIndependent(t *testing.T) {
	in := []Finding{
		finding(fields.Reason, InfoTypePersonName, Likely, 3),
		finding(fields.PatientID, InfoTypePatientID, VeryLikely, 0),
	}
	reversed := []Finding{in[1], in[0]}
	assert.Equal(t, NewAssessment(in), NewAssessment(reversed))
}

func TestFailClosed(t *testing.T) {
	a := FailClosed()
	assert.Equal(t, RiskHigh, a.RiskLevel)
	assert.True(t, a.HasSensitiveData)
	assert.True(t, a.Degraded)
}

func TestLikelihoodText(t *testing.T) {
	b, err := Likely.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "LIKELY", string(b))

	var l Likelihood
	assert.NoError(t, l.UnmarshalText([]byte("very_likely")))
	assert.Equal(t, VeryLikely, l)
	assert.Error(t, l.UnmarshalText([]byte("sometimes")))
}
