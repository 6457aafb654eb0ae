package scanner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audiovault/internal/classifier"
)

func scanTypes(t *testing.T, text string) map[classifier.InfoType]classifier.Likelihood {
	t.Helper()
	matches, err := New().Scan(context.Background(), text)
	require.NoError(t, err)
	out := make(map[classifier.InfoType]classifier.Likelihood, len(matches))
	for _, m := range matches {
		out[m.InfoType] = m.Likelihood
	}
	return out
}

func TestScanDetectsInfoTypes(t *testing.T) {
	cases := []struct {
		name string
		text string
		want classifier.InfoType
	}{
		{"person name with honorific", "seen by Dr. Smith", classifier.InfoTypePersonName},
		{"hyphenated ssn", "ssn 123-45-6789", classifier.InfoTypeUSSocialSecurityNumber},
		{"bare nine digit identifier", "id 123456789 on file", classifier.InfoTypeNationalID},
		{"medical record number", "MRN: 00123456", classifier.InfoTypeMedicalRecordNumber},
		{"npi with context", "NPI 1234567893", classifier.InfoTypeUSHealthcareNPI},
		{"email", "contact jane.doe@example.org", classifier.InfoTypeEmailAddress},
		{"phone", "call (555) 123-4567", classifier.InfoTypePhoneNumber},
		{"date of birth with context", "DOB: 1980-02-29", classifier.InfoTypeDateOfBirth},
		{"patient id", "PAT-123456", classifier.InfoTypePatientID},
		{"device id", "recorded on MD-AB12CD34", classifier.InfoTypeMedicalDeviceID},
		{"luhn valid card", "card 4111 1111 1111 1111", classifier.InfoTypeCreditCardNumber},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			found := scanTypes(t, tc.text)
			assert.Contains(t, found, tc.want)
		})
	}
}

func TestScanPrefersSpecificTypes(t *testing.T) {
	found := scanTypes(t, "PAT-123456789")
	assert.Contains(t, found, classifier.InfoTypePatientID)
	assert.NotContains(t, found, classifier.InfoTypeNationalID)
}

func TestScanRejectsLuhnInvalidCard(t *testing.T) {
	found := scanTypes(t, "ref 4111 1111 1111 1112")
	assert.NotContains(t, found, classifier.InfoTypeCreditCardNumber)
}

func TestScanCleanText(t *testing.T) {
	assert.Empty(t, scanTypes(t, "routine checkup"))
}

func TestScanOrdersByOffset(t *testing.T) {
	matches, err := New().Scan(context.Background(), "Dr. Smith saw PAT-123456")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, classifier.InfoTypePersonName, matches[0].InfoType)
	assert.Equal(t, classifier.ByteRange{Start: 14, End: 24}, matches[1].Range)
}

func TestScanHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Scan(ctx, "Dr. Smith")
	assert.ErrorIs(t, err, context.Canceled)
}
