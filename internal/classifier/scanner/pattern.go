// Package scanner provides an in-process sensitive data detector implementing
// classifier.Scanner. It covers the info types the pipeline cares about with
// contextual patterns and checksum validation where one exists.
package scanner

import (
	"context"
	"regexp"
	"slices"

	"audiovault/internal/classifier"
)

type detector struct {
	infoType   classifier.InfoType
	pattern    *regexp.Regexp
	likelihood classifier.Likelihood
	// group selects the submatch that carries the value; 0 is the whole match.
	group int
	valid func(string) bool
}

// Detectors run in priority order; a later detector never reports a span
// that overlaps one already claimed, so "PAT-123456789" is a patient id and
// not also a bare national identifier.
var defaultDetectors = []detector{
	{infoType: classifier.InfoTypeUSSocialSecurityNumber, pattern: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), likelihood: classifier.VeryLikely},
	{infoType: classifier.InfoTypeMedicalRecordNumber, pattern: regexp.MustCompile(`(?i)\bMRN[:#\s-]*(\d{6,10})\b`), likelihood: classifier.VeryLikely, group: 1},
	{infoType: classifier.InfoTypeUSHealthcareNPI, pattern: regexp.MustCompile(`(?i)\bNPI[:#\s-]*(\d{10})\b`), likelihood: classifier.Likely, group: 1},
	{infoType: classifier.InfoTypeUSDEANumber, pattern: regexp.MustCompile(`(?i)\bDEA[:#\s-]*([A-Z]{2}\d{7})\b`), likelihood: classifier.Likely, group: 1},
	{infoType: classifier.InfoTypeUSDriversLicense, pattern: regexp.MustCompile(`(?i)\b(?:DL|driver'?s? licen[cs]e)[:#\s-]*([A-Z]\d{7,12})\b`), likelihood: classifier.Likely, group: 1},
	{infoType: classifier.InfoTypePatientID, pattern: regexp.MustCompile(`\bPAT-\d{6,10}\b`), likelihood: classifier.VeryLikely},
	{infoType: classifier.InfoTypeMedicalDeviceID, pattern: regexp.MustCompile(`\bMD-[A-Z0-9]{8,12}\b`), likelihood: classifier.Likely},
	{infoType: classifier.InfoTypeFHIRResourceID, pattern: regexp.MustCompile(`\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`), likelihood: classifier.Possible},
	{infoType: classifier.InfoTypeEmailAddress, pattern: regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), likelihood: classifier.VeryLikely},
	{infoType: classifier.InfoTypeCreditCardNumber, pattern: regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`), likelihood: classifier.Likely, valid: luhn},
	{infoType: classifier.InfoTypePhoneNumber, pattern: regexp.MustCompile(`(?:\+1[-.\s]?)?(?:\(\d{3}\)\s?|\b\d{3}[-.\s])\d{3}[-.\s]\d{4}\b`), likelihood: classifier.Likely},
	{infoType: classifier.InfoTypeDateOfBirth, pattern: regexp.MustCompile(`(?i)\b(?:dob|date of birth|born(?: on)?)[:\s]*(\d{1,4}[-/.]\d{1,2}[-/.]\d{1,4})\b`), likelihood: classifier.Likely, group: 1},
	{infoType: classifier.InfoTypeNationalID, pattern: regexp.MustCompile(`\b\d{9}\b`), likelihood: classifier.Likely},
	{infoType: classifier.InfoTypePersonName, pattern: regexp.MustCompile(`\b(?:Dr|Mr|Mrs|Ms|Miss|Prof|Nurse)\.?\s+[A-Z][a-z]+(?:[ -][A-Z][a-z]+)?\b`), likelihood: classifier.Likely},
}

// Pattern is a regular-expression based scanner.
type Pattern struct {
	detectors []detector
}

// New returns a scanner with the default detector set.
func New() *Pattern {
	return &Pattern{detectors: defaultDetectors}
}

// Scan returns matches ordered by offset.
func (p *Pattern) Scan(ctx context.Context, text string) ([]classifier.Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var matches []classifier.Match
	for _, d := range p.detectors {
		for _, loc := range d.pattern.FindAllStringSubmatchIndex(text, -1) {
			start, end := loc[2*d.group], loc[2*d.group+1]
			if start < 0 {
				continue
			}
			if d.valid != nil && !d.valid(text[start:end]) {
				continue
			}
			if overlaps(matches, start, end) {
				continue
			}
			matches = append(matches, classifier.Match{
				InfoType:   d.infoType,
				Likelihood: d.likelihood,
				Range:      classifier.ByteRange{Start: start, End: end},
			})
		}
	}

	slices.SortFunc(matches, func(a, b classifier.Match) int {
		return a.Range.Start - b.Range.Start
	})
	return matches, nil
}

func overlaps(claimed []classifier.Match, start, end int) bool {
	for _, m := range claimed {
		if start < m.Range.End && m.Range.Start < end {
			return true
		}
	}
	return false
}

// luhn validates card numbers, ignoring separators.
func luhn(s string) bool {
	sum, n := 0, 0
	double := false
	for i := len(s) - 1; i >= 0; i-- {
		c := s[i]
		if c == ' ' || c == '-' {
			continue
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
		n++
	}
	return n >= 13 && sum%10 == 0
}
