// Package fields is the closed table of registrable metadata fields and their
// sensitivity class. Every field the pipeline accepts must be listed here;
// anything else is rejected at the edge.
package fields

import (
	"slices"
	"strings"

	dErrors "audiovault/pkg/domain-errors"
)

// Name identifies a registrable metadata field.
type Name string

const (
	PatientID    Name = "patient_id"
	OperatorName Name = "operator_name"
	Reason       Name = "reason"
)

// Class decides how a field is treated before persistence.
type Class int

const (
	// ClassIdentifier fields are always encrypted when non-empty.
	ClassIdentifier Class = iota + 1
	// ClassFreeText fields are stored as plaintext unless the classifier
	// reports a finding in them or the assessment is degraded.
	ClassFreeText
)

func (c Class) String() string {
	switch c {
	case ClassIdentifier:
		return "identifier"
	case ClassFreeText:
		return "free_text"
	default:
		return "unknown"
	}
}

// Field is one row of the table.
type Field struct {
	Name      Name
	Class     Class
	MaxLength int
}

var table = []Field{
	{Name: PatientID, Class: ClassIdentifier, MaxLength: 64},
	{Name: OperatorName, Class: ClassIdentifier, MaxLength: 128},
	{Name: Reason, Class: ClassFreeText, MaxLength: 1024},
}

// All returns the table in stable order.
func All() []Field {
	return slices.Clone(table)
}

// Lookup returns the row for name.
func Lookup(name Name) (Field, bool) {
	for _, f := range table {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Parse validates a raw field name against the table.
func Parse(raw string) (Name, error) {
	name := Name(strings.TrimSpace(raw))
	if _, ok := Lookup(name); !ok {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown field: "+raw)
	}
	return name, nil
}

func (n Name) String() string { return string(n) }

// Class returns the class for a known name; unknown names are treated as
// identifiers so they are never stored in the clear.
func (n Name) Class() Class {
	if f, ok := Lookup(n); ok {
		return f.Class
	}
	return ClassIdentifier
}

// Values is the set of supplied field values keyed by table name.
type Values map[Name]string

// Validate enforces table membership and per-field length limits.
func (v Values) Validate() error {
	for name, value := range v {
		f, ok := Lookup(name)
		if !ok {
			return dErrors.New(dErrors.CodeInvalidInput, "unknown field: "+string(name))
		}
		if len(value) > f.MaxLength {
			return dErrors.New(dErrors.CodeInvalidInput, string(name)+" exceeds maximum length")
		}
	}
	return nil
}

// NonEmpty returns a copy without blank values.
func (v Values) NonEmpty() Values {
	out := make(Values, len(v))
	for name, value := range v {
		if strings.TrimSpace(value) != "" {
			out[name] = value
		}
	}
	return out
}

// Names returns the keys sorted by name so merges are deterministic.
func (v Values) Names() []Name {
	names := make([]Name, 0, len(v))
	for name := range v {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
