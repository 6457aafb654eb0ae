// Package bundle builds FHIR-like bundles from a classified, encrypted
// registration. Assembly is pure: the clock and id source are inputs.
package bundle

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"audiovault/internal/classifier"
	"audiovault/internal/encryption"
	"audiovault/internal/fields"
	dErrors "audiovault/pkg/domain-errors"
)

// Source describes the uploaded object being registered.
type Source struct {
	RecordID    uuid.UUID
	StoragePath string
	FileName    string
	ContentType string
	FileSize    int64
	RecordedAt  time.Time
}

type Assembler struct {
	baseURL string
	newID   func() uuid.UUID
}

type Option func(*Assembler)

// WithIDGenerator replaces uuid.New for bundle, Patient and Provenance ids.
func WithIDGenerator(fn func() uuid.UUID) Option {
	return func(a *Assembler) {
		a.newID = fn
	}
}

// NewAssembler constructs an Assembler whose fullUrls are rooted at baseURL.
func NewAssembler(baseURL string, opts ...Option) *Assembler {
	a := &Assembler{
		baseURL: strings.TrimRight(baseURL, "/"),
		newID:   uuid.New,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble builds a collection bundle holding a Media resource and, when any
// field was encrypted, a Patient and a Provenance resource.
func (a *Assembler) Assemble(src Source, assessment classifier.Assessment, encrypted []encryption.EncryptedField, plaintext fields.Values) (Bundle, error) {
	if err := validate(src, encrypted, plaintext); err != nil {
		return Bundle{}, err
	}

	recorded := src.RecordedAt.UTC()
	security := &Meta{Security: []Coding{ConfidentialityLabel(assessment.RiskLevel)}}

	media := a.media(src, recorded, security)
	if reason := plaintext[fields.Reason]; reason != "" {
		media.ReasonCode = []CodeableConcept{{Text: reason}}
	}

	b := Bundle{
		ResourceType: "Bundle",
		ID:           a.newID().String(),
		Type:         "collection",
		Timestamp:    recorded,
		Meta:         security,
	}

	if len(encrypted) == 0 {
		b.Entry = []Entry{a.entry(media)}
		return b, nil
	}

	patient := &Patient{
		ResourceType: "Patient",
		ID:           a.newID().String(),
		Meta:         security,
		Identifier:   []Identifier{},
	}
	provenance := &Provenance{
		ResourceType: "Provenance",
		ID:           a.newID().String(),
		Target:       []Reference{{Reference: "Media/" + media.ID}},
		Recorded:     recorded.Format(time.RFC3339),
		Agent:        []ProvenanceAgent{{Type: agentType(), Who: Reference{Display: "system"}}},
	}

	for _, ef := range encrypted {
		token := Identifier{
			System:   SystemEncryptedField + string(ef.Field),
			Value:    ef.Ciphertext,
			Assigner: &Reference{Display: ef.KeyID},
		}
		switch ef.Field.Class() {
		case fields.ClassFreeText:
			provenance.Extension = append(provenance.Extension, Extension{
				URL:         ExtensionEncryptedReason,
				ValueString: ef.Ciphertext,
			})
		default:
			patient.Identifier = append(patient.Identifier, token)
		}
		if ef.Field == fields.OperatorName {
			provenance.Agent[0].Who = Reference{Identifier: &token, Display: ef.KeyID}
		}
	}

	media.Subject = &Reference{Reference: "Patient/" + patient.ID}
	b.Entry = []Entry{a.entry(media), a.entry(patient), a.entry(provenance)}
	return b, nil
}

// MediaSource is a stored registration rendered back as Media.
type MediaSource struct {
	Source
	RiskLevel classifier.RiskLevel
	Reason    string
}

// SearchSet builds a searchset bundle of Media resources.
func (a *Assembler) SearchSet(items []MediaSource, now time.Time) Bundle {
	total := len(items)
	b := Bundle{
		ResourceType: "Bundle",
		ID:           a.newID().String(),
		Type:         "searchset",
		Timestamp:    now.UTC(),
		Total:        &total,
		Entry:        make([]Entry, 0, len(items)),
	}
	for _, item := range items {
		b.Entry = append(b.Entry, a.entry(a.MediaFor(item)))
	}
	return b
}

// MediaFor renders a single stored registration.
func (a *Assembler) MediaFor(item MediaSource) *Media {
	m := a.media(item.Source, item.RecordedAt.UTC(), &Meta{Security: []Coding{ConfidentialityLabel(item.RiskLevel)}})
	if item.Reason != "" {
		m.ReasonCode = []CodeableConcept{{Text: item.Reason}}
	}
	return m
}

// FullURL returns the absolute URL of r.
func (a *Assembler) FullURL(r Resource) string {
	return fmt.Sprintf("%s/%s/%s", a.baseURL, r.Type(), r.Identity())
}

func (a *Assembler) entry(r Resource) Entry {
	return Entry{FullURL: a.FullURL(r), Resource: r}
}

func (a *Assembler) media(src Source, recorded time.Time, meta *Meta) *Media {
	return &Media{
		ResourceType: "Media",
		ID:           src.RecordID.String(),
		Meta: &Meta{
			Profile:  []string{ProfileMedia},
			Security: meta.Security,
		},
		Identifier: []Identifier{{System: SystemStoragePath, Value: src.StoragePath}},
		Status:     "completed",
		MediaType: &CodeableConcept{
			Coding: []Coding{{System: SystemMediaType, Code: "audio", Display: "Audio"}},
		},
		Modality: &CodeableConcept{
			Coding: []Coding{{System: SystemDICOM, Code: "AU", Display: "Audio"}},
		},
		CreatedDateTime: recorded.Format(time.RFC3339),
		DeviceName:      DeviceName,
		Content: Attachment{
			ContentType: src.ContentType,
			URL:         src.StoragePath,
			Size:        src.FileSize,
			Title:       src.FileName,
			Creation:    recorded.Format(time.RFC3339),
		},
	}
}

func agentType() *CodeableConcept {
	return &CodeableConcept{Coding: []Coding{{System: SystemProvenanceAgent, Code: "author", Display: "Author"}}}
}

// ConfidentialityLabel maps a risk level onto the v3 confidentiality codes.
func ConfidentialityLabel(level classifier.RiskLevel) Coding {
	switch level {
	case classifier.RiskHigh:
		return Coding{System: SystemConfidentiality, Code: "R", Display: "restricted"}
	case classifier.RiskMedium:
		return Coding{System: SystemConfidentiality, Code: "M", Display: "moderate"}
	default:
		return Coding{System: SystemConfidentiality, Code: "L", Display: "low"}
	}
}

func validate(src Source, encrypted []encryption.EncryptedField, plaintext fields.Values) error {
	switch {
	case src.RecordID == uuid.Nil:
		return dErrors.New(dErrors.CodeInvalidInput, "record id is required")
	case strings.TrimSpace(src.StoragePath) == "":
		return dErrors.New(dErrors.CodeInvalidInput, "storage path is required")
	case src.FileSize < 0:
		return dErrors.New(dErrors.CodeInvalidInput, "file size must not be negative")
	case src.RecordedAt.IsZero():
		return dErrors.New(dErrors.CodeInvalidInput, "recorded time is required")
	}
	for _, ef := range encrypted {
		if ef.Ciphertext == "" {
			return dErrors.New(dErrors.CodeInvalidInput, "empty ciphertext for "+string(ef.Field))
		}
		if _, ok := plaintext[ef.Field]; ok {
			return dErrors.New(dErrors.CodeInvalidInput, string(ef.Field)+" is both encrypted and plaintext")
		}
		for _, v := range plaintext {
			if v != "" && v == ef.Ciphertext {
				return dErrors.New(dErrors.CodeInvalidInput, "ciphertext for "+string(ef.Field)+" equals a plaintext value")
			}
		}
	}
	return nil
}
