package registration

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"audiovault/internal/classifier"
	"audiovault/internal/encryption"
	"audiovault/internal/fields"
	"audiovault/internal/upload"
	dErrors "audiovault/pkg/domain-errors"
)

// Stage is a state of a registration run.
type Stage string

const (
	StageReceived   Stage = "received"
	StageClassified Stage = "classified"
	StageEncrypted  Stage = "encrypted"
	StageAssembled  Stage = "assembled"
	StagePersisted  Stage = "persisted"
	StageAudited    Stage = "audited"
	StageComplete   Stage = "complete"
)

// StageError is the absorbing Failed(stage, reason) state. It unwraps to the
// domain error carrying the reason code.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("registration failed at %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// StageName lets the transport report the failing stage.
func (e *StageError) StageName() string { return string(e.Stage) }

// Request is an immutable registration submission.
type Request struct {
	FileName    string
	FileSize    int64
	ContentType string
	StoragePath string
	Fields      fields.Values
	CallerID    string
}

// Validate checks the request before any stage runs.
func (r Request) Validate() error {
	if strings.TrimSpace(r.FileName) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "file_name is required")
	}
	if r.FileSize < 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "file_size must not be negative")
	}
	if strings.TrimSpace(r.ContentType) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "file_type is required")
	}
	if _, err := upload.ContentTypeFor(r.FileName); err != nil {
		return err
	}
	if err := upload.ValidatePath(r.StoragePath); err != nil {
		return err
	}
	if _, err := upload.ContentTypeFor(r.StoragePath); err != nil {
		return err
	}
	return r.Fields.Validate()
}

// ResolveStoragePath picks the object a registration refers to: an explicit
// file path, a file name that is already a storage path, or a path derived
// from caller and file name.
func ResolveStoragePath(filePath, fileName, callerID string) (string, error) {
	switch {
	case filePath != "":
		if err := upload.ValidatePath(filePath); err != nil {
			return "", err
		}
		return filePath, nil
	case strings.HasPrefix(fileName, upload.StoragePrefix):
		if err := upload.ValidatePath(fileName); err != nil {
			return "", err
		}
		return fileName, nil
	default:
		if upload.Sanitize(fileName) == "" {
			return "", dErrors.New(dErrors.CodeInvalidInput, "file_name is required")
		}
		return upload.DerivedPath(callerID, fileName), nil
	}
}

// Record is the persisted registration. It never holds plaintext for an
// encrypted field and is immutable once stored.
type Record struct {
	ID               uuid.UUID                   `json:"id"`
	StoragePath      string                      `json:"storage_path"`
	FileName         string                      `json:"file_name"`
	ContentType      string                      `json:"content_type"`
	FileSize         int64                       `json:"file_size"`
	BundleID         uuid.UUID                   `json:"bundle_id"`
	EncryptedFields  []encryption.EncryptedField `json:"encrypted_fields"`
	PlaintextFields  fields.Values               `json:"plaintext_fields"`
	RiskLevel        classifier.RiskLevel        `json:"risk_level"`
	HasSensitiveData bool                        `json:"has_sensitive_data"`
	Degraded         bool                        `json:"degraded"`
	InfoTypes        []string                    `json:"info_types"`
	Resources        []string                    `json:"resources"`
	PatientIndex     string                      `json:"patient_index,omitempty"`
	CreatedAt        time.Time                   `json:"created_at"`
}

// Encrypted returns the token stored for name.
func (r *Record) Encrypted(name fields.Name) (encryption.EncryptedField, bool) {
	i := slices.IndexFunc(r.EncryptedFields, func(ef encryption.EncryptedField) bool { return ef.Field == name })
	if i < 0 {
		return encryption.EncryptedField{}, false
	}
	return r.EncryptedFields[i], true
}

// Assessment reconstructs the stored risk summary. Findings are not kept.
func (r *Record) Assessment() classifier.Assessment {
	return classifier.Assessment{
		HasSensitiveData: r.HasSensitiveData,
		Findings:         []classifier.Finding{},
		RiskLevel:        r.RiskLevel,
		Degraded:         r.Degraded,
	}
}

// Result is what a completed run returns.
type Result struct {
	RecordID         uuid.UUID
	BundleID         uuid.UUID
	Assessment       classifier.Assessment
	ResourcesCreated []string
	Duplicate        bool
	// AuditErr is set when the terminal audit entry could not be written
	// synchronously. The registration itself stands.
	AuditErr error
}
