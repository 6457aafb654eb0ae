package handler

import (
	"strings"
	"time"

	"audiovault/internal/fields"
	"audiovault/internal/upload"
	dErrors "audiovault/pkg/domain-errors"
	"audiovault/pkg/platform/audit"
)

// RegisterUploadRequest is the body of POST /register-upload-fhir.
type RegisterUploadRequest struct {
	FileName     string `json:"file_name"`
	FileSize     *int64 `json:"file_size"`
	FileType     string `json:"file_type"`
	FilePath     string `json:"file_path,omitempty"`
	PatientID    string `json:"patient_id,omitempty"`
	OperatorName string `json:"operator_name,omitempty"`
	Reason       string `json:"reason,omitempty"`
	// DurationSeconds is accepted from older clients and ignored.
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
}

func (r *RegisterUploadRequest) Normalize() {
	r.FileName = strings.TrimSpace(r.FileName)
	r.FileType = strings.TrimSpace(r.FileType)
	r.FilePath = strings.TrimSpace(r.FilePath)
	r.PatientID = strings.TrimSpace(r.PatientID)
	r.OperatorName = strings.TrimSpace(r.OperatorName)
	r.Reason = strings.TrimSpace(r.Reason)
}

func (r *RegisterUploadRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.FileName == "" {
		return dErrors.New(dErrors.CodeValidation, "file_name is required")
	}
	if r.FileSize == nil {
		return dErrors.New(dErrors.CodeValidation, "file_size is required")
	}
	if *r.FileSize < 0 {
		return dErrors.New(dErrors.CodeValidation, "file_size must not be negative")
	}
	if r.FileType == "" {
		return dErrors.New(dErrors.CodeValidation, "file_type is required")
	}
	if _, err := upload.ContentTypeFor(r.FileName); err != nil {
		return err
	}
	return r.Fields().Validate()
}

// Fields collects the metadata fields that go through classification.
func (r *RegisterUploadRequest) Fields() fields.Values {
	return fields.Values{
		fields.PatientID:    r.PatientID,
		fields.OperatorName: r.OperatorName,
		fields.Reason:       r.Reason,
	}.NonEmpty()
}

type SecurityScan struct {
	PHIDetected bool     `json:"phi_detected"`
	RiskLevel   string   `json:"risk_level"`
	Degraded    bool     `json:"degraded"`
	InfoTypes   []string `json:"info_types"`
}

// Audit status values reported to the client.
const (
	AuditRecorded = "recorded"
	AuditRetrying = "retrying"
)

type RegisterUploadResponse struct {
	Message              string       `json:"message"`
	FHIRBundleID         string       `json:"fhir_bundle_id"`
	RecordID             string       `json:"record_id"`
	FilePath             string       `json:"file_path"`
	FHIRResourcesCreated []string     `json:"fhir_resources_created"`
	Duplicate            bool         `json:"duplicate"`
	SecurityScan         SecurityScan `json:"security_scan"`
	AuditStatus          string       `json:"audit_status"`
}

type AuditTrailResponse struct {
	ResourceID string       `json:"resource_id"`
	Total      int          `json:"total"`
	Entries    []AuditEntry `json:"entries"`
}

type AuditEntry struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Category  string            `json:"category"`
	Actor     string            `json:"actor"`
	Action    string            `json:"action"`
	Stage     string            `json:"stage,omitempty"`
	RiskLevel string            `json:"risk_level,omitempty"`
	Success   bool              `json:"success"`
	Detail    map[string]string `json:"detail,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

func toAuditEntry(e audit.Entry) AuditEntry {
	return AuditEntry{
		ID:        e.ID.String(),
		Timestamp: e.Timestamp,
		Category:  string(e.Category),
		Actor:     e.Actor,
		Action:    e.Action,
		Stage:     e.Stage,
		RiskLevel: e.RiskLevel,
		Success:   e.Success,
		Detail:    e.Detail,
		RequestID: e.RequestID,
	}
}
