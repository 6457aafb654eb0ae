package handler

import (
	"strings"
	"time"

	dErrors "audiovault/pkg/domain-errors"
)

// UploadURLRequest is the body of POST /get-upload-url.
type UploadURLRequest struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type,omitempty"`
}

func (r *UploadURLRequest) Normalize() {
	r.FileName = strings.TrimSpace(r.FileName)
	r.ContentType = strings.TrimSpace(r.ContentType)
}

func (r *UploadURLRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.FileName == "" {
		return dErrors.New(dErrors.CodeValidation, "file_name is required")
	}
	if len(r.FileName) > 255 {
		return dErrors.New(dErrors.CodeValidation, "file_name must be at most 255 characters")
	}
	return nil
}

// UploadURLResponse tells the client where and how to PUT the file.
type UploadURLResponse struct {
	UploadURL         string            `json:"upload_url"`
	FilePath          string            `json:"file_path"`
	ExpiresAt         time.Time         `json:"expires_at"`
	ExpirationSeconds int64             `json:"expiration_seconds"`
	Method            string            `json:"method"`
	Headers           map[string]string `json:"headers"`
	Instructions      Instructions      `json:"instructions"`
}

type Instructions struct {
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers"`
	CurlExample string            `json:"curl_example"`
}
