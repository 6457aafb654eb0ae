package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"audiovault/internal/upload"
	"audiovault/pkg/platform/httputil"
	"audiovault/pkg/requestcontext"
)

// Issuer defines the interface for minting upload grants.
type Issuer interface {
	Issue(ctx context.Context, callerID, fileName, contentType string) (*upload.Grant, error)
}

// Handler wires the upload endpoint to the issuer.
type Handler struct {
	issuer Issuer
	logger *slog.Logger
}

// New constructs an upload handler.
func New(issuer Issuer, logger *slog.Logger) *Handler {
	return &Handler{issuer: issuer, logger: logger}
}

// Register mounts upload endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/get-upload-url", h.HandleGetUploadURL)
}

// HandleGetUploadURL handles POST /get-upload-url.
func (h *Handler) HandleGetUploadURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[UploadURLRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	grant, err := h.issuer.Issue(ctx, requestcontext.CallerID(ctx), req.FileName, req.ContentType)
	if err != nil {
		h.logger.ErrorContext(ctx, "upload url not issued",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "upload url issued",
		"request_id", requestID,
		"storage_path", grant.StoragePath,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, toResponse(grant))
}

func toResponse(g *upload.Grant) UploadURLResponse {
	headers := map[string]string{"Content-Type": g.ContentType}
	return UploadURLResponse{
		UploadURL:         g.WriteURL,
		FilePath:          g.StoragePath,
		ExpiresAt:         g.ExpiresAt,
		ExpirationSeconds: int64(g.ExpiresAt.Sub(g.IssuedAt).Seconds()),
		Method:            http.MethodPut,
		Headers:           headers,
		Instructions: Instructions{
			Method:      http.MethodPut,
			Headers:     headers,
			CurlExample: fmt.Sprintf("curl -X PUT -H %q --upload-file ./%s %q", "Content-Type: "+g.ContentType, upload.Sanitize(g.FileName), g.WriteURL),
		},
	}
}
