package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"audiovault/internal/bundle"
	"audiovault/internal/registration"
	dErrors "audiovault/pkg/domain-errors"
	"audiovault/pkg/platform/audit"
	"audiovault/pkg/platform/httputil"
	"audiovault/pkg/requestcontext"
)

const registeredMessage = "Upload registered successfully"

// Service is the registration surface the handler needs.
type Service interface {
	Register(ctx context.Context, req registration.Request) (*registration.Result, error)
	SearchMedia(ctx context.Context, patientID string) (bundle.Bundle, error)
	GetMedia(ctx context.Context, id uuid.UUID) (*bundle.Media, error)
	AuditTrail(ctx context.Context, resourceID string) ([]audit.Entry, error)
}

type Handler struct {
	svc    Service
	logger *slog.Logger
}

func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register mounts registration, FHIR read and audit endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Post("/register-upload-fhir", h.HandleRegister)
	r.Get("/fhir/Media", h.HandleSearchMedia)
	r.Get("/fhir/Media/{id}", h.HandleGetMedia)
	r.Get("/audit/{resource_id}", h.HandleAuditTrail)
}

// HandleRegister handles POST /register-upload-fhir.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[RegisterUploadRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	caller := requestcontext.CallerID(ctx)
	storagePath, err := registration.ResolveStoragePath(req.FilePath, req.FileName, caller)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	res, err := h.svc.Register(ctx, registration.Request{
		FileName:    req.FileName,
		FileSize:    *req.FileSize,
		ContentType: req.FileType,
		StoragePath: storagePath,
		Fields:      req.Fields(),
		CallerID:    caller,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "registration failed",
			"request_id", requestID,
			"storage_path", storagePath,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	status := AuditRecorded
	if res.AuditErr != nil {
		status = AuditRetrying
	}
	h.logger.InfoContext(ctx, "upload registered",
		"request_id", requestID,
		"storage_path", storagePath,
		"duplicate", res.Duplicate,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, RegisterUploadResponse{
		Message:              registeredMessage,
		FHIRBundleID:         res.BundleID.String(),
		RecordID:             res.RecordID.String(),
		FilePath:             storagePath,
		FHIRResourcesCreated: res.ResourcesCreated,
		Duplicate:            res.Duplicate,
		SecurityScan: SecurityScan{
			PHIDetected: res.Assessment.HasSensitiveData,
			RiskLevel:   string(res.Assessment.RiskLevel),
			Degraded:    res.Assessment.Degraded,
			InfoTypes:   res.Assessment.InfoTypes(),
		},
		AuditStatus: status,
	})
}

// HandleSearchMedia handles GET /fhir/Media?patient=.
func (h *Handler) HandleSearchMedia(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	b, err := h.svc.SearchMedia(ctx, r.URL.Query().Get("patient"))
	if err != nil {
		h.logger.WarnContext(ctx, "media search failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusOK, b)
}

// HandleGetMedia handles GET /fhir/Media/{id}.
func (h *Handler) HandleGetMedia(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "media id must be a uuid"))
		return
	}
	m, err := h.svc.GetMedia(ctx, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusOK, m)
}

// HandleAuditTrail handles GET /audit/{resource_id}.
func (h *Handler) HandleAuditTrail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resourceID := chi.URLParam(r, "resource_id")
	entries, err := h.svc.AuditTrail(ctx, resourceID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]AuditEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, toAuditEntry(e))
	}
	httputil.WriteJSON(w, http.StatusOK, AuditTrailResponse{
		ResourceID: resourceID,
		Total:      len(out),
		Entries:    out,
	})
}
