package registration

import (
	"context"
	"crypto/subtle"
	"errors"
	"strconv"

	"github.com/google/uuid"

	"audiovault/internal/bundle"
	"audiovault/internal/fields"
	dErrors "audiovault/pkg/domain-errors"
	"audiovault/pkg/platform/audit"
	"audiovault/pkg/platform/sentinel"
	"audiovault/pkg/requestcontext"
)

// SearchMedia returns a searchset of Media registered for patientID. Records
// are located by blind index and confirmed by decrypting their stored patient
// token. A token that fails to decrypt fails the whole search.
func (s *Service) SearchMedia(ctx context.Context, patientID string) (bundle.Bundle, error) {
	if patientID == "" {
		return bundle.Bundle{}, dErrors.New(dErrors.CodeInvalidInput, "patient is required")
	}
	ctx, span := s.tracer.Start(ctx, "registration.search")
	defer span.End()

	index, err := s.encryptor.BlindIndex(ctx, patientID)
	if err != nil {
		return bundle.Bundle{}, err
	}
	candidates, err := s.store.ListByPatientIndex(ctx, index)
	if err != nil {
		return bundle.Bundle{}, dErrors.Wrap(err, dErrors.CodeDependencyUnavailable, "record lookup failed")
	}

	items := make([]bundle.MediaSource, 0, len(candidates))
	for _, rec := range candidates {
		token, ok := rec.Encrypted(fields.PatientID)
		if !ok {
			continue
		}
		plain, err := s.encryptor.DecryptField(ctx, token)
		if err != nil {
			s.logger.ErrorContext(ctx, "stored patient token failed to decrypt",
				"request_id", requestcontext.RequestID(ctx),
				"record_id", rec.ID,
				"storage_path", rec.StoragePath,
				"error", err,
			)
			return bundle.Bundle{}, err
		}
		if subtle.ConstantTimeCompare([]byte(plain), []byte(patientID)) != 1 {
			continue
		}
		items = append(items, mediaSource(rec))
	}

	s.metrics.IncSearch()
	_ = s.auditor.Record(context.WithoutCancel(ctx), audit.Entry{
		ResourceID: "patient:" + index,
		Action:     audit.ActionMediaSearch,
		Success:    true,
		Detail:     map[string]string{"results": strconv.Itoa(len(items))},
	})
	return s.assembler.SearchSet(items, requestcontext.Now(ctx)), nil
}

// GetMedia renders a single stored registration as Media.
func (s *Service) GetMedia(ctx context.Context, id uuid.UUID) (*bundle.Media, error) {
	rec, err := s.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	_ = s.auditor.Record(context.WithoutCancel(ctx), audit.Entry{
		ResourceID: rec.ID.String(),
		Action:     audit.ActionMediaRead,
		RiskLevel:  string(rec.RiskLevel),
		Success:    true,
	})
	return s.assembler.MediaFor(mediaSource(rec)), nil
}

// GetRecord returns the stored record. Encrypted fields stay encrypted.
func (s *Service) GetRecord(ctx context.Context, id uuid.UUID) (*Record, error) {
	rec, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "record not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeDependencyUnavailable, "record lookup failed")
	}
	return rec, nil
}

// AuditTrail lists the entries written for resourceID in order.
func (s *Service) AuditTrail(ctx context.Context, resourceID string) ([]audit.Entry, error) {
	if s.trail == nil {
		return nil, dErrors.New(dErrors.CodeDependencyUnavailable, "audit trail is not configured")
	}
	if resourceID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "resource id is required")
	}
	entries, err := s.trail.ListByResource(ctx, resourceID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeDependencyUnavailable, "audit trail lookup failed")
	}
	return entries, nil
}

func mediaSource(rec *Record) bundle.MediaSource {
	return bundle.MediaSource{
		Source: bundle.Source{
			RecordID:    rec.ID,
			StoragePath: rec.StoragePath,
			FileName:    rec.FileName,
			ContentType: rec.ContentType,
			FileSize:    rec.FileSize,
			RecordedAt:  rec.CreatedAt,
		},
		RiskLevel: rec.RiskLevel,
		Reason:    rec.PlaintextFields[fields.Reason],
	}
}
