// Package registration drives an upload registration through classification,
// encryption, bundle assembly, persistence and auditing. Each run is a small
// state machine that either completes or fails at exactly one stage.
package registration

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"audiovault/internal/bundle"
	"audiovault/internal/classifier"
	"audiovault/internal/encryption"
	"audiovault/internal/fields"
	"audiovault/internal/registration/metrics"
	dErrors "audiovault/pkg/domain-errors"
	"audiovault/pkg/platform/audit"
	"audiovault/pkg/platform/retry"
	"audiovault/pkg/platform/sentinel"
	"audiovault/pkg/requestcontext"
)

type Classifier interface {
	Classify(ctx context.Context, values fields.Values) (classifier.Assessment, error)
}

type Encryptor interface {
	EncryptFields(ctx context.Context, a classifier.Assessment, values fields.Values) (encryption.Protected, error)
	DecryptField(ctx context.Context, ef encryption.EncryptedField) (string, error)
	BlindIndex(ctx context.Context, value string) (string, error)
}

type Assembler interface {
	Assemble(src bundle.Source, a classifier.Assessment, encrypted []encryption.EncryptedField, plaintext fields.Values) (bundle.Bundle, error)
	SearchSet(items []bundle.MediaSource, now time.Time) bundle.Bundle
	MediaFor(item bundle.MediaSource) *bundle.Media
}

// Store persists records. InsertIfAbsent is the only arbiter of duplicate
// storage paths: it returns the already stored record and created=false when
// the path is taken. Lookups return sentinel.ErrNotFound.
type Store interface {
	InsertIfAbsent(ctx context.Context, record *Record) (*Record, bool, error)
	FindByStoragePath(ctx context.Context, storagePath string) (*Record, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Record, error)
	ListByPatientIndex(ctx context.Context, index string) ([]*Record, error)
}

type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

type AuditTrail interface {
	ListByResource(ctx context.Context, resourceID string) ([]audit.Entry, error)
}

// Service is the registration orchestrator.
type Service struct {
	classifier Classifier
	encryptor  Encryptor
	assembler  Assembler
	store      Store
	auditor    AuditRecorder
	trail      AuditTrail
	retry      retry.Policy
	tracer     trace.Tracer
	newID      func() uuid.UUID
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithRetryPolicy bounds retries of the record store.
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Service) {
		s.retry = p
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

// WithAuditTrail enables AuditTrail queries.
func WithAuditTrail(t AuditTrail) Option {
	return func(s *Service) {
		s.trail = t
	}
}

// WithIDGenerator replaces uuid.New for record ids.
func WithIDGenerator(fn func() uuid.UUID) Option {
	return func(s *Service) {
		s.newID = fn
	}
}

// New constructs the orchestrator.
func New(c Classifier, e Encryptor, a Assembler, store Store, auditor AuditRecorder, opts ...Option) (*Service, error) {
	switch {
	case c == nil:
		return nil, errors.New("classifier is required")
	case e == nil:
		return nil, errors.New("encryptor is required")
	case a == nil:
		return nil, errors.New("assembler is required")
	case store == nil:
		return nil, errors.New("record store is required")
	case auditor == nil:
		return nil, errors.New("audit recorder is required")
	}
	s := &Service{
		classifier: c,
		encryptor:  e,
		assembler:  a,
		store:      store,
		auditor:    auditor,
		retry:      retry.Default,
		tracer:     otel.Tracer("audiovault/registration"),
		newID:      uuid.New,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// run carries the per-request state between stages.
type run struct {
	req        Request
	recordID   uuid.UUID
	assessment classifier.Assessment
	protected  encryption.Protected
	index      string
	bundle     bundle.Bundle
	record     *Record
	created    bool
	auditErr   error
}

// Register runs the pipeline for req. A returned error is a *StageError
// unless the request itself was invalid.
func (s *Service) Register(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req.Fields = req.Fields.NonEmpty()

	ctx, span := s.tracer.Start(ctx, "registration.run", trace.WithAttributes(
		attribute.String("storage_path", req.StoragePath),
	))
	defer span.End()

	r := &run{req: req, recordID: s.newID()}

	if existing, err := s.store.FindByStoragePath(ctx, req.StoragePath); err == nil {
		r.record = existing
		return s.finish(ctx, r, start)
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		s.logger.WarnContext(ctx, "duplicate lookup failed, continuing",
			"request_id", requestcontext.RequestID(ctx),
			"storage_path", req.StoragePath,
			"error", err,
		)
	}

	steps := []struct {
		stage Stage
		fn    func(context.Context, *run) error
	}{
		{StageClassified, s.classify},
		{StageEncrypted, s.encrypt},
		{StageAssembled, s.assemble},
		{StagePersisted, s.persist},
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, s.fail(ctx, r, step.stage, dErrors.Wrap(err, dErrors.CodeTimeout, "registration cancelled"))
		}
		if err := s.stage(ctx, r, step.stage, step.fn); err != nil {
			return nil, s.fail(ctx, r, step.stage, err)
		}
		if step.stage == StagePersisted && !r.created {
			break
		}
		s.audit(ctx, r, audit.Entry{
			ResourceID: r.recordID.String(),
			Action:     audit.ActionRegistrationStage,
			Stage:      string(step.stage),
			RiskLevel:  string(r.assessment.RiskLevel),
			Success:    true,
		})
	}

	span.SetAttributes(attribute.String("risk_level", string(r.record.RiskLevel)))
	return s.finish(ctx, r, start)
}

func (s *Service) stage(ctx context.Context, r *run, stage Stage, fn func(context.Context, *run) error) error {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, "registration."+string(stage))
	defer span.End()

	err := fn(ctx, r)
	s.metrics.ObserveStage(string(stage), started)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		return err
	}
	s.logger.DebugContext(ctx, "registration stage complete",
		"request_id", requestcontext.RequestID(ctx),
		"storage_path", r.req.StoragePath,
		"stage", stage,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return nil
}

func (s *Service) classify(ctx context.Context, r *run) error {
	a, err := s.classifier.Classify(ctx, r.req.Fields)
	if err != nil {
		if ctx.Err() != nil {
			return dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "classification cancelled")
		}
		s.metrics.IncFailClosed()
		s.logger.WarnContext(ctx, "classifier unavailable, failing closed",
			"request_id", requestcontext.RequestID(ctx),
			"storage_path", r.req.StoragePath,
			"error", err,
		)
		a = classifier.FailClosed()
	}
	r.assessment = a
	return nil
}

func (s *Service) encrypt(ctx context.Context, r *run) error {
	protected, err := s.encryptor.EncryptFields(ctx, r.assessment, r.req.Fields)
	if err != nil {
		return reason(ctx, err, dErrors.CodeDependencyUnavailable, "field encryption failed")
	}
	r.protected = protected

	if patientID := r.req.Fields[fields.PatientID]; patientID != "" {
		index, err := s.encryptor.BlindIndex(ctx, patientID)
		if err != nil {
			return reason(ctx, err, dErrors.CodeDependencyUnavailable, "patient index failed")
		}
		r.index = index
	}
	return nil
}

func (s *Service) assemble(ctx context.Context, r *run) error {
	b, err := s.assembler.Assemble(bundle.Source{
		RecordID:    r.recordID,
		StoragePath: r.req.StoragePath,
		FileName:    r.req.FileName,
		ContentType: r.req.ContentType,
		FileSize:    r.req.FileSize,
		RecordedAt:  requestcontext.Now(ctx),
	}, r.assessment, r.protected.Encrypted, r.protected.Plaintext)
	if err != nil {
		return reason(ctx, err, dErrors.CodeInvalidInput, "bundle assembly failed")
	}
	bundleID, err := uuid.Parse(b.ID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "bundle id is not a uuid")
	}
	r.bundle = b
	r.record = &Record{
		ID:               r.recordID,
		StoragePath:      r.req.StoragePath,
		FileName:         r.req.FileName,
		ContentType:      r.req.ContentType,
		FileSize:         r.req.FileSize,
		BundleID:         bundleID,
		EncryptedFields:  r.protected.Encrypted,
		PlaintextFields:  r.protected.Plaintext,
		RiskLevel:        r.assessment.RiskLevel,
		HasSensitiveData: r.assessment.HasSensitiveData,
		Degraded:         r.assessment.Degraded,
		InfoTypes:        r.assessment.InfoTypes(),
		Resources:        b.ResourcesCreated(),
		PatientIndex:     r.index,
		CreatedAt:        b.Timestamp,
	}
	return nil
}

func (s *Service) persist(ctx context.Context, r *run) error {
	err := retry.Do(ctx, s.retry, func(ctx context.Context) error {
		stored, created, err := s.store.InsertIfAbsent(ctx, r.record)
		if err != nil {
			return err
		}
		// A retried insert can find the row an earlier attempt committed.
		r.record, r.created = stored, created || stored.ID == r.recordID
		return nil
	})
	if err != nil {
		return reason(ctx, err, dErrors.CodeDependencyUnavailable, "record store unavailable")
	}
	return nil
}

// finish writes the terminal entry. From here on the caller's cancellation is
// ignored: a persisted record always gets its audit attempt.
func (s *Service) finish(ctx context.Context, r *run, start time.Time) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	rec := r.record
	duplicate := !r.created

	action := audit.ActionRegistrationCompleted
	if duplicate {
		action = audit.ActionRegistrationDeduplicated
	}
	s.audit(ctx, r, audit.Entry{
		ResourceID: rec.ID.String(),
		Action:     action,
		Stage:      string(StageAudited),
		RiskLevel:  string(rec.RiskLevel),
		Success:    true,
		Detail: map[string]string{
			"bundle_id":        rec.BundleID.String(),
			"storage_path":     rec.StoragePath,
			"encrypted_fields": encryptedNames(rec),
			"info_types":       strings.Join(rec.InfoTypes, ","),
		},
	})

	if duplicate {
		s.metrics.IncOutcome(metrics.OutcomeDuplicate)
	} else {
		s.metrics.IncOutcome(metrics.OutcomeComplete)
		s.metrics.IncRiskLevel(string(rec.RiskLevel))
	}
	if r.auditErr != nil {
		s.metrics.IncAuditDeferred()
	}

	s.logger.InfoContext(ctx, "registration complete",
		"request_id", requestcontext.RequestID(ctx),
		"storage_path", rec.StoragePath,
		"record_id", rec.ID,
		"risk_level", rec.RiskLevel,
		"duplicate", duplicate,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	assessment := r.assessment
	if duplicate {
		assessment = rec.Assessment()
	}
	return &Result{
		RecordID:         rec.ID,
		BundleID:         rec.BundleID,
		Assessment:       assessment,
		ResourcesCreated: rec.Resources,
		Duplicate:        duplicate,
		AuditErr:         r.auditErr,
	}, nil
}

// fail moves the run into Failed(stage, reason). It records the failed
// transition and then the run's single terminal entry.
func (s *Service) fail(ctx context.Context, r *run, stage Stage, err error) error {
	ctx = context.WithoutCancel(ctx)
	code := dErrors.CodeOf(err)

	s.audit(ctx, r, audit.Entry{
		ResourceID: r.recordID.String(),
		Action:     audit.ActionRegistrationStage,
		Stage:      string(stage),
		RiskLevel:  string(r.assessment.RiskLevel),
		Success:    false,
		Detail:     map[string]string{"reason": string(code)},
	})
	s.audit(ctx, r, audit.Entry{
		ResourceID: r.recordID.String(),
		Action:     audit.ActionRegistrationFailed,
		Stage:      string(stage),
		RiskLevel:  string(r.assessment.RiskLevel),
		Success:    false,
		Detail: map[string]string{
			"reason":       string(code),
			"storage_path": r.req.StoragePath,
		},
	})
	s.metrics.IncFailure(string(stage), string(code))
	s.logger.ErrorContext(ctx, "registration failed",
		"request_id", requestcontext.RequestID(ctx),
		"storage_path", r.req.StoragePath,
		"stage", stage,
		"reason", code,
		"error", err,
	)
	return &StageError{Stage: stage, Err: err}
}

func (s *Service) audit(ctx context.Context, r *run, entry audit.Entry) {
	if entry.Actor == "" {
		entry.Actor = r.req.CallerID
	}
	if err := s.auditor.Record(context.WithoutCancel(ctx), entry); err != nil && r.auditErr == nil {
		r.auditErr = err
	}
}

// reason maps err onto the failure code for its stage. Cancellation always
// reads as a timeout and existing domain codes are kept.
func reason(ctx context.Context, err error, code dErrors.Code, msg string) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg)
	}
	if dErrors.CodeOf(err) != dErrors.CodeInternal {
		return err
	}
	return dErrors.Wrap(err, code, msg)
}

func encryptedNames(rec *Record) string {
	names := make([]string, 0, len(rec.EncryptedFields))
	for _, ef := range rec.EncryptedFields {
		names = append(names, string(ef.Field))
	}
	return strings.Join(names, ",")
}
