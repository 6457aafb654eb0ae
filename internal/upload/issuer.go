// Package upload issues short-lived write URLs for audio objects. Clients PUT
// bytes straight to object storage and register the path afterwards.
package upload

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"audiovault/internal/upload/metrics"
	dErrors "audiovault/pkg/domain-errors"
	"audiovault/pkg/platform/retry"
	"audiovault/pkg/requestcontext"
)

// DefaultTTL is how long a write URL stays valid.
const DefaultTTL = 15 * time.Minute

// Presigner mints a signed PUT URL for key.
type Presigner interface {
	PresignPut(ctx context.Context, key, contentType string, expires time.Duration) (string, error)
}

// Grant is a write capability for one object. It is never persisted.
type Grant struct {
	FileName    string
	ContentType string
	StoragePath string
	WriteURL    string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

type Issuer struct {
	presigner Presigner
	ttl       time.Duration
	retry     retry.Policy
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type Option func(*Issuer)

func WithTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(i *Issuer) {
		i.retry = p
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(i *Issuer) {
		i.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Issuer) {
		i.metrics = m
	}
}

// NewIssuer constructs an Issuer.
func NewIssuer(presigner Presigner, opts ...Option) (*Issuer, error) {
	if presigner == nil {
		return nil, errors.New("presigner is required")
	}
	i := &Issuer{
		presigner: presigner,
		ttl:       DefaultTTL,
		retry:     retry.Default,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Issue validates the file name and content type and returns a grant for a
// fresh storage path.
func (i *Issuer) Issue(ctx context.Context, callerID, fileName, contentType string) (*Grant, error) {
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "file_name is required")
	}
	defaultType, err := ContentTypeFor(fileName)
	if err != nil {
		i.metrics.IncGrant(metrics.OutcomeRejected)
		return nil, err
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case contentType == "":
		contentType = defaultType
	case !strings.HasPrefix(contentType, "audio/"):
		i.metrics.IncGrant(metrics.OutcomeRejected)
		return nil, dErrors.New(dErrors.CodeInvalidInput, "content_type must be audio/*")
	}

	issuedAt := requestcontext.Now(ctx).UTC()
	key := ObjectKey(callerID, issuedAt, fileName)

	var url string
	err = retry.Do(ctx, i.retry, func(ctx context.Context) error {
		u, err := i.presigner.PresignPut(ctx, key, contentType, i.ttl)
		if err != nil {
			return err
		}
		url = u
		return nil
	})
	if err != nil {
		i.metrics.IncGrant(metrics.OutcomeFailed)
		i.logger.ErrorContext(ctx, "presign upload url failed",
			"request_id", requestcontext.RequestID(ctx),
			"storage_path", key,
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeDependencyUnavailable, "upload url could not be issued")
	}

	i.metrics.IncGrant(metrics.OutcomeIssued)
	return &Grant{
		FileName:    fileName,
		ContentType: contentType,
		StoragePath: key,
		WriteURL:    url,
		IssuedAt:    issuedAt,
		ExpiresAt:   issuedAt.Add(i.ttl),
	}, nil
}
