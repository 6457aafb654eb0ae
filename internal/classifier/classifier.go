// Package classifier scans registration fields for sensitive content and
// derives a risk level. It never persists or mutates anything.
package classifier

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"audiovault/internal/fields"
	dErrors "audiovault/pkg/domain-errors"
	"audiovault/pkg/platform/circuit"
	"audiovault/pkg/platform/retry"
	"audiovault/pkg/platform/sentinel"
)

// Scanner detects sensitive data in a piece of text.
type Scanner interface {
	Scan(ctx context.Context, text string) ([]Match, error)
}

// Classifier runs the scanner over each non-empty field and applies the risk policy.
type Classifier struct {
	scanner     Scanner
	breaker     *circuit.Breaker
	retry       retry.Policy
	concurrency int
	logger      *slog.Logger
}

type Option func(*Classifier)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Classifier) {
		c.logger = logger
	}
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Classifier) {
		c.retry = p
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Classifier) {
		c.breaker = b
	}
}

// WithConcurrency bounds how many fields are scanned at once.
func WithConcurrency(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// New constructs a Classifier.
func New(scanner Scanner, opts ...Option) (*Classifier, error) {
	if scanner == nil {
		return nil, errors.New("scanner is required")
	}
	c := &Classifier{
		scanner:     scanner,
		retry:       retry.Default,
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = circuit.New("scanner")
	}
	return c, nil
}

// Classify scans every non-empty value. Any scanner failure that survives
// the retries fails the whole call with CodeDependencyUnavailable; callers
// decide how to degrade.
func (c *Classifier) Classify(ctx context.Context, values fields.Values) (Assessment, error) {
	values = values.NonEmpty()
	names := values.Names()
	perField := make([][]Finding, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, name := range names {
		g.Go(func() error {
			matches, err := c.scan(gctx, values[name])
			if err != nil {
				return err
			}
			found := make([]Finding, 0, len(matches))
			for _, m := range matches {
				found = append(found, Finding{
					Field:      name,
					InfoType:   m.InfoType,
					Likelihood: m.Likelihood,
					Range:      m.Range,
				})
			}
			perField[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if c.logger != nil {
			c.logger.WarnContext(ctx, "sensitive data scan failed",
				"fields", len(names),
				"breaker", c.breaker.State().String(),
				"error", err,
			)
		}
		return Assessment{}, dErrors.Wrap(err, dErrors.CodeDependencyUnavailable, "sensitive data scanner unavailable")
	}

	var all []Finding
	for _, f := range perField {
		all = append(all, f...)
	}
	return NewAssessment(all), nil
}

func (c *Classifier) scan(ctx context.Context, text string) ([]Match, error) {
	var matches []Match
	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		if !c.breaker.Allow() {
			return retry.Permanent(sentinel.ErrUnavailable)
		}
		m, err := c.scanner.Scan(ctx, text)
		if err != nil {
			c.breaker.RecordFailure()
			return err
		}
		c.breaker.RecordSuccess()
		matches = m
		return nil
	})
	return matches, err
}
