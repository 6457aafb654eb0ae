// Package encryption protects sensitive registration fields through a
// key-management capability. It decides what gets encrypted; the KMS does the
// cryptography.
package encryption

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"audiovault/internal/classifier"
	"audiovault/internal/fields"
	dErrors "audiovault/pkg/domain-errors"
	"audiovault/pkg/platform/circuit"
	"audiovault/pkg/platform/retry"
	"audiovault/pkg/platform/sentinel"
)

// KMS is the key-management capability. Encrypt must be non-deterministic.
type KMS interface {
	Encrypt(ctx context.Context, keyID string, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, keyID string, ciphertext []byte) ([]byte, error)
	MAC(ctx context.Context, keyID string, data []byte) ([]byte, error)
}

// EncryptedField is an opaque ciphertext token for one field.
type EncryptedField struct {
	Field      fields.Name `json:"field_name"`
	KeyID      string      `json:"key_id"`
	Ciphertext string      `json:"ciphertext"`
}

// Protected is the result of applying the field policy to a set of values.
type Protected struct {
	Encrypted []EncryptedField
	Plaintext fields.Values
}

// Lookup returns the encrypted token for name.
func (p Protected) Lookup(name fields.Name) (EncryptedField, bool) {
	i := slices.IndexFunc(p.Encrypted, func(ef EncryptedField) bool { return ef.Field == name })
	if i < 0 {
		return EncryptedField{}, false
	}
	return p.Encrypted[i], true
}

// Encryptor applies the field table policy and delegates to the KMS.
type Encryptor struct {
	kms         KMS
	keyID       string
	indexKeyID  string
	breaker     *circuit.Breaker
	retry       retry.Policy
	concurrency int
	logger      *slog.Logger
}

type Option func(*Encryptor)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Encryptor) {
		e.logger = logger
	}
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(e *Encryptor) {
		e.retry = p
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(e *Encryptor) {
		e.breaker = b
	}
}

// WithIndexKey sets the key used for the patient blind index.
func WithIndexKey(keyID string) Option {
	return func(e *Encryptor) {
		e.indexKeyID = keyID
	}
}

// New constructs an Encryptor that encrypts under keyID.
func New(kms KMS, keyID string, opts ...Option) (*Encryptor, error) {
	if kms == nil {
		return nil, errors.New("kms is required")
	}
	if strings.TrimSpace(keyID) == "" {
		return nil, errors.New("key id is required")
	}
	e := &Encryptor{
		kms:         kms,
		keyID:       keyID,
		indexKeyID:  keyID + "/index",
		retry:       retry.Default,
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.breaker == nil {
		e.breaker = circuit.New("kms")
	}
	return e, nil
}

// KeyID returns the data key id used for new encryptions.
func (e *Encryptor) KeyID() string { return e.keyID }

// ShouldEncrypt is the field policy: identifiers always, free text when the
// classifier flagged it or could not vouch for it.
func ShouldEncrypt(name fields.Name, a classifier.Assessment) bool {
	switch name.Class() {
	case fields.ClassFreeText:
		return a.Degraded || a.FieldHasFindings(name)
	default:
		return true
	}
}

// EncryptFields encrypts every non-empty value the policy selects and passes
// the rest through. Encrypted fields are returned sorted by name.
func (e *Encryptor) EncryptFields(ctx context.Context, a classifier.Assessment, values fields.Values) (Protected, error) {
	values = values.NonEmpty()
	out := Protected{Plaintext: fields.Values{}}

	var selected []fields.Name
	for _, name := range values.Names() {
		if ShouldEncrypt(name, a) {
			selected = append(selected, name)
		} else {
			out.Plaintext[name] = values[name]
		}
	}

	encrypted := make([]EncryptedField, len(selected))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, name := range selected {
		g.Go(func() error {
			ef, err := e.EncryptField(gctx, name, values[name], e.keyID)
			if err != nil {
				return err
			}
			encrypted[i] = ef
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Protected{}, err
	}
	out.Encrypted = encrypted
	return out, nil
}

// EncryptField encrypts one value. Every call yields fresh ciphertext.
func (e *Encryptor) EncryptField(ctx context.Context, name fields.Name, plaintext, keyID string) (EncryptedField, error) {
	if plaintext == "" {
		return EncryptedField{}, dErrors.New(dErrors.CodeInvalidInput, "cannot encrypt empty "+string(name))
	}
	var sealed []byte
	err := e.call(ctx, func(ctx context.Context) error {
		ct, err := e.kms.Encrypt(ctx, keyID, []byte(plaintext))
		if err != nil {
			return err
		}
		sealed = ct
		return nil
	})
	if err != nil {
		if e.logger != nil {
			e.logger.ErrorContext(ctx, "field encryption failed",
				"field", name,
				"key_id", keyID,
				"error", err,
			)
		}
		return EncryptedField{}, dErrors.Wrap(err, dErrors.CodeDependencyUnavailable, "encryption unavailable for "+string(name))
	}

	token := base64.StdEncoding.EncodeToString(sealed)
	if len(sealed) == 0 || token == plaintext {
		return EncryptedField{}, dErrors.New(dErrors.CodeInvariantViolation, "kms returned unusable ciphertext for "+string(name))
	}
	return EncryptedField{Field: name, KeyID: keyID, Ciphertext: token}, nil
}

// DecryptField returns the plaintext or fails with CodeDecryptionFailed.
// Partial plaintext is never returned.
func (e *Encryptor) DecryptField(ctx context.Context, ef EncryptedField) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ef.Ciphertext)
	if err != nil || len(raw) == 0 {
		return "", dErrors.Wrap(err, dErrors.CodeDecryptionFailed, "malformed ciphertext for "+string(ef.Field))
	}

	var plain []byte
	err = e.call(ctx, func(ctx context.Context) error {
		pt, err := e.kms.Decrypt(ctx, ef.KeyID, raw)
		if err != nil {
			if errors.Is(err, sentinel.ErrUnavailable) {
				return err
			}
			return retry.Permanent(err)
		}
		plain = pt
		return nil
	})
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeDecryptionFailed, "decryption failed for "+string(ef.Field))
	}
	return string(plain), nil
}

// BlindIndex returns a keyed, deterministic digest of value for equality
// lookups without storing plaintext.
func (e *Encryptor) BlindIndex(ctx context.Context, value string) (string, error) {
	var mac []byte
	err := e.call(ctx, func(ctx context.Context) error {
		m, err := e.kms.MAC(ctx, e.indexKeyID, []byte(value))
		if err != nil {
			return err
		}
		mac = m
		return nil
	})
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeDependencyUnavailable, "blind index unavailable")
	}
	return hex.EncodeToString(mac), nil
}

func (e *Encryptor) call(ctx context.Context, op func(ctx context.Context) error) error {
	return retry.Do(ctx, e.retry, func(ctx context.Context) error {
		if !e.breaker.Allow() {
			return retry.Permanent(sentinel.ErrUnavailable)
		}
		if err := op(ctx); err != nil {
			// A rejected ciphertext says nothing about KMS health.
			if !retry.IsPermanent(err) {
				e.breaker.RecordFailure()
			}
			return err
		}
		e.breaker.RecordSuccess()
		return nil
	})
}
