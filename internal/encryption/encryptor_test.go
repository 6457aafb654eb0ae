package encryption_test

//go:generate mockgen -source=encryptor.go -destination=mocks/mocks.go -package=mocks KMS

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"audiovault/internal/classifier"
	"audiovault/internal/encryption"
	"audiovault/internal/encryption/kms"
	"audiovault/internal/encryption/mocks"
	"audiovault/internal/fields"
	dErrors "audiovault/pkg/domain-errors"
	"audiovault/pkg/platform/retry"
	"audiovault/pkg/platform/sentinel"
)

var fastRetry = retry.Policy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

type EncryptorSuite struct {
	suite.Suite
	ctrl *gomock.Controller
	kms  *mocks.MockKMS
	enc  *encryption.Encryptor
}

func TestEncryptorSuite(t *testing.T) {
	suite.Run(t, new(EncryptorSuite))
}

func (s *EncryptorSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.kms = mocks.NewMockKMS(s.ctrl)
	var err error
	s.enc, err = encryption.New(s.kms, "phi-v1", encryption.WithRetryPolicy(fastRetry))
	s.Require().NoError(err)
}

func (s *EncryptorSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *EncryptorSuite) TestNewValidatesArguments() {
	_, err := encryption.New(nil, "phi-v1")
	s.ErrorContains(err, "kms is required")
	_, err = encryption.New(s.kms, " ")
	s.ErrorContains(err, "key id is required")
}

func (s *EncryptorSuite) TestEncryptFieldRetriesTransientFailure() {
	gomock.InOrder(
		s.kms.EXPECT().Encrypt(gomock.Any(), "phi-v1", []byte("PAT-1")).Return(nil, errors.New("timeout")),
		s.kms.EXPECT().Encrypt(gomock.Any(), "phi-v1", []byte("PAT-1")).Return([]byte{1, 2, 3}, nil),
	)

	ef, err := s.enc.EncryptField(context.Background(), fields.PatientID, "PAT-1", "phi-v1")
	s.Require().NoError(err)
	s.Equal(fields.PatientID, ef.Field)
	s.Equal("phi-v1", ef.KeyID)
	s.Equal(base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), ef.Ciphertext)
}

func (s *EncryptorSuite) TestEncryptFieldUnavailable() {
	s.kms.EXPECT().Encrypt(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("down")).Times(3)

	_, err := s.enc.EncryptField(context.Background(), fields.PatientID, "PAT-1", "phi-v1")
	s.True(dErrors.HasCode(err, dErrors.CodeDependencyUnavailable))
}

func (s *EncryptorSuite) TestEncryptFieldRejectsEmpty() {
	_, err := s.enc.EncryptField(context.Background(), fields.Reason, "", "phi-v1")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *EncryptorSuite) TestEncryptFieldRejectsEmptyCiphertext() {
	s.kms.EXPECT().Encrypt(gomock.Any(), gomock.Any(), gomock.Any()).Return([]byte{}, nil)

	_, err := s.enc.EncryptField(context.Background(), fields.PatientID, "PAT-1", "phi-v1")
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func (s *EncryptorSuite) TestDecryptFieldAuthFailureIsNotRetried() {
	s.kms.EXPECT().Decrypt(gomock.Any(), "phi-v1", []byte{9}).Return(nil, kms.ErrDecrypt).Times(1)

	_, err := s.enc.DecryptField(context.Background(), encryption.EncryptedField{
		Field:      fields.PatientID,
		KeyID:      "phi-v1",
		Ciphertext: base64.StdEncoding.EncodeToString([]byte{9}),
	})
	s.True(dErrors.HasCode(err, dErrors.CodeDecryptionFailed))
	s.ErrorIs(err, kms.ErrDecrypt)
}

func (s *EncryptorSuite) TestDecryptFieldUnavailableIsRetried() {
	gomock.InOrder(
		s.kms.EXPECT().Decrypt(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrUnavailable),
		s.kms.EXPECT().Decrypt(gomock.Any(), gomock.Any(), gomock.Any()).Return([]byte("PAT-1"), nil),
	)

	pt, err := s.enc.DecryptField(context.Background(), encryption.EncryptedField{
		Field:      fields.PatientID,
		KeyID:      "phi-v1",
		Ciphertext: base64.StdEncoding.EncodeToString([]byte{9}),
	})
	s.Require().NoError(err)
	s.Equal("PAT-1", pt)
}

func (s *EncryptorSuite) TestDecryptFieldMalformedToken() {
	_, err := s.enc.DecryptField(context.Background(), encryption.EncryptedField{
		Field:      fields.PatientID,
		KeyID:      "phi-v1",
		Ciphertext: "!!not base64!!",
	})
	s.True(dErrors.HasCode(err, dErrors.CodeDecryptionFailed))
}

func (s *EncryptorSuite) TestBlindIndexUsesIndexKey() {
	s.kms.EXPECT().MAC(gomock.Any(), "phi-v1/index", []byte("PAT-1")).Return([]byte{0xab, 0xcd}, nil)

	idx, err := s.enc.BlindIndex(context.Background(), "PAT-1")
	s.Require().NoError(err)
	s.Equal("abcd", idx)
}

func TestShouldEncrypt(t *testing.T) {
	clean := classifier.NewAssessment(nil)
	flagged := classifier.NewAssessment([]classifier.Finding{{
		Field:      fields.Reason,
		InfoType:   classifier.InfoTypeNationalID,
		Likelihood: classifier.Likely,
	}})

	assert.True(t, encryption.ShouldEncrypt(fields.PatientID, clean))
	assert.True(t, encryption.ShouldEncrypt(fields.OperatorName, clean))
	assert.False(t, encryption.ShouldEncrypt(fields.Reason, clean))
	assert.True(t, encryption.ShouldEncrypt(fields.Reason, flagged))
	assert.True(t, encryption.ShouldEncrypt(fields.Reason, classifier.FailClosed()))
}

func newLocalEncryptor(t *testing.T) *encryption.Encryptor {
	t.Helper()
	local, err := kms.NewLocal(bytes.Repeat([]byte{0x11}, 32))
	require.NoError(t, err)
	enc, err := encryption.New(local, "phi-v1")
	require.NoError(t, err)
	return enc
}

func TestEncryptFieldsAppliesPolicy(t *testing.T) {
	enc := newLocalEncryptor(t)
	ctx := context.Background()
	values := fields.Values{
		fields.PatientID:    "PAT-123456",
		fields.OperatorName: "Dr. Smith",
		fields.Reason:       "routine checkup",
	}

	p, err := enc.EncryptFields(ctx, classifier.NewAssessment(nil), values)
	require.NoError(t, err)

	require.Len(t, p.Encrypted, 2)
	assert.Equal(t, fields.OperatorName, p.Encrypted[0].Field)
	assert.Equal(t, fields.PatientID, p.Encrypted[1].Field)
	assert.Equal(t, fields.Values{fields.Reason: "routine checkup"}, p.Plaintext)

	for _, ef := range p.Encrypted {
		assert.NotContains(t, ef.Ciphertext, values[ef.Field])
		pt, err := enc.DecryptField(ctx, ef)
		require.NoError(t, err)
		assert.Equal(t, values[ef.Field], pt)
	}

	ef, ok := p.Lookup(fields.PatientID)
	assert.True(t, ok)
	assert.Equal(t, "phi-v1", ef.KeyID)
	_, ok = p.Lookup(fields.Reason)
	assert.False(t, ok)
}

func TestEncryptFieldsDegradedEncryptsEverything(t *testing.T) {
	enc := newLocalEncryptor(t)
	values := fields.Values{
		fields.PatientID: "PAT-1",
		fields.Reason:    "follow-up",
	}

	p, err := enc.EncryptFields(context.Background(), classifier.FailClosed(), values)
	require.NoError(t, err)
	assert.Len(t, p.Encrypted, 2)
	assert.Empty(t, p.Plaintext)
}

func TestEncryptFieldIsNonDeterministic(t *testing.T) {
	enc := newLocalEncryptor(t)
	ctx := context.Background()

	a, err := enc.EncryptField(ctx, fields.PatientID, "PAT-1", enc.KeyID())
	require.NoError(t, err)
	b, err := enc.EncryptField(ctx, fields.PatientID, "PAT-1", enc.KeyID())
	require.NoError(t, err)
	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)
}

func TestDecryptFieldWithWrongKeyFailsLoudly(t *testing.T) {
	enc := newLocalEncryptor(t)
	ctx := context.Background()

	ef, err := enc.EncryptField(ctx, fields.PatientID, "PAT-1", "phi-v1")
	require.NoError(t, err)
	ef.KeyID = "phi-v2"

	pt, err := enc.DecryptField(ctx, ef)
	assert.Empty(t, pt)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeDecryptionFailed))
}
