package classifier_test

//go:generate mockgen -source=classifier.go -destination=mocks/mocks.go -package=mocks Scanner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"audiovault/internal/classifier"
	"audiovault/internal/classifier/mocks"
	"audiovault/internal/classifier/scanner"
	"audiovault/internal/fields"
	dErrors "audiovault/pkg/domain-errors"
	"audiovault/pkg/platform/circuit"
	"audiovault/pkg/platform/retry"
)

var fastRetry = retry.Policy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

type ClassifierSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	scanner *mocks.MockScanner
	svc     *classifier.Classifier
}

func TestClassifierSuite(t *testing.T) {
	suite.Run(t, new(ClassifierSuite))
}

func (s *ClassifierSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.scanner = mocks.NewMockScanner(s.ctrl)
	var err error
	s.svc, err = classifier.New(s.scanner,
		classifier.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		classifier.WithRetryPolicy(fastRetry),
	)
	s.Require().NoError(err)
}

func (s *ClassifierSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ClassifierSuite) TestNewRequiresScanner() {
	_, err := classifier.New(nil)
	s.ErrorContains(err, "scanner is required")
}

func (s *ClassifierSuite) TestPersonNameOnOperatorIsMedium() {
	s.scanner.EXPECT().Scan(gomock.Any(), "PAT-123456").Return(nil, nil)
	s.scanner.EXPECT().Scan(gomock.Any(), "Dr. Smith").Return([]classifier.Match{
		{InfoType: classifier.InfoTypePersonName, Likelihood: classifier.Likely, Range: classifier.ByteRange{Start: 0, End: 9}},
	}, nil)
	s.scanner.EXPECT().Scan(gomock.Any(), "checkup").Return(nil, nil)

	a, err := s.svc.Classify(context.Background(), fields.Values{
		fields.PatientID:    "PAT-123456",
		fields.OperatorName: "Dr. Smith",
		fields.Reason:       "checkup",
	})
	s.Require().NoError(err)
	s.Equal(classifier.RiskMedium, a.RiskLevel)
	s.True(a.HasSensitiveData)
	s.Require().Len(a.Findings, 1)
	s.Equal(fields.OperatorName, a.Findings[0].Field)
	s.False(a.Degraded)
}

func (s *ClassifierSuite) TestEmptyValuesAreNotScanned() {
	a, err := s.svc.Classify(context.Background(), fields.Values{fields.Reason: "   "})
	s.Require().NoError(err)
	s.Equal(classifier.RiskLow, a.RiskLevel)
	s.False(a.HasSensitiveData)
}

func (s *ClassifierSuite) TestTransientFailureIsRetried() {
	gomock.InOrder(
		s.scanner.EXPECT().Scan(gomock.Any(), "checkup").Return(nil, errors.New("timeout")),
		s.scanner.EXPECT().Scan(gomock.Any(), "checkup").Return(nil, nil),
	)

	a, err := s.svc.Classify(context.Background(), fields.Values{fields.Reason: "checkup"})
	s.Require().NoError(err)
	s.Equal(classifier.RiskLow, a.RiskLevel)
}

func (s *ClassifierSuite) TestPersistentFailureIsDependencyUnavailable() {
	s.scanner.EXPECT().Scan(gomock.Any(), "checkup").Return(nil, errors.New("down")).Times(3)

	_, err := s.svc.Classify(context.Background(), fields.Values{fields.Reason: "checkup"})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeDependencyUnavailable))
}

func (s *ClassifierSuite) TestOpenBreakerShortCircuits() {
	breaker := circuit.New("scanner", circuit.WithFailureThreshold(1), circuit.WithCooldown(time.Hour))
	breaker.RecordFailure()
	svc, err := classifier.New(s.scanner, classifier.WithBreaker(breaker), classifier.WithRetryPolicy(fastRetry))
	s.Require().NoError(err)

	_, err = svc.Classify(context.Background(), fields.Values{fields.Reason: "checkup"})
	s.True(dErrors.HasCode(err, dErrors.CodeDependencyUnavailable))
}

// The pattern scanner drives the policy end to end.
func TestClassifyWithPatternScanner(t *testing.T) {
	svc, err := classifier.New(scanner.New())
	if err != nil {
		t.Fatal(err)
	}

	t.Run("nine digit identifier is high", func(t *testing.T) {
		a, err := svc.Classify(context.Background(), fields.Values{fields.Reason: "follow-up for 123456789"})
		if err != nil {
			t.Fatal(err)
		}
		if a.RiskLevel != classifier.RiskHigh {
			t.Fatalf("expected HIGH, got %s", a.RiskLevel)
		}
	})

	t.Run("patient id and operator name is medium", func(t *testing.T) {
		a, err := svc.Classify(context.Background(), fields.Values{
			fields.PatientID:    "PAT-123456",
			fields.OperatorName: "Dr. Smith",
			fields.Reason:       "checkup",
		})
		if err != nil {
			t.Fatal(err)
		}
		if a.RiskLevel != classifier.RiskMedium {
			t.Fatalf("expected MEDIUM, got %s", a.RiskLevel)
		}
		if a.FieldHasFindings(fields.Reason) {
			t.Fatalf("expected no findings in reason")
		}
	})
}
