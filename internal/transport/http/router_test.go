package httptransport_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"audiovault/internal/bundle"
	"audiovault/internal/classifier"
	"audiovault/internal/classifier/scanner"
	"audiovault/internal/encryption"
	"audiovault/internal/encryption/kms"
	jwttoken "audiovault/internal/jwt_token"
	"audiovault/internal/platform/metrics"
	"audiovault/internal/registration"
	reghandler "audiovault/internal/registration/handler"
	"audiovault/internal/registration/store/memory"
	httptransport "audiovault/internal/transport/http"
	"audiovault/internal/upload"
	uploadhandler "audiovault/internal/upload/handler"
	"audiovault/pkg/platform/audit"
	auditmemory "audiovault/pkg/platform/audit/store/memory"
	authmw "audiovault/pkg/platform/middleware/auth"
	"audiovault/pkg/testutil"
)

const secret = "router-test-signing-key-32-bytes!!!"

type stubPresigner struct{}

func (stubPresigner) PresignPut(_ context.Context, key, _ string, _ time.Duration) (string, error) {
	return "https://storage.test/" + key + "?sig=x", nil
}

type RouterSuite struct {
	suite.Suite
	router http.Handler
	tokens *jwttoken.JWTService
	trail  *auditmemory.Store
	reg    *prometheus.Registry
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.reg = prometheus.NewRegistry()
	s.trail = auditmemory.New()
	s.tokens = jwttoken.NewJWTService(secret, "audiovault-test")

	c, err := classifier.New(scanner.New(), classifier.WithLogger(logger))
	s.Require().NoError(err)
	local, err := kms.NewLocal(bytes.Repeat([]byte{3}, 32))
	s.Require().NoError(err)
	enc, err := encryption.New(local, "phi-v1", encryption.WithLogger(logger))
	s.Require().NoError(err)
	rec, err := audit.NewRecorder(s.trail, audit.WithLogger(logger))
	s.Require().NoError(err)
	svc, err := registration.New(c, enc, bundle.NewAssembler("https://vault.test/fhir"), memory.New(), rec,
		registration.WithLogger(logger),
		registration.WithAuditTrail(s.trail),
	)
	s.Require().NoError(err)
	issuer, err := upload.NewIssuer(stubPresigner{}, upload.WithLogger(logger))
	s.Require().NoError(err)

	s.router = httptransport.NewRouter(httptransport.Options{
		Logger:         logger,
		RequestTimeout: 5 * time.Second,
		Metrics:        metrics.NewWith(s.reg),
		Gatherer:       s.reg,
		Auth:           authmw.RequireCaller(jwttoken.NewMiddlewareAdapter(s.tokens), logger),
		Handlers: []httptransport.RouteRegistrar{
			uploadhandler.New(issuer, logger),
			reghandler.New(svc, logger),
		},
		HealthChecks: map[string]httptransport.HealthCheck{
			"record_store": func(context.Context) error { return nil },
		},
	})
}

func (s *RouterSuite) authed(req *http.Request, caller string) *http.Request {
	token, err := s.tokens.GenerateCallerToken(caller, time.Hour)
	s.Require().NoError(err)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func (s *RouterSuite) TestUploadThenRegisterThenSearch() {
	t := s.T()

	rr := testutil.DoRequest(s.router, s.authed(testutil.NewJSONRequest(t, http.MethodPost, "/get-upload-url",
		map[string]string{"file_name": "visit.mp3"}), "clinician-7"))
	testutil.AssertStatusOK(t, rr)
	testutil.AssertSecurityHeaders(t, rr)
	grant := testutil.UnmarshalResponse[uploadhandler.UploadURLResponse](t, rr)
	s.True(strings.HasPrefix(grant.FilePath, "audio_files/clinician-7_"))

	rr = testutil.DoRequest(s.router, s.authed(testutil.NewJSONRequest(t, http.MethodPost, "/register-upload-fhir", map[string]any{
		"file_name":     "visit.mp3",
		"file_size":     4096,
		"file_type":     "audio/mpeg",
		"file_path":     grant.FilePath,
		"patient_id":    "PAT-123456",
		"operator_name": "Dr. Smith",
		"reason":        "Follow-up consultation",
	}), "clinician-7"))
	testutil.AssertStatusOK(t, rr)
	s.NotEmpty(rr.Header().Get("X-Request-ID"))
	registered := testutil.UnmarshalResponse[reghandler.RegisterUploadResponse](t, rr)
	s.Equal("MEDIUM", registered.SecurityScan.RiskLevel)
	s.Equal(reghandler.AuditRecorded, registered.AuditStatus)
	s.NotContains(rr.Body.String(), "PAT-123456")

	rr = testutil.DoRequest(s.router, s.authed(testutil.NewRequest(t, http.MethodGet, "/fhir/Media?patient=PAT-123456"), "clinician-7"))
	testutil.AssertStatusOK(t, rr)
	results := testutil.UnmarshalResponse[bundle.Bundle](t, rr)
	s.Equal("searchset", results.Type)
	s.Require().NotNil(results.Total)
	s.Equal(1, *results.Total)

	rr = testutil.DoRequest(s.router, s.authed(testutil.NewRequest(t, http.MethodGet, "/fhir/Media/"+registered.RecordID), "clinician-7"))
	testutil.AssertStatusOK(t, rr)

	rr = testutil.DoRequest(s.router, s.authed(testutil.NewRequest(t, http.MethodGet, "/audit/"+registered.RecordID), "auditor-1"))
	testutil.AssertStatusOK(t, rr)
	trail := testutil.UnmarshalResponse[reghandler.AuditTrailResponse](t, rr)
	s.GreaterOrEqual(trail.Total, 6)
	for _, e := range trail.Entries {
		s.Equal("clinician-7", e.Actor)
	}
}

func (s *RouterSuite) TestDuplicateRegistrationOverHTTP() {
	t := s.T()
	body := map[string]any{"file_name": "dup.wav", "file_size": 1, "file_type": "audio/wav"}

	first := testutil.DoRequest(s.router, s.authed(testutil.NewJSONRequest(t, http.MethodPost, "/register-upload-fhir", body), "u1"))
	second := testutil.DoRequest(s.router, s.authed(testutil.NewJSONRequest(t, http.MethodPost, "/register-upload-fhir", body), "u1"))

	testutil.AssertStatusOK(t, first)
	testutil.AssertStatusOK(t, second)
	a := testutil.UnmarshalResponse[reghandler.RegisterUploadResponse](t, first)
	b := testutil.UnmarshalResponse[reghandler.RegisterUploadResponse](t, second)
	s.Equal(a.FHIRBundleID, b.FHIRBundleID)
	s.False(a.Duplicate)
	s.True(b.Duplicate)
}

func (s *RouterSuite) TestDomainRoutesRequireToken() {
	t := s.T()
	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(t, http.MethodPost, "/get-upload-url", map[string]string{"file_name": "a.mp3"}))
	testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
	testutil.AssertSecurityHeaders(t, rr)
}

func (s *RouterSuite) TestHealthAndMetricsArePublic() {
	t := s.T()
	rr := testutil.DoRequest(s.router, testutil.NewRequest(t, http.MethodGet, "/health"))
	testutil.AssertStatusOK(t, rr)
	testutil.AssertJSONContains(t, rr, "status", "ok")

	testutil.DoRequest(s.router, testutil.NewRequest(t, http.MethodGet, "/fhir/Media"))
	rr = testutil.DoRequest(s.router, testutil.NewRequest(t, http.MethodGet, "/metrics"))
	testutil.AssertStatusOK(t, rr)
	s.Contains(rr.Body.String(), "audiovault_http_requests_total")
}

func TestHealthReportsDegradedDependency(t *testing.T) {
	router := httptransport.NewRouter(httptransport.Options{
		HealthChecks: map[string]httptransport.HealthCheck{
			"redis": func(context.Context) error { return errors.New("connection refused") },
		},
	})
	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/health"))
	testutil.AssertStatus(t, rr, http.StatusServiceUnavailable)
	testutil.AssertJSONContains(t, rr, "status", "degraded")
}
