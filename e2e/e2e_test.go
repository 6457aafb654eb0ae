package e2e

import (
	"context"
	"os"
	"testing"

	"github.com/cucumber/godog"
)

// TestFeatures runs against AUDIOVAULT_E2E_URL. AUDIOVAULT_E2E_TOKEN is sent
// as the bearer token when the server has auth enabled.
func TestFeatures(t *testing.T) {
	baseURL := os.Getenv("AUDIOVAULT_E2E_URL")
	if baseURL == "" {
		t.Skip("AUDIOVAULT_E2E_URL not set")
	}
	tc := NewTestContext(baseURL, os.Getenv("AUDIOVAULT_E2E_TOKEN"))

	suite := godog.TestSuite{
		Name: "audiovault",
		ScenarioInitializer: func(sc *godog.ScenarioContext) {
			sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
				tc.Reset()
				return ctx, nil
			})
			RegisterSteps(sc, tc)
		},
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
			Strict:   true,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("e2e scenarios failed")
	}
}
