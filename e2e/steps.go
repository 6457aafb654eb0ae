package e2e

import (
	"github.com/cucumber/godog"

	"audiovault/e2e/steps/common"
	"audiovault/e2e/steps/registration"
	"audiovault/e2e/steps/upload"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	common.RegisterSteps(ctx, tc)
	upload.RegisterSteps(ctx, tc)
	registration.RegisterSteps(ctx, tc)
}
