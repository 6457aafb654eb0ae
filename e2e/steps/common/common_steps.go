package common

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	GET(path string, headers map[string]string) error
	StatusCode() int
	ResponseHeader(name string) string
	GetResponseField(field string) (any, error)
	ResponseContains(field string) bool
	WithoutAuth()
}

// RegisterSteps registers generic request and assertion steps
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &commonSteps{tc: tc}

	ctx.Step(`^I am not authenticated$`, steps.notAuthenticated)
	ctx.Step(`^I GET "([^"]*)"$`, steps.get)

	ctx.Step(`^the response status should be (\d+)$`, steps.statusShouldBe)
	ctx.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, steps.fieldShouldBe)
	ctx.Step(`^the response field "([^"]*)" should be (true|false)$`, steps.fieldShouldBeBool)
	ctx.Step(`^the response should contain "([^"]*)"$`, steps.shouldContain)
	ctx.Step(`^the response header "([^"]*)" should be "([^"]*)"$`, steps.headerShouldBe)
}

type commonSteps struct {
	tc TestContext
}

func (s *commonSteps) notAuthenticated(context.Context) error {
	s.tc.WithoutAuth()
	return nil
}

func (s *commonSteps) get(_ context.Context, path string) error {
	return s.tc.GET(path, nil)
}

func (s *commonSteps) statusShouldBe(_ context.Context, want int) error {
	if got := s.tc.StatusCode(); got != want {
		return fmt.Errorf("expected status %d, got %d", want, got)
	}
	return nil
}

func (s *commonSteps) fieldShouldBe(_ context.Context, field, want string) error {
	v, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	if got := fmt.Sprint(v); got != want {
		return fmt.Errorf("expected %s to be %q, got %q", field, want, got)
	}
	return nil
}

func (s *commonSteps) fieldShouldBeBool(_ context.Context, field, want string) error {
	v, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	b, ok := v.(bool)
	if !ok {
		return fmt.Errorf("%s is not a boolean", field)
	}
	if strconv.FormatBool(b) != want {
		return fmt.Errorf("expected %s to be %s", field, want)
	}
	return nil
}

func (s *commonSteps) shouldContain(_ context.Context, field string) error {
	if !s.tc.ResponseContains(field) {
		return fmt.Errorf("response has no %q", field)
	}
	return nil
}

func (s *commonSteps) headerShouldBe(_ context.Context, name, want string) error {
	if got := s.tc.ResponseHeader(name); got != want {
		return fmt.Errorf("expected header %s to be %q, got %q", name, want, got)
	}
	return nil
}
