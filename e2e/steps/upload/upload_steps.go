package upload

import (
	"context"
	"fmt"
	"strings"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body any) error
	GetResponseField(field string) (any, error)
	Save(key, value string)
}

// RegisterSteps registers upload URL step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &uploadSteps{tc: tc}

	ctx.Step(`^I request an upload URL for "([^"]*)"$`, steps.requestUploadURL)
	ctx.Step(`^I save the upload file path$`, steps.saveFilePath)
	ctx.Step(`^the upload URL should use method "([^"]*)"$`, steps.methodShouldBe)
	ctx.Step(`^the upload file path should start with "([^"]*)"$`, steps.filePathShouldStartWith)
}

type uploadSteps struct {
	tc TestContext
}

func (s *uploadSteps) requestUploadURL(_ context.Context, fileName string) error {
	return s.tc.POST("/get-upload-url", map[string]any{"file_name": fileName})
}

func (s *uploadSteps) filePath() (string, error) {
	v, err := s.tc.GetResponseField("file_path")
	if err != nil {
		return "", err
	}
	path, ok := v.(string)
	if !ok || path == "" {
		return "", fmt.Errorf("file_path missing from upload response")
	}
	return path, nil
}

func (s *uploadSteps) saveFilePath(context.Context) error {
	path, err := s.filePath()
	if err != nil {
		return err
	}
	s.tc.Save("file_path", path)
	return nil
}

func (s *uploadSteps) methodShouldBe(_ context.Context, want string) error {
	v, err := s.tc.GetResponseField("method")
	if err != nil {
		return err
	}
	if v != want {
		return fmt.Errorf("expected method %q, got %v", want, v)
	}
	return nil
}

func (s *uploadSteps) filePathShouldStartWith(_ context.Context, prefix string) error {
	path, err := s.filePath()
	if err != nil {
		return err
	}
	if !strings.HasPrefix(path, prefix) {
		return fmt.Errorf("file path %q does not start with %q", path, prefix)
	}
	return nil
}
