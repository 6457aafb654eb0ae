package registration

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body any) error
	GET(path string, headers map[string]string) error
	GetResponseField(field string) (any, error)
	ResponseBody() []byte
	Save(key, value string)
	Saved(key string) string
}

// RegisterSteps registers registration, FHIR search and audit steps
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &registrationSteps{tc: tc}

	ctx.Step(`^I register the uploaded file with:$`, steps.registerUploadedFile)
	ctx.Step(`^I register "([^"]*)" with:$`, steps.registerFileName)
	ctx.Step(`^I save the registration$`, steps.saveRegistration)
	ctx.Step(`^I search media for patient "([^"]*)"$`, steps.searchMedia)
	ctx.Step(`^I read the saved media$`, steps.readSavedMedia)
	ctx.Step(`^I request the audit trail of the saved registration$`, steps.auditTrail)

	ctx.Step(`^the bundle id should equal the saved registration$`, steps.bundleIDShouldEqualSaved)
	ctx.Step(`^the response should not contain "([^"]*)"$`, steps.responseShouldNotContain)
	ctx.Step(`^the search should return (\d+) media$`, steps.searchShouldReturn)
	ctx.Step(`^the audit trail should end with "([^"]*)"$`, steps.auditTrailShouldEndWith)
}

type registrationSteps struct {
	tc TestContext
}

func (s *registrationSteps) body(table *godog.Table) (map[string]any, error) {
	body := map[string]any{}
	for _, row := range table.Rows {
		if len(row.Cells) != 2 {
			return nil, fmt.Errorf("expected key | value rows")
		}
		key, value := row.Cells[0].Value, row.Cells[1].Value
		if key == "file_size" {
			var n int64
			if _, err := fmt.Sscan(value, &n); err != nil {
				return nil, fmt.Errorf("file_size: %w", err)
			}
			body[key] = n
			continue
		}
		body[key] = value
	}
	return body, nil
}

func (s *registrationSteps) registerUploadedFile(_ context.Context, table *godog.Table) error {
	body, err := s.body(table)
	if err != nil {
		return err
	}
	path := s.tc.Saved("file_path")
	if path == "" {
		return fmt.Errorf("no upload file path saved")
	}
	body["file_path"] = path
	return s.tc.POST("/register-upload-fhir", body)
}

func (s *registrationSteps) registerFileName(_ context.Context, fileName string, table *godog.Table) error {
	body, err := s.body(table)
	if err != nil {
		return err
	}
	body["file_name"] = fileName
	return s.tc.POST("/register-upload-fhir", body)
}

func (s *registrationSteps) field(name string) (string, error) {
	v, err := s.tc.GetResponseField(name)
	if err != nil {
		return "", err
	}
	str, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s is not a string", name)
	}
	return str, nil
}

func (s *registrationSteps) saveRegistration(context.Context) error {
	for _, name := range []string{"record_id", "fhir_bundle_id"} {
		v, err := s.field(name)
		if err != nil {
			return err
		}
		s.tc.Save(name, v)
	}
	return nil
}

func (s *registrationSteps) searchMedia(_ context.Context, patient string) error {
	return s.tc.GET("/fhir/Media?patient="+url.QueryEscape(patient), nil)
}

func (s *registrationSteps) readSavedMedia(context.Context) error {
	return s.tc.GET("/fhir/Media/"+s.tc.Saved("record_id"), nil)
}

func (s *registrationSteps) auditTrail(context.Context) error {
	return s.tc.GET("/audit/"+s.tc.Saved("record_id"), nil)
}

func (s *registrationSteps) bundleIDShouldEqualSaved(context.Context) error {
	got, err := s.field("fhir_bundle_id")
	if err != nil {
		return err
	}
	if want := s.tc.Saved("fhir_bundle_id"); got != want {
		return fmt.Errorf("expected bundle %s, got %s", want, got)
	}
	return nil
}

func (s *registrationSteps) responseShouldNotContain(_ context.Context, text string) error {
	if strings.Contains(string(s.tc.ResponseBody()), text) {
		return fmt.Errorf("response contains %q", text)
	}
	return nil
}

func (s *registrationSteps) searchShouldReturn(_ context.Context, want int) error {
	v, err := s.tc.GetResponseField("total")
	if err != nil {
		return err
	}
	if got, ok := v.(float64); !ok || int(got) != want {
		return fmt.Errorf("expected %d media, got %v", want, v)
	}
	return nil
}

func (s *registrationSteps) auditTrailShouldEndWith(_ context.Context, action string) error {
	v, err := s.tc.GetResponseField("entries")
	if err != nil {
		return err
	}
	entries, ok := v.([]any)
	if !ok || len(entries) == 0 {
		return fmt.Errorf("audit trail is empty")
	}
	var terminal string
	for _, e := range entries {
		entry, _ := e.(map[string]any)
		if a, _ := entry["action"].(string); strings.HasPrefix(a, "registration.") {
			terminal = a
		}
	}
	if terminal != action {
		return fmt.Errorf("expected last registration entry %q, got %q", action, terminal)
	}
	return nil
}
