package enrollment

import (
	"strings"
	"testing"
)

func TestRunnerConfigRenderIncludesCredentials(t *testing.T) {
	cfg := RunnerConfig{
		ControllerURL:   "https://ctl.example.com",
		EnrollmentToken: "tok-123",
		ProposedAPIKey:  "key-456",
		RunnerName:      "runner-7",
	}

	out, err := cfg.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	for _, want := range []string{"https://ctl.example.com", "tok-123", "key-456", "runner-7"} {
		if !strings.Contains(out, want) {
			t.Fatalf("rendered config missing %q:\n%s", want, out)
		}
	}
}
