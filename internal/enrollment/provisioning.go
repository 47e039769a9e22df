package enrollment

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// RunnerConfig is the ready-to-paste document returned by the `provision`
// endpoint (spec.md §4.F). A runner drops this file on disk and boots
// against it; the enrollment token and proposed API key are one-shot, so
// the document is only ever useful for a single successful `enroll` call.
type RunnerConfig struct {
	ControllerURL   string `yaml:"controller_url"`
	EnrollmentToken string `yaml:"enrollment_token"`
	ProposedAPIKey  string `yaml:"proposed_api_key"`
	RunnerName      string `yaml:"runner_name"`
}

// yamlDoc mirrors the shape a runner's config loader expects: a
// controller stanza plus an empty devices list for the operator to fill in.
type yamlDoc struct {
	Controller struct {
		URL             string `yaml:"url"`
		EnrollmentToken string `yaml:"enrollment_token"`
		APIKey          string `yaml:"api_key"`
	} `yaml:"controller"`
	RunnerID string   `yaml:"runner_id"`
	Devices  []string `yaml:"devices"`
}

// Render marshals the RunnerConfig into the YAML document a runner expects
// to find on disk.
func (c RunnerConfig) Render() (string, error) {
	var doc yamlDoc
	doc.Controller.URL = c.ControllerURL
	doc.Controller.EnrollmentToken = c.EnrollmentToken
	doc.Controller.APIKey = c.ProposedAPIKey
	doc.RunnerID = c.RunnerName
	doc.Devices = []string{}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("rendering runner config: %w", err)
	}
	return string(out), nil
}
