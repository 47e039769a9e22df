package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FrequencyRange is a named band referenced by challenge configs via
// frequency_ranges (spec.md §3, §4.G).
type FrequencyRange struct {
	Name  string `yaml:"name"`
	MinHz int64  `yaml:"min_hz"`
	MaxHz int64  `yaml:"max_hz"`
}

// ConferenceInfo seeds the public /conference endpoint.
type ConferenceInfo struct {
	Name     string `yaml:"name"`
	Location string `yaml:"location"`
	Website  string `yaml:"website"`
}

// SeedChallenge is an optional challenge definition loaded from disk at
// startup. Its Config field round-trips arbitrary keys (SPEC_FULL.md's
// "tagged variant... unknown keys preserved" requirement).
type SeedChallenge struct {
	Name     string         `yaml:"name"`
	Enabled  bool           `yaml:"enabled"`
	Priority int            `yaml:"priority"`
	Config   map[string]any `yaml:"config"`
}

// Domain holds the on-disk domain configuration document (SPEC_FULL.md §4.K).
type Domain struct {
	Conference      ConferenceInfo   `yaml:"conference"`
	FrequencyRanges []FrequencyRange `yaml:"frequency_ranges"`
	Challenges      []SeedChallenge  `yaml:"challenges"`
	DayStart        string           `yaml:"day_start"`
	EndOfDay        string           `yaml:"end_of_day"`
	AutoPauseDaily  bool             `yaml:"auto_pause_daily"`
}

// LoadDomain reads the domain configuration document from path.
func LoadDomain(path string) (*Domain, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading domain config %s: %w", path, err)
	}
	var d Domain
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("parsing domain config %s: %w", path, err)
	}
	return &d, nil
}

// FrequencyRangeByName looks up a named range, mirroring the frequency_ranges
// catalog referenced from challenge config (spec.md §4.G).
func (d *Domain) FrequencyRangeByName(name string) (FrequencyRange, bool) {
	for _, r := range d.FrequencyRanges {
		if r.Name == name {
			return r, true
		}
	}
	return FrequencyRange{}, false
}

const defaultConfigTemplate = `# challengectl domain configuration.
# Generated by --create-default-config. Edit and restart the controller,
# or use POST /challenges/reload to pick up conference, frequency range and
# daily window changes live (reload does not add or change challenges).

conference:
  name: "Example CTF"
  location: "Somewhere, USA"
  website: "https://example.org"

# Named frequency bands that challenge configs may reference by name via
# their frequency_ranges list, instead of a single fixed frequency.
frequency_ranges:
  - name: ham_144
    min_hz: 144000000
    max_hz: 148000000
  - name: ism_433
    min_hz: 433050000
    max_hz: 434790000

# Daily auto-pause window (wall clock, controller-local time). Leave
# auto_pause_daily false to disable.
day_start: "09:00"
end_of_day: "21:00"
auto_pause_daily: false

# Optional seed challenges, added to the store at startup when no challenge
# of the same name exists yet; existing challenges are not updated from this
# list. Admins may still manage challenges entirely through the HTTP API.
challenges: []
`

// WriteDefaultConfig writes the commented template to path, matching
// original_source/server/server.py's create_default_config(). It refuses to
// overwrite an existing file.
func WriteDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("refusing to overwrite existing config at %s", path)
	}
	return os.WriteFile(path, []byte(defaultConfigTemplate), 0o644)
}
