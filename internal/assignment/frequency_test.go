package assignment

import (
	"testing"

	"github.com/ckoval7/challengectl/internal/config"
	"github.com/ckoval7/challengectl/internal/store"
)

func testDomain() *config.Domain {
	return &config.Domain{
		FrequencyRanges: []config.FrequencyRange{
			{Name: "ham_144", MinHz: 144000000, MaxHz: 148000000},
		},
	}
}

func TestResolveFrequencyVerbatim(t *testing.T) {
	cfg := map[string]any{"frequency": int64(7050000), "modulation": "cw"}
	freq, out, err := resolveFrequency(cfg, testDomain())
	if err != nil {
		t.Fatalf("resolveFrequency: %v", err)
	}
	if freq != 7050000 {
		t.Fatalf("got freq %d, want 7050000", freq)
	}
	if out["modulation"] != "cw" {
		t.Fatal("expected unrelated keys to survive")
	}
}

func TestResolveFrequencyRangesStaysInBounds(t *testing.T) {
	cfg := map[string]any{"frequency_ranges": []any{"ham_144"}}
	domain := testDomain()

	for i := 0; i < 1000; i++ {
		freq, out, err := resolveFrequency(cfg, domain)
		if err != nil {
			t.Fatalf("resolveFrequency: %v", err)
		}
		if freq < 144000000 || freq > 148000000 {
			t.Fatalf("freq %d out of bounds", freq)
		}
		if _, present := out["frequency_ranges"]; present {
			t.Fatal("frequency_ranges must be stripped from resolved config")
		}
		if out["frequency"] != freq {
			t.Fatalf("resolved config frequency mismatch: %v != %d", out["frequency"], freq)
		}
	}
}

func TestResolveFrequencyUnknownRangeErrors(t *testing.T) {
	cfg := map[string]any{"frequency_ranges": []any{"does_not_exist"}}
	if _, _, err := resolveFrequency(cfg, testDomain()); err == nil {
		t.Fatal("expected error for unknown frequency range")
	}
}

func TestResolveFrequencyManualRange(t *testing.T) {
	cfg := map[string]any{"manual_frequency_range": map[string]any{"min_hz": int64(400000000), "max_hz": int64(400000010)}}
	freq, out, err := resolveFrequency(cfg, testDomain())
	if err != nil {
		t.Fatalf("resolveFrequency: %v", err)
	}
	if freq < 400000000 || freq > 400000010 {
		t.Fatalf("freq %d out of manual bounds", freq)
	}
	if _, present := out["manual_frequency_range"]; present {
		t.Fatal("manual_frequency_range must be stripped")
	}
}

func TestResolveFrequencyMissingAllFieldsErrors(t *testing.T) {
	if _, _, err := resolveFrequency(map[string]any{}, testDomain()); err == nil {
		t.Fatal("expected error when config has no frequency spec")
	}
}

func TestParseFrequencyLimit(t *testing.T) {
	min, max, ok := parseFrequencyLimit("144000000-148000000")
	if !ok || min != 144000000 || max != 148000000 {
		t.Fatalf("parseFrequencyLimit failed: %d %d %v", min, max, ok)
	}

	if _, _, ok := parseFrequencyLimit("garbage"); ok {
		t.Fatal("expected garbage limit to fail parsing")
	}
}

func TestDeviceCoversFrequency(t *testing.T) {
	d := store.Device{FrequencyLimits: []string{"144000000-148000000", "433050000-434790000"}}

	if !deviceCoversFrequency(d, 146000000) {
		t.Fatal("expected 146 MHz to be covered by ham_144 limit")
	}
	if deviceCoversFrequency(d, 100000000) {
		t.Fatal("expected 100 MHz to be out of range")
	}
}
