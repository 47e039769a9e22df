package assignment

import "testing"

func TestValidateConfigRejectsConflictingFrequencySpecs(t *testing.T) {
	cfg := map[string]any{
		"frequency":        int64(1000),
		"frequency_ranges": []any{"ham_144"},
	}
	if err := ValidateConfig(cfg, testDomain()); err == nil {
		t.Fatal("expected error for conflicting frequency specs")
	}
}

func TestValidateConfigRejectsNoFrequencySpec(t *testing.T) {
	if err := ValidateConfig(map[string]any{}, testDomain()); err == nil {
		t.Fatal("expected error when no frequency spec is present")
	}
}

func TestValidateConfigRejectsUnknownRange(t *testing.T) {
	cfg := map[string]any{"frequency_ranges": []any{"nonexistent"}}
	if err := ValidateConfig(cfg, testDomain()); err == nil {
		t.Fatal("expected error for unknown frequency range")
	}
}

func TestValidateConfigRejectsInvertedDelay(t *testing.T) {
	cfg := map[string]any{"frequency": int64(1000), "min_delay": 60.0, "max_delay": 30.0}
	if err := ValidateConfig(cfg, testDomain()); err == nil {
		t.Fatal("expected error when min_delay > max_delay")
	}
}

func TestValidateConfigAcceptsEqualDelay(t *testing.T) {
	cfg := map[string]any{"frequency": int64(1000), "min_delay": 60.0, "max_delay": 60.0}
	if err := ValidateConfig(cfg, testDomain()); err != nil {
		t.Fatalf("expected equal min_delay/max_delay to be accepted: %v", err)
	}
}

func TestValidateConfigAcceptsValidRanges(t *testing.T) {
	cfg := map[string]any{"frequency_ranges": []any{"ham_144"}}
	if err := ValidateConfig(cfg, testDomain()); err != nil {
		t.Fatalf("expected valid ranges config to be accepted: %v", err)
	}
}
