package assignment

import (
	"math/rand/v2"

	"github.com/ckoval7/challengectl/internal/apperr"
	"github.com/ckoval7/challengectl/internal/config"
)

// resolveFrequency implements the three-way precedence of spec.md §4.G:
// frequency_ranges (named catalog entries, pick one at random then draw
// uniformly within it), manual_frequency_range (inline min/max, draw
// uniformly), or frequency (copied verbatim). Returns the resolved
// frequency in Hz and a copy of cfg with the range-only keys stripped, since
// the runner payload must never see frequency_ranges/manual_frequency_range.
func resolveFrequency(cfg map[string]any, ranges *config.Domain) (int64, map[string]any, error) {
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		out[k] = v
	}

	if raw, ok := cfg["frequency_ranges"]; ok {
		names, ok := toStringSlice(raw)
		if !ok || len(names) == 0 {
			return 0, nil, apperr.New(apperr.Validation, "frequency_ranges must be a non-empty list of names")
		}
		name := names[rand.IntN(len(names))]
		fr, found := ranges.FrequencyRangeByName(name)
		if !found {
			return 0, nil, apperr.Newf(apperr.Validation, "unknown frequency range %q", name)
		}
		delete(out, "frequency_ranges")
		freq := uniformInt64(fr.MinHz, fr.MaxHz)
		out["frequency"] = freq
		return freq, out, nil
	}

	if raw, ok := cfg["manual_frequency_range"]; ok {
		minHz, maxHz, ok := toMinMax(raw)
		if !ok {
			return 0, nil, apperr.New(apperr.Validation, "manual_frequency_range must have min_hz and max_hz")
		}
		delete(out, "manual_frequency_range")
		freq := uniformInt64(minHz, maxHz)
		out["frequency"] = freq
		return freq, out, nil
	}

	raw, ok := cfg["frequency"]
	if !ok {
		return 0, nil, apperr.New(apperr.Validation, "challenge config has no frequency, frequency_ranges, or manual_frequency_range")
	}
	freq, ok := toInt64(raw)
	if !ok {
		return 0, nil, apperr.New(apperr.Validation, "frequency must be numeric")
	}
	return freq, out, nil
}

// uniformInt64 draws an integer uniformly in [min, max] inclusive.
func uniformInt64(min, max int64) int64 {
	if max <= min {
		return min
	}
	return min + rand.Int64N(max-min+1)
}

func toStringSlice(v any) ([]string, bool) {
	switch vv := v.(type) {
	case []string:
		return vv, true
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

func toMinMax(v any) (min, max int64, ok bool) {
	m, isMap := v.(map[string]any)
	if !isMap {
		return 0, 0, false
	}
	minVal, hasMin := toInt64(m["min_hz"])
	maxVal, hasMax := toInt64(m["max_hz"])
	if !hasMin || !hasMax {
		return 0, 0, false
	}
	return minVal, maxVal, true
}

func toInt64(v any) (int64, bool) {
	switch vv := v.(type) {
	case int64:
		return vv, true
	case int:
		return int64(vv), true
	case float64:
		return int64(vv), true
	default:
		return 0, false
	}
}
