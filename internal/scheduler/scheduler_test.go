package scheduler

import (
	"testing"
	"time"
)

func TestNewChallengeIsImmediatelyReady(t *testing.T) {
	s := New()
	if !s.IsReady("chal-1") {
		t.Fatal("expected a challenge with no timing entry to be ready")
	}
}

func TestRecordCompletionGatesReadiness(t *testing.T) {
	s := New()
	s.RecordCompletion("chal-1", time.Hour, 2*time.Hour)

	if s.IsReady("chal-1") {
		t.Fatal("expected challenge to not be ready immediately after completion")
	}

	next, ok := s.NextTransmission("chal-1")
	if !ok {
		t.Fatal("expected a next transmission time to be recorded")
	}
	if next.Before(time.Now().Add(time.Hour)) {
		t.Fatalf("expected next_tx to be at least the min delay out, got %v", next)
	}
}

func TestManualTriggerClearsTimer(t *testing.T) {
	s := New()
	s.RecordCompletion("chal-1", time.Hour, time.Hour)
	if s.IsReady("chal-1") {
		t.Fatal("expected challenge to be gated before manual trigger")
	}

	s.ManualTrigger("chal-1")
	if !s.IsReady("chal-1") {
		t.Fatal("expected challenge to be ready after manual trigger")
	}
}

func TestWithinDailyWindow(t *testing.T) {
	loc := time.UTC
	noon := time.Date(2026, 7, 30, 12, 0, 0, 0, loc)

	within, err := WithinDailyWindow(noon, "09:00", "17:00")
	if err != nil {
		t.Fatalf("WithinDailyWindow: %v", err)
	}
	if !within {
		t.Fatal("expected noon to be within a 09:00-17:00 window")
	}

	midnight := time.Date(2026, 7, 30, 0, 30, 0, 0, loc)
	within, err = WithinDailyWindow(midnight, "09:00", "17:00")
	if err != nil {
		t.Fatalf("WithinDailyWindow: %v", err)
	}
	if within {
		t.Fatal("expected 00:30 to fall outside a 09:00-17:00 window")
	}
}

func TestWithinDailyWindowOvernight(t *testing.T) {
	loc := time.UTC
	lateNight := time.Date(2026, 7, 30, 23, 0, 0, 0, loc)

	within, err := WithinDailyWindow(lateNight, "22:00", "06:00")
	if err != nil {
		t.Fatalf("WithinDailyWindow: %v", err)
	}
	if !within {
		t.Fatal("expected 23:00 to fall within an overnight 22:00-06:00 window")
	}
}

func TestWithinDailyWindowEmptyMeansAlwaysOn(t *testing.T) {
	within, err := WithinDailyWindow(time.Now(), "", "")
	if err != nil {
		t.Fatalf("WithinDailyWindow: %v", err)
	}
	if !within {
		t.Fatal("expected empty day_start/end_of_day to mean always-on")
	}
}
