// Package assignment implements the AssignmentCoordinator component
// (spec.md §4.G): it sits between the `GET /agents/{id}/task` handler and
// the Scheduler, resolving per-call frequency and opportunistically pushing
// a recording assignment to a covering listener.
package assignment

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ckoval7/challengectl/internal/apperr"
	"github.com/ckoval7/challengectl/internal/config"
	"github.com/ckoval7/challengectl/internal/eventbus"
	"github.com/ckoval7/challengectl/internal/scheduler"
	"github.com/ckoval7/challengectl/internal/store"
)

// defaultExpectedDurationS is used when a challenge config does not specify
// an explicit duration, matching the original server's manual
// recording-start default (original_source/server/api.py).
const defaultExpectedDurationS = 30.0

// DefaultAssignmentTimeout bounds how stale an assigned-but-unconfirmed
// challenge may remain before reap_stale_assignments reclaims it, used when
// New is not given an explicit timeout.
const DefaultAssignmentTimeout = 5 * time.Minute

// pending tracks the correlation between a challenge's current assignment
// and the transmission identifier handed to a listener, so the eventual
// complete_task call writes the real Transmission row under the same ID the
// listener was told about (spec.md §4.G).
type pending struct {
	transmissionID string
	frequencyHz    int64
	deviceID       string
	startedAt      time.Time
}

// Coordinator wires Store, Scheduler, and EventBus together for the
// task-handout/completion cycle.
type Coordinator struct {
	store             *store.Store
	scheduler         *scheduler.Scheduler
	bus               *eventbus.Bus
	domain            atomic.Pointer[config.Domain]
	logger            *slog.Logger
	assignmentTimeout time.Duration

	mu      sync.Mutex
	pending map[string]pending // challenge_id -> pending transmission
}

// New builds a Coordinator. domain may be nil at construction and set via
// SetDomain once the on-disk domain config has loaded. assignmentTimeout of
// zero falls back to DefaultAssignmentTimeout.
func New(st *store.Store, sch *scheduler.Scheduler, bus *eventbus.Bus, domain *config.Domain, assignmentTimeout time.Duration, logger *slog.Logger) *Coordinator {
	if assignmentTimeout <= 0 {
		assignmentTimeout = DefaultAssignmentTimeout
	}
	c := &Coordinator{store: st, scheduler: sch, bus: bus, logger: logger, assignmentTimeout: assignmentTimeout, pending: make(map[string]pending)}
	if domain != nil {
		c.domain.Store(domain)
	}
	return c
}

// SetDomain swaps the live frequency-range catalog, used by `POST
// /challenges/reload`.
func (c *Coordinator) SetDomain(domain *config.Domain) { c.domain.Store(domain) }

// Task is the runner-facing shape of an assigned challenge: config has had
// its frequency resolved and range-selection keys stripped.
type Task struct {
	ChallengeID string
	Name        string
	Config      map[string]any
}

// AssignTask resolves the Scheduler's next ready challenge for runnerID into
// a concrete Task, optionally pushing a recording_assignment to a covering
// listener. A nil Task with a nil error means no challenge is currently
// available.
func (c *Coordinator) AssignTask(ctx context.Context, runnerID string) (*Task, error) {
	domain := c.domain.Load()
	if domain == nil {
		domain = &config.Domain{}
	}

	paused, err := c.store.IsPaused(ctx)
	if err != nil {
		return nil, err
	}
	if paused {
		return nil, nil
	}

	challenge, err := c.store.AssignNextChallenge(ctx, runnerID, c.assignmentTimeout, c.scheduler.IsReady)
	if err != nil {
		return nil, err
	}
	if challenge == nil {
		return nil, nil
	}

	freq, resolvedConfig, err := resolveFrequency(challenge.Config, domain)
	if err != nil {
		return nil, err
	}

	transmissionID := uuid.NewString()
	c.mu.Lock()
	c.pending[challenge.ChallengeID] = pending{
		transmissionID: transmissionID,
		frequencyHz:    freq,
		startedAt:      time.Now().UTC(),
	}
	c.mu.Unlock()

	c.bus.Publish(eventbus.TopicAdmin, eventbus.EventChallengeAssigned, map[string]any{
		"runner_id":      runnerID,
		"challenge_id":   challenge.ChallengeID,
		"challenge_name": challenge.Name,
	})

	c.pushRecordingAssignment(ctx, challenge, transmissionID, freq, resolvedConfig)

	return &Task{ChallengeID: challenge.ChallengeID, Name: challenge.Name, Config: resolvedConfig}, nil
}

// pushRecordingAssignment opportunistically selects an online, enabled
// listener whose device frequency_limits cover freq and pushes a
// recording_assignment event over the /agents topic (spec.md §4.G). Failure
// to find a covering listener is not an error: recording assignment is
// best-effort.
func (c *Coordinator) pushRecordingAssignment(ctx context.Context, challenge *store.Challenge, transmissionID string, freq int64, cfg map[string]any) {
	listener, device, found := c.selectListener(ctx, freq)
	if !found {
		return
	}

	expectedDuration := defaultExpectedDurationS
	if raw, ok := cfg["duration_s"]; ok {
		if f, ok := toFloat64(raw); ok {
			expectedDuration = f
		}
	}

	c.bus.Publish(eventbus.TopicAgents, eventbus.EventRecordingAssignment, map[string]any{
		"assignment_id":               uuid.NewString(),
		"listener_id":                 listener.AgentID,
		"device_id":                   device.DeviceID,
		"challenge_id":                challenge.ChallengeID,
		"challenge_name":              challenge.Name,
		"transmission_id_placeholder": transmissionID,
		"frequency":                   freq,
		"expected_start":              time.Now().UTC().Format(time.RFC3339),
		"expected_duration_s":         expectedDuration,
	})
	c.logger.Info("pushed recording assignment", "listener_id", listener.AgentID, "challenge_id", challenge.ChallengeID, "frequency_hz", freq)
}

// selectListener finds the first online, enabled listener with a device
// whose frequency_limits (each "min-max" in Hz) cover freq.
func (c *Coordinator) selectListener(ctx context.Context, freq int64) (store.Agent, store.Device, bool) {
	listeners, err := c.store.ListOnlineAgents(ctx, store.AgentTypeListener)
	if err != nil {
		c.logger.Warn("listing online listeners failed", "error", err)
		return store.Agent{}, store.Device{}, false
	}
	for _, listener := range listeners {
		for _, device := range listener.Devices {
			if deviceCoversFrequency(device, freq) {
				return listener, device, true
			}
		}
	}
	return store.Agent{}, store.Device{}, false
}

func deviceCoversFrequency(d store.Device, freq int64) bool {
	for _, limit := range d.FrequencyLimits {
		min, max, ok := parseFrequencyLimit(limit)
		if ok && freq >= min && freq <= max {
			return true
		}
	}
	return false
}

// parseFrequencyLimit parses a "min-max" Hz range string (store.Device's
// frequency_limits representation).
func parseFrequencyLimit(limit string) (min, max int64, ok bool) {
	var sep int = -1
	for i, r := range limit {
		if r == '-' && i > 0 {
			sep = i
			break
		}
	}
	if sep < 0 {
		return 0, 0, false
	}
	minVal, err1 := parseInt64(limit[:sep])
	maxVal, err2 := parseInt64(limit[sep+1:])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return minVal, maxVal, true
}

// CompleteResult carries what the complete_task handler needs to shape its
// response and published events.
type CompleteResult struct {
	ChallengeName string
	FrequencyHz   int64
}

// CompleteTask transitions the challenge back to waiting, writes the real
// Transmission row under the ID handed to any listener at assignment time,
// arms the Scheduler's delay, and publishes transmission_complete /
// challenges_update. A duplicate complete_task for a challenge already back
// to waiting is an idempotent no-op: it still emits challenges_update but
// writes no transmission and does not re-arm the delay (spec.md §4.x).
func (c *Coordinator) CompleteTask(ctx context.Context, challengeID, runnerID, deviceID string, success bool, errorMessage string) (*CompleteResult, error) {
	c.mu.Lock()
	p, hadPending := c.pending[challengeID]
	delete(c.pending, challengeID)
	c.mu.Unlock()

	if !hadPending {
		p = pending{transmissionID: uuid.NewString(), startedAt: time.Now().UTC()}
	}
	if deviceID != "" {
		p.deviceID = deviceID
	}

	challenge, applied, err := c.store.CompleteChallenge(ctx, challengeID, runnerID, success, errorMessage)
	if err != nil {
		return nil, err
	}

	if !applied {
		c.bus.Publish(eventbus.TopicAdmin, eventbus.EventChallengesUpdate, nil)
		return &CompleteResult{ChallengeName: challenge.Name, FrequencyHz: p.frequencyHz}, nil
	}

	if err := c.store.RecordTransmissionStart(ctx, store.Transmission{
		ID:          p.transmissionID,
		ChallengeID: challengeID,
		RunnerID:    runnerID,
		DeviceID:    p.deviceID,
		FrequencyHz: p.frequencyHz,
		StartedAt:   p.startedAt,
	}); err != nil {
		return nil, err
	}
	if err := c.store.CompleteTransmission(ctx, p.transmissionID, success, errorMessage); err != nil {
		return nil, err
	}

	if minDelay, maxDelay, ok := delayBounds(challenge.Config); ok {
		c.scheduler.RecordCompletion(challengeID, minDelay, maxDelay)
	} else {
		c.scheduler.Reset(challengeID)
	}

	status := "success"
	if !success {
		status = "failed"
	}
	c.bus.Publish(eventbus.TopicAdmin, eventbus.EventTransmissionComplete, map[string]any{
		"runner_id":      runnerID,
		"challenge_id":   challengeID,
		"challenge_name": challenge.Name,
		"frequency":      p.frequencyHz,
		"status":         status,
		"error_message":  errorMessage,
	})
	c.bus.Publish(eventbus.TopicAdmin, eventbus.EventChallengesUpdate, nil)

	return &CompleteResult{ChallengeName: challenge.Name, FrequencyHz: p.frequencyHz}, nil
}

// delayBounds reads min_delay/max_delay (seconds) out of a challenge config.
func delayBounds(cfg map[string]any) (min, max time.Duration, ok bool) {
	minRaw, hasMin := toFloat64(cfg["min_delay"])
	maxRaw, hasMax := toFloat64(cfg["max_delay"])
	if !hasMin || !hasMax {
		return 0, 0, false
	}
	return time.Duration(minRaw * float64(time.Second)), time.Duration(maxRaw * float64(time.Second)), true
}

func toFloat64(v any) (float64, bool) {
	switch vv := v.(type) {
	case float64:
		return vv, true
	case int:
		return float64(vv), true
	case int64:
		return float64(vv), true
	default:
		return 0, false
	}
}

func parseInt64(s string) (int64, error) {
	var n int64
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

// ValidateConfig checks the mutually-exclusive frequency fields and
// min_delay <= max_delay invariant at challenge create/update time (spec.md
// §7 ValidationError, S edge cases).
func ValidateConfig(cfg map[string]any, domain *config.Domain) error {
	specs := 0
	if _, ok := cfg["frequency"]; ok {
		specs++
	}
	if _, ok := cfg["frequency_ranges"]; ok {
		specs++
	}
	if _, ok := cfg["manual_frequency_range"]; ok {
		specs++
	}
	if specs != 1 {
		return apperr.New(apperr.Validation, "config must set exactly one of frequency, frequency_ranges, manual_frequency_range")
	}

	if raw, ok := cfg["frequency_ranges"]; ok {
		names, ok := toStringSlice(raw)
		if !ok || len(names) == 0 {
			return apperr.New(apperr.Validation, "frequency_ranges must be a non-empty list of names")
		}
		for _, name := range names {
			if _, found := domain.FrequencyRangeByName(name); !found {
				return apperr.Newf(apperr.Validation, "unknown frequency range %q", name)
			}
		}
	}

	minDelay, hasMin := toFloat64(cfg["min_delay"])
	maxDelay, hasMax := toFloat64(cfg["max_delay"])
	if hasMin && hasMax && minDelay > maxDelay {
		return apperr.New(apperr.Validation, "min_delay must be <= max_delay")
	}
	return nil
}
