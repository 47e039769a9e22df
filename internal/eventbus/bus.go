// Package eventbus implements the EventBus component (spec.md §4.H): an
// in-process publish/subscribe fan-out with bounded ring buffers for
// dashboard initial paint, fronted by three WebSocket namespaces (ws.go).
package eventbus

import (
	"strconv"
	"sync"
	"time"
)

// Event kinds published across the bus (spec.md §4.H).
const (
	EventLog                  = "log"
	EventRunnerStatus         = "runner_status"
	EventListenerStatus       = "listener_status"
	EventChallengeAssigned    = "challenge_assigned"
	EventTransmissionComplete = "transmission_complete"
	EventRecordingStarted     = "recording_started"
	EventRecordingComplete    = "recording_complete"
	EventRunnerEnrolled       = "runner_enrolled"
	EventSystemControl        = "system_control"
	EventChallengesUpdate     = "challenges_update"
	EventRecordingAssignment  = "recording_assignment"
)

// Event is the JSON envelope delivered to subscribers: {type, ...fields}.
type Event struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// publicSafeEvents are the kinds forwarded to the anonymous /public topic;
// everything else is admin-only (spec.md §4.H).
var publicSafeEvents = map[string]bool{
	EventChallengesUpdate: true,
}

type subscriber struct {
	id string
	ch chan Event
}

// Bus is the in-process EventBus.
type Bus struct {
	mu   sync.Mutex
	subs map[string][]*subscriber // topic -> subscribers

	logRing  *ring
	txRing   *ring
	nextSubN int
}

// Topics.
const (
	TopicAdmin  = "admin"
	TopicPublic = "public"
	TopicAgents = "agents"
)

// New builds a Bus with the spec'd ring buffer sizes (500 log events, 50
// transmission events).
func New() *Bus {
	return &Bus{
		subs:    make(map[string][]*subscriber),
		logRing: newRing(500),
		txRing:  newRing(50),
	}
}

// Subscribe registers a new subscriber on topic and returns a receive
// channel plus an unsubscribe function. The channel is buffered; a slow
// subscriber's oldest unread event is dropped rather than blocking
// publishers (best-effort delivery, spec.md §4.H).
func (b *Bus) Subscribe(topic string) (<-chan Event, func()) {
	b.mu.Lock()
	b.nextSubN++
	sub := &subscriber{id: topic + "-" + itoa(b.nextSubN), ch: make(chan Event, 64)}
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[topic]
		for i, s := range list {
			if s == sub {
				b.subs[topic] = append(list[:i], list[i+1:]...)
				close(sub.ch)
				break
			}
		}
	}
	return sub.ch, unsubscribe
}

// Publish fans an event out to every subscriber of topic, and — if the
// event kind is public-safe — additionally to every /public subscriber. Log
// and transmission-complete events are also appended to their ring buffers.
func (b *Bus) Publish(topic, eventType string, data map[string]any) {
	ev := Event{Type: eventType, Data: data, Timestamp: time.Now().UTC()}

	if eventType == EventLog {
		b.logRing.push(ev)
	}
	if eventType == EventTransmissionComplete {
		b.txRing.push(ev)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	deliver(b.subs[topic], ev)
	if topic != TopicPublic && publicSafeEvents[eventType] {
		deliver(b.subs[TopicPublic], ev)
	}
}

func deliver(subs []*subscriber, ev Event) {
	for _, s := range subs {
		select {
		case s.ch <- ev:
		default:
			// Slow subscriber: drop the oldest buffered event to make room
			// rather than block the publisher.
			select {
			case <-s.ch:
			default:
			}
			select {
			case s.ch <- ev:
			default:
			}
		}
	}
}

// RecentLogs returns the buffered log events for a fresh /admin connection's
// initial paint.
func (b *Bus) RecentLogs() []Event { return b.logRing.snapshot() }

// RecentTransmissions returns the buffered transmission-complete events.
func (b *Bus) RecentTransmissions() []Event { return b.txRing.snapshot() }

func itoa(n int) string {
	return strconv.Itoa(n)
}
