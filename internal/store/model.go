// Package store is the Store component (spec.md §4.A): durable, transactional
// state for every entity in the data model, plus the atomic assignment
// transaction and the periodic reapers.
package store

import "time"

// User is an admin account (spec.md §3).
type User struct {
	Username               string
	PasswordHash           string
	TOTPSecretEncrypted    []byte // nil when TOTP is not configured
	Enabled                bool
	IsTemporary            bool
	PasswordChangeRequired bool
	CreatedAt              time.Time
	LastLogin              *time.Time
	Permissions            []string
}

// Session is a sliding, cookie-carried login session (spec.md §3).
type Session struct {
	Token        string
	Username     string
	ExpiresUTC   time.Time
	TOTPVerified bool
	CreatedAt    time.Time
}

// Device is a semi-structured SDR device record attached to an Agent.
type Device struct {
	DeviceID        string   `json:"device_id"`
	Model           string   `json:"model"`
	NameOrSerial    string   `json:"name_or_serial"`
	FrequencyLimits []string `json:"frequency_limits,omitempty"` // e.g. "144000000-148000000"
	Antenna         string   `json:"antenna,omitempty"`
	BiasT           *bool    `json:"bias_t,omitempty"`
}

// AgentType distinguishes runners (transmit) from listeners (receive).
type AgentType string

const (
	AgentTypeRunner   AgentType = "runner"
	AgentTypeListener AgentType = "listener"
)

// AgentStatus tracks online/offline liveness.
type AgentStatus string

const (
	AgentOnline  AgentStatus = "online"
	AgentOffline AgentStatus = "offline"
)

// Agent is a runner or listener host (spec.md §3).
type Agent struct {
	AgentID       string
	AgentType     AgentType
	Hostname      string
	IP            string
	MAC           string
	MachineID     string
	Devices       []Device
	APIKeyHash    string
	Status        AgentStatus
	Enabled       bool
	LastHeartbeat time.Time
	CreatedAt     time.Time
}

// EnrollmentToken is a one-shot credential that mints a runner API key
// (spec.md §3, §4.F).
type EnrollmentToken struct {
	Token           string
	RunnerName      string
	CreatedBy       string
	ExpiresUTC      time.Time
	Used            bool
	UsedAt          *time.Time
	UsedByRunnerID  string
	ReEnrollmentFor string // empty unless this token re-binds an existing runner
	CreatedAt       time.Time
}

// ProvisioningKey is a long-lived credential that mints enrollment tokens
// (spec.md §3, §4.F).
type ProvisioningKey struct {
	KeyID       string
	APIKeyHash  string
	Description string
	CreatedBy   string
	Enabled     bool
	CreatedAt   time.Time
}

// ChallengeStatus is the scheduler-visible lifecycle state (spec.md §4.x).
type ChallengeStatus string

const (
	ChallengeQueued   ChallengeStatus = "queued"
	ChallengeWaiting  ChallengeStatus = "waiting"
	ChallengeAssigned ChallengeStatus = "assigned"
)

// Challenge is a named, configured RF transmission recipe (spec.md §3).
type Challenge struct {
	ChallengeID       string
	Name              string
	Config            map[string]any
	Enabled           bool
	Status            ChallengeStatus
	Priority          int
	AssignedTo        string
	AssignedAt        *time.Time
	AssignmentExpires *time.Time
	LastTxTime        *time.Time
	TransmissionCount int
	CreatedAt         time.Time
}

// TransmissionStatus tracks a single run of a challenge.
type TransmissionStatus string

const (
	TransmissionTransmitting TransmissionStatus = "transmitting"
	TransmissionSuccess      TransmissionStatus = "success"
	TransmissionFailed       TransmissionStatus = "failed"
)

// Transmission is one execution of a challenge by a runner. Append-only.
type Transmission struct {
	ID           string
	ChallengeID  string
	RunnerID     string
	DeviceID     string
	FrequencyHz  int64
	StartedAt    time.Time
	CompletedAt  *time.Time
	Status       TransmissionStatus
	ErrorMessage string
}

// Recording is one capture of a transmission by a listener. Append-only.
type Recording struct {
	ID                string
	ChallengeID       string
	TransmissionID    string
	ListenerID        string
	FrequencyHz       int64
	SampleRate        int64
	ExpectedDurationS float64
	StartedAt         time.Time
	CompletedAt       *time.Time
	Success           *bool
	ImagePath         string
	ImageWidth        int
	ImageHeight       int
	ErrorMessage      string
}

// File is a content-addressed upload (spec.md §3).
type File struct {
	FileHash  string // sha256 hex, primary key
	Filename  string
	Size      int64
	MimeType  string
	Path      string
	CreatedAt time.Time
}

// SystemState keys recognized by the controller (spec.md §3).
const (
	StateKeyPaused               = "paused"
	StateKeyAutoPaused           = "auto_paused"
	StateKeyInitialSetupRequired = "initial_setup_required"
	StateKeyDayStart             = "day_start"
	StateKeyEndOfDay             = "end_of_day"
	StateKeyAutoPauseDaily       = "auto_pause_daily"
)

// PendingSetup holds proposed credentials for a temporary user mid two-step
// setup (spec.md §4.E), keyed by session token, short-lived (15 min default).
type PendingSetup struct {
	SessionToken        string
	Username             string
	NewPasswordHash      string
	ProposedTOTPSecret   []byte // encrypted
	ExpiresUTC           time.Time
}

// TOTPReplayEntry records the first use of a TOTP code for a user, to refuse
// reuse within the replay window (spec.md §4.E, Invariant 4).
type TOTPReplayEntry struct {
	Username string
	Code     string
	FirstUse time.Time
}
