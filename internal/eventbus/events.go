package eventbus

import "time"

// Event type names as they appear on the wire (SSE event field, Slack
// formatting). Each struct below implements Kind().
const (
	TypeJobCreated        = "job_created"
	TypeJobAssigned       = "job_assigned"
	TypeJobStatusChanged  = "job_status_changed"
	TypeJobCancelled      = "job_cancelled"
	TypeTimeoutAlert      = "timeout_alert"
	TypeCycleTimeAlert    = "cycle_time_alert"
	TypeBreakAlert        = "break_alert"
	TypeWorkerOffline     = "worker_offline"
	TypeAutoAssignTimeout = "auto_assign_timeout"
	TypeRosterChanged     = "dispatcher_roster_changed"
)

// Kinder lets transports map a payload to its wire name without reflection.
type Kinder interface {
	Kind() string
}

type JobCreated struct {
	RequestID   string    `json:"request_id"`
	OriginFloor string    `json:"origin_floor"`
	RoomNumber  string    `json:"room_number"`
	Priority    string    `json:"priority"`
	CreatedAt   time.Time `json:"created_at"`
}

func (JobCreated) Kind() string { return TypeJobCreated }

type JobAssigned struct {
	RequestID string `json:"request_id"`
	WorkerID  string `json:"worker_id"`
	Method    string `json:"method"`
	Reason    string `json:"reason,omitempty"`
}

func (JobAssigned) Kind() string { return TypeJobAssigned }

type JobStatusChanged struct {
	RequestID string `json:"request_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Actor     string `json:"actor,omitempty"`
}

func (JobStatusChanged) Kind() string { return TypeJobStatusChanged }

type JobCancelled struct {
	RequestID string `json:"request_id"`
	Actor     string `json:"actor,omitempty"`
}

func (JobCancelled) Kind() string { return TypeJobCancelled }

// TimeoutAlert fires when an auto-assigned request's acceptance window
// lapses, before any re-assignment is attempted.
type TimeoutAlert struct {
	RequestID      string  `json:"request_id"`
	WorkerID       string  `json:"worker_id"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

func (TimeoutAlert) Kind() string { return TypeTimeoutAlert }

// CycleTimeAlert fires when a request's current phase has run past its
// threshold. Baseline carries the threshold that was exceeded, in seconds,
// and Mode says which comparison produced it (manual or rolling).
type CycleTimeAlert struct {
	RequestID       string  `json:"request_id"`
	Phase           string  `json:"phase"`
	ElapsedSeconds  float64 `json:"elapsed_seconds"`
	BaselineSeconds float64 `json:"baseline_seconds"`
	Mode            string  `json:"mode"`
	Floor           string  `json:"floor,omitempty"`
}

func (CycleTimeAlert) Kind() string { return TypeCycleTimeAlert }

type BreakAlert struct {
	WorkerID       string `json:"worker_id"`
	MinutesOnBreak int    `json:"minutes_on_break"`
}

func (BreakAlert) Kind() string { return TypeBreakAlert }

type WorkerOffline struct {
	WorkerID string    `json:"worker_id"`
	LastSeen time.Time `json:"last_seen"`
}

func (WorkerOffline) Kind() string { return TypeWorkerOffline }

// AutoAssignTimeout reports an assignee who never acknowledged an
// auto-assignment. NewWorkerID is empty when no replacement was available.
type AutoAssignTimeout struct {
	RequestID   string `json:"request_id"`
	OldWorkerID string `json:"old_worker_id"`
	NewWorkerID string `json:"new_worker_id,omitempty"`
	Reason      string `json:"reason"`
}

func (AutoAssignTimeout) Kind() string { return TypeAutoAssignTimeout }

// RosterChanged carries the full dispatcher roster after every mutation so
// clients never need to diff.
type RosterChanged struct {
	Sessions []RosterEntry `json:"sessions"`
}

func (RosterChanged) Kind() string { return TypeRosterChanged }

type RosterEntry struct {
	SessionID  uint       `json:"session_id"`
	WorkerID   string     `json:"worker_id"`
	IsPrimary  bool       `json:"is_primary"`
	OnBreak    bool       `json:"on_break"`
	StartedAt  time.Time  `json:"started_at"`
	BreakStart *time.Time `json:"break_start,omitempty"`
}
