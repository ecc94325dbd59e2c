package cron

import "errors"

// ErrJobNotFound is returned for operations on an unknown job id.
var ErrJobNotFound = errors.New("cron job not found")

// ScheduleKind selects how a job's next run is computed.
type ScheduleKind string

const (
	KindEvery ScheduleKind = "every" // fixed interval
	KindCron  ScheduleKind = "cron"  // cron expression
	KindAt    ScheduleKind = "at"    // one shot
)

type Schedule struct {
	Kind    ScheduleKind `json:"kind"`
	EveryMs int64        `json:"every_ms,omitempty"`
	Expr    string       `json:"expr,omitempty"`
	TZ      string       `json:"tz,omitempty"`
	AtMs    int64        `json:"at_ms,omitempty"`
}

// Payload is what a job hands to the agent when it fires.
type Payload struct {
	Message string `json:"message"`
	Channel string `json:"channel,omitempty"`
	ChatID  string `json:"chat_id,omitempty"`
	// Deliver publishes the agent's answer to Channel/ChatID.
	Deliver bool `json:"deliver"`
}

type JobState struct {
	NextRunAtMs int64  `json:"next_run_at_ms,omitempty"`
	LastRunAtMs int64  `json:"last_run_at_ms,omitempty"`
	LastStatus  string `json:"last_status,omitempty"` // ok | error
	LastError   string `json:"last_error,omitempty"`
}

type Job struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Enabled        bool     `json:"enabled"`
	Schedule       Schedule `json:"schedule"`
	Payload        Payload  `json:"payload"`
	State          JobState `json:"state"`
	CreatedAtMs    int64    `json:"created_at_ms"`
	UpdatedAtMs    int64    `json:"updated_at_ms"`
	DeleteAfterRun bool     `json:"delete_after_run,omitempty"`
}

type storeFile struct {
	Version int   `json:"version"`
	Jobs    []Job `json:"jobs"`
}

// Status summarizes the service for CLI output.
type Status struct {
	Running      bool
	Jobs         int
	Enabled      int
	NextWakeAtMs int64
}
