// Package routines is the persistent scheduler that feeds synthetic
// events back into the orchestrator.
package routines

import (
	"fmt"
	"time"

	"github.com/adhocore/gronx"
)

// ScheduleKind selects how a routine's next run is computed.
type ScheduleKind string

const (
	ScheduleAt    ScheduleKind = "at"
	ScheduleEvery ScheduleKind = "every"
	ScheduleCron  ScheduleKind = "cron"
)

// Schedule is the tagged when-to-run variant of a routine.
type Schedule struct {
	Kind    ScheduleKind `json:"kind"`
	AtMs    int64        `json:"at_ms,omitempty"`
	EveryMs int64        `json:"every_ms,omitempty"`
	Cron    string       `json:"cron,omitempty"`
	// Timezone is the IANA zone cron expressions are evaluated in.
	Timezone string `json:"tz,omitempty"`
}

// PayloadKind selects how a due routine is dispatched.
type PayloadKind string

const (
	// PayloadAgentTurn injects a synthetic inbound envelope.
	PayloadAgentTurn PayloadKind = "agent_turn"
	// PayloadSystemEvent invokes a registered in-process handler.
	PayloadSystemEvent PayloadKind = "system_event"
)

// Payload describes what a routine does when it fires.
type Payload struct {
	Kind     PayloadKind       `json:"kind"`
	Message  string            `json:"message,omitempty"`
	Channel  string            `json:"channel,omitempty"`
	To       string            `json:"to,omitempty"`
	Scope    string            `json:"scope,omitempty"` // user or system
	Routine  string            `json:"routine,omitempty"`
	Bot      string            `json:"bot,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// State is the mutable run bookkeeping of a routine.
type State struct {
	NextRunAtMs int64  `json:"next_run_at_ms,omitempty"`
	LastRunAtMs int64  `json:"last_run_at_ms,omitempty"`
	LastStatus  string `json:"last_status,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}

// Routine is one scheduler job.
type Routine struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Enabled        bool     `json:"enabled"`
	Schedule       Schedule `json:"schedule"`
	Payload        Payload  `json:"payload"`
	State          State    `json:"state"`
	CreatedAtMs    int64    `json:"created_at_ms"`
	UpdatedAtMs    int64    `json:"updated_at_ms"`
	DeleteAfterRun bool     `json:"delete_after_run,omitempty"`
}

var cronChecker = gronx.New()

// Validate checks the schedule variant and payload shape.
func (r *Routine) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("routine name required")
	}
	switch r.Schedule.Kind {
	case ScheduleAt:
		if r.Schedule.AtMs <= 0 {
			return fmt.Errorf("at schedule needs at_ms")
		}
	case ScheduleEvery:
		if r.Schedule.EveryMs <= 0 {
			return fmt.Errorf("every schedule needs a positive every_ms")
		}
	case ScheduleCron:
		if !cronChecker.IsValid(r.Schedule.Cron) {
			return fmt.Errorf("invalid cron expression %q", r.Schedule.Cron)
		}
		if r.Schedule.Timezone == "" {
			return fmt.Errorf("cron schedule needs an IANA timezone")
		}
		if _, err := time.LoadLocation(r.Schedule.Timezone); err != nil {
			return fmt.Errorf("unknown timezone %q: %w", r.Schedule.Timezone, err)
		}
	default:
		return fmt.Errorf("unknown schedule kind %q", r.Schedule.Kind)
	}
	switch r.Payload.Kind {
	case PayloadAgentTurn:
		if r.Payload.Channel == "" || r.Payload.To == "" {
			return fmt.Errorf("agent_turn payload needs channel and to")
		}
	case PayloadSystemEvent:
		if r.Payload.Routine == "" {
			return fmt.Errorf("system_event payload needs a routine tag")
		}
	default:
		return fmt.Errorf("unknown payload kind %q", r.Payload.Kind)
	}
	return nil
}

// NextRunAfter computes the next fire time strictly after now.
func (r *Routine) NextRunAfter(now time.Time) (int64, error) {
	switch r.Schedule.Kind {
	case ScheduleAt:
		return r.Schedule.AtMs, nil
	case ScheduleEvery:
		return now.UnixMilli() + r.Schedule.EveryMs, nil
	case ScheduleCron:
		loc, err := time.LoadLocation(r.Schedule.Timezone)
		if err != nil {
			return 0, err
		}
		next, err := gronx.NextTickAfter(r.Schedule.Cron, now.In(loc), false)
		if err != nil {
			return 0, err
		}
		return next.UnixMilli(), nil
	}
	return 0, fmt.Errorf("unknown schedule kind %q", r.Schedule.Kind)
}
