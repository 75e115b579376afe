package models

import "time"

// Mode selects the shape of the update command.
type Mode string

const (
	ModeNormal Mode = "normal"
	ModeForce  Mode = "force"
	ModeAll    Mode = "all"
)

// Job is one remote execution request. Machine and Address are empty for ModeAll.
type Job struct {
	ID       string
	Server   ServerDescriptor
	Machine  int
	Address  string
	Mode     Mode
	User     int64
	Dest     int64
	Launched time.Time
}

// Single reports whether the job targets one machine.
func (j Job) Single() bool {
	return j.Mode != ModeAll
}

// Outcome is the result of one Remote Executor invocation.
type Outcome struct {
	Succeeded bool
	Output    string
	Duration  time.Duration
}
