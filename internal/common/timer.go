// Package common provides shared timing and benchmarking helpers.
package common

import (
	"fmt"
	"time"
)

// Timer measures one named interval.
type Timer struct {
	start    time.Time
	name     string
	duration time.Duration
}

// NewNamedTimer creates and starts a timer with the given name.
func NewNamedTimer(name string) *Timer {
	return &Timer{
		name:  name,
		start: time.Now(),
	}
}

// Stop stops the timer and returns the elapsed duration.
func (t *Timer) Stop() time.Duration {
	t.duration = time.Since(t.start)
	return t.duration
}

// Duration returns the recorded duration (only valid after Stop()).
func (t *Timer) Duration() time.Duration {
	return t.duration
}

// Name returns the timer name.
func (t *Timer) Name() string {
	return t.name
}

// String returns "name: duration".
func (t *Timer) String() string {
	if t.name != "" {
		return fmt.Sprintf("%s: %v", t.name, t.duration)
	}
	return fmt.Sprintf("%v", t.duration)
}

// Stages records a sequence of named stage timers and the total time since
// creation.
type Stages struct {
	start  time.Time
	timers []*Timer
}

// NewStages starts the overall clock.
func NewStages() *Stages {
	return &Stages{start: time.Now()}
}

// Begin starts a new stage timer. Stop it when the stage ends.
func (s *Stages) Begin(name string) *Timer {
	t := NewNamedTimer(name)
	s.timers = append(s.timers, t)
	return t
}

// Get returns the recorded duration of the named stage, or 0.
func (s *Stages) Get(name string) time.Duration {
	for _, t := range s.timers {
		if t.name == name {
			return t.duration
		}
	}
	return 0
}

// Total returns the time elapsed since NewStages.
func (s *Stages) Total() time.Duration {
	return time.Since(s.start)
}

// String lists each stage in order.
func (s *Stages) String() string {
	out := ""
	for i, t := range s.timers {
		if i > 0 {
			out += ", "
		}
		out += t.String()
	}
	return out
}
