package domain

import (
	"time"

	"github.com/google/uuid"
)

// FlattenRunStatus is the terminal outcome of one flatten run.
type FlattenRunStatus string

const (
	FlattenRunSucceeded FlattenRunStatus = "SUCCEEDED"
	FlattenRunFailed    FlattenRunStatus = "FAILED"
)

// FlattenRun captures the outcome of one service level flatten invocation.
type FlattenRun struct {
	ID           uuid.UUID        `json:"id"`
	Source       string           `json:"source"`
	Target       string           `json:"target,omitempty"`
	Status       FlattenRunStatus `json:"status"`
	Stage        string           `json:"stage,omitempty"`
	NodeCount    int              `json:"node_count"`
	MaxLevel     int              `json:"max_level"`
	ErrorMessage string           `json:"error_message,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// NewFlattenRun starts a run record for the given source.
func NewFlattenRun(source, target string) FlattenRun {
	return FlattenRun{
		ID:        uuid.New(),
		Source:    source,
		Target:    target,
		CreatedAt: time.Now(),
	}
}
