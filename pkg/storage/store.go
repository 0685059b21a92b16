// Package storage persists rollout runs and their finished episodes.
package storage

import (
	"context"
	"time"
)

// Run summarises one rollout.
type Run struct {
	ID         string
	Env        string
	NumEnvs    int
	Policy     string
	Options    []string
	Steps      int
	Episodes   int
	MeanReturn float64
	Status     string
	Err        string
	StartedAt  time.Time
	EndedAt    time.Time
}

// Episode is one finished episode of one instance.
type Episode struct {
	RunID    string
	Instance int
	Index    int
	Return   float64
	Length   int
	EndStep  int
}

// Store defines the persistence operations for rollouts.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, id string) (Run, bool, error)
	ListRuns(ctx context.Context) ([]Run, error)
	SaveEpisodes(ctx context.Context, runID string, episodes []Episode) error
	GetEpisodes(ctx context.Context, runID string) ([]Episode, bool, error)
}
