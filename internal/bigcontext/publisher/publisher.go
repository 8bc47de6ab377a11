// Package publisher streams progress snapshots for a single job by
// polling the Job Store on a fixed interval, shaped after the ticker +
// cancellable-context loop the rest of this codebase uses for periodic
// background work.
package publisher

import (
	"context"
	"time"

	"telegram-ai-subscription/internal/domain/model"
	"telegram-ai-subscription/internal/domain/ports/repository"
)

const (
	DefaultPollInterval  = 1500 * time.Millisecond
	DefaultStaleThreshold = 3 * time.Minute
)

// ChunkSnapshot is the per-chunk detail carried in a Snapshot.
type ChunkSnapshot struct {
	Index  int    `json:"index"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Snapshot is one point-in-time view of a job's progress. All aggregates
// are derived from Chunks in the same snapshot, never from a separate
// query, so a reader never sees an inconsistent combination.
type Snapshot struct {
	ID              string          `json:"id"`
	Status          string          `json:"status"`
	TotalChunks     int             `json:"totalChunks"`
	CompletedChunks int             `json:"completedChunks"`
	Chunks          []ChunkSnapshot `json:"chunks"`
	TotalTokens     int             `json:"totalTokens"`
	TotalCost       float64         `json:"totalCost"`
	FailedChunks    int             `json:"failedChunks"`
	StartedAt       time.Time       `json:"startedAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	Model           string          `json:"model"`
	IsStale         bool            `json:"isStale"`
	StaleDurationMs int64           `json:"staleDurationMs,omitempty"`
	StitchedOutput  *string         `json:"stitchedOutput,omitempty"`

	// Done and Err never travel on the wire as part of this struct's
	// JSON: handleStream inspects them to decide whether to emit the
	// separate literal `{"done":true}` frame or an `{"error":...}`
	// frame instead of marshalling the snapshot at all.
	Done bool   `json:"-"`
	Err  string `json:"-"`
}

func snapshotFrom(job *model.Job, chunks []*model.Chunk, isStale bool, staleDuration time.Duration) Snapshot {
	snap := Snapshot{
		ID:              job.ID,
		Status:          string(job.Status),
		TotalChunks:     job.TotalChunks,
		CompletedChunks: job.CompletedChunks,
		Chunks:          make([]ChunkSnapshot, 0, len(chunks)),
		StartedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
		Model:           job.ModelID,
		IsStale:         isStale,
	}
	if isStale {
		snap.StaleDurationMs = staleDuration.Milliseconds()
	}
	for _, c := range chunks {
		cs := ChunkSnapshot{Index: c.Index, Status: string(c.Status)}
		if c.Error != nil {
			cs.Error = *c.Error
		}
		snap.Chunks = append(snap.Chunks, cs)
		snap.TotalTokens += c.Tokens
		snap.TotalCost += c.Cost
		if c.Status == model.ChunkFailed {
			snap.FailedChunks++
		}
	}
	if job.IsTerminal() {
		snap.StitchedOutput = job.StitchedOutput
	}
	return snap
}

// Publisher polls a single job's state and emits a Snapshot on Snapshots
// until the job reaches a terminal state, then emits one final snapshot
// with Done set and closes the channel.
type Publisher struct {
	jobs           repository.JobStore
	pollInterval   time.Duration
	staleThreshold time.Duration
}

func New(jobs repository.JobStore, pollInterval, staleThreshold time.Duration) *Publisher {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if staleThreshold <= 0 {
		staleThreshold = DefaultStaleThreshold
	}
	return &Publisher{jobs: jobs, pollInterval: pollInterval, staleThreshold: staleThreshold}
}

// Stream returns a channel of snapshots for jobID. The channel is closed
// when the job reaches a terminal state, the job lookup fails, or the
// context is cancelled. The channel has one buffered slot; beyond that,
// each send waits until the subscriber reads or the context is cancelled.
func (p *Publisher) Stream(ctx context.Context, jobID string) <-chan Snapshot {
	out := make(chan Snapshot, 1)
	go p.loop(ctx, jobID, out)
	return out
}

func (p *Publisher) loop(ctx context.Context, jobID string, out chan<- Snapshot) {
	defer close(out)

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	var lastCompleted = -1
	var lastProgressAt time.Time

	sendErr := func(err error) {
		select {
		case out <- Snapshot{ID: jobID, Err: err.Error()}:
		case <-ctx.Done():
		}
	}

	emit := func() (terminal bool) {
		job, err := p.jobs.GetJob(ctx, nil, jobID)
		if err != nil {
			sendErr(err)
			return true
		}
		chunks, err := p.jobs.ListChunks(ctx, nil, jobID)
		if err != nil {
			sendErr(err)
			return true
		}

		if job.CompletedChunks != lastCompleted {
			lastCompleted = job.CompletedChunks
			lastProgressAt = time.Now()
		} else if lastProgressAt.IsZero() {
			lastProgressAt = time.Now()
		}

		isStale := false
		var staleFor time.Duration
		if job.Status == model.JobProcessing && job.CompletedChunks < job.TotalChunks {
			staleFor = time.Since(lastProgressAt)
			isStale = staleFor >= p.staleThreshold
		}

		snap := snapshotFrom(job, chunks, isStale, staleFor)
		if job.IsTerminal() {
			snap.Done = true
		}

		select {
		case out <- snap:
		case <-ctx.Done():
			return true
		}
		return job.IsTerminal()
	}

	if emit() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if emit() {
				return
			}
		}
	}
}
