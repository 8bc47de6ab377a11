package repository

import (
	"context"

	"telegram-ai-subscription/internal/domain/model"
)

// JobStore is the durable persistence of Jobs and Chunks. All writes are
// idempotent: replaying "mark chunk X completed" with the same outputs
// converges rather than erroring.
type JobStore interface {
	InsertJob(ctx context.Context, tx Tx, job *model.Job) error
	InsertChunks(ctx context.Context, tx Tx, chunks []*model.Chunk) error

	GetJob(ctx context.Context, tx Tx, jobID string) (*model.Job, error)
	FindJobsByChat(ctx context.Context, tx Tx, chatID string, status model.JobStatus) ([]*model.Job, error)
	LatestActiveJobByChat(ctx context.Context, tx Tx, chatID string) (*model.Job, error)

	// FinalizeJob atomically writes the terminal (status, stitchedOutput)
	// pair so no reader ever observes completed with a null output.
	FinalizeJob(ctx context.Context, tx Tx, jobID string, status model.JobStatus, stitchedOutput *string) error
	SetJobStatus(ctx context.Context, tx Tx, jobID string, status model.JobStatus) error

	// IncrementCompletedChunks performs a server-side +1, never a
	// read-modify-write, and returns the new count.
	IncrementCompletedChunks(ctx context.Context, tx Tx, jobID string) (int, error)
	RecountCompletedChunks(ctx context.Context, tx Tx, jobID string) (int, error)
	SetCompletedChunks(ctx context.Context, tx Tx, jobID string, n int) error

	ListChunks(ctx context.Context, tx Tx, jobID string) ([]*model.Chunk, error)
	GetChunk(ctx context.Context, tx Tx, jobID string, index int) (*model.Chunk, error)
	FindChunksByStatus(ctx context.Context, tx Tx, jobID string, statuses ...model.ChunkStatus) ([]*model.Chunk, error)

	SetChunkProcessing(ctx context.Context, tx Tx, jobID string, index int) error
	CompleteChunk(ctx context.Context, tx Tx, jobID string, index int, output string, tokens int, cost float64) error
	FailChunk(ctx context.Context, tx Tx, jobID string, index int, errMsg string) error
	CancelChunks(ctx context.Context, tx Tx, jobID string, statuses ...model.ChunkStatus) (int, error)
	ResetChunksToPending(ctx context.Context, tx Tx, jobID string, indexes []int) error
}
