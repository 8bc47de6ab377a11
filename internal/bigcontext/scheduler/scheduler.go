// Package scheduler runs a job's chunks through a Remote Client under a
// bounded concurrency cap, persisting each chunk's outcome as it lands.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"

	"telegram-ai-subscription/internal/domain/model"
	"telegram-ai-subscription/internal/domain/ports/adapter"
	"telegram-ai-subscription/internal/domain/ports/repository"
	"telegram-ai-subscription/internal/infra/logging"
	"telegram-ai-subscription/internal/infra/metrics"
)

const (
	DefaultMaxConcurrency = 5
	DefaultMaxRetries     = 3
	DefaultRetryBaseDelay = 1 * time.Second
)

// Scheduler dispatches chunk work. Each Run call drives one job with its
// own concurrency semaphore, so one instance can serve many jobs; there
// is no cross-job coordination beyond what the runs read and write
// through the JobStore.
type Scheduler struct {
	jobs   repository.JobStore
	remote adapter.RemoteClient
	log    *zerolog.Logger

	maxConcurrency int
	maxRetries     int
	retryBaseDelay time.Duration
}

func New(jobs repository.JobStore, remote adapter.RemoteClient, log *zerolog.Logger, maxConcurrency, maxRetries int, retryBaseDelay time.Duration) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if retryBaseDelay <= 0 {
		retryBaseDelay = DefaultRetryBaseDelay
	}
	return &Scheduler{
		jobs:           jobs,
		remote:         remote,
		log:            log,
		maxConcurrency: maxConcurrency,
		maxRetries:     maxRetries,
		retryBaseDelay: retryBaseDelay,
	}
}

// RunParams describes one dispatch pass. Indexes is the set of chunks to
// run; a fresh start passes every index, retry-failed and resume pass a
// subset.
type RunParams struct {
	JobID           string
	Instruction     string
	ModelID         string
	TotalChunks     int
	MaxOutputTokens int
	Indexes         []int
}

// Run blocks until every chunk in Indexes has a terminal outcome
// (completed, failed, or cancelled). It returns only on an
// infrastructure-level failure; per-chunk errors are recorded on the
// chunk row and never surface here.
func (s *Scheduler) Run(ctx context.Context, p RunParams) error {
	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, idx := range p.Indexes {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		}

		job, err := s.jobs.GetJob(ctx, nil, p.JobID)
		if err != nil {
			<-sem
			wg.Wait()
			return fmt.Errorf("scheduler: read job status: %w", err)
		}
		if job.Status == model.JobCancelled {
			<-sem
			_, err := s.jobs.CancelChunks(ctx, nil, p.JobID, model.ChunkPending, model.ChunkProcessing)
			wg.Wait()
			return err
		}
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			defer func() { <-sem }()
			s.runChunk(ctx, p, index)
		}(idx)
	}

	wg.Wait()
	return nil
}

func (s *Scheduler) runChunk(ctx context.Context, p RunParams, index int) {
	ctx = logging.WithJobID(ctx, p.JobID)
	ctx = logging.WithChunkIndex(ctx, index)
	log := logging.With(ctx, s.log)

	if err := s.jobs.SetChunkProcessing(ctx, nil, p.JobID, index); err != nil {
		log.Error().Err(err).Msg("claim chunk failed")
		return
	}

	chunk, err := s.jobs.GetChunk(ctx, nil, p.JobID, index)
	if err != nil {
		s.failChunk(ctx, p.JobID, index, err)
		return
	}

	messages := buildMessages(p.Instruction, chunk.InputText, index, p.TotalChunks)

	var content, finishReason string
	var usage adapter.Usage
	attempt := 0
	err = retry.Do(
		func() error {
			attempt++
			c, fr, u, err := s.remote.Complete(ctx, p.ModelID, messages, p.MaxOutputTokens)
			if err != nil {
				if kind, ok := adapter.KindOf(err); ok && kind == adapter.ErrKindRateLimited {
					metrics.IncChunkRetry(p.ModelID)
				}
				return err
			}
			content, finishReason, usage = c, fr, u
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(s.maxRetries+1)),
		retry.Delay(s.retryBaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			kind, ok := adapter.KindOf(err)
			return ok && kind == adapter.ErrKindRateLimited
		}),
	)
	_ = finishReason

	if err != nil {
		s.failChunk(ctx, p.JobID, index, err)
		return
	}

	if cerr := s.jobs.CompleteChunk(ctx, nil, p.JobID, index, content, usage.TotalTokens, usage.Cost); cerr != nil {
		log.Error().Err(cerr).Msg("persist chunk completion failed")
		return
	}
	if _, ierr := s.jobs.IncrementCompletedChunks(ctx, nil, p.JobID); ierr != nil {
		log.Error().Err(ierr).Msg("increment completed_chunks failed")
	}
	metrics.IncChunk("completed")
	log.Debug().Int("attempts", attempt).Msg("chunk completed")
}

func (s *Scheduler) failChunk(ctx context.Context, jobID string, index int, cause error) {
	log := logging.With(ctx, s.log)
	if ferr := s.jobs.FailChunk(ctx, nil, jobID, index, cause.Error()); ferr != nil {
		log.Error().Err(ferr).Msg("persist chunk failure failed")
	}
	if _, ierr := s.jobs.IncrementCompletedChunks(ctx, nil, jobID); ierr != nil {
		log.Error().Err(ierr).Msg("increment completed_chunks failed")
	}
	metrics.IncChunk("failed")
	log.Warn().Err(cause).Msg("chunk failed")
}

func buildMessages(instruction, text string, index, total int) []adapter.Message {
	var position string
	switch {
	case total <= 1:
		position = "the complete text"
	case index == 0:
		position = fmt.Sprintf("the beginning of a longer document (section %d of %d) — text may start mid-context", index+1, total)
	case index == total-1:
		position = fmt.Sprintf("the end of a longer document (section %d of %d) — text may end mid-sentence", index+1, total)
	default:
		position = fmt.Sprintf("section %d of %d — text may start and end mid-sentence", index+1, total)
	}

	system := fmt.Sprintf(
		"You are a document processor. You are given %s. "+
			"Apply the user's instruction exactly. Do not add preambles or commentary. "+
			"Do not request more input. If the instruction is to translate, never echo the source language. "+
			"Prefer direct quotation over paraphrase. Do not editorialize.",
		position,
	)

	user := fmt.Sprintf(
		"Instruction:\n%s\n\n---\n%s\n---\n\nReminder — apply this instruction exactly: %s",
		instruction, text, instruction,
	)

	return []adapter.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}
