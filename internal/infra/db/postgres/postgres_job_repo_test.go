//go:build integration

package postgres

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"telegram-ai-subscription/internal/domain"
	"telegram-ai-subscription/internal/domain/model"
	"telegram-ai-subscription/internal/infra/security"
)

func newTestJob(id string, totalChunks int) *model.Job {
	now := time.Now().UTC().Truncate(time.Second)
	return &model.Job{
		ID:          id,
		ChatID:      "chat-1",
		Status:      model.JobPending,
		TotalChunks: totalChunks,
		Instruction: "summarize",
		ModelID:     "gpt-4o-mini",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func newTestChunks(jobID string, n int) []*model.Chunk {
	out := make([]*model.Chunk, n)
	for i := 0; i < n; i++ {
		out[i] = &model.Chunk{
			ID:        jobID + "-chunk-" + string(rune('0'+i)),
			JobID:     jobID,
			Index:     i,
			InputText: "chunk body " + string(rune('0'+i)),
			Status:    model.ChunkPending,
		}
	}
	return out
}

func TestJobRepo_InsertAndGetJob(t *testing.T) {
	cleanup(t)
	ctx := context.Background()
	repo := NewJobRepo(testPool, nil)

	job := newTestJob("job-1", 3)
	if err := repo.InsertJob(ctx, nil, job); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}
	if err := repo.InsertChunks(ctx, nil, newTestChunks("job-1", 3)); err != nil {
		t.Fatalf("InsertChunks: %v", err)
	}

	got, err := repo.GetJob(ctx, nil, "job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != model.JobPending || got.TotalChunks != 3 {
		t.Fatalf("unexpected job: %+v", got)
	}

	chunks, err := repo.ListChunks(ctx, nil, "job-1")
	if err != nil {
		t.Fatalf("ListChunks: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}

	if _, err := repo.GetJob(ctx, nil, "missing"); err != domain.ErrJobNotFound {
		t.Fatalf("expected ErrJobNotFound for unknown id, got %v", err)
	}
}

// TestJobRepo_FinalizeJob_AtomicTerminalWrite exercises the
// safety-critical write that moves a job to a terminal state and sets
// its stitched output in one statement, so no reader ever observes a
// completed job with a null output, and a finalize against an unknown
// job id reports not-found instead of silently affecting zero rows.
func TestJobRepo_FinalizeJob_AtomicTerminalWrite(t *testing.T) {
	cleanup(t)
	ctx := context.Background()
	repo := NewJobRepo(testPool, nil)

	job := newTestJob("job-1", 1)
	if err := repo.InsertJob(ctx, nil, job); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}

	output := "stitched result"
	if err := repo.FinalizeJob(ctx, nil, "job-1", model.JobCompleted, &output); err != nil {
		t.Fatalf("FinalizeJob: %v", err)
	}

	got, err := repo.GetJob(ctx, nil, "job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != model.JobCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if got.StitchedOutput == nil || *got.StitchedOutput != output {
		t.Fatalf("stitched output = %v, want %q", got.StitchedOutput, output)
	}

	if err := repo.FinalizeJob(ctx, nil, "missing", model.JobFailed, nil); err != domain.ErrJobNotFound {
		t.Fatalf("expected ErrJobNotFound finalizing an unknown job, got %v", err)
	}
}

// TestJobRepo_IncrementCompletedChunks_ConcurrencySafe fires the
// counter increment concurrently from many goroutines and checks the
// server-side +1 never loses an update, the failure mode a
// read-modify-write in application code would be exposed to.
func TestJobRepo_IncrementCompletedChunks_ConcurrencySafe(t *testing.T) {
	cleanup(t)
	ctx := context.Background()
	repo := NewJobRepo(testPool, nil)

	const n = 25
	job := newTestJob("job-1", n)
	if err := repo.InsertJob(ctx, nil, job); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.IncrementCompletedChunks(ctx, nil, "job-1"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("IncrementCompletedChunks: %v", err)
	}

	got, err := repo.GetJob(ctx, nil, "job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.CompletedChunks != n {
		t.Fatalf("completed_chunks = %d, want %d after %d concurrent increments", got.CompletedChunks, n, n)
	}
}

func TestJobRepo_CompleteChunkAndCancelChunks(t *testing.T) {
	cleanup(t)
	ctx := context.Background()
	repo := NewJobRepo(testPool, nil)

	job := newTestJob("job-1", 2)
	if err := repo.InsertJob(ctx, nil, job); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}
	if err := repo.InsertChunks(ctx, nil, newTestChunks("job-1", 2)); err != nil {
		t.Fatalf("InsertChunks: %v", err)
	}

	if err := repo.SetChunkProcessing(ctx, nil, "job-1", 0); err != nil {
		t.Fatalf("SetChunkProcessing: %v", err)
	}
	if err := repo.CompleteChunk(ctx, nil, "job-1", 0, "answer", 42, 0.01); err != nil {
		t.Fatalf("CompleteChunk: %v", err)
	}

	c0, err := repo.GetChunk(ctx, nil, "job-1", 0)
	if err != nil {
		t.Fatalf("GetChunk: %v", err)
	}
	if c0.Status != model.ChunkCompleted || c0.OutputText == nil || *c0.OutputText != "answer" || c0.Tokens != 42 {
		t.Fatalf("unexpected completed chunk: %+v", c0)
	}

	n, err := repo.CancelChunks(ctx, nil, "job-1", model.ChunkPending, model.ChunkProcessing)
	if err != nil {
		t.Fatalf("CancelChunks: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 chunk cancelled (index 1, still pending), got %d", n)
	}

	c1, err := repo.GetChunk(ctx, nil, "job-1", 1)
	if err != nil {
		t.Fatalf("GetChunk: %v", err)
	}
	if c1.Status != model.ChunkCancelled {
		t.Fatalf("chunk 1 status = %s, want cancelled", c1.Status)
	}
}

// TestJobRepo_EncryptsAtRest confirms Chunk input/output and
// Job.StitchedOutput are stored as AES-GCM ciphertext, not plaintext,
// when the repo is constructed with an EncryptionService, while the
// repo's own read methods still return the original plaintext.
func TestJobRepo_EncryptsAtRest(t *testing.T) {
	cleanup(t)
	ctx := context.Background()
	enc, err := security.NewEncryptionService("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("NewEncryptionService: %v", err)
	}
	repo := NewJobRepo(testPool, enc)

	const plainInput = "sensitive chunk body"
	const plainStitched = "sensitive stitched output"

	job := newTestJob("job-1", 1)
	job.StitchedOutput = strPtr(plainStitched)
	if err := repo.InsertJob(ctx, nil, job); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}
	chunk := &model.Chunk{ID: "job-1-chunk-0", JobID: "job-1", Index: 0, InputText: plainInput, Status: model.ChunkPending}
	if err := repo.InsertChunks(ctx, nil, []*model.Chunk{chunk}); err != nil {
		t.Fatalf("InsertChunks: %v", err)
	}

	var rawInput, rawStitched string
	if err := testPool.QueryRow(ctx, `SELECT input_text FROM chunks WHERE id=$1`, "job-1-chunk-0").Scan(&rawInput); err != nil {
		t.Fatalf("raw select chunk: %v", err)
	}
	if err := testPool.QueryRow(ctx, `SELECT stitched_output FROM jobs WHERE id=$1`, "job-1").Scan(&rawStitched); err != nil {
		t.Fatalf("raw select job: %v", err)
	}
	if rawInput == plainInput {
		t.Fatalf("chunk input_text stored as plaintext, want ciphertext")
	}
	if rawStitched == plainStitched {
		t.Fatalf("job stitched_output stored as plaintext, want ciphertext")
	}
	if strings.TrimSpace(rawInput) == "" || strings.TrimSpace(rawStitched) == "" {
		t.Fatalf("expected non-empty ciphertext columns")
	}

	gotJob, err := repo.GetJob(ctx, nil, "job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if gotJob.StitchedOutput == nil || *gotJob.StitchedOutput != plainStitched {
		t.Fatalf("GetJob did not decrypt stitched output: %v", gotJob.StitchedOutput)
	}

	gotChunk, err := repo.GetChunk(ctx, nil, "job-1", 0)
	if err != nil {
		t.Fatalf("GetChunk: %v", err)
	}
	if gotChunk.InputText != plainInput {
		t.Fatalf("GetChunk did not decrypt input text: %q", gotChunk.InputText)
	}
}

func strPtr(s string) *string { return &s }
