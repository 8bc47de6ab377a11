package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/lib/pq"

	"telegram-ai-subscription/internal/domain"
	"telegram-ai-subscription/internal/domain/model"
	"telegram-ai-subscription/internal/domain/ports/repository"
	"telegram-ai-subscription/internal/infra/security"
)

var _ repository.JobStore = (*jobRepo)(nil)

// jobRepo persists jobs and chunks, optionally encrypting Chunk
// input/output text and Job.stitchedOutput at rest with the same
// AES-GCM service ChatRepo uses for message content. A nil enc
// leaves storage plaintext, matching the teacher's dev-mode fallback.
type jobRepo struct {
	pool *pgxpool.Pool
	enc  *security.EncryptionService
}

func NewJobRepo(pool *pgxpool.Pool, enc *security.EncryptionService) *jobRepo {
	return &jobRepo{pool: pool, enc: enc}
}

func (r *jobRepo) encryptStr(s string) (string, error) {
	if r.enc == nil {
		return s, nil
	}
	return r.enc.Encrypt(s)
}

func (r *jobRepo) decryptStr(s string) (string, error) {
	if r.enc == nil {
		return s, nil
	}
	return r.enc.Decrypt(s)
}

func (r *jobRepo) encryptPtr(s *string) (*string, error) {
	if s == nil {
		return nil, nil
	}
	enc, err := r.encryptStr(*s)
	if err != nil {
		return nil, err
	}
	return &enc, nil
}

func (r *jobRepo) decryptPtr(s *string) (*string, error) {
	if s == nil {
		return nil, nil
	}
	dec, err := r.decryptStr(*s)
	if err != nil {
		return nil, err
	}
	return &dec, nil
}

func (r *jobRepo) InsertJob(ctx context.Context, tx repository.Tx, j *model.Job) error {
	stitched, err := r.encryptPtr(j.StitchedOutput)
	if err != nil {
		return fmt.Errorf("encrypt stitched output: %w", err)
	}
	const q = `
INSERT INTO jobs (id, chat_id, status, total_chunks, completed_chunks, instruction, model_id, enable_stitch_pass, stitched_output, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  completed_chunks = EXCLUDED.completed_chunks,
  stitched_output = EXCLUDED.stitched_output,
  updated_at = EXCLUDED.updated_at;`
	_, err = execSQL(ctx, r.pool, tx, q,
		j.ID, j.ChatID, string(j.Status), j.TotalChunks, j.CompletedChunks, j.Instruction, j.ModelID,
		j.EnableStitchPass, stitched, j.CreatedAt, j.UpdatedAt)
	return err
}

func (r *jobRepo) InsertChunks(ctx context.Context, tx repository.Tx, chunks []*model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	const q = `
INSERT INTO chunks (id, job_id, index, input_text, output_text, status, error, tokens, cost)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (job_id, index) DO NOTHING;`
	for _, c := range chunks {
		input, err := r.encryptStr(c.InputText)
		if err != nil {
			return fmt.Errorf("encrypt chunk input: %w", err)
		}
		output, err := r.encryptPtr(c.OutputText)
		if err != nil {
			return fmt.Errorf("encrypt chunk output: %w", err)
		}
		if _, err := execSQL(ctx, r.pool, tx, q,
			c.ID, c.JobID, c.Index, input, output, string(c.Status), c.Error, c.Tokens, c.Cost); err != nil {
			return err
		}
	}
	return nil
}

func (r *jobRepo) GetJob(ctx context.Context, tx repository.Tx, jobID string) (*model.Job, error) {
	const q = `
SELECT id, chat_id, status, total_chunks, completed_chunks, instruction, model_id, enable_stitch_pass, stitched_output, created_at, updated_at
  FROM jobs WHERE id=$1;`
	row := queryRow(ctx, r.pool, tx, q, jobID)
	return r.scanJob(row)
}

func (r *jobRepo) FindJobsByChat(ctx context.Context, tx repository.Tx, chatID string, status model.JobStatus) ([]*model.Job, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if status == "" {
		const q = `
SELECT id, chat_id, status, total_chunks, completed_chunks, instruction, model_id, enable_stitch_pass, stitched_output, created_at, updated_at
  FROM jobs WHERE chat_id=$1 ORDER BY created_at DESC;`
		rows, err = query(ctx, r.pool, tx, q, chatID)
	} else {
		const q = `
SELECT id, chat_id, status, total_chunks, completed_chunks, instruction, model_id, enable_stitch_pass, stitched_output, created_at, updated_at
  FROM jobs WHERE chat_id=$1 AND status=$2 ORDER BY created_at DESC;`
		rows, err = query(ctx, r.pool, tx, q, chatID, string(status))
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Job
	for rows.Next() {
		j, err := r.scanJobRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *jobRepo) LatestActiveJobByChat(ctx context.Context, tx repository.Tx, chatID string) (*model.Job, error) {
	const q = `
SELECT id, chat_id, status, total_chunks, completed_chunks, instruction, model_id, enable_stitch_pass, stitched_output, created_at, updated_at
  FROM jobs
 WHERE chat_id=$1 AND status NOT IN ('completed','failed','cancelled')
 ORDER BY created_at DESC
 LIMIT 1;`
	row := queryRow(ctx, r.pool, tx, q, chatID)
	return r.scanJob(row)
}

// FinalizeJob writes the terminal status and output in one statement so
// no reader ever observes a completed job with a null output.
func (r *jobRepo) FinalizeJob(ctx context.Context, tx repository.Tx, jobID string, status model.JobStatus, stitchedOutput *string) error {
	stitched, err := r.encryptPtr(stitchedOutput)
	if err != nil {
		return fmt.Errorf("encrypt stitched output: %w", err)
	}
	const q = `UPDATE jobs SET status=$2, stitched_output=$3, updated_at=NOW() WHERE id=$1;`
	tag, err := execSQL(ctx, r.pool, tx, q, jobID, string(status), stitched)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

func (r *jobRepo) SetJobStatus(ctx context.Context, tx repository.Tx, jobID string, status model.JobStatus) error {
	const q = `UPDATE jobs SET status=$2, updated_at=NOW() WHERE id=$1;`
	tag, err := execSQL(ctx, r.pool, tx, q, jobID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// IncrementCompletedChunks is a server-side +1: two dispatcher goroutines
// completing chunks concurrently for the same job never lose an update.
func (r *jobRepo) IncrementCompletedChunks(ctx context.Context, tx repository.Tx, jobID string) (int, error) {
	const q = `UPDATE jobs SET completed_chunks = completed_chunks + 1, updated_at=NOW() WHERE id=$1 RETURNING completed_chunks;`
	row := queryRow(ctx, r.pool, tx, q, jobID)
	var n int
	if err := row.Scan(&n); err != nil {
		if err == pgx.ErrNoRows {
			return 0, domain.ErrJobNotFound
		}
		return 0, err
	}
	return n, nil
}

// RecountCompletedChunks derives the count from chunk rows directly; used
// by resume to repair a counter that may have drifted from a crash
// between chunk completion and the counter increment.
func (r *jobRepo) RecountCompletedChunks(ctx context.Context, tx repository.Tx, jobID string) (int, error) {
	const q = `SELECT COUNT(*) FROM chunks WHERE job_id=$1 AND status='completed';`
	row := queryRow(ctx, r.pool, tx, q, jobID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *jobRepo) SetCompletedChunks(ctx context.Context, tx repository.Tx, jobID string, n int) error {
	const q = `UPDATE jobs SET completed_chunks=$2, updated_at=NOW() WHERE id=$1;`
	_, err := execSQL(ctx, r.pool, tx, q, jobID, n)
	return err
}

func (r *jobRepo) ListChunks(ctx context.Context, tx repository.Tx, jobID string) ([]*model.Chunk, error) {
	const q = `
SELECT id, job_id, index, input_text, output_text, status, error, tokens, cost
  FROM chunks WHERE job_id=$1 ORDER BY index ASC;`
	rows, err := query(ctx, r.pool, tx, q, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Chunk
	for rows.Next() {
		c, err := r.scanChunkRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *jobRepo) GetChunk(ctx context.Context, tx repository.Tx, jobID string, index int) (*model.Chunk, error) {
	const q = `
SELECT id, job_id, index, input_text, output_text, status, error, tokens, cost
  FROM chunks WHERE job_id=$1 AND index=$2;`
	row := queryRow(ctx, r.pool, tx, q, jobID, index)
	c, statusStr := new(model.Chunk), ""
	if err := row.Scan(&c.ID, &c.JobID, &c.Index, &c.InputText, &c.OutputText, &statusStr, &c.Error, &c.Tokens, &c.Cost); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrChunkNotFound
		}
		return nil, err
	}
	c.Status = model.ChunkStatus(statusStr)
	if err := r.decryptChunk(c); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *jobRepo) FindChunksByStatus(ctx context.Context, tx repository.Tx, jobID string, statuses ...model.ChunkStatus) ([]*model.Chunk, error) {
	const q = `
SELECT id, job_id, index, input_text, output_text, status, error, tokens, cost
  FROM chunks WHERE job_id=$1 AND status = ANY($2) ORDER BY index ASC;`
	rows, err := query(ctx, r.pool, tx, q, jobID, pq.Array(statusStrings(statuses)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Chunk
	for rows.Next() {
		c, err := r.scanChunkRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetChunkProcessing performs the atomic claim: a chunk moves to
// processing only from pending or failed (retry), never from a state
// another worker already owns.
func (r *jobRepo) SetChunkProcessing(ctx context.Context, tx repository.Tx, jobID string, index int) error {
	const q = `
UPDATE chunks SET status='processing', error=NULL
 WHERE job_id=$1 AND index=$2 AND status IN ('pending','failed')
 RETURNING id;`
	row := queryRow(ctx, r.pool, tx, q, jobID, index)
	var id string
	if err := row.Scan(&id); err != nil {
		if err == pgx.ErrNoRows {
			return domain.ErrChunkNotFound
		}
		return err
	}
	return nil
}

func (r *jobRepo) CompleteChunk(ctx context.Context, tx repository.Tx, jobID string, index int, output string, tokens int, cost float64) error {
	encOutput, err := r.encryptStr(output)
	if err != nil {
		return fmt.Errorf("encrypt chunk output: %w", err)
	}
	const q = `
UPDATE chunks SET status='completed', output_text=$3, tokens=$4, cost=$5, error=NULL
 WHERE job_id=$1 AND index=$2;`
	tag, err := execSQL(ctx, r.pool, tx, q, jobID, index, encOutput, tokens, cost)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrChunkNotFound
	}
	return nil
}

func (r *jobRepo) FailChunk(ctx context.Context, tx repository.Tx, jobID string, index int, errMsg string) error {
	const q = `UPDATE chunks SET status='failed', error=$3 WHERE job_id=$1 AND index=$2;`
	tag, err := execSQL(ctx, r.pool, tx, q, jobID, index, errMsg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrChunkNotFound
	}
	return nil
}

func (r *jobRepo) CancelChunks(ctx context.Context, tx repository.Tx, jobID string, statuses ...model.ChunkStatus) (int, error) {
	const q = `UPDATE chunks SET status='cancelled' WHERE job_id=$1 AND status = ANY($2);`
	tag, err := execSQL(ctx, r.pool, tx, q, jobID, pq.Array(statusStrings(statuses)))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *jobRepo) ResetChunksToPending(ctx context.Context, tx repository.Tx, jobID string, indexes []int) error {
	if len(indexes) == 0 {
		return nil
	}
	const q = `UPDATE chunks SET status='pending', error=NULL WHERE job_id=$1 AND index = ANY($2);`
	_, err := execSQL(ctx, r.pool, tx, q, jobID, pq.Array(indexes))
	return err
}

func statusStrings(statuses []model.ChunkStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func (r *jobRepo) scanJob(row pgx.Row) (*model.Job, error) {
	j, statusStr := new(model.Job), ""
	err := row.Scan(&j.ID, &j.ChatID, &statusStr, &j.TotalChunks, &j.CompletedChunks, &j.Instruction, &j.ModelID,
		&j.EnableStitchPass, &j.StitchedOutput, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, err
	}
	j.Status = model.JobStatus(statusStr)
	if err := r.decryptJob(j); err != nil {
		return nil, err
	}
	return j, nil
}

func (r *jobRepo) scanJobRow(rows pgx.Rows) (*model.Job, error) {
	j, statusStr := new(model.Job), ""
	if err := rows.Scan(&j.ID, &j.ChatID, &statusStr, &j.TotalChunks, &j.CompletedChunks, &j.Instruction, &j.ModelID,
		&j.EnableStitchPass, &j.StitchedOutput, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Status = model.JobStatus(statusStr)
	if err := r.decryptJob(j); err != nil {
		return nil, err
	}
	return j, nil
}

func (r *jobRepo) scanChunkRow(rows pgx.Rows) (*model.Chunk, error) {
	c, statusStr := new(model.Chunk), ""
	if err := rows.Scan(&c.ID, &c.JobID, &c.Index, &c.InputText, &c.OutputText, &statusStr, &c.Error, &c.Tokens, &c.Cost); err != nil {
		return nil, err
	}
	c.Status = model.ChunkStatus(statusStr)
	if err := r.decryptChunk(c); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *jobRepo) decryptJob(j *model.Job) error {
	out, err := r.decryptPtr(j.StitchedOutput)
	if err != nil {
		return fmt.Errorf("decrypt stitched output: %w", err)
	}
	j.StitchedOutput = out
	return nil
}

func (r *jobRepo) decryptChunk(c *model.Chunk) error {
	in, err := r.decryptStr(c.InputText)
	if err != nil {
		return fmt.Errorf("decrypt chunk input: %w", err)
	}
	c.InputText = in
	out, err := r.decryptPtr(c.OutputText)
	if err != nil {
		return fmt.Errorf("decrypt chunk output: %w", err)
	}
	c.OutputText = out
	return nil
}
