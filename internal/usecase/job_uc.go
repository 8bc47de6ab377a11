package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"telegram-ai-subscription/internal/bigcontext/chunker"
	"telegram-ai-subscription/internal/bigcontext/scheduler"
	"telegram-ai-subscription/internal/bigcontext/sizer"
	"telegram-ai-subscription/internal/bigcontext/stitcher"
	"telegram-ai-subscription/internal/bigcontext/tokenest"
	"telegram-ai-subscription/internal/domain"
	"telegram-ai-subscription/internal/domain/model"
	"telegram-ai-subscription/internal/domain/ports/adapter"
	"telegram-ai-subscription/internal/domain/ports/repository"
	"telegram-ai-subscription/internal/infra/logging"
	"telegram-ai-subscription/internal/infra/metrics"
	"telegram-ai-subscription/internal/infra/redis"
)

const (
	failurePrefix     = "[Big Context Processing Failed]"
	jobLockTTL        = 90 * time.Second
	jobLockRefreshFor = 30 * time.Second
)

// StartParams is the input to Start. EstimateOnly short-circuits before
// any side effect and only returns the cost preview.
type StartParams struct {
	ChatID           string
	Text             string
	Instruction      string
	ModelID          string
	EnableStitchPass bool
	EstimateOnly     bool
}

// StartResult carries either a launched job id or a cost estimate,
// never both.
type StartResult struct {
	JobID           string
	EstimateOnly    bool
	EstimatedChunks int
	EstimatedTokens int
	EstimatedCost   float64
}

// JobUseCase implements the five Control Endpoints against the Job
// Store, the Scheduler, and the Stitcher.
type JobUseCase interface {
	Start(ctx context.Context, p StartParams) (*StartResult, error)
	Cancel(ctx context.Context, jobID string) error
	RetryFailed(ctx context.Context, jobID string) error
	Resume(ctx context.Context, jobID string) error
	FetchDocument(ctx context.Context, chatID string) (string, error)
	ActiveJob(ctx context.Context, chatID string) (*model.Job, error)
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	CostSummary(ctx context.Context, jobID string) (*JobCostSummary, error)
}

// JobCostSummary is the admin-facing cost/token aggregate for one job,
// derived from the same per-chunk Cost/Tokens fields the progress
// publisher folds into Snapshot.TotalCost/TotalTokens.
type JobCostSummary struct {
	JobID           string          `json:"jobId"`
	Status          model.JobStatus `json:"status"`
	TotalChunks     int             `json:"totalChunks"`
	CompletedChunks int             `json:"completedChunks"`
	FailedChunks    int             `json:"failedChunks"`
	TotalTokens     int             `json:"totalTokens"`
	TotalCost       float64         `json:"totalCost"`
}

var _ JobUseCase = (*jobUC)(nil)

type jobUC struct {
	jobs    repository.JobStore
	chats   repository.ChatStore
	catalog ModelCatalogUseCase
	remote  adapter.RemoteClient
	sched   *scheduler.Scheduler
	locker  redis.Locker
	log     *zerolog.Logger
}

func NewJobUseCase(
	jobs repository.JobStore,
	chats repository.ChatStore,
	catalog ModelCatalogUseCase,
	remote adapter.RemoteClient,
	sched *scheduler.Scheduler,
	locker redis.Locker,
	logger *zerolog.Logger,
) JobUseCase {
	return &jobUC{jobs: jobs, chats: chats, catalog: catalog, remote: remote, sched: sched, locker: locker, log: logger}
}

func (u *jobUC) Start(ctx context.Context, p StartParams) (*StartResult, error) {
	chatID := strings.TrimSpace(p.ChatID)
	instruction := strings.TrimSpace(p.Instruction)
	if chatID == "" || strings.TrimSpace(p.Text) == "" || instruction == "" {
		return nil, domain.ErrInvalidArgument
	}
	if _, err := u.chats.GetChat(ctx, nil, chatID); err != nil {
		return nil, err
	}

	entry, err := u.catalog.Get(ctx, p.ModelID)
	if err != nil {
		if err == domain.ErrNotFound {
			return nil, domain.ErrInvalidArgument
		}
		return nil, err
	}

	instructionTokens := tokenest.Estimate(instruction)
	maxChunkTokens := sizer.MaxChunkTokens(entry.ContextLength, instructionTokens, entry.MaxOutput)
	pieces := chunker.Split(p.Text, maxChunkTokens)
	if len(pieces) == 0 {
		return nil, domain.ErrInvalidArgument
	}

	estimatedTokens := 0
	for _, piece := range pieces {
		estimatedTokens += tokenest.Estimate(piece.Text) + instructionTokens
	}
	estimatedCost := float64(estimatedTokens) / 1_000_000 * entry.InputPricePerMillion

	if p.EstimateOnly {
		return &StartResult{
			EstimateOnly:    true,
			EstimatedChunks: len(pieces),
			EstimatedTokens: estimatedTokens,
			EstimatedCost:   estimatedCost,
		}, nil
	}

	jobID := uuid.NewString()
	now := time.Now()
	job := &model.Job{
		ID:               jobID,
		ChatID:           chatID,
		Status:           model.JobProcessing,
		TotalChunks:      len(pieces),
		CompletedChunks:  0,
		Instruction:      instruction,
		ModelID:          entry.ID,
		EnableStitchPass: p.EnableStitchPass,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := u.jobs.InsertJob(ctx, nil, job); err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	if err := u.jobs.InsertChunks(ctx, nil, chunksFrom(jobID, pieces)); err != nil {
		return nil, fmt.Errorf("insert chunks: %w", err)
	}

	notice := model.NewMessage(chatID, model.RoleSystem, fmt.Sprintf("Started processing %d chunks.", len(pieces)), 0)
	notice.JobID = &jobID
	if err := u.chats.AppendMessage(ctx, nil, notice); err != nil {
		logging.With(ctx, u.log).Error().Err(err).Msg("append job-started message failed")
	}

	token, err := u.acquireLock(ctx, jobID)
	if err != nil {
		return nil, err
	}
	go u.runAndFinalize(context.Background(), jobID, token, allIndexes(len(pieces)))

	return &StartResult{JobID: jobID}, nil
}

// acquireLock takes job:lock:<jobID> for the duration of one dispatcher
// run. Failure to acquire means another process already owns the job,
// which start, resume and retry-failed surface as domain.ErrJobLocked
// (a 409 conflict) rather than silently double-running the dispatcher.
func (u *jobUC) acquireLock(ctx context.Context, jobID string) (string, error) {
	token, err := u.locker.TryLock(ctx, "job:lock:"+jobID, jobLockTTL)
	if err != nil {
		return "", domain.ErrJobLocked
	}
	return token, nil
}

func (u *jobUC) Cancel(ctx context.Context, jobID string) error {
	job, err := u.jobs.GetJob(ctx, nil, jobID)
	if err != nil {
		return err
	}
	if !job.IsCancellable() {
		return domain.ErrJobNotCancellable
	}
	if err := u.jobs.SetJobStatus(ctx, nil, jobID, model.JobCancelled); err != nil {
		return err
	}
	if _, err := u.jobs.CancelChunks(ctx, nil, jobID, model.ChunkPending, model.ChunkProcessing); err != nil {
		return err
	}
	metrics.IncJob("cancelled")
	return nil
}

func (u *jobUC) RetryFailed(ctx context.Context, jobID string) error {
	job, err := u.jobs.GetJob(ctx, nil, jobID)
	if err != nil {
		return err
	}
	failed, err := u.jobs.FindChunksByStatus(ctx, nil, jobID, model.ChunkFailed)
	if err != nil {
		return err
	}
	if len(failed) == 0 {
		return nil
	}
	indexes := make([]int, len(failed))
	for i, c := range failed {
		indexes[i] = c.Index
	}
	if err := u.jobs.ResetChunksToPending(ctx, nil, jobID, indexes); err != nil {
		return err
	}
	if err := u.jobs.SetCompletedChunks(ctx, nil, jobID, job.CompletedChunks-len(indexes)); err != nil {
		return err
	}
	if err := u.jobs.SetJobStatus(ctx, nil, jobID, model.JobProcessing); err != nil {
		return err
	}
	token, err := u.acquireLock(ctx, jobID)
	if err != nil {
		return err
	}
	go u.runAndFinalize(context.Background(), jobID, token, indexes)
	return nil
}

func (u *jobUC) Resume(ctx context.Context, jobID string) error {
	job, err := u.jobs.GetJob(ctx, nil, jobID)
	if err != nil {
		return err
	}
	switch job.Status {
	case model.JobPending, model.JobProcessing, model.JobStitching:
	default:
		return domain.ErrJobNotResumable
	}

	inFlight, err := u.jobs.FindChunksByStatus(ctx, nil, jobID, model.ChunkProcessing, model.ChunkPending)
	if err != nil {
		return err
	}
	var processingIdx, allIdx []int
	for _, c := range inFlight {
		allIdx = append(allIdx, c.Index)
		if c.Status == model.ChunkProcessing {
			processingIdx = append(processingIdx, c.Index)
		}
	}
	if len(processingIdx) > 0 {
		if err := u.jobs.ResetChunksToPending(ctx, nil, jobID, processingIdx); err != nil {
			return err
		}
	}
	recount, err := u.jobs.RecountCompletedChunks(ctx, nil, jobID)
	if err != nil {
		return err
	}
	if err := u.jobs.SetCompletedChunks(ctx, nil, jobID, recount); err != nil {
		return err
	}
	if err := u.jobs.SetJobStatus(ctx, nil, jobID, model.JobProcessing); err != nil {
		return err
	}
	token, err := u.acquireLock(ctx, jobID)
	if err != nil {
		return err
	}
	go u.runAndFinalize(context.Background(), jobID, token, allIdx)
	return nil
}

func (u *jobUC) FetchDocument(ctx context.Context, chatID string) (string, error) {
	jobs, err := u.jobs.FindJobsByChat(ctx, nil, chatID, "")
	if err != nil {
		return "", err
	}
	if len(jobs) == 0 {
		return "", domain.ErrJobNotFound
	}
	chunks, err := u.jobs.ListChunks(ctx, nil, jobs[0].ID)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.InputText
	}
	return strings.Join(parts, ""), nil
}

func (u *jobUC) ActiveJob(ctx context.Context, chatID string) (*model.Job, error) {
	return u.jobs.LatestActiveJobByChat(ctx, nil, chatID)
}

// GetJob looks up a job by id, the same not-found mapping every other
// jobID-scoped control endpoint uses. handleStream calls this before
// switching into SSE mode so an unknown id gets a 404 instead of an
// empty stream.
func (u *jobUC) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	return u.jobs.GetJob(ctx, nil, jobID)
}

// CostSummary backs the admin-only cost view: unlike Start's pre-run
// estimate, every figure here is the real, provider-reported usage
// scheduler.go persisted per chunk.
func (u *jobUC) CostSummary(ctx context.Context, jobID string) (*JobCostSummary, error) {
	job, err := u.jobs.GetJob(ctx, nil, jobID)
	if err != nil {
		return nil, err
	}
	chunks, err := u.jobs.ListChunks(ctx, nil, jobID)
	if err != nil {
		return nil, err
	}
	sum := &JobCostSummary{
		JobID:           job.ID,
		Status:          job.Status,
		TotalChunks:     job.TotalChunks,
		CompletedChunks: job.CompletedChunks,
	}
	for _, c := range chunks {
		sum.TotalTokens += c.Tokens
		sum.TotalCost += c.Cost
		if c.Status == model.ChunkFailed {
			sum.FailedChunks++
		}
	}
	return sum, nil
}

// runAndFinalize owns one dispatcher run end to end, holding the job's
// ownership lock (already acquired by the caller) for the duration: it
// drives the scheduler over indexes and performs finalization (stitch +
// terminal write + assistant message) once every chunk has a recorded
// outcome. It never returns an error to a caller; infrastructure
// failures are recorded on the job itself.
func (u *jobUC) runAndFinalize(ctx context.Context, jobID, lockToken string, indexes []int) {
	log := logging.With(logging.WithJobID(ctx, jobID), u.log)

	lockKey := "job:lock:" + jobID
	stop := make(chan struct{})
	go u.refreshLock(lockKey, lockToken, stop)
	defer u.locker.Unlock(context.Background(), lockKey, lockToken)
	defer close(stop)

	job, err := u.jobs.GetJob(ctx, nil, jobID)
	if err != nil {
		log.Error().Err(err).Msg("read job before dispatch failed")
		return
	}

	entry, err := u.catalog.Get(ctx, job.ModelID)
	maxOutput := 0
	if err == nil {
		maxOutput = entry.MaxOutput
	}

	runErr := u.sched.Run(ctx, scheduler.RunParams{
		JobID:           jobID,
		Instruction:     job.Instruction,
		ModelID:         job.ModelID,
		TotalChunks:     job.TotalChunks,
		MaxOutputTokens: maxOutput,
		Indexes:         indexes,
	})
	if runErr != nil {
		log.Error().Err(runErr).Msg("scheduler run failed, marking job failed")
		if ferr := u.jobs.FinalizeJob(context.Background(), nil, jobID, model.JobFailed, nil); ferr != nil {
			log.Error().Err(ferr).Msg("finalize after scheduler failure failed")
		}
		metrics.IncJob("failed")
		u.appendFailureMessage(context.Background(), job.ChatID, jobID, runErr)
		return
	}

	// The scheduler returns nil both when every chunk reached a
	// terminal outcome and when it stopped early because the job was
	// cancelled mid-dispatch. Cancelled is a terminal status with no
	// outgoing transition, so finalize must not overwrite it with
	// completed/failed.
	after, err := u.jobs.GetJob(context.Background(), nil, jobID)
	if err != nil {
		log.Error().Err(err).Msg("read job after dispatch failed")
		return
	}
	if after.Status == model.JobCancelled {
		return
	}

	u.finalize(context.Background(), jobID)
}

func (u *jobUC) refreshLock(lockKey, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(jobLockRefreshFor)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_ = u.locker.Refresh(context.Background(), lockKey, token, jobLockTTL)
		}
	}
}

// finalize assembles the stitched output from every completed chunk (in
// index order) and writes the terminal (status, stitchedOutput) pair,
// then appends the assistant message unless one already exists for this
// job (a crash-recovery duplicate-insert guard used by resume).
func (u *jobUC) finalize(ctx context.Context, jobID string) {
	log := logging.With(logging.WithJobID(ctx, jobID), u.log)

	job, err := u.jobs.GetJob(ctx, nil, jobID)
	if err != nil {
		log.Error().Err(err).Msg("read job for finalize failed")
		return
	}
	chunks, err := u.jobs.ListChunks(ctx, nil, jobID)
	if err != nil {
		log.Error().Err(err).Msg("list chunks for finalize failed")
		return
	}

	var outputs []string
	for _, c := range chunks {
		if c.Status == model.ChunkCompleted && c.OutputText != nil {
			outputs = append(outputs, *c.OutputText)
		}
	}

	var (
		finalStatus model.JobStatus
		content     string
	)
	if len(outputs) == 0 {
		finalStatus = model.JobFailed
		content = failurePrefix + " every chunk failed."
	} else {
		if err := u.jobs.SetJobStatus(ctx, nil, jobID, model.JobStitching); err != nil {
			log.Error().Err(err).Msg("set stitching status failed")
		}

		entry, err := u.catalog.Get(ctx, job.ModelID)
		contextLength, maxOutput := 0, 0
		if err == nil {
			contextLength, maxOutput = entry.ContextLength, entry.MaxOutput
		}
		stitched, err := stitcher.Stitch(ctx, u.remote, stitcher.Params{
			Outputs:          outputs,
			Instruction:      job.Instruction,
			ModelID:          job.ModelID,
			ContextLength:    contextLength,
			MaxOutputTokens:  maxOutput,
			EnableStitchPass: job.EnableStitchPass,
		})
		if err != nil {
			log.Error().Err(err).Msg("stitch pass failed, falling back would require a second attempt")
			finalStatus = model.JobFailed
			content = failurePrefix + " " + err.Error()
		} else {
			finalStatus = model.JobCompleted
			content = stitched
		}
	}

	if err := u.jobs.FinalizeJob(ctx, nil, jobID, finalStatus, &content); err != nil {
		log.Error().Err(err).Msg("finalize job write failed")
		return
	}
	metrics.IncJob(string(finalStatus))

	exists, err := u.chats.HasAssistantMessageForJob(ctx, nil, job.ChatID, jobID)
	if err != nil {
		log.Error().Err(err).Msg("check existing assistant message failed")
		return
	}
	if exists {
		return
	}
	msg := model.NewMessage(job.ChatID, model.RoleAssistant, content, tokenest.Estimate(content))
	msg.JobID = &jobID
	if err := u.chats.AppendMessage(ctx, nil, msg); err != nil {
		log.Error().Err(err).Msg("append assistant message failed")
	}
}

func (u *jobUC) appendFailureMessage(ctx context.Context, chatID, jobID string, cause error) {
	content := fmt.Sprintf("%s %s", failurePrefix, cause.Error())
	msg := model.NewMessage(chatID, model.RoleAssistant, content, tokenest.Estimate(content))
	msg.JobID = &jobID
	if err := u.chats.AppendMessage(ctx, nil, msg); err != nil {
		logging.With(ctx, u.log).Error().Err(err).Msg("append failure message failed")
	}
}

func chunksFrom(jobID string, pieces []chunker.Chunk) []*model.Chunk {
	out := make([]*model.Chunk, len(pieces))
	for i, p := range pieces {
		out[i] = &model.Chunk{
			ID:        uuid.NewString(),
			JobID:     jobID,
			Index:     p.Index,
			InputText: p.Text,
			Status:    model.ChunkPending,
		}
	}
	return out
}

func allIndexes(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
