package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"screentest-backend/internal/model"
	"screentest-backend/internal/pipeline"
	"screentest-backend/internal/storage"
	"screentest-backend/pkg/logger"

	"github.com/google/uuid"
)

// GenerationService runs the pipeline and keeps a record of every generation it serves.
type GenerationService struct {
	pipeline *pipeline.Pipeline
	storage  storage.Storage
	now      func() time.Time
}

func NewGenerationService(p *pipeline.Pipeline, store storage.Storage) *GenerationService {
	if store == nil {
		store = storage.NewMemoryStorage()
	}
	return &GenerationService{
		pipeline: p,
		storage:  store,
		now:      time.Now,
	}
}

// Stream is a running generation. Events is closed before the single StreamResult is
// delivered on Done.
type Stream struct {
	Events <-chan model.ProgressEvent
	Done   <-chan StreamResult
}

type StreamResult struct {
	Response *model.GenerateResponse
	Err      error
}

func (s *GenerationService) Generate(ctx context.Context, req model.GenerationRequest) (*model.GenerateResponse, error) {
	return s.run(ctx, req, nil)
}

// GenerateStream runs the generation in the background and reports each pipeline stage.
// Cancelling ctx abandons the wait; an identical request already in flight still
// finishes and populates the cache.
func (s *GenerationService) GenerateStream(ctx context.Context, req model.GenerationRequest) *Stream {
	progress := NewProgressManager(0)
	done := make(chan StreamResult, 1)

	go func() {
		resp, err := s.run(ctx, req, progress.Observer())
		if err == nil {
			progress.SendEvent(StageCompleted, map[string]interface{}{
				"generationId":  resp.GenerationID,
				"testCaseCount": len(resp.AllTestCases),
			})
		}
		progress.Close()
		done <- StreamResult{Response: resp, Err: err}
	}()

	return &Stream{Events: progress.Events(), Done: done}
}

func (s *GenerationService) run(ctx context.Context, req model.GenerationRequest, observe pipeline.Observer) (*model.GenerateResponse, error) {
	outcome, err := s.pipeline.Run(ctx, req, observe)
	if err != nil {
		return nil, err
	}

	record := &model.GenerationRecord{
		ID:            uuid.New().String(),
		Fingerprint:   outcome.Fingerprint,
		PageNames:     req.PageNames(),
		Provider:      s.pipeline.ProviderName(),
		Model:         s.pipeline.Model(),
		CacheHit:      outcome.CacheHit,
		Regenerated:   outcome.Regenerated,
		TestCaseCount: len(outcome.Result.AllTestCases),
		CreatedAt:     s.now(),
		Result:        outcome.Result,
	}

	resp := &model.GenerateResponse{
		Fingerprint:      outcome.Fingerprint,
		CacheHit:         outcome.CacheHit,
		GenerationResult: outcome.Result,
	}

	// 记录保存失败不影响本次结果返回
	if err := s.storage.SaveGeneration(ctx, record); err != nil {
		logger.WithFields(map[string]interface{}{
			"fingerprint": outcome.Fingerprint,
			"error":       err.Error(),
		}).Error("failed to save generation record")
		return resp, nil
	}

	resp.GenerationID = record.ID
	return resp, nil
}

func (s *GenerationService) GetGeneration(ctx context.Context, id string) (*model.GenerationRecord, error) {
	record, err := s.storage.GetGeneration(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrGenerationNotFound) {
			return nil, fmt.Errorf("%w: %s", storage.ErrGenerationNotFound, id)
		}
		return nil, fmt.Errorf("failed to get generation: %w", err)
	}
	return record, nil
}

func (s *GenerationService) ListGenerations(ctx context.Context, limit int) ([]model.GenerationSummary, error) {
	summaries, err := s.storage.ListGenerations(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}
	if summaries == nil {
		summaries = []model.GenerationSummary{}
	}
	return summaries, nil
}

func (s *GenerationService) DeleteGeneration(ctx context.Context, id string) error {
	if err := s.storage.DeleteGeneration(ctx, id); err != nil {
		if errors.Is(err, storage.ErrGenerationNotFound) {
			return fmt.Errorf("%w: %s", storage.ErrGenerationNotFound, id)
		}
		return fmt.Errorf("failed to delete generation: %w", err)
	}
	return nil
}

// ProviderName and Model describe the upstream the pipeline calls.
func (s *GenerationService) ProviderName() string { return s.pipeline.ProviderName() }

func (s *GenerationService) Model() string { return s.pipeline.Model() }

// CleanupOlderThan deletes records created before now-retention and returns how many
// were removed.
func (s *GenerationService) CleanupOlderThan(ctx context.Context, retention time.Duration) (int, error) {
	summaries, err := s.storage.ListGenerations(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list generations for cleanup: %w", err)
	}

	cutoff := s.now().Add(-retention)
	removed := 0
	for _, summary := range summaries {
		if !summary.CreatedAt.Before(cutoff) {
			continue
		}
		if err := s.storage.DeleteGeneration(ctx, summary.ID); err != nil {
			logger.Errorf("Failed to delete expired generation %s: %v", summary.ID, err)
			continue
		}
		removed++
	}
	return removed, nil
}

// RunCleanup deletes expired records every interval until ctx is done.
func (s *GenerationService) RunCleanup(ctx context.Context, retention, interval time.Duration) {
	if retention <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.CleanupOlderThan(ctx, retention)
			if err != nil {
				logger.Errorf("Generation cleanup failed: %v", err)
				continue
			}
			if removed > 0 {
				logger.Infof("Cleaned up %d expired generations", removed)
			}
		}
	}
}
