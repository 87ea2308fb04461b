package storage

import (
	"context"

	"screentest-backend/internal/model"
)

// Storage persists completed generations. Implementations return copies, never shared
// pointers, so records handed out cannot be mutated in place.
type Storage interface {
	// 生成记录管理
	SaveGeneration(ctx context.Context, record *model.GenerationRecord) error
	GetGeneration(ctx context.Context, id string) (*model.GenerationRecord, error)
	// ListGenerations returns summaries newest first. limit <= 0 means all.
	ListGenerations(ctx context.Context, limit int) ([]model.GenerationSummary, error)
	DeleteGeneration(ctx context.Context, id string) error

	// 存储管理
	Init() error
	Close() error
	Backup() error
}

func cloneRecord(r *model.GenerationRecord) *model.GenerationRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.PageNames = append([]string(nil), r.PageNames...)
	out.Result = r.Result.Clone()
	return &out
}

func validateRecord(r *model.GenerationRecord) error {
	if r == nil || r.ID == "" {
		return ErrInvalidData
	}
	return validateID(r.ID)
}
