package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"screentest-backend/internal/model"
	"screentest-backend/pkg/logger"
)

const (
	generationsDir = "generations"
	indexFile      = "generations.json"
)

// DiskStorage keeps one JSON file per generation plus an index of summaries, with a
// bounded in-memory cache of full records.
type DiskStorage struct {
	dataDir   string
	mu        sync.RWMutex
	cache     map[string]*model.GenerationRecord
	cacheSize int
}

func NewDiskStorage(dataDir string, cacheSize int) *DiskStorage {
	if cacheSize <= 0 {
		cacheSize = 100
	}
	return &DiskStorage{
		dataDir:   dataDir,
		cache:     make(map[string]*model.GenerationRecord),
		cacheSize: cacheSize,
	}
}

func (d *DiskStorage) Init() error {
	if err := d.createDirectories(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	if err := d.loadGenerations(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	logger.Infof("Disk storage initialized at %s", d.dataDir)
	return nil
}

func (d *DiskStorage) createDirectories() error {
	dirs := []string{
		d.dataDir,
		filepath.Join(d.dataDir, generationsDir),
		filepath.Join(d.dataDir, "backup"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return nil
}

// loadGenerations warms the cache from the index, newest first.
func (d *DiskStorage) loadGenerations() error {
	indexPath := filepath.Join(d.dataDir, indexFile)

	if _, err := os.Stat(indexPath); os.IsNotExist(err) {
		return d.updateGenerationIndex()
	}

	indexes, err := d.readIndex()
	if err != nil {
		return err
	}

	for _, index := range newestFirst(indexes, d.cacheSize) {
		record, err := d.loadGenerationFromFile(index.ID)
		if err != nil {
			logger.Errorf("Failed to load generation %s: %v", index.ID, err)
			continue
		}
		d.cache[index.ID] = record
	}

	return nil
}

func (d *DiskStorage) recordPath(id string) string {
	return filepath.Join(d.dataDir, generationsDir, id+".json")
}

func (d *DiskStorage) loadGenerationFromFile(id string) (*model.GenerationRecord, error) {
	data, err := os.ReadFile(d.recordPath(id))
	if err != nil {
		return nil, err
	}

	var record model.GenerationRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	return &record, nil
}

func (d *DiskStorage) readIndex() ([]model.GenerationSummary, error) {
	data, err := os.ReadFile(filepath.Join(d.dataDir, indexFile))
	if err != nil {
		return nil, err
	}

	var indexes []model.GenerationSummary
	if err := json.Unmarshal(data, &indexes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return indexes, nil
}

// writeJSON writes through a temp file so a crash never leaves a torn file behind.
func writeJSON(path string, v interface{}) error {
	tempPath := path + ".tmp"

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}

	return os.Rename(tempPath, path)
}

// updateGenerationIndex rebuilds the index from the record files on disk.
func (d *DiskStorage) updateGenerationIndex() error {
	files, err := os.ReadDir(filepath.Join(d.dataDir, generationsDir))
	if err != nil {
		return err
	}

	indexes := make([]model.GenerationSummary, 0, len(files))
	for _, file := range files {
		if filepath.Ext(file.Name()) != ".json" {
			continue
		}

		id := file.Name()[:len(file.Name())-5]
		record, err := d.loadGenerationFromFile(id)
		if err != nil {
			logger.Errorf("Failed to load generation %s for index update: %v", id, err)
			continue
		}
		indexes = append(indexes, record.Summary())
	}

	return writeJSON(filepath.Join(d.dataDir, indexFile), newestFirst(indexes, 0))
}

func (d *DiskStorage) SaveGeneration(ctx context.Context, record *model.GenerationRecord) error {
	if err := validateRecord(record); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := writeJSON(d.recordPath(record.ID), record); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	if err := d.updateGenerationIndex(); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	d.cache[record.ID] = cloneRecord(record)
	d.evictCache()

	return nil
}

func (d *DiskStorage) GetGeneration(ctx context.Context, id string) (*model.GenerationRecord, error) {
	if err := validateID(id); err != nil {
		return nil, ErrGenerationNotFound
	}

	d.mu.RLock()
	if record, exists := d.cache[id]; exists {
		d.mu.RUnlock()
		return cloneRecord(record), nil
	}
	d.mu.RUnlock()

	record, err := d.loadGenerationFromFile(id)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrGenerationNotFound
		}
		if errors.Is(err, ErrInvalidData) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	d.mu.Lock()
	d.cache[id] = record
	d.evictCache()
	d.mu.Unlock()

	return cloneRecord(record), nil
}

func (d *DiskStorage) ListGenerations(ctx context.Context, limit int) ([]model.GenerationSummary, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	indexes, err := d.readIndex()
	if err != nil {
		if errors.Is(err, ErrInvalidData) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	return newestFirst(indexes, limit), nil
}

func (d *DiskStorage) DeleteGeneration(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return ErrGenerationNotFound
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	path := d.recordPath(id)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return ErrGenerationNotFound
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	delete(d.cache, id)

	if err := d.updateGenerationIndex(); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	return nil
}

// evictCache drops the oldest records once the cache exceeds cacheSize.
func (d *DiskStorage) evictCache() {
	if len(d.cache) <= d.cacheSize {
		return
	}

	type cacheEntry struct {
		id        string
		createdAt time.Time
	}

	entries := make([]cacheEntry, 0, len(d.cache))
	for id, record := range d.cache {
		entries = append(entries, cacheEntry{
			id:        id,
			createdAt: record.CreatedAt,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].createdAt.Before(entries[j].createdAt)
	})

	toEvict := len(d.cache) - d.cacheSize
	for i := 0; i < toEvict; i++ {
		delete(d.cache, entries[i].id)
	}
}

func (d *DiskStorage) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cache = make(map[string]*model.GenerationRecord)
	return nil
}

// Backup copies the record files and the index into backup/backup_<unix>.
func (d *DiskStorage) Backup() error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	backupDir := filepath.Join(d.dataDir, "backup", fmt.Sprintf("backup_%d", time.Now().UnixNano()))
	dstDir := filepath.Join(backupDir, generationsDir)

	if err := os.MkdirAll(dstDir, 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	if err := copyDir(filepath.Join(d.dataDir, generationsDir), dstDir); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	if err := copyFile(filepath.Join(d.dataDir, indexFile), filepath.Join(backupDir, indexFile)); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	logger.Infof("Backup completed: %s", backupDir)
	return nil
}

func copyDir(src, dst string) error {
	files, err := os.ReadDir(src)
	if err != nil {
		return err
	}

	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}
		if err := copyFile(filepath.Join(src, file.Name()), filepath.Join(dst, file.Name())); err != nil {
			return err
		}
	}

	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}

	return os.WriteFile(dst, data, 0644)
}
