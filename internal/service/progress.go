package service

import (
	"sync"
	"time"

	"screentest-backend/internal/model"
	"screentest-backend/internal/pipeline"
	"screentest-backend/pkg/logger"
)

// StageCompleted is the last event of a successful stream.
const StageCompleted = "completed"

var stageMessages = map[string]string{
	pipeline.StageValidated:  "Request validated",
	pipeline.StageCacheHit:   "Returning cached test cases",
	pipeline.StageJoined:     "Joined an identical generation already in progress",
	pipeline.StageLoading:    "Loading screenshots",
	pipeline.StageGenerating: "Generating test cases",
	pipeline.StageNormalized: "Test cases normalized",
	StageCompleted:           "Generation complete",
}

// ProgressManager fans pipeline stages out to a buffered channel. Sends never block and
// are dropped once the manager is closed, so a shared generation that outlives its
// caller can keep reporting safely.
type ProgressManager struct {
	mu           sync.Mutex
	progressChan chan model.ProgressEvent
	closed       bool
}

func NewProgressManager(buffer int) *ProgressManager {
	if buffer <= 0 {
		buffer = 32
	}
	return &ProgressManager{
		progressChan: make(chan model.ProgressEvent, buffer),
	}
}

// SendEvent 非阻塞发送进度事件
func (pm *ProgressManager) SendEvent(stage string, data map[string]interface{}) {
	event := model.ProgressEvent{
		Stage:     stage,
		Message:   stageMessages[stage],
		Timestamp: time.Now(),
		Data:      data,
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.closed {
		return
	}

	select {
	case pm.progressChan <- event:
	default:
		logger.Warnf("Progress channel is full, dropping %s event", stage)
	}
}

// Observer adapts the manager to pipeline.Observer.
func (pm *ProgressManager) Observer() pipeline.Observer {
	return pm.SendEvent
}

func (pm *ProgressManager) Events() <-chan model.ProgressEvent {
	return pm.progressChan
}

// Close is idempotent.
func (pm *ProgressManager) Close() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.closed {
		return
	}
	pm.closed = true
	close(pm.progressChan)
}
