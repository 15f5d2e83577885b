package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/fablearn/fablearn-backend/internal/clients/backend"
	"github.com/fablearn/fablearn-backend/internal/logger"
	"github.com/fablearn/fablearn-backend/internal/types"
)

// UploadScheduler is the durable-upload facility: it takes a file-backed
// payload so the transfer can outlive the submitting session, and reports
// back through the CompletionSink on whatever goroutine it likes.
type UploadScheduler interface {
	Schedule(ctx context.Context, taskID uuid.UUID, endpoint string, payloadPath string, sink CompletionSink) error
}

// CompletionSink receives streamed response data for a scheduled task.
// Chunks arrive in append order within one task's stream; nothing more is
// assumed.
type CompletionSink interface {
	HandleChunk(taskID uuid.UUID, chunk []byte)
	HandleCompletion(taskID uuid.UUID, statusCode int, transportErr error)
}

// BackgroundBridge runs a generation request through the durable-upload
// path and replays completion into the same observer contract as the
// foreground coordinator.
type BackgroundBridge interface {
	CompletionSink
	Submit(ctx context.Context, userID uuid.UUID, req types.GenerationRequest) (uuid.UUID, error)
	// ActiveTasks reports how many runs still hold a buffer.
	ActiveTasks() int
}

type backgroundRun struct {
	userID      uuid.UUID
	request     types.GenerationRequest
	payloadPath string
	buf         bytes.Buffer
}

type backgroundBridge struct {
	log       *logger.Logger
	backend   backend.Client
	scheduler UploadScheduler
	notifier  GenerationNotifier

	// Completion callbacks arrive on arbitrary goroutines; every access
	// to the run map and its buffers is serialized here.
	mu   sync.Mutex
	runs map[uuid.UUID]*backgroundRun
}

func NewBackgroundBridge(log *logger.Logger, backendClient backend.Client, scheduler UploadScheduler, notifier GenerationNotifier) BackgroundBridge {
	return &backgroundBridge{
		log:       log.With("service", "BackgroundBridge"),
		backend:   backendClient,
		scheduler: scheduler,
		notifier:  notifier,
		runs:      map[uuid.UUID]*backgroundRun{},
	}
}

func (b *backgroundBridge) Submit(ctx context.Context, userID uuid.UUID, req types.GenerationRequest) (uuid.UUID, error) {
	if err := req.Validate(); err != nil {
		return uuid.Nil, err
	}

	// The request snapshot goes to disk, not an in-memory buffer, so the
	// upload facility can read it independently of process lifetime.
	payload := b.backend.PayloadForRequest(req)
	raw, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, err
	}
	f, err := os.CreateTemp("", "fablearn-bgreq-*.json")
	if err != nil {
		return uuid.Nil, fmt.Errorf("stage background payload: %w", err)
	}
	if _, err := f.Write(raw); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return uuid.Nil, fmt.Errorf("stage background payload: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return uuid.Nil, fmt.Errorf("stage background payload: %w", err)
	}

	taskID := uuid.New()
	run := &backgroundRun{
		userID:      userID,
		request:     req,
		payloadPath: f.Name(),
	}

	b.mu.Lock()
	b.runs[taskID] = run
	b.mu.Unlock()

	endpoint := b.backend.EndpointForTier(req.Tier)
	if err := b.scheduler.Schedule(ctx, taskID, endpoint, f.Name(), b); err != nil {
		b.mu.Lock()
		delete(b.runs, taskID)
		b.mu.Unlock()
		_ = os.Remove(f.Name())
		return uuid.Nil, fmt.Errorf("schedule background upload: %w", err)
	}

	b.log.Info("background run scheduled", "task_id", taskID, "user_id", userID, "tier", req.Tier)
	return taskID, nil
}

func (b *backgroundBridge) HandleChunk(taskID uuid.UUID, chunk []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	run, ok := b.runs[taskID]
	if !ok {
		return
	}
	run.buf.Write(chunk)
}

// HandleCompletion is the single terminal path for a task. The run's
// buffer and payload file are released no matter how the task ended;
// nothing keyed by the task id survives this call.
func (b *backgroundBridge) HandleCompletion(taskID uuid.UUID, statusCode int, transportErr error) {
	b.mu.Lock()
	run, ok := b.runs[taskID]
	if ok {
		delete(b.runs, taskID)
	}
	b.mu.Unlock()
	if !ok {
		b.log.Warn("completion for unknown task", "task_id", taskID)
		return
	}
	defer os.Remove(run.payloadPath)

	if transportErr != nil {
		b.log.Warn("background run transport failure", "task_id", taskID, "error", transportErr)
		b.notifier.BackgroundFailed(run.userID, fmt.Sprintf("background generation failed: %v", transportErr))
		return
	}
	if statusCode < 200 || statusCode >= 300 {
		msg := serverMessageFromBody(run.buf.Bytes())
		if msg == "" {
			msg = fmt.Sprintf("backend returned status %d", statusCode)
		}
		b.log.Warn("background run rejected by backend", "task_id", taskID, "status", statusCode)
		b.notifier.BackgroundFailed(run.userID, msg)
		return
	}

	// Decoded exactly as a foreground call would be, so the two paths are
	// observably equivalent.
	artifact, err := backend.DecodeArtifact(run.buf.Bytes())
	if err != nil {
		b.log.Warn("background run decode failed", "task_id", taskID, "error", err)
		b.notifier.BackgroundFailed(run.userID, err.Error())
		return
	}

	b.log.Info("background run completed", "task_id", taskID, "kind", artifact.ArtifactKind())
	b.notifier.BackgroundCompleted(run.userID, types.GenerationOutcome{
		Artifact: artifact,
		Level:    run.request.Level,
	})
}

func (b *backgroundBridge) ActiveTasks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.runs)
}

func serverMessageFromBody(raw []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	if body.Error != "" {
		return body.Error
	}
	return body.Message
}
