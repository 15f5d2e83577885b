package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fablearn/fablearn-backend/internal/logger"
	"github.com/fablearn/fablearn-backend/internal/realtime"
	"github.com/fablearn/fablearn-backend/internal/types"
)

var errUploadFailed = errors.New("upload failed")

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

// ---- backend client ----

type fakeBackendClient struct {
	mu sync.Mutex

	generateFn    func(req types.GenerationRequest) (types.Artifact, error)
	generateCalls int

	imageFn      func(prompt string) (string, error)
	imagePrompts []string
}

func (f *fakeBackendClient) generate(req types.GenerationRequest) (types.Artifact, error) {
	f.mu.Lock()
	f.generateCalls++
	f.mu.Unlock()
	if f.generateFn == nil {
		return &types.BlockSequence{}, nil
	}
	return f.generateFn(req)
}

func (f *fakeBackendClient) Process(_ context.Context, req types.GenerationRequest) (types.Artifact, error) {
	return f.generate(req)
}

func (f *fakeBackendClient) GenerateStory(_ context.Context, req types.GenerationRequest) (types.Artifact, error) {
	return f.generate(req)
}

func (f *fakeBackendClient) GenerateLecture(_ context.Context, req types.GenerationRequest) (types.Artifact, error) {
	return f.generate(req)
}

func (f *fakeBackendClient) GenerateImage(_ context.Context, prompt string, _ types.ImageStyle, _ string) (string, error) {
	f.mu.Lock()
	f.imagePrompts = append(f.imagePrompts, prompt)
	f.mu.Unlock()
	if f.imageFn == nil {
		return "https://images.test/generated.png", nil
	}
	return f.imageFn(prompt)
}

func (f *fakeBackendClient) EndpointForTier(tier types.Tier) string {
	switch tier {
	case types.TierStory:
		return "/generate_story"
	case types.TierLecture:
		return "/generate_lecture"
	default:
		return "/process"
	}
}

func (f *fakeBackendClient) PayloadForRequest(req types.GenerationRequest) map[string]any {
	return map[string]any{"text": req.Text, "level": string(req.Level)}
}

func (f *fakeBackendClient) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.generateCalls
}

// ---- notifier ----

type fakeNotifier struct {
	mu sync.Mutex

	progress      []types.GenerationProgress
	completed     []types.GenerationOutcome
	failed        []string
	failedKinds   []types.ArtifactKind
	bgCompleted   []types.GenerationOutcome
	bgFailed      []string
	bgCompletedBy []uuid.UUID
}

func (f *fakeNotifier) Progress(_ uuid.UUID, p types.GenerationProgress) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, p)
}

func (f *fakeNotifier) Completed(_ uuid.UUID, out types.GenerationOutcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, out)
}

func (f *fakeNotifier) Failed(_ uuid.UUID, kind types.ArtifactKind, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, message)
	f.failedKinds = append(f.failedKinds, kind)
}

func (f *fakeNotifier) BackgroundCompleted(userID uuid.UUID, out types.GenerationOutcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bgCompleted = append(f.bgCompleted, out)
	f.bgCompletedBy = append(f.bgCompletedBy, userID)
}

func (f *fakeNotifier) BackgroundFailed(_ uuid.UUID, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bgFailed = append(f.bgFailed, message)
}

// ---- quota ----

type fakeQuota struct {
	used    int
	limit   int
	limited map[uuid.UUID]bool
}

func newFakeQuota(used, limit int) *fakeQuota {
	return &fakeQuota{used: used, limit: limit, limited: map[uuid.UUID]bool{}}
}

func (f *fakeQuota) CountToday(context.Context, uuid.UUID, time.Time) int { return f.used }

func (f *fakeQuota) CheckAndReserve(_ context.Context, ownerID uuid.UUID) error {
	if f.used >= f.limit {
		f.limited[ownerID] = true
		return &types.QuotaExceededError{Used: f.used, Limit: f.limit}
	}
	return nil
}

func (f *fakeQuota) DailyLimit() int                 { return f.limit }
func (f *fakeQuota) MarkLimited(ownerID uuid.UUID)   { f.limited[ownerID] = true }
func (f *fakeQuota) ClearLimited(ownerID uuid.UUID)  { delete(f.limited, ownerID) }
func (f *fakeQuota) IsLimited(ownerID uuid.UUID) bool { return f.limited[ownerID] }

// ---- enrichment ----

type fakeEnrichment struct {
	calls int
	fn    func(art types.Artifact)
}

func (f *fakeEnrichment) Enrich(_ context.Context, _ uuid.UUID, art types.Artifact) {
	f.calls++
	if f.fn != nil {
		f.fn(art)
	}
}

// ---- persistence ----

type fakePersistence struct {
	docID     uuid.UUID
	err       error
	persisted []types.Artifact
}

func (f *fakePersistence) PersistArtifact(_ context.Context, _ uuid.UUID, _ types.GenerationRequest, art types.Artifact) (uuid.UUID, error) {
	f.persisted = append(f.persisted, art)
	if f.err != nil {
		return uuid.Nil, f.err
	}
	if f.docID == uuid.Nil {
		f.docID = uuid.New()
	}
	return f.docID, nil
}

func (f *fakePersistence) LoadStory(context.Context, uuid.UUID) (*types.Story, error)     { return nil, nil }
func (f *fakePersistence) LoadLecture(context.Context, uuid.UUID) (*types.Lecture, error) { return nil, nil }
func (f *fakePersistence) LoadNote(context.Context, uuid.UUID) (*types.BlockSequence, error) {
	return nil, nil
}
func (f *fakePersistence) CompletedCount() int64 { return int64(len(f.persisted)) }

// ---- repos ----

type fakeStoryRepo struct {
	count    int64
	countErr error
	lastFrom time.Time
	lastTo   time.Time
	upserted []*types.StoryDocument
	stored   *types.StoryDocument
}

func (f *fakeStoryRepo) Upsert(_ context.Context, _ *gorm.DB, doc *types.StoryDocument) error {
	f.upserted = append(f.upserted, doc)
	f.stored = doc
	return nil
}

func (f *fakeStoryRepo) GetByID(_ context.Context, _ *gorm.DB, id uuid.UUID) (*types.StoryDocument, error) {
	if f.stored != nil && f.stored.ID == id {
		return f.stored, nil
	}
	return nil, nil
}

func (f *fakeStoryRepo) CountCreatedBetween(_ context.Context, _ *gorm.DB, _ uuid.UUID, from, to time.Time) (int64, error) {
	f.lastFrom = from
	f.lastTo = to
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.count, nil
}

type fakeLectureRepo struct {
	count    int64
	countErr error
	upserted []*types.LectureDocument
	stored   *types.LectureDocument
}

func (f *fakeLectureRepo) Upsert(_ context.Context, _ *gorm.DB, doc *types.LectureDocument) error {
	f.upserted = append(f.upserted, doc)
	f.stored = doc
	return nil
}

func (f *fakeLectureRepo) GetByID(_ context.Context, _ *gorm.DB, id uuid.UUID) (*types.LectureDocument, error) {
	if f.stored != nil && f.stored.ID == id {
		return f.stored, nil
	}
	return nil, nil
}

func (f *fakeLectureRepo) CountCreatedBetween(_ context.Context, _ *gorm.DB, _ uuid.UUID, _, _ time.Time) (int64, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.count, nil
}

type fakeNoteRepo struct {
	count     int64
	countErr  error
	createErr error
	created   []*types.NoteDocument
}

func (f *fakeNoteRepo) Create(_ context.Context, _ *gorm.DB, doc *types.NoteDocument) error {
	if f.createErr != nil {
		return f.createErr
	}
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	f.created = append(f.created, doc)
	return nil
}

func (f *fakeNoteRepo) GetByID(_ context.Context, _ *gorm.DB, id uuid.UUID) (*types.NoteDocument, error) {
	for _, doc := range f.created {
		if doc.ID == id {
			return doc, nil
		}
	}
	return nil, nil
}

func (f *fakeNoteRepo) CountCreatedBetween(_ context.Context, _ *gorm.DB, _ uuid.UUID, _, _ time.Time) (int64, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.count, nil
}

// ---- bucket ----

type fakeBucket struct {
	mu       sync.Mutex
	keys     []string
	metadata []map[string]string
	failAll  bool
}

func (f *fakeBucket) UploadBytes(_ context.Context, key string, _ []byte, metadata map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return "", errUploadFailed
	}
	f.keys = append(f.keys, key)
	f.metadata = append(f.metadata, metadata)
	return "https://cdn.test/" + key, nil
}

func (f *fakeBucket) DeleteFile(context.Context, string) error { return nil }
func (f *fakeBucket) GetPublicURL(key string) string           { return "https://cdn.test/" + key }

// ---- scheduler ----

type fakeScheduler struct {
	mu          sync.Mutex
	scheduled   []uuid.UUID
	endpoints   []string
	payloadPath string
	err         error
}

func (f *fakeScheduler) Schedule(_ context.Context, taskID uuid.UUID, endpoint string, payloadPath string, _ CompletionSink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.scheduled = append(f.scheduled, taskID)
	f.endpoints = append(f.endpoints, endpoint)
	f.payloadPath = payloadPath
	return nil
}

// ---- bus ----

type fakeBus struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (f *fakeBus) Publish(_ context.Context, evt realtime.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
	return nil
}

func (f *fakeBus) StartForwarder(context.Context, func(realtime.Event)) error { return nil }
func (f *fakeBus) Close() error                                              { return nil }
