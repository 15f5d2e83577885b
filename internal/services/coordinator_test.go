package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fablearn/fablearn-backend/internal/types"
)

func newTestCoordinator(t *testing.T, backend *fakeBackendClient, quota *fakeQuota, enrich *fakeEnrichment, persist *fakePersistence, notifier *fakeNotifier) (*generationCoordinator, *[]time.Duration) {
	t.Helper()
	var sleeps []time.Duration
	c := &generationCoordinator{
		log:         testLogger(t).With("service", "GenerationCoordinator"),
		quota:       quota,
		backend:     backend,
		enrich:      enrich,
		persist:     persist,
		notifier:    notifier,
		sleep:       func(d time.Duration) { sleeps = append(sleeps, d) },
		maxAttempts: requestMaxAttempts,
		retryDelay:  requestRetryDelay,
	}
	return c, &sleeps
}

func validRequest(tier types.Tier) types.GenerationRequest {
	return types.GenerationRequest{
		Text:  "the water cycle",
		Level: types.LevelBeginner,
		Tier:  tier,
	}
}

func networkLost() error {
	return &types.TransportError{Failure: types.TransportNetworkLost, Err: errors.New("connection reset")}
}

func TestGenerateRejectsInvalidRequestWithoutBackendCall(t *testing.T) {
	backend := &fakeBackendClient{}
	notifier := &fakeNotifier{}
	c, _ := newTestCoordinator(t, backend, newFakeQuota(0, 12), &fakeEnrichment{}, &fakePersistence{}, notifier)

	req := validRequest(types.TierQuick)
	req.Text = "   "
	_, err := c.Generate(context.Background(), uuid.New(), req)

	var ve *types.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if backend.calls() != 0 {
		t.Fatalf("expected zero backend calls, got %d", backend.calls())
	}
	if len(notifier.failed) != 1 {
		t.Fatalf("expected one failure notification, got %d", len(notifier.failed))
	}
}

func TestGenerateRejectsOverlongInput(t *testing.T) {
	backend := &fakeBackendClient{}
	c, _ := newTestCoordinator(t, backend, newFakeQuota(0, 12), &fakeEnrichment{}, &fakePersistence{}, &fakeNotifier{})

	req := validRequest(types.TierQuick)
	req.Text = strings.Repeat("a", types.MaxInputChars+1)
	_, err := c.Generate(context.Background(), uuid.New(), req)

	var ve *types.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if backend.calls() != 0 {
		t.Fatalf("expected zero backend calls, got %d", backend.calls())
	}
}

func TestGenerateRejectsAtQuotaCeiling(t *testing.T) {
	backend := &fakeBackendClient{}
	quota := newFakeQuota(12, 12)
	notifier := &fakeNotifier{}
	userID := uuid.New()
	c, _ := newTestCoordinator(t, backend, quota, &fakeEnrichment{}, &fakePersistence{}, notifier)

	_, err := c.Generate(context.Background(), userID, validRequest(types.TierQuick))

	var qe *types.QuotaExceededError
	if !errors.As(err, &qe) {
		t.Fatalf("expected QuotaExceededError, got %v", err)
	}
	if backend.calls() != 0 {
		t.Fatalf("expected zero backend calls, got %d", backend.calls())
	}
	if !quota.IsLimited(userID) {
		t.Fatal("expected user to be flagged as limited")
	}
}

func TestGenerateRetriesNetworkLossThenSucceeds(t *testing.T) {
	failures := 2
	backend := &fakeBackendClient{
		generateFn: func(types.GenerationRequest) (types.Artifact, error) {
			if failures > 0 {
				failures--
				return nil, networkLost()
			}
			return &types.BlockSequence{Blocks: []*types.Block{
				{ID: uuid.New(), Type: types.BlockTypeParagraph, Content: "water evaporates"},
			}}, nil
		},
	}
	quota := newFakeQuota(0, 12)
	notifier := &fakeNotifier{}
	persist := &fakePersistence{}
	userID := uuid.New()
	c, sleeps := newTestCoordinator(t, backend, quota, &fakeEnrichment{}, persist, notifier)

	res, err := c.Generate(context.Background(), userID, validRequest(types.TierQuick))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Artifact == nil {
		t.Fatal("expected an artifact")
	}
	if backend.calls() != 3 {
		t.Fatalf("expected 3 attempts, got %d", backend.calls())
	}
	for i, d := range *sleeps {
		if d != requestRetryDelay {
			t.Fatalf("sleep %d: expected fixed %v delay, got %v", i, requestRetryDelay, d)
		}
	}
	if len(*sleeps) != 2 {
		t.Fatalf("expected 2 retry waits, got %d", len(*sleeps))
	}
	if len(persist.persisted) != 1 {
		t.Fatalf("expected one persisted artifact, got %d", len(persist.persisted))
	}
	if len(notifier.completed) != 1 {
		t.Fatalf("expected one completion, got %d", len(notifier.completed))
	}
}

func TestGenerateFailsAfterExhaustedRetries(t *testing.T) {
	backend := &fakeBackendClient{
		generateFn: func(types.GenerationRequest) (types.Artifact, error) {
			return nil, networkLost()
		},
	}
	notifier := &fakeNotifier{}
	c, _ := newTestCoordinator(t, backend, newFakeQuota(0, 12), &fakeEnrichment{}, &fakePersistence{}, notifier)

	_, err := c.Generate(context.Background(), uuid.New(), validRequest(types.TierQuick))
	if err == nil {
		t.Fatal("expected an error")
	}
	if backend.calls() != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", backend.calls())
	}
	if len(notifier.failed) != 1 {
		t.Fatalf("expected one failure notification, got %d", len(notifier.failed))
	}
	if len(notifier.completed) != 0 {
		t.Fatalf("expected no completion, got %d", len(notifier.completed))
	}
}

func TestGenerateDoesNotRetryNonRetryableFailures(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{"timeout", &types.TransportError{Failure: types.TransportTimeout, Err: errors.New("deadline exceeded")}},
		{"offline", &types.TransportError{Failure: types.TransportOffline, Err: errors.New("no route to host")}},
		{"server", &types.ServerError{StatusCode: 500, Message: "internal"}},
		{"decode", &types.DecodeError{Reason: "unexpected shape"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			backend := &fakeBackendClient{
				generateFn: func(types.GenerationRequest) (types.Artifact, error) {
					return nil, tc.err
				},
			}
			c, sleeps := newTestCoordinator(t, backend, newFakeQuota(0, 12), &fakeEnrichment{}, &fakePersistence{}, &fakeNotifier{})

			_, err := c.Generate(context.Background(), uuid.New(), validRequest(types.TierQuick))
			if err == nil {
				t.Fatal("expected an error")
			}
			if backend.calls() != 1 {
				t.Fatalf("expected exactly 1 attempt, got %d", backend.calls())
			}
			if len(*sleeps) != 0 {
				t.Fatalf("expected no retry waits, got %d", len(*sleeps))
			}
		})
	}
}

func TestGenerateStoryRunsEnrichmentAndReportsFourSteps(t *testing.T) {
	story := &types.Story{
		ID:    uuid.New(),
		Title: "The Lost Compass",
		Level: types.LevelBeginner,
		Chapters: []*types.Chapter{
			{ID: uuid.New(), Title: "Setting Out", Content: "A hiker sets out at dawn.", Order: 0},
		},
	}
	backend := &fakeBackendClient{
		generateFn: func(types.GenerationRequest) (types.Artifact, error) { return story, nil },
	}
	enrich := &fakeEnrichment{}
	notifier := &fakeNotifier{}
	c, _ := newTestCoordinator(t, backend, newFakeQuota(0, 12), enrich, &fakePersistence{}, notifier)

	_, err := c.Generate(context.Background(), uuid.New(), validRequest(types.TierStory))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if enrich.calls != 1 {
		t.Fatalf("expected one enrichment pass, got %d", enrich.calls)
	}

	want := []string{"generating", "illustrating", "saving", "completed"}
	if len(notifier.progress) != len(want) {
		t.Fatalf("expected %d progress events, got %d: %+v", len(want), len(notifier.progress), notifier.progress)
	}
	prev := 0
	for i, p := range notifier.progress {
		if p.Step != want[i] {
			t.Fatalf("progress %d: expected step %q, got %q", i, want[i], p.Step)
		}
		if p.TotalSteps != 4 {
			t.Fatalf("progress %d: expected 4 total steps, got %d", i, p.TotalSteps)
		}
		if p.StepNumber < prev {
			t.Fatalf("progress %d: step number went backwards (%d after %d)", i, p.StepNumber, prev)
		}
		prev = p.StepNumber
	}
	if notifier.progress[len(notifier.progress)-1].StepNumber != 4 {
		t.Fatalf("expected final step number 4, got %d", notifier.progress[len(notifier.progress)-1].StepNumber)
	}
}

func TestGenerateNoteWithoutImagesSkipsEnrichment(t *testing.T) {
	backend := &fakeBackendClient{
		generateFn: func(types.GenerationRequest) (types.Artifact, error) {
			return &types.BlockSequence{Blocks: []*types.Block{
				{ID: uuid.New(), Type: types.BlockTypeHeading, Content: "Photosynthesis"},
				{ID: uuid.New(), Type: types.BlockTypeParagraph, Content: "Plants convert light."},
			}}, nil
		},
	}
	enrich := &fakeEnrichment{}
	notifier := &fakeNotifier{}
	c, _ := newTestCoordinator(t, backend, newFakeQuota(0, 12), enrich, &fakePersistence{}, notifier)

	_, err := c.Generate(context.Background(), uuid.New(), validRequest(types.TierDetailed))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if enrich.calls != 0 {
		t.Fatalf("expected no enrichment pass, got %d", enrich.calls)
	}
	want := []string{"generating", "saving", "completed"}
	if len(notifier.progress) != len(want) {
		t.Fatalf("expected %d progress events, got %d", len(want), len(notifier.progress))
	}
	for i, p := range notifier.progress {
		if p.Step != want[i] {
			t.Fatalf("progress %d: expected step %q, got %q", i, want[i], p.Step)
		}
		if p.TotalSteps != 3 {
			t.Fatalf("progress %d: expected 3 total steps, got %d", i, p.TotalSteps)
		}
	}
}

func TestGenerateCompletesWithSaveErrorWhenPersistenceFails(t *testing.T) {
	backend := &fakeBackendClient{}
	persist := &fakePersistence{err: &types.PersistenceError{Err: errors.New("connection refused")}}
	notifier := &fakeNotifier{}
	quota := newFakeQuota(0, 12)
	userID := uuid.New()
	quota.MarkLimited(userID)
	c, _ := newTestCoordinator(t, backend, quota, &fakeEnrichment{}, persist, notifier)

	res, err := c.Generate(context.Background(), userID, validRequest(types.TierQuick))
	if err != nil {
		t.Fatalf("a failed save must not fail the run: %v", err)
	}
	if res.SaveError == nil {
		t.Fatal("expected a save error on the result")
	}
	if len(notifier.completed) != 1 {
		t.Fatalf("expected one completion, got %d", len(notifier.completed))
	}
	if notifier.completed[0].SaveError == "" {
		t.Fatal("expected the outcome to carry the save error")
	}
	if quota.IsLimited(userID) {
		t.Fatal("expected the limited flag to be cleared on completion")
	}
}

func TestGenerateRoutesTierToEndpoint(t *testing.T) {
	var got types.Tier
	mk := func(art types.Artifact) *fakeBackendClient {
		return &fakeBackendClient{
			generateFn: func(req types.GenerationRequest) (types.Artifact, error) {
				got = req.Tier
				return art, nil
			},
		}
	}

	cases := []struct {
		tier types.Tier
		art  types.Artifact
	}{
		{types.TierStory, &types.Story{ID: uuid.New(), Title: "t"}},
		{types.TierLecture, &types.Lecture{ID: uuid.New(), Title: "t"}},
		{types.TierQuick, &types.BlockSequence{}},
	}
	for _, tc := range cases {
		c, _ := newTestCoordinator(t, mk(tc.art), newFakeQuota(0, 12), &fakeEnrichment{}, &fakePersistence{}, &fakeNotifier{})
		if _, err := c.Generate(context.Background(), uuid.New(), validRequest(tc.tier)); err != nil {
			t.Fatalf("tier %s: %v", tc.tier, err)
		}
		if got != tc.tier {
			t.Fatalf("tier %s: request not routed", tc.tier)
		}
	}
}
