package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fablearn/fablearn-backend/internal/types"
)

func newTestQuota(t *testing.T, stories *fakeStoryRepo, lectures *fakeLectureRepo, notes *fakeNoteRepo, limit int) QuotaService {
	t.Helper()
	return NewQuotaService(testLogger(t), stories, lectures, notes, limit)
}

func TestCountTodaySumsAllCategories(t *testing.T) {
	q := newTestQuota(t, &fakeStoryRepo{count: 3}, &fakeLectureRepo{count: 2}, &fakeNoteRepo{count: 4}, 12)

	got := q.CountToday(context.Background(), uuid.New(), time.Now())
	if got != 9 {
		t.Fatalf("expected 9, got %d", got)
	}
}

func TestCountTodayTreatsFailedCategoryAsZero(t *testing.T) {
	stories := &fakeStoryRepo{countErr: errors.New("connection refused")}
	q := newTestQuota(t, stories, &fakeLectureRepo{count: 2}, &fakeNoteRepo{count: 1}, 12)

	got := q.CountToday(context.Background(), uuid.New(), time.Now())
	if got != 3 {
		t.Fatalf("expected failing category to count as zero, got %d", got)
	}
}

func TestCountTodayUsesLocalDayWindow(t *testing.T) {
	stories := &fakeStoryRepo{}
	q := newTestQuota(t, stories, &fakeLectureRepo{}, &fakeNoteRepo{}, 12)

	asOf := time.Date(2026, 3, 14, 15, 9, 26, 0, time.Local)
	q.CountToday(context.Background(), uuid.New(), asOf)

	wantFrom := time.Date(2026, 3, 14, 0, 0, 0, 0, time.Local)
	if !stories.lastFrom.Equal(wantFrom) {
		t.Fatalf("expected window start %v, got %v", wantFrom, stories.lastFrom)
	}
	if !stories.lastTo.Equal(wantFrom.AddDate(0, 0, 1)) {
		t.Fatalf("expected window end %v, got %v", wantFrom.AddDate(0, 0, 1), stories.lastTo)
	}
}

func TestCheckAndReserveBelowCeiling(t *testing.T) {
	q := newTestQuota(t, &fakeStoryRepo{count: 5}, &fakeLectureRepo{count: 3}, &fakeNoteRepo{count: 3}, 12)

	if err := q.CheckAndReserve(context.Background(), uuid.New()); err != nil {
		t.Fatalf("expected pass at 11/12, got %v", err)
	}
}

func TestCheckAndReserveAtCeiling(t *testing.T) {
	q := newTestQuota(t, &fakeStoryRepo{count: 6}, &fakeLectureRepo{count: 3}, &fakeNoteRepo{count: 3}, 12)
	ownerID := uuid.New()

	err := q.CheckAndReserve(context.Background(), ownerID)
	var qe *types.QuotaExceededError
	if !errors.As(err, &qe) {
		t.Fatalf("expected QuotaExceededError at 12/12, got %v", err)
	}
	if qe.Used != 12 || qe.Limit != 12 {
		t.Fatalf("expected 12/12 on the error, got %d/%d", qe.Used, qe.Limit)
	}
	if !q.IsLimited(ownerID) {
		t.Fatal("hitting the ceiling must set the limited flag")
	}
}

func TestCheckAndReserveFailsOpenWhenEveryCountFails(t *testing.T) {
	q := newTestQuota(t,
		&fakeStoryRepo{countErr: errors.New("down")},
		&fakeLectureRepo{countErr: errors.New("down")},
		&fakeNoteRepo{countErr: errors.New("down")},
		12,
	)

	if err := q.CheckAndReserve(context.Background(), uuid.New()); err != nil {
		t.Fatalf("expected fail-open pass, got %v", err)
	}
}

func TestLimitedFlagLifecycle(t *testing.T) {
	q := newTestQuota(t, &fakeStoryRepo{}, &fakeLectureRepo{}, &fakeNoteRepo{}, 12)
	a, b := uuid.New(), uuid.New()

	if q.IsLimited(a) {
		t.Fatal("fresh user must not be limited")
	}
	q.MarkLimited(a)
	if !q.IsLimited(a) || q.IsLimited(b) {
		t.Fatal("limited flag must be per user")
	}
	q.ClearLimited(a)
	if q.IsLimited(a) {
		t.Fatal("cleared flag must not persist")
	}
}

func TestNewQuotaServiceDefaultsNonPositiveLimit(t *testing.T) {
	q := newTestQuota(t, &fakeStoryRepo{}, &fakeLectureRepo{}, &fakeNoteRepo{}, 0)
	if q.DailyLimit() != DefaultDailyLimit {
		t.Fatalf("expected default limit %d, got %d", DefaultDailyLimit, q.DailyLimit())
	}
}
