package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fablearn/fablearn-backend/internal/logger"
	"github.com/fablearn/fablearn-backend/internal/repos"
	"github.com/fablearn/fablearn-backend/internal/types"
)

// DefaultDailyLimit is the generation ceiling per user per local calendar
// day, summed across stories, lectures and notes.
const DefaultDailyLimit = 12

type QuotaService interface {
	// CountToday sums completed generations whose creation timestamp falls
	// in asOf's local day. A failing category count is treated as zero:
	// availability wins over strict quota accuracy.
	CountToday(ctx context.Context, ownerID uuid.UUID, asOf time.Time) int
	// CheckAndReserve is a best-effort pre-check, not an atomic
	// reservation; two concurrent submissions from the same user can both
	// pass.
	CheckAndReserve(ctx context.Context, ownerID uuid.UUID) error
	DailyLimit() int

	// Limited flags are process-local UI hints, set when a submission hits
	// the ceiling and cleared by the next completed generation.
	MarkLimited(ownerID uuid.UUID)
	ClearLimited(ownerID uuid.UUID)
	IsLimited(ownerID uuid.UUID) bool
}

type quotaService struct {
	log      *logger.Logger
	stories  repos.StoryRepo
	lectures repos.LectureRepo
	notes    repos.NoteRepo
	limit    int

	mu      sync.Mutex
	limited map[uuid.UUID]bool
}

func NewQuotaService(log *logger.Logger, stories repos.StoryRepo, lectures repos.LectureRepo, notes repos.NoteRepo, limit int) QuotaService {
	if limit <= 0 {
		limit = DefaultDailyLimit
	}
	return &quotaService{
		log:      log.With("service", "QuotaService"),
		stories:  stories,
		lectures: lectures,
		notes:    notes,
		limit:    limit,
		limited:  map[uuid.UUID]bool{},
	}
}

func (s *quotaService) DailyLimit() int { return s.limit }

func (s *quotaService) CountToday(ctx context.Context, ownerID uuid.UUID, asOf time.Time) int {
	from, to := localDayWindow(asOf)

	total := 0
	if s.stories != nil {
		n, err := s.stories.CountCreatedBetween(ctx, nil, ownerID, from, to)
		if err != nil {
			s.log.Warn("story count failed, treating as zero", "owner_id", ownerID, "error", err)
		} else {
			total += int(n)
		}
	}
	if s.lectures != nil {
		n, err := s.lectures.CountCreatedBetween(ctx, nil, ownerID, from, to)
		if err != nil {
			s.log.Warn("lecture count failed, treating as zero", "owner_id", ownerID, "error", err)
		} else {
			total += int(n)
		}
	}
	if s.notes != nil {
		n, err := s.notes.CountCreatedBetween(ctx, nil, ownerID, from, to)
		if err != nil {
			s.log.Warn("note count failed, treating as zero", "owner_id", ownerID, "error", err)
		} else {
			total += int(n)
		}
	}
	return total
}

func (s *quotaService) CheckAndReserve(ctx context.Context, ownerID uuid.UUID) error {
	used := s.CountToday(ctx, ownerID, time.Now())
	if used >= s.limit {
		s.MarkLimited(ownerID)
		return &types.QuotaExceededError{Used: used, Limit: s.limit}
	}
	return nil
}

func (s *quotaService) MarkLimited(ownerID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limited[ownerID] = true
}

func (s *quotaService) ClearLimited(ownerID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.limited, ownerID)
}

func (s *quotaService) IsLimited(ownerID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limited[ownerID]
}

// localDayWindow is derived per check, never stored.
func localDayWindow(asOf time.Time) (time.Time, time.Time) {
	local := asOf.Local()
	y, m, d := local.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, local.Location())
	return start, start.AddDate(0, 0, 1)
}
