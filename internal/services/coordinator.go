package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fablearn/fablearn-backend/internal/clients/backend"
	"github.com/fablearn/fablearn-backend/internal/logger"
	"github.com/fablearn/fablearn-backend/internal/types"
)

const (
	// requestMaxAttempts bounds the primary call: one attempt plus two
	// retries on a dropped connection.
	requestMaxAttempts = 3
	// requestRetryDelay is fixed, not exponential: the failure mode being
	// retried is a transient connection drop, not server overload.
	requestRetryDelay = 2 * time.Second
)

// GenerationResult is what a finished run hands back to the caller. A
// non-nil SaveError means the artifact exists and was delivered but the
// document write failed; generation still counts as completed.
type GenerationResult struct {
	Artifact   types.Artifact
	DocumentID uuid.UUID
	SaveError  error
}

// GenerationCoordinator drives one request through validate, quota check,
// the primary backend call, enrichment and persistence, reporting progress
// and terminal state along the way.
type GenerationCoordinator interface {
	Generate(ctx context.Context, userID uuid.UUID, req types.GenerationRequest) (*GenerationResult, error)
}

type generationCoordinator struct {
	log      *logger.Logger
	quota    QuotaService
	backend  backend.Client
	enrich   EnrichmentPipeline
	persist  PersistenceService
	notifier GenerationNotifier

	sleep       func(d time.Duration)
	maxAttempts int
	retryDelay  time.Duration
}

func NewGenerationCoordinator(
	log *logger.Logger,
	quota QuotaService,
	backendClient backend.Client,
	enrich EnrichmentPipeline,
	persist PersistenceService,
	notifier GenerationNotifier,
) GenerationCoordinator {
	return &generationCoordinator{
		log:         log.With("service", "GenerationCoordinator"),
		quota:       quota,
		backend:     backendClient,
		enrich:      enrich,
		persist:     persist,
		notifier:    notifier,
		sleep:       time.Sleep,
		maxAttempts: requestMaxAttempts,
		retryDelay:  requestRetryDelay,
	}
}

// requestState is the explicit loop state for the primary call, kept as a
// small enum so the attempt boundary is directly testable.
type requestState int

const (
	stateRequesting requestState = iota
	stateRetryWait
	stateSucceeded
	stateFailed
)

func (c *generationCoordinator) Generate(ctx context.Context, userID uuid.UUID, req types.GenerationRequest) (*GenerationResult, error) {
	kind := kindForTier(req.Tier)
	totalSteps := req.TotalSteps()

	// Validating: zero-cost fast failure before any network call.
	if err := req.Validate(); err != nil {
		c.notifier.Failed(userID, kind, err.Error())
		return nil, err
	}

	// QuotaChecking: at or over the ceiling fails without a network call.
	if err := c.quota.CheckAndReserve(ctx, userID); err != nil {
		c.notifier.Failed(userID, kind, err.Error())
		return nil, err
	}

	// Requesting, with Retrying re-entering Requesting.
	c.progress(userID, "generating", 1, totalSteps)
	artifact, err := c.requestWithRetry(ctx, userID, req, totalSteps)
	if err != nil {
		c.notifier.Failed(userID, kind, err.Error())
		return nil, err
	}

	// Enriching: partial success is a valid terminal state, so this stage
	// never fails the run.
	step := 1
	if types.HasEnrichableItems(artifact) {
		step++
		c.progress(userID, "illustrating", step, totalSteps)
		c.enrich.Enrich(ctx, userID, artifact)
	}

	// Persisting: a failed write surfaces a cloud-save error without
	// retracting the generation itself.
	step++
	c.progress(userID, "saving", step, totalSteps)
	docID, saveErr := c.persist.PersistArtifact(ctx, userID, req, artifact)

	step++
	c.progress(userID, "completed", step, totalSteps)
	c.quota.ClearLimited(userID)

	out := types.GenerationOutcome{
		Artifact:   artifact,
		DocumentID: docID,
		Level:      req.Level,
	}
	if saveErr != nil {
		out.SaveError = saveErr.Error()
	}
	c.notifier.Completed(userID, out)

	return &GenerationResult{
		Artifact:   artifact,
		DocumentID: docID,
		SaveError:  saveErr,
	}, nil
}

func (c *generationCoordinator) requestWithRetry(ctx context.Context, userID uuid.UUID, req types.GenerationRequest, totalSteps int) (types.Artifact, error) {
	var (
		artifact types.Artifact
		lastErr  error
	)

	attempts := 0
	state := stateRequesting
	for state == stateRequesting || state == stateRetryWait {
		switch state {
		case stateRequesting:
			attempts++
			artifact, lastErr = c.invoke(ctx, req)
			if lastErr == nil {
				state = stateSucceeded
				break
			}
			// Only a dropped connection is presumed transient; every
			// other transport, server or decode failure is terminal.
			if types.IsRetryableTransport(lastErr) && attempts < c.maxAttempts {
				c.log.Warn("primary call lost connection, retrying",
					"attempt", attempts,
					"max_attempts", c.maxAttempts,
				)
				c.progress(userID, fmt.Sprintf("retrying (attempt %d of %d)", attempts+1, c.maxAttempts), 1, totalSteps)
				state = stateRetryWait
			} else {
				state = stateFailed
			}
		case stateRetryWait:
			c.sleep(c.retryDelay)
			state = stateRequesting
		}
	}

	if state == stateFailed {
		return nil, lastErr
	}
	return artifact, nil
}

func (c *generationCoordinator) invoke(ctx context.Context, req types.GenerationRequest) (types.Artifact, error) {
	switch req.Tier {
	case types.TierStory:
		return c.backend.GenerateStory(ctx, req)
	case types.TierLecture:
		return c.backend.GenerateLecture(ctx, req)
	default:
		return c.backend.Process(ctx, req)
	}
}

func (c *generationCoordinator) progress(userID uuid.UUID, step string, number, total int) {
	c.notifier.Progress(userID, types.GenerationProgress{
		Step:       step,
		StepNumber: number,
		TotalSteps: total,
	})
}

func kindForTier(tier types.Tier) types.ArtifactKind {
	switch tier {
	case types.TierStory:
		return types.ArtifactKindStory
	case types.TierLecture:
		return types.ArtifactKindLecture
	default:
		return types.ArtifactKindBlocks
	}
}
