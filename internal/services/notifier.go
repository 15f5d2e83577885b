package services

import (
	"context"

	"github.com/google/uuid"

	redisclient "github.com/fablearn/fablearn-backend/internal/clients/redis"
	"github.com/fablearn/fablearn-backend/internal/logger"
	"github.com/fablearn/fablearn-backend/internal/realtime"
	"github.com/fablearn/fablearn-backend/internal/types"
)

// GenerationNotifier is the single observer contract both execution paths
// publish into. Background events use their own event names because no
// interactive session may be present when they fire.
type GenerationNotifier interface {
	Progress(userID uuid.UUID, p types.GenerationProgress)
	Completed(userID uuid.UUID, out types.GenerationOutcome)
	Failed(userID uuid.UUID, kind types.ArtifactKind, message string)
	BackgroundCompleted(userID uuid.UUID, out types.GenerationOutcome)
	BackgroundFailed(userID uuid.UUID, message string)
}

type generationNotifier struct {
	log *logger.Logger
	bus redisclient.NotifyBus
}

func NewGenerationNotifier(log *logger.Logger, bus redisclient.NotifyBus) GenerationNotifier {
	return &generationNotifier{
		log: log.With("service", "GenerationNotifier"),
		bus: bus,
	}
}

func (n *generationNotifier) publish(userID uuid.UUID, event string, data map[string]any) {
	if n == nil || n.bus == nil || userID == uuid.Nil {
		return
	}
	err := n.bus.Publish(context.Background(), realtime.Event{
		Channel: userID.String(),
		Event:   event,
		Data:    data,
	})
	if err != nil {
		n.log.Warn("event publish failed", "event", event, "user_id", userID, "error", err)
	}
}

func (n *generationNotifier) Progress(userID uuid.UUID, p types.GenerationProgress) {
	n.publish(userID, realtime.EventGenerationProgress, map[string]any{
		"step":        p.Step,
		"step_number": p.StepNumber,
		"total_steps": p.TotalSteps,
	})
}

func (n *generationNotifier) Completed(userID uuid.UUID, out types.GenerationOutcome) {
	data := map[string]any{
		"content_type": string(out.Kind()),
		"level":        string(out.Level),
	}
	if out.DocumentID != uuid.Nil {
		data["document_id"] = out.DocumentID.String()
	}
	if out.SaveError != "" {
		data["save_error"] = out.SaveError
	}
	n.publish(userID, realtime.EventGenerationCompleted, data)
}

func (n *generationNotifier) Failed(userID uuid.UUID, kind types.ArtifactKind, message string) {
	n.publish(userID, realtime.EventGenerationFailed, map[string]any{
		"content_type": string(kind),
		"error":        message,
	})
}

func (n *generationNotifier) BackgroundCompleted(userID uuid.UUID, out types.GenerationOutcome) {
	n.publish(userID, realtime.EventBackgroundCompleted, map[string]any{
		"content_type": string(out.Kind()),
		"level":        string(out.Level),
	})
}

func (n *generationNotifier) BackgroundFailed(userID uuid.UUID, message string) {
	n.publish(userID, realtime.EventBackgroundFailed, map[string]any{
		"error": message,
	})
}
