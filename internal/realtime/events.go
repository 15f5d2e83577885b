package realtime

// Event is one observer-facing message. Channel is the recipient user id;
// both the foreground coordinator and the background bridge publish into
// the same event contract.
type Event struct {
	Channel string         `json:"channel"`
	Event   string         `json:"event"`
	Data    map[string]any `json:"data"`
}

const (
	EventGenerationProgress  = "generation.progress"
	EventGenerationCompleted = "generation.completed"
	EventGenerationFailed    = "generation.failed"
	EventBackgroundCompleted = "generation.background.completed"
	EventBackgroundFailed    = "generation.background.failed"
)
