package types

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxInputChars bounds the submitted text; anything longer is rejected
// before a network call is made.
const MaxInputChars = 5000

type Level string

const (
	LevelBeginner     Level = "beginner"
	LevelIntermediate Level = "intermediate"
	LevelAdvanced     Level = "advanced"
)

// Tier selects the backend endpoint and the shape of the result.
type Tier string

const (
	TierQuick     Tier = "quick"
	TierTakeaways Tier = "takeaways"
	TierDetailed  Tier = "detailed"
	TierStory     Tier = "story"
	TierLecture   Tier = "lecture"
)

type Genre string

const (
	GenreAdventure Genre = "adventure"
	GenreFantasy   Genre = "fantasy"
	GenreMystery   Genre = "mystery"
	GenreSciFi     Genre = "scifi"
	GenreHumor     Genre = "humor"
)

type ImageStyle string

const (
	ImageStyleCartoon    ImageStyle = "cartoon"
	ImageStyleWatercolor ImageStyle = "watercolor"
	ImageStyleRealistic  ImageStyle = "realistic"
	ImageStyleAnime      ImageStyle = "anime"
)

// GenerationRequest is immutable once submitted. It is also the shape
// serialized to disk when a background run is started, so a run can be
// decoded independently of the submitting session.
type GenerationRequest struct {
	Text          string     `json:"text"`
	Level         Level      `json:"level"`
	Tier          Tier       `json:"tier"`
	Genre         Genre      `json:"genre,omitempty"`
	MainCharacter string     `json:"main_character,omitempty"`
	ImageStyle    ImageStyle `json:"image_style,omitempty"`

	// Profile sub-document carried on the generic /process endpoint.
	StudentLevel     string   `json:"student_level,omitempty"`
	TopicsOfInterest []string `json:"topics_of_interest,omitempty"`
}

func (r GenerationRequest) Validate() error {
	text := strings.TrimSpace(r.Text)
	if text == "" {
		return &ValidationError{Reason: "input text is empty"}
	}
	if utf8.RuneCountInString(r.Text) > MaxInputChars {
		return &ValidationError{Reason: "input text exceeds 5000 characters"}
	}
	switch r.Tier {
	case TierQuick, TierTakeaways, TierDetailed, TierStory, TierLecture:
	default:
		return &ValidationError{Reason: "unknown tier"}
	}
	return nil
}

// TotalSteps is fixed per tier: stories carry an extra enrichment stage.
func (r GenerationRequest) TotalSteps() int {
	if r.Tier == TierStory {
		return 4
	}
	return 3
}

// GenerationProgress is published on every stage transition. StepNumber is
// monotonically non-decreasing within a single run.
type GenerationProgress struct {
	Step       string `json:"step"`
	StepNumber int    `json:"step_number"`
	TotalSteps int    `json:"total_steps"`
}

// GenerationOutcome is the single result contract shared by the foreground
// coordinator and the background bridge.
type GenerationOutcome struct {
	Artifact   Artifact
	DocumentID uuid.UUID
	Level      Level
	SaveError  string
}

func (o GenerationOutcome) Kind() ArtifactKind {
	if o.Artifact == nil {
		return ""
	}
	return o.Artifact.ArtifactKind()
}
