package types

import (
	"github.com/google/uuid"
)

type ArtifactKind string

const (
	ArtifactKindStory  ArtifactKind = "story"
	ArtifactKindLecture ArtifactKind = "lecture"
	ArtifactKindBlocks ArtifactKind = "blocks"
)

// Artifact is the sealed union of generation results. Exactly one variant
// exists per completed request.
type Artifact interface {
	ArtifactKind() ArtifactKind
}

type Story struct {
	ID         uuid.UUID
	Title      string
	Overview   string
	Level      Level
	ImageStyle ImageStyle
	Chapters   []*Chapter
}

func (*Story) ArtifactKind() ArtifactKind { return ArtifactKindStory }

type Chapter struct {
	ID      uuid.UUID
	Title   string
	Content string
	// Order is assigned by the backend and never re-sorted client-side.
	Order      int
	ImageStyle ImageStyle
	// RemoteImageURL is the transient backend-hosted source; it is never
	// persisted.
	RemoteImageURL string
	// UploadedImageURL is set only after a confirmed object-storage upload.
	UploadedImageURL string
}

type Lecture struct {
	ID         uuid.UUID
	Title      string
	Level      Level
	ImageStyle ImageStyle
	Sections   []*Section
}

func (*Lecture) ArtifactKind() ArtifactKind { return ArtifactKindLecture }

type Section struct {
	ID          uuid.UUID
	Title       string
	Script      string
	ImagePrompt string
	ImageURL    string
	Order       int
}

type BlockSequence struct {
	Blocks []*Block
}

func (*BlockSequence) ArtifactKind() ArtifactKind { return ArtifactKindBlocks }

type BlockType string

const (
	BlockTypeHeading        BlockType = "heading"
	BlockTypeParagraph      BlockType = "paragraph"
	BlockTypeImage          BlockType = "image"
	BlockTypeQuizHeading    BlockType = "quiz_heading"
	BlockTypeMultipleChoice BlockType = "multiple_choice"
	BlockTypeError          BlockType = "error"
)

type QuizOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type Block struct {
	ID               uuid.UUID
	Type             BlockType
	Content          string
	AltText          string
	UploadedImageURL string
	QuizOptions      []QuizOption
	CorrectAnswerID  string
	Explanation      string
}

// HasEnrichableItems reports whether the artifact needs a media pass:
// story chapters, or blocks of type image.
func HasEnrichableItems(a Artifact) bool {
	switch v := a.(type) {
	case *Story:
		return len(v.Chapters) > 0
	case *BlockSequence:
		for _, b := range v.Blocks {
			if b.Type == BlockTypeImage {
				return true
			}
		}
	}
	return false
}

// EnsureID returns id when it parses as a UUID, otherwise a freshly
// synthesized one. The backend is supposed to send stable UUIDs, but every
// item must stay addressable for enrichment and UI binding even when it
// does not.
func EnsureID(id string) uuid.UUID {
	if parsed, err := uuid.Parse(id); err == nil && parsed != uuid.Nil {
		return parsed
	}
	return uuid.New()
}
