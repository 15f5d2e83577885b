package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Persisted document shapes. Sub-item collections are flattened into JSON
// columns; only uploaded media URLs are carried, never transient backend
// URLs. CreatedAt feeds the quota day-window filter.

type StoryDocument struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID    uuid.UUID      `gorm:"type:uuid;index" json:"owner_id"`
	Title      string         `json:"title"`
	Overview   string         `json:"overview"`
	Level      string         `json:"level"`
	Tier       string         `json:"tier"`
	ImageStyle string         `json:"image_style"`
	Chapters   datatypes.JSON `json:"chapters"`
	CreatedAt  time.Time      `gorm:"index" json:"created_at"`
}

type LectureDocument struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID    uuid.UUID      `gorm:"type:uuid;index" json:"owner_id"`
	Title      string         `json:"title"`
	Level      string         `json:"level"`
	Tier       string         `json:"tier"`
	ImageStyle string         `json:"image_style"`
	Sections   datatypes.JSON `json:"sections"`
	CreatedAt  time.Time      `gorm:"index" json:"created_at"`
}

// NoteDocument persists a block sequence produced by the generic tiers.
// Unlike stories and lectures, the store assigns the id.
type NoteDocument struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID   uuid.UUID      `gorm:"type:uuid;index" json:"owner_id"`
	Topic     string         `json:"topic"`
	Level     string         `json:"level"`
	Tier      string         `json:"tier"`
	Blocks    datatypes.JSON `json:"blocks"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
}

// JSON-column records for the flattened sub-items.

type ChapterRecord struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Order    int    `json:"order"`
	ImageURL string `json:"image_url,omitempty"`
}

type SectionRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Script      string `json:"script"`
	ImagePrompt string `json:"image_prompt,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	Order       int    `json:"order"`
}

type BlockRecord struct {
	ID              string       `json:"id"`
	Type            string       `json:"type"`
	Content         string       `json:"content,omitempty"`
	AltText         string       `json:"alt_text,omitempty"`
	ImageURL        string       `json:"image_url,omitempty"`
	QuizOptions     []QuizOption `json:"quiz_options,omitempty"`
	CorrectAnswerID string       `json:"correct_answer_id,omitempty"`
	Explanation     string       `json:"explanation,omitempty"`
}
