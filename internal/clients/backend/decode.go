package backend

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/fablearn/fablearn-backend/internal/types"
)

// The backend guarantees exactly one of {artifact variant, error} on HTTP
// 200. A payload with neither is a schema violation and decodes to a
// DecodeError, never a silent no-op.

type envelope struct {
	Story   *storyPayload   `json:"story"`
	Lecture *lecturePayload `json:"lecture"`
	Blocks  []blockPayload  `json:"blocks"`
	Error   string          `json:"error"`
}

type storyPayload struct {
	ID         string           `json:"id"`
	Title      string           `json:"title"`
	Overview   string           `json:"overview"`
	Level      string           `json:"level"`
	ImageStyle string           `json:"image_style"`
	Chapters   []chapterPayload `json:"chapters"`
}

type chapterPayload struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	Order      int    `json:"order"`
	ImageStyle string `json:"image_style"`
	ImageURL   string `json:"image_url"`
}

type lecturePayload struct {
	ID         string           `json:"id"`
	Title      string           `json:"title"`
	Level      string           `json:"level"`
	ImageStyle string           `json:"image_style"`
	Sections   []sectionPayload `json:"sections"`
}

type sectionPayload struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Script      string `json:"script"`
	ImagePrompt string `json:"image_prompt"`
	ImageURL    string `json:"image_url"`
	Order       int    `json:"order"`
}

type blockPayload struct {
	ID              string             `json:"id"`
	Type            string             `json:"type"`
	Content         string             `json:"content"`
	AltText         string             `json:"alt_text"`
	QuizOptions     []types.QuizOption `json:"quiz_options"`
	CorrectAnswerID string             `json:"correct_answer_id"`
	Explanation     string             `json:"explanation"`
}

// DecodeArtifact turns a 200 response body into exactly one artifact
// variant. Both the foreground client and the background bridge decode
// through here.
func DecodeArtifact(raw []byte) (types.Artifact, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &types.DecodeError{Reason: fmt.Sprintf("response body: %v", err)}
	}
	if env.Error != "" {
		return nil, &types.ServerError{StatusCode: http.StatusOK, Message: env.Error}
	}

	switch {
	case env.Story != nil:
		return storyFromPayload(env.Story), nil
	case env.Lecture != nil:
		return lectureFromPayload(env.Lecture), nil
	case env.Blocks != nil:
		return blocksFromPayload(env.Blocks), nil
	default:
		return nil, &types.DecodeError{Reason: "response carries neither an artifact variant nor an error"}
	}
}

func storyFromPayload(p *storyPayload) *types.Story {
	story := &types.Story{
		ID:         types.EnsureID(p.ID),
		Title:      p.Title,
		Overview:   p.Overview,
		Level:      types.Level(p.Level),
		ImageStyle: types.ImageStyle(p.ImageStyle),
	}
	// Chapter order comes from the backend and is kept as declared.
	for _, cp := range p.Chapters {
		story.Chapters = append(story.Chapters, &types.Chapter{
			ID:             types.EnsureID(cp.ID),
			Title:          cp.Title,
			Content:        cp.Content,
			Order:          cp.Order,
			ImageStyle:     types.ImageStyle(cp.ImageStyle),
			RemoteImageURL: cp.ImageURL,
		})
	}
	return story
}

func lectureFromPayload(p *lecturePayload) *types.Lecture {
	lecture := &types.Lecture{
		ID:         types.EnsureID(p.ID),
		Title:      p.Title,
		Level:      types.Level(p.Level),
		ImageStyle: types.ImageStyle(p.ImageStyle),
	}
	for _, sp := range p.Sections {
		lecture.Sections = append(lecture.Sections, &types.Section{
			ID:          types.EnsureID(sp.ID),
			Title:       sp.Title,
			Script:      sp.Script,
			ImagePrompt: sp.ImagePrompt,
			ImageURL:    sp.ImageURL,
			Order:       sp.Order,
		})
	}
	return lecture
}

func blocksFromPayload(payloads []blockPayload) *types.BlockSequence {
	seq := &types.BlockSequence{}
	for _, bp := range payloads {
		seq.Blocks = append(seq.Blocks, &types.Block{
			ID:              types.EnsureID(bp.ID),
			Type:            types.BlockType(bp.Type),
			Content:         bp.Content,
			AltText:         bp.AltText,
			QuizOptions:     bp.QuizOptions,
			CorrectAnswerID: bp.CorrectAnswerID,
			Explanation:     bp.Explanation,
		})
	}
	return seq
}
