package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/fablearn/fablearn-backend/internal/logger"
	"github.com/fablearn/fablearn-backend/internal/repos"
	"github.com/fablearn/fablearn-backend/internal/types"
)

// PersistenceService maps in-memory artifacts to their document shapes and
// writes them to the store. Stories and lectures keep the artifact's own
// id, so retrying the persistence stage overwrites instead of duplicating;
// note documents get a store-assigned id.
type PersistenceService interface {
	PersistArtifact(ctx context.Context, ownerID uuid.UUID, req types.GenerationRequest, art types.Artifact) (uuid.UUID, error)
	LoadStory(ctx context.Context, id uuid.UUID) (*types.Story, error)
	LoadLecture(ctx context.Context, id uuid.UUID) (*types.Lecture, error)
	LoadNote(ctx context.Context, id uuid.UUID) (*types.BlockSequence, error)
	// CompletedCount is a process-local engagement counter of successful
	// writes.
	CompletedCount() int64
}

type persistenceService struct {
	log      *logger.Logger
	stories  repos.StoryRepo
	lectures repos.LectureRepo
	notes    repos.NoteRepo

	completed atomic.Int64
}

func NewPersistenceService(log *logger.Logger, stories repos.StoryRepo, lectures repos.LectureRepo, notes repos.NoteRepo) PersistenceService {
	return &persistenceService{
		log:      log.With("service", "PersistenceService"),
		stories:  stories,
		lectures: lectures,
		notes:    notes,
	}
}

func (s *persistenceService) CompletedCount() int64 { return s.completed.Load() }

func (s *persistenceService) PersistArtifact(ctx context.Context, ownerID uuid.UUID, req types.GenerationRequest, art types.Artifact) (uuid.UUID, error) {
	var (
		docID uuid.UUID
		err   error
	)
	switch v := art.(type) {
	case *types.Story:
		docID, err = s.persistStory(ctx, ownerID, req, v)
	case *types.Lecture:
		docID, err = s.persistLecture(ctx, ownerID, req, v)
	case *types.BlockSequence:
		docID, err = s.persistBlocks(ctx, ownerID, req, v)
	default:
		err = fmt.Errorf("unknown artifact variant %T", art)
	}
	if err != nil {
		s.log.Error("document write failed", "owner_id", ownerID, "error", err)
		return uuid.Nil, &types.PersistenceError{Err: err}
	}
	s.completed.Add(1)
	return docID, nil
}

func (s *persistenceService) persistStory(ctx context.Context, ownerID uuid.UUID, req types.GenerationRequest, story *types.Story) (uuid.UUID, error) {
	records := make([]types.ChapterRecord, 0, len(story.Chapters))
	for _, ch := range story.Chapters {
		records = append(records, types.ChapterRecord{
			ID:      ch.ID.String(),
			Title:   ch.Title,
			Content: ch.Content,
			Order:   ch.Order,
			// Only confirmed uploads are persisted; the transient backend
			// URL never reaches the document.
			ImageURL: ch.UploadedImageURL,
		})
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return uuid.Nil, err
	}
	doc := &types.StoryDocument{
		ID:         story.ID,
		OwnerID:    ownerID,
		Title:      story.Title,
		Overview:   story.Overview,
		Level:      string(story.Level),
		Tier:       string(req.Tier),
		ImageStyle: string(story.ImageStyle),
		Chapters:   raw,
		CreatedAt:  time.Now(),
	}
	if err := s.stories.Upsert(ctx, nil, doc); err != nil {
		return uuid.Nil, err
	}
	return doc.ID, nil
}

func (s *persistenceService) persistLecture(ctx context.Context, ownerID uuid.UUID, req types.GenerationRequest, lecture *types.Lecture) (uuid.UUID, error) {
	records := make([]types.SectionRecord, 0, len(lecture.Sections))
	for _, sec := range lecture.Sections {
		records = append(records, types.SectionRecord{
			ID:          sec.ID.String(),
			Title:       sec.Title,
			Script:      sec.Script,
			ImagePrompt: sec.ImagePrompt,
			ImageURL:    sec.ImageURL,
			Order:       sec.Order,
		})
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return uuid.Nil, err
	}
	doc := &types.LectureDocument{
		ID:         lecture.ID,
		OwnerID:    ownerID,
		Title:      lecture.Title,
		Level:      string(lecture.Level),
		Tier:       string(req.Tier),
		ImageStyle: string(lecture.ImageStyle),
		Sections:   raw,
		CreatedAt:  time.Now(),
	}
	if err := s.lectures.Upsert(ctx, nil, doc); err != nil {
		return uuid.Nil, err
	}
	return doc.ID, nil
}

func (s *persistenceService) persistBlocks(ctx context.Context, ownerID uuid.UUID, req types.GenerationRequest, seq *types.BlockSequence) (uuid.UUID, error) {
	records := make([]types.BlockRecord, 0, len(seq.Blocks))
	for _, b := range seq.Blocks {
		records = append(records, types.BlockRecord{
			ID:              b.ID.String(),
			Type:            string(b.Type),
			Content:         b.Content,
			AltText:         b.AltText,
			ImageURL:        b.UploadedImageURL,
			QuizOptions:     b.QuizOptions,
			CorrectAnswerID: b.CorrectAnswerID,
			Explanation:     b.Explanation,
		})
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return uuid.Nil, err
	}
	doc := &types.NoteDocument{
		OwnerID:   ownerID,
		Topic:     noteTopic(req, seq),
		Level:     string(req.Level),
		Tier:      string(req.Tier),
		Blocks:    raw,
		CreatedAt: time.Now(),
	}
	if err := s.notes.Create(ctx, nil, doc); err != nil {
		return uuid.Nil, err
	}
	return doc.ID, nil
}

// noteTopic picks the first heading as the document topic.
func noteTopic(req types.GenerationRequest, seq *types.BlockSequence) string {
	for _, b := range seq.Blocks {
		if b.Type == types.BlockTypeHeading && b.Content != "" {
			return b.Content
		}
	}
	if len(req.Text) > 80 {
		return req.Text[:80]
	}
	return req.Text
}

func (s *persistenceService) LoadStory(ctx context.Context, id uuid.UUID) (*types.Story, error) {
	doc, err := s.stories.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	return StoryFromDocument(doc)
}

func (s *persistenceService) LoadLecture(ctx context.Context, id uuid.UUID) (*types.Lecture, error) {
	doc, err := s.lectures.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	return LectureFromDocument(doc)
}

func (s *persistenceService) LoadNote(ctx context.Context, id uuid.UUID) (*types.BlockSequence, error) {
	doc, err := s.notes.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	return NoteFromDocument(doc)
}

// StoryFromDocument reconstructs the in-memory artifact. Chapter ids and
// order values survive the round trip untouched.
func StoryFromDocument(doc *types.StoryDocument) (*types.Story, error) {
	var records []types.ChapterRecord
	if len(doc.Chapters) > 0 {
		if err := json.Unmarshal(doc.Chapters, &records); err != nil {
			return nil, fmt.Errorf("story document %s: %w", doc.ID, err)
		}
	}
	story := &types.Story{
		ID:         doc.ID,
		Title:      doc.Title,
		Overview:   doc.Overview,
		Level:      types.Level(doc.Level),
		ImageStyle: types.ImageStyle(doc.ImageStyle),
	}
	for _, rec := range records {
		story.Chapters = append(story.Chapters, &types.Chapter{
			ID:               types.EnsureID(rec.ID),
			Title:            rec.Title,
			Content:          rec.Content,
			Order:            rec.Order,
			UploadedImageURL: rec.ImageURL,
		})
	}
	return story, nil
}

func LectureFromDocument(doc *types.LectureDocument) (*types.Lecture, error) {
	var records []types.SectionRecord
	if len(doc.Sections) > 0 {
		if err := json.Unmarshal(doc.Sections, &records); err != nil {
			return nil, fmt.Errorf("lecture document %s: %w", doc.ID, err)
		}
	}
	lecture := &types.Lecture{
		ID:         doc.ID,
		Title:      doc.Title,
		Level:      types.Level(doc.Level),
		ImageStyle: types.ImageStyle(doc.ImageStyle),
	}
	for _, rec := range records {
		lecture.Sections = append(lecture.Sections, &types.Section{
			ID:          types.EnsureID(rec.ID),
			Title:       rec.Title,
			Script:      rec.Script,
			ImagePrompt: rec.ImagePrompt,
			ImageURL:    rec.ImageURL,
			Order:       rec.Order,
		})
	}
	return lecture, nil
}

func NoteFromDocument(doc *types.NoteDocument) (*types.BlockSequence, error) {
	var records []types.BlockRecord
	if len(doc.Blocks) > 0 {
		if err := json.Unmarshal(doc.Blocks, &records); err != nil {
			return nil, fmt.Errorf("note document %s: %w", doc.ID, err)
		}
	}
	seq := &types.BlockSequence{}
	for _, rec := range records {
		seq.Blocks = append(seq.Blocks, &types.Block{
			ID:               types.EnsureID(rec.ID),
			Type:             types.BlockType(rec.Type),
			Content:          rec.Content,
			AltText:          rec.AltText,
			UploadedImageURL: rec.ImageURL,
			QuizOptions:      rec.QuizOptions,
			CorrectAnswerID:  rec.CorrectAnswerID,
			Explanation:      rec.Explanation,
		})
	}
	return seq, nil
}
