package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fablearn/fablearn-backend/internal/logger"
	"github.com/fablearn/fablearn-backend/internal/types"
)

type NoteRepo interface {
	// Create assigns the document id; block sequences have no stable
	// artifact id of their own.
	Create(ctx context.Context, tx *gorm.DB, doc *types.NoteDocument) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.NoteDocument, error)
	CountCreatedBetween(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, from, to time.Time) (int64, error)
}

type noteRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewNoteRepo(db *gorm.DB, baseLog *logger.Logger) NoteRepo {
	return &noteRepo{
		db:  db,
		log: baseLog.With("repo", "NoteRepo"),
	}
}

func (r *noteRepo) Create(ctx context.Context, tx *gorm.DB, doc *types.NoteDocument) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	return transaction.WithContext(ctx).Create(doc).Error
}

func (r *noteRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.NoteDocument, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var doc types.NoteDocument
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&doc).Error
	if err != nil {
		return nil, err
	}
	if doc.ID == uuid.Nil {
		return nil, nil
	}
	return &doc, nil
}

func (r *noteRepo) CountCreatedBetween(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, from, to time.Time) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	err := transaction.WithContext(ctx).
		Model(&types.NoteDocument{}).
		Where("owner_id = ? AND created_at >= ? AND created_at < ?", ownerID, from, to).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
