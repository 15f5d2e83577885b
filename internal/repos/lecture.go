package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fablearn/fablearn-backend/internal/logger"
	"github.com/fablearn/fablearn-backend/internal/types"
)

type LectureRepo interface {
	Upsert(ctx context.Context, tx *gorm.DB, doc *types.LectureDocument) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.LectureDocument, error)
	CountCreatedBetween(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, from, to time.Time) (int64, error)
}

type lectureRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLectureRepo(db *gorm.DB, baseLog *logger.Logger) LectureRepo {
	return &lectureRepo{
		db:  db,
		log: baseLog.With("repo", "LectureRepo"),
	}
}

func (r *lectureRepo) Upsert(ctx context.Context, tx *gorm.DB, doc *types.LectureDocument) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(doc).Error
}

func (r *lectureRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.LectureDocument, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var doc types.LectureDocument
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

func (r *lectureRepo) CountCreatedBetween(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, from, to time.Time) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	err := transaction.WithContext(ctx).
		Model(&types.LectureDocument{}).
		Where("owner_id = ? AND created_at >= ? AND created_at < ?", ownerID, from, to).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
