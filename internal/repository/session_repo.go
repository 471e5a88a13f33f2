package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/timmy/fitfinder/internal/domain"
	"gorm.io/gorm"
)

// SessionRepository persists search sessions and their children.
type SessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository creates a new SessionRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *SessionRepository: repository instance bound to db.
func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Load reads a session with its current image, detections and results.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: session ID.
// Returns:
//   - *domain.SessionSnapshot: consistent view of the session.
//   - error: session_not_found when no row exists, otherwise the query error.
func (r *SessionRepository) Load(ctx context.Context, id string) (*domain.SessionSnapshot, error) {
	snap := &domain.SessionSnapshot{}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&snap.Session, "id = ?", id).Error; err != nil {
			return err
		}

		if snap.Session.ImageID != nil {
			var img domain.UploadedImage
			err := tx.First(&img, "id = ?", *snap.Session.ImageID).Error
			switch {
			case err == nil:
				snap.Image = &img
			case !errors.Is(err, gorm.ErrRecordNotFound):
				return err
			}

			if err := tx.Where("image_id = ?", *snap.Session.ImageID).
				Order("ordinal ASC").
				Find(&snap.Detections).Error; err != nil {
				return err
			}
		}

		return tx.Where("session_id = ? AND pass = ?", id, snap.Session.Pass).
			Order("rank ASC").
			Find(&snap.Results).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewError(domain.ReasonSessionNotFound, "session %s not found", id)
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	return snap, nil
}

// Apply writes one operation's changes in a single transaction.
// The session row is only updated if its version still equals
// upd.ExpectedVersion; on success upd.Session.Version is advanced.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - upd: full write set of the operation.
// Returns:
//   - error: session_conflict if another writer won, otherwise the write error.
func (r *SessionRepository) Apply(ctx context.Context, upd *domain.SessionUpdate) error {
	next := upd.ExpectedVersion + 1
	sess := upd.Session
	sess.Version = next

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if upd.Create {
			if err := tx.Create(&sess).Error; err != nil {
				return err
			}
		} else {
			res := tx.Model(&domain.SearchSession{}).
				Where("id = ? AND version = ?", sess.ID, upd.ExpectedVersion).
				Select("*").Omit("id", "created_at").
				Updates(&sess)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return domain.NewError(domain.ReasonSessionConflict,
					"session %s changed concurrently", sess.ID)
			}
		}

		if upd.Image != nil {
			if err := tx.Create(upd.Image).Error; err != nil {
				return err
			}
		}
		if len(upd.Detections) > 0 {
			if err := tx.Create(&upd.Detections).Error; err != nil {
				return err
			}
		}
		if len(upd.Results) > 0 {
			if err := tx.Create(&upd.Results).Error; err != nil {
				return err
			}
		}
		if len(upd.Transitions) > 0 {
			if err := tx.Create(&upd.Transitions).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if domain.ReasonOf(err) == domain.ReasonSessionConflict {
			return err
		}
		if upd.Create && errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.NewError(domain.ReasonSessionConflict, "session %s already exists", sess.ID)
		}
		return fmt.Errorf("failed to apply session update: %w", err)
	}

	upd.Session.Version = next
	return nil
}

// Delete removes a session and every child row in one transaction.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: session ID.
// Returns:
//   - []string: storage keys of the session's uploaded images.
//   - error: session_not_found when no row exists, otherwise the delete error.
func (r *SessionRepository) Delete(ctx context.Context, id string) ([]string, error) {
	var keys []string

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&domain.SearchSession{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		if err := tx.Model(&domain.UploadedImage{}).
			Where("session_id = ?", id).
			Pluck("storage_key", &keys).Error; err != nil {
			return err
		}

		for _, model := range []interface{}{
			&domain.SearchResult{},
			&domain.Detection{},
			&domain.UploadedImage{},
			&domain.StageTransition{},
		} {
			if err := tx.Where("session_id = ?", id).Delete(model).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewError(domain.ReasonSessionNotFound, "session %s not found", id)
		}
		return nil, fmt.Errorf("failed to delete session: %w", err)
	}

	return keys, nil
}

// Transitions lists the stage history of a session, oldest first.
func (r *SessionRepository) Transitions(ctx context.Context, id string) ([]domain.StageTransition, error) {
	var out []domain.StageTransition
	err := r.db.WithContext(ctx).
		Where("session_id = ?", id).
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	return out, nil
}
