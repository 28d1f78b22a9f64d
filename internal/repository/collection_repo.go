package repository

import (
	"context"
	"errors"
	"time"

	"medisync/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrCollectionNotFound = errors.New("collection not found")
	ErrGroupNotFound      = errors.New("group not found")
)

type CollectionRepository struct {
	db *gorm.DB
}

func NewCollectionRepository(db *gorm.DB) *CollectionRepository {
	return &CollectionRepository{db: db}
}

// GetOrCreate returns the owner's collection, creating it on first use.
// Creation is idempotent per owner: the unique index on owner_id means a
// concurrent second attempt loses the insert and adopts the existing row.
func (r *CollectionRepository) GetOrCreate(ctx context.Context, c *domain.Collection) (*domain.Collection, error) {
	if c.CollectionUID == "" {
		c.CollectionUID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "owner_id"}}, DoNothing: true}).
		Create(c).Error
	if err != nil {
		return nil, err
	}

	var existing domain.Collection
	if err := r.db.WithContext(ctx).Where("owner_id = ?", c.OwnerID).First(&existing).Error; err != nil {
		return nil, err
	}
	return &existing, nil
}

func (r *CollectionRepository) GetByUID(ctx context.Context, uid string) (*domain.Collection, error) {
	var c domain.Collection
	err := r.db.WithContext(ctx).Where("collection_uid = ?", uid).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCollectionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetOrCreateGroup is idempotent per (collection, group_uid) when the caller
// supplies a UID; with an empty UID a fresh group is always allocated.
func (r *CollectionRepository) GetOrCreateGroup(ctx context.Context, g *domain.Group) (*domain.Group, error) {
	if g.GroupUID == "" {
		g.GroupUID = uuid.NewString()
	} else {
		var existing domain.Group
		err := r.db.WithContext(ctx).
			Where("group_uid = ? AND collection_uid = ?", g.GroupUID, g.CollectionUID).
			First(&existing).Error
		if err == nil {
			return &existing, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	if g.Number == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&domain.Group{}).
			Where("collection_uid = ?", g.CollectionUID).Count(&count).Error; err != nil {
			return nil, err
		}
		g.Number = int(count) + 1
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}

	if err := r.db.WithContext(ctx).Create(g).Error; err != nil {
		return nil, err
	}
	return g, nil
}

func (r *CollectionRepository) GroupsByCollection(ctx context.Context, collectionUID string) ([]domain.Group, error) {
	var groups []domain.Group
	err := r.db.WithContext(ctx).
		Where("collection_uid = ?", collectionUID).
		Order("number ASC").
		Find(&groups).Error
	return groups, err
}
