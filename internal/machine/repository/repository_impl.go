package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	machinedomain "github.com/smallbiznis/coinpulse/internal/machine/domain"
	"github.com/smallbiznis/coinpulse/pkg/repository"
	"gorm.io/gorm"
)

type repo struct {
	db    *gorm.DB
	store repository.Repository[machinedomain.Machine]
}

func Provide(db *gorm.DB) machinedomain.Repository {
	return &repo{
		db:    db,
		store: repository.ProvideStore[machinedomain.Machine](db),
	}
}

func (r *repo) Insert(ctx context.Context, m *machinedomain.Machine) error {
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now
	}
	return r.store.Create(ctx, m)
}

func (r *repo) FindByID(ctx context.Context, id snowflake.ID) (*machinedomain.Machine, error) {
	return r.store.FindOne(ctx, &machinedomain.Machine{ID: id})
}

func (r *repo) FindByCode(ctx context.Context, code string) (*machinedomain.Machine, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}
	return r.store.FindOne(ctx, &machinedomain.Machine{Code: code})
}

func (r *repo) FindState(ctx context.Context, id snowflake.ID) (*machinedomain.State, error) {
	var rows []machinedomain.State
	err := r.db.WithContext(ctx).
		Model(&machinedomain.Machine{}).
		Select("status", "active").
		Where("id = ?", id).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *repo) UpdateStatus(ctx context.Context, id snowflake.ID, status machinedomain.Status, active bool) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE machines SET status = ?, active = ?, updated_at = ? WHERE id = ?`,
		status,
		active,
		time.Now().UTC(),
		id,
	).Error
}
