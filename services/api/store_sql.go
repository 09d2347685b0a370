package api

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/gorm"

	"modkit/pkg/db"
	"modkit/services/registry"
)

// SQLStore keeps registry state in Postgres. Writes go through gorm, lookups on hot paths through pgx.
type SQLStore struct {
	pool *pgxpool.Pool
	orm  *gorm.DB
}

func NewSQLStore(pool *pgxpool.Pool, orm *gorm.DB) (*SQLStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if orm == nil {
		return nil, errors.New("orm is required")
	}
	return &SQLStore{pool: pool, orm: orm}, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return db.Ping(ctx, s.pool)
}

func (s *SQLStore) CreateUser(ctx context.Context, username, tokenHash string) (*User, error) {
	user := userModel{Username: username}
	err := s.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		return tx.Create(&tokenModel{ID: uuid.New(), UserID: user.ID, TokenHash: tokenHash}).Error
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, err
	}
	return &User{ID: user.ID, Username: user.Username}, nil
}

func (s *SQLStore) UserByTokenHash(ctx context.Context, tokenHash string) (*User, error) {
	var user User
	err := db.Get(ctx, s.pool, &user,
		`SELECT u.id, u.username FROM users u JOIN api_tokens t ON t.user_id = u.id WHERE t.token_hash = $1`,
		tokenHash)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *SQLStore) CreateMod(ctx context.Context, m *Mod) error {
	model := newModModel(m)
	if err := s.orm.WithContext(ctx).Create(&model).Error; err != nil {
		if db.IsUniqueViolation(err) {
			return ErrConflict
		}
		return err
	}
	*m = *model.toAPI()
	return nil
}

func (s *SQLStore) GetMod(ctx context.Context, id int64) (*Mod, error) {
	var model modModel
	if err := s.orm.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if db.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return model.toAPI(), nil
}

func (s *SQLStore) UpdateMod(ctx context.Context, m *Mod) error {
	model := newModModel(m)
	if err := s.orm.WithContext(ctx).Save(&model).Error; err != nil {
		if db.IsUniqueViolation(err) {
			return ErrConflict
		}
		return err
	}
	*m = *model.toAPI()
	return nil
}

func (s *SQLStore) CreateModfile(ctx context.Context, f *Modfile) error {
	model := newModfileModel(f)
	if err := s.orm.WithContext(ctx).Create(&model).Error; err != nil {
		return err
	}
	f.CreatedAt = model.CreatedAt
	return nil
}

func (s *SQLStore) GetModfile(ctx context.Context, id uuid.UUID) (*Modfile, error) {
	var f Modfile
	err := db.Get(ctx, s.pool, &f,
		`SELECT id, mod_id, version, platform, metadata, size, sha256, status, object_key, created_at
		   FROM modfiles WHERE id = $1`, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &f, nil
}

func (s *SQLStore) UpdateModfile(ctx context.Context, f *Modfile) error {
	model := newModfileModel(f)
	return s.orm.WithContext(ctx).Save(&model).Error
}

func (s *SQLStore) LatestModfile(ctx context.Context, modID int64) (*Modfile, error) {
	var files []Modfile
	err := db.Select(ctx, s.pool, &files,
		`SELECT id, mod_id, version, platform, metadata, size, sha256, status, object_key, created_at
		   FROM modfiles WHERE mod_id = $1 AND status = $2 ORDER BY created_at DESC LIMIT 1`,
		modID, registry.ModfileReady)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, ErrNotFound
	}
	return &files[0], nil
}

func (s *SQLStore) Audit(ctx context.Context, actor, action, obj string, details map[string]any) error {
	return s.orm.WithContext(ctx).Create(&auditModel{
		Actor:   actor,
		Action:  action,
		Obj:     obj,
		Details: toJSONMap(details),
	}).Error
}
