package api

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type userModel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	Username  string    `gorm:"type:text;uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (userModel) TableName() string { return "users" }

type tokenModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    int64     `gorm:"not null;index"`
	TokenHash string    `gorm:"type:text;uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (tokenModel) TableName() string { return "api_tokens" }

type modModel struct {
	ID          int64                       `gorm:"primaryKey;autoIncrement"`
	NameID      string                      `gorm:"type:text;uniqueIndex;not null"`
	Name        string                      `gorm:"type:text;not null"`
	Summary     string                      `gorm:"type:text"`
	Description string                      `gorm:"type:text"`
	Tags        datatypes.JSONSlice[string] `gorm:"type:jsonb"`
	Metadata    string                      `gorm:"type:text"`
	Visible     bool                        `gorm:"not null;default:false"`
	OwnerID     int64                       `gorm:"not null;index"`
	LogoKey     string                      `gorm:"type:text"`
	CreatedAt   time.Time                   `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt   time.Time                   `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func (modModel) TableName() string { return "mods" }

func newModModel(m *Mod) modModel {
	return modModel{
		ID:          m.ID,
		NameID:      m.NameID,
		Name:        m.Name,
		Summary:     m.Summary,
		Description: m.Description,
		Tags:        datatypes.JSONSlice[string](m.Tags),
		Metadata:    m.Metadata,
		Visible:     m.Visible,
		OwnerID:     m.OwnerID,
		LogoKey:     m.LogoKey,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func (m modModel) toAPI() *Mod {
	return &Mod{
		ID:          m.ID,
		NameID:      m.NameID,
		Name:        m.Name,
		Summary:     m.Summary,
		Description: m.Description,
		Tags:        append([]string(nil), m.Tags...),
		Metadata:    m.Metadata,
		Visible:     m.Visible,
		OwnerID:     m.OwnerID,
		LogoKey:     m.LogoKey,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

type modfileModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	ModID     int64     `gorm:"not null;index"`
	Version   string    `gorm:"type:text;not null"`
	Platform  string    `gorm:"type:text;not null"`
	Metadata  string    `gorm:"type:text"`
	Size      int64     `gorm:"not null"`
	SHA256    string    `gorm:"column:sha256;type:text;not null"`
	Status    string    `gorm:"type:text;not null"`
	ObjectKey string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (modfileModel) TableName() string { return "modfiles" }

func newModfileModel(f *Modfile) modfileModel {
	return modfileModel{
		ID:        f.ID,
		ModID:     f.ModID,
		Version:   f.Version,
		Platform:  f.Platform,
		Metadata:  f.Metadata,
		Size:      f.Size,
		SHA256:    f.SHA256,
		Status:    f.Status,
		ObjectKey: f.ObjectKey,
		CreatedAt: f.CreatedAt,
	}
}

type auditModel struct {
	ID      int64             `gorm:"type:bigserial;primaryKey"`
	Actor   string            `gorm:"type:text;not null"`
	Action  string            `gorm:"type:text;not null"`
	Obj     string            `gorm:"type:text"`
	Details datatypes.JSONMap `gorm:"type:jsonb"`
	At      time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (auditModel) TableName() string { return "audit" }

func toJSONMap(src map[string]any) datatypes.JSONMap {
	out := datatypes.JSONMap{}
	for k, v := range src {
		out[k] = v
	}
	return out
}
