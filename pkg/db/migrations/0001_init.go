package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

type User struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	Username  string    `gorm:"type:text;uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

type APIToken struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    int64     `gorm:"not null;index"`
	TokenHash string    `gorm:"type:text;uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	User      User      `gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (APIToken) TableName() string { return "api_tokens" }

type Mod struct {
	ID          int64          `gorm:"primaryKey;autoIncrement"`
	NameID      string         `gorm:"type:text;uniqueIndex;not null"`
	Name        string         `gorm:"type:text;not null"`
	Summary     string         `gorm:"type:text"`
	Description string         `gorm:"type:text"`
	Tags        datatypes.JSON `gorm:"type:jsonb"`
	Metadata    string         `gorm:"type:text"`
	Visible     bool           `gorm:"not null;default:false"`
	OwnerID     int64          `gorm:"not null;index"`
	LogoKey     string         `gorm:"type:text"`
	CreatedAt   time.Time      `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt   time.Time      `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
	Owner       User           `gorm:"foreignKey:OwnerID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

type Modfile struct {
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
	Mod       Mod       `gorm:"foreignKey:ModID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

type Audit struct {
	ID      int64             `gorm:"type:bigserial;primaryKey"`
	Actor   string            `gorm:"type:text;not null"`
	Action  string            `gorm:"type:text;not null"`
	Obj     string            `gorm:"type:text"`
	Details datatypes.JSONMap `gorm:"type:jsonb"`
	At      time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (Audit) TableName() string { return "audit" }

func open(tx *sql.Tx) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
}

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := open(tx)
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).AutoMigrate(
		&User{},
		&APIToken{},
		&Mod{},
		&Modfile{},
		&Audit{},
	); err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Exec(
		`CREATE INDEX IF NOT EXISTS modfiles_mod_status_created_idx ON modfiles (mod_id, status, created_at DESC)`,
	).Error
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := open(tx)
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().DropTable(
		&Audit{},
		&Modfile{},
		&Mod{},
		&APIToken{},
		&User{},
	)
}
