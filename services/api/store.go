package api

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned by a Store when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned by a Store when a unique field is already taken.
	ErrConflict = errors.New("conflict")
)

// User is a registry account.
type User struct {
	ID       int64  `db:"id"`
	Username string `db:"username"`
}

// Mod is a stored mod profile.
type Mod struct {
	ID          int64
	NameID      string
	Name        string
	Summary     string
	Description string
	Tags        []string
	Metadata    string
	Visible     bool
	OwnerID     int64
	LogoKey     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Modfile is a stored platform artifact.
type Modfile struct {
	ID        uuid.UUID `db:"id"`
	ModID     int64     `db:"mod_id"`
	Version   string    `db:"version"`
	Platform  string    `db:"platform"`
	Metadata  string    `db:"metadata"`
	Size      int64     `db:"size"`
	SHA256    string    `db:"sha256"`
	Status    string    `db:"status"`
	ObjectKey string    `db:"object_key"`
	CreatedAt time.Time `db:"created_at"`
}

// Store persists registry state.
type Store interface {
	Ping(ctx context.Context) error

	// CreateUser creates a user holding one API token. An existing username is ErrConflict.
	CreateUser(ctx context.Context, username, tokenHash string) (*User, error)
	UserByTokenHash(ctx context.Context, tokenHash string) (*User, error)

	// CreateMod assigns m.ID and timestamps. A taken NameID is ErrConflict.
	CreateMod(ctx context.Context, m *Mod) error
	GetMod(ctx context.Context, id int64) (*Mod, error)
	UpdateMod(ctx context.Context, m *Mod) error

	CreateModfile(ctx context.Context, f *Modfile) error
	GetModfile(ctx context.Context, id uuid.UUID) (*Modfile, error)
	UpdateModfile(ctx context.Context, f *Modfile) error
	// LatestModfile returns the newest ready modfile of a mod.
	LatestModfile(ctx context.Context, modID int64) (*Modfile, error)

	Audit(ctx context.Context, actor, action, obj string, details map[string]any) error
}
