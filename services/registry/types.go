// Package registry holds the wire types of the mod registry HTTP API and a client for it.
package registry

import "time"

// User is an authenticated registry account.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// ProfileDetails is the editable part of a mod profile. On edit, empty strings and nil slices
// leave the stored value unchanged.
type ProfileDetails struct {
	Name        string   `json:"name,omitempty"`
	Summary     string   `json:"summary,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Metadata    *string  `json:"metadata,omitempty"`
	Visible     *bool    `json:"visible,omitempty"`
	// Logo is a local image path uploaded after the profile call.
	Logo string `json:"-"`
}

// Profile is a mod page in the registry.
type Profile struct {
	ID          int64     `json:"id"`
	NameID      string    `json:"name_id"`
	Name        string    `json:"name"`
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Tags        []string  `json:"tags"`
	Metadata    string    `json:"metadata"`
	Visible     bool      `json:"visible"`
	LogoURL     string    `json:"logo_url,omitempty"`
	SubmittedBy User      `json:"submitted_by"`
	Modfile     *Modfile  `json:"modfile,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ModfileDetails describes one platform artifact to upload.
type ModfileDetails struct {
	ModID     int64
	Directory string
	Version   string
	Platform  string
	Metadata  string
}

// Modfile is an uploaded, versioned platform artifact.
type Modfile struct {
	ID        string    `json:"id"`
	ModID     int64     `json:"mod_id"`
	Version   string    `json:"version"`
	Platform  string    `json:"platform"`
	Metadata  string    `json:"metadata,omitempty"`
	Size      int64     `json:"size"`
	SHA256    string    `json:"sha256"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Modfile states.
const (
	ModfilePending = "pending"
	ModfileReady   = "ready"
)

// RegisterModfileRequest announces an upload.
type RegisterModfileRequest struct {
	Version  string `json:"version"`
	Platform string `json:"platform"`
	Metadata string `json:"metadata,omitempty"`
	Size     int64  `json:"size"`
	SHA256   string `json:"sha256"`
}

// RegisterModfileResponse carries the presigned upload target for a registered modfile.
type RegisterModfileResponse struct {
	Modfile   Modfile `json:"modfile"`
	UploadURL string  `json:"upload_url"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code,omitempty"`
}

// Error codes returned in ErrorResponse.Code.
const (
	CodeValidation   = 10001
	CodeNotFound     = 10002
	CodeUnauthorized = 10003
	CodeForbidden    = 10004
	CodeConflict     = 10005
	CodeInternal     = 10500
)
