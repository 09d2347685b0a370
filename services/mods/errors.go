package mods

import "fmt"

// ValidationError reports a missing or malformed local precondition.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("invalid %s", e.Field)
	}
	return e.Message
}

// ScenePreparationError reports that a scene could not be made consistent before a build.
type ScenePreparationError struct {
	Scene  string
	Reason string
	Err    error
}

func (e *ScenePreparationError) Error() string {
	msg := fmt.Sprintf("prepare scene %s: %s", e.Scene, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ScenePreparationError) Unwrap() error { return e.Err }

// BuildError carries the build backend's error text for a platform.
type BuildError struct {
	Platform Platform
	Output   string
	Err      error
}

func (e *BuildError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("build for %s failed: %s", e.Platform, e.Output)
	}
	if e.Err != nil {
		return fmt.Sprintf("build for %s failed: %v", e.Platform, e.Err)
	}
	return fmt.Sprintf("build for %s failed", e.Platform)
}

func (e *BuildError) Unwrap() error { return e.Err }

// RegistryError is a failed remote call. Message is the server-provided text.
type RegistryError struct {
	Op      string
	Status  int
	Code    int
	Message string
}

func (e *RegistryError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s failed: %s (code %d)", e.Op, e.Message, e.Code)
	}
	return fmt.Sprintf("%s failed: %s", e.Op, e.Message)
}

// AuthorizationError is returned when the caller does not own the remote resource.
type AuthorizationError struct {
	Resource string
	Message  string
}

func (e *AuthorizationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("not authorized for %s", e.Resource)
}

func validationf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
