package data

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrValidation            = errors.New("validation failed")
	ErrConflict              = errors.New("conflict")
	ErrUpstream              = errors.New("upstream fetch failed")
	ErrDownloaderUnavailable = errors.New("downloader unavailable")
	ErrPersistence           = errors.New("persistence failure")
)

// MsgURLTaken is the user-facing message for a URL owned by another document.
const MsgURLTaken = "该链接已存在于其他文档中"

type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }
func (e *ValidationError) Unwrap() error { return ErrValidation }

func Invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ConflictError lists the offending URLs when the conflict is about URL
// ownership.
type ConflictError struct {
	Msg  string
	URLs []string
}

func (e *ConflictError) Error() string {
	if len(e.URLs) == 0 {
		return e.Msg
	}
	return e.Msg + ": " + strings.Join(e.URLs, ", ")
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// UpstreamError reports a failed call to the preview service or a scraped
// site. Banned is set when the upstream refused us (403 or a ban page).
type UpstreamError struct {
	Op         string
	StatusCode int
	Banned     bool
	Err        error
}

func (e *UpstreamError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": http %d", e.StatusCode)
	}
	if e.Banned {
		b.WriteString(": access denied by upstream")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *UpstreamError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrUpstream}
	}
	return []error{ErrUpstream, e.Err}
}

// UnavailableError is returned when no downloader can serve a request.
// Configured distinguishes "nothing usable configured" (false) from a
// configured backend that could not be reached (true).
type UnavailableError struct {
	Msg        string
	Configured bool
	Err        error
}

func (e *UnavailableError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *UnavailableError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDownloaderUnavailable}
	}
	return []error{ErrDownloaderUnavailable, e.Err}
}

// Persistence wraps a storage failure so the HTTP edge can report a 500.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}
