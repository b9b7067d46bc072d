package mapsync

import (
	"errors"
	"fmt"
)

var (
	ErrNetwork      = errors.New("mapsync: network error")
	ErrServerStatus = errors.New("mapsync: server error")
	ErrDecode       = errors.New("mapsync: decode error")

	ErrNotFound     = errors.New("mapsync: not found on surface")
	ErrExists       = errors.New("mapsync: already present on surface")
	ErrStyleLoading = errors.New("mapsync: style is not done loading")
)

type FetchErrorKind int

const (
	NetworkError FetchErrorKind = iota
	ServerError
	DecodeError
)

func (k FetchErrorKind) String() string {
	switch k {
	case NetworkError:
		return "network"
	case ServerError:
		return "server"
	case DecodeError:
		return "decode"
	}
	return "unknown"
}

func (k FetchErrorKind) sentinel() error {
	switch k {
	case NetworkError:
		return ErrNetwork
	case ServerError:
		return ErrServerStatus
	case DecodeError:
		return ErrDecode
	}
	return nil
}

// FetchError is returned when a boundary could not be fetched. Status is
// only set for ServerError.
type FetchError struct {
	Kind   FetchErrorKind
	Name   string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Kind == ServerError {
		return fmt.Sprintf("fetch %s: %s error: status %d: %v", e.Name, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s error: %v", e.Name, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func (e *FetchError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

type ObjectKind string

const (
	SourceObject ObjectKind = "source"
	LayerObject  ObjectKind = "layer"
)

// SurfaceStateError reports a mutation that does not match the surface
// state: removing or updating an absent id, adding an existing one, or
// mutating while a style is loading. Err is one of ErrNotFound, ErrExists
// or ErrStyleLoading.
type SurfaceStateError struct {
	Op   string
	Kind ObjectKind
	ID   string
	Err  error
}

func (e *SurfaceStateError) Error() string {
	return fmt.Sprintf("%s %s %q: %v", e.Op, e.Kind, e.ID, e.Err)
}

func (e *SurfaceStateError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err means the id was already absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IgnoreNotFound returns nil for "already absent" errors and err otherwise.
func IgnoreNotFound(err error) error {
	if IsNotFound(err) {
		return nil
	}
	return err
}
