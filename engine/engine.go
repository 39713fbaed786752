// Package engine owns the lifecycle of the external media-processing engine.
//
// The engine is a black box accepting command-style argument lists. A Handle
// wraps one engine instance, loads it at most once per process and guards its
// virtual filesystem until it is ready.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Darkness4/tsremux/event"
)

var (
	// ErrLoad is wrapped by every LoadError.
	ErrLoad = errors.New("engine failed to load")
	// ErrNotReady is returned when the virtual filesystem is used before the
	// engine is loaded.
	ErrNotReady = errors.New("engine is not ready")
)

// Sink receives the notifications emitted by an engine while a command runs.
type Sink interface {
	EmitLog(line string)
	EmitProgress(p event.Progress)
}

var _ Sink = (*event.Bridge)(nil)

// Engine is the capability boundary of the media-processing engine.
type Engine interface {
	// Load fetches the engine's code from coreLocation and initializes it.
	Load(ctx context.Context, coreLocation string) error
	// WriteFile stores data in the engine's virtual filesystem.
	WriteFile(ctx context.Context, name string, data []byte) error
	// ReadFile reads a file from the engine's virtual filesystem.
	ReadFile(ctx context.Context, name string) ([]byte, error)
	// DeleteFile removes a file from the engine's virtual filesystem.
	DeleteFile(ctx context.Context, name string) error
	// Exec runs one command to completion and returns its exit code.
	Exec(ctx context.Context, args []string, sink Sink) (exitCode int, err error)
}

// LoadError is returned when the engine could not be loaded.
type LoadError struct {
	CoreLocation string
	Err          error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s from %q: %v", ErrLoad, e.CoreLocation, e.Err)
}

// Unwrap returns both ErrLoad and the cause.
func (e *LoadError) Unwrap() []error {
	return []error{ErrLoad, e.Err}
}

// IOError is returned when the virtual filesystem cannot be accessed.
type IOError struct {
	Op   string
	Name string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("engine %s %s: %v", e.Op, e.Name, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// ExecError is returned when a command exits with a non-zero code or the
// engine fails to run it.
type ExecError struct {
	Args     []string
	ExitCode int
	Err      error
}

func (e *ExecError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("engine exec [%s] failed (exit code %d): %v", strings.Join(e.Args, " "), e.ExitCode, e.Err)
	}
	return fmt.Sprintf("engine exec [%s] failed (exit code %d)", strings.Join(e.Args, " "), e.ExitCode)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}
