// Package fakeengine provides an in-memory engine.Engine for tests.
package fakeengine

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Darkness4/tsremux/engine"
	"github.com/Darkness4/tsremux/event"
)

// ExecFunc scripts the behaviour of one Exec call.
type ExecFunc func(e *Engine, args []string, sink engine.Sink) (int, error)

// Engine is an in-memory engine. Files live in a map; Exec behaviour is
// scripted per call index.
type Engine struct {
	// LoadGate, when set, blocks Load until it is closed.
	LoadGate chan struct{}
	// LoadErr is returned by Load.
	LoadErr error
	// ExecGate, when set, blocks every Exec until it is closed.
	ExecGate chan struct{}
	// Scripts overrides the default behaviour of the n-th Exec call.
	Scripts map[int]ExecFunc

	loads atomic.Int32

	mu    sync.Mutex
	files map[string][]byte
	calls [][]string
}

// New creates an empty fake engine.
func New() *Engine {
	return &Engine{
		files:   make(map[string][]byte),
		Scripts: make(map[int]ExecFunc),
	}
}

// Loads returns how many times Load was called.
func (e *Engine) Loads() int {
	return int(e.loads.Load())
}

// Calls returns the argument lists of every Exec call, in order.
func (e *Engine) Calls() [][]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]string, len(e.calls))
	copy(out, e.calls)
	return out
}

// Files returns the names currently stored.
func (e *Engine) Files() map[string][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string][]byte, len(e.files))
	for k, v := range e.files {
		out[k] = v
	}
	return out
}

// Load implements engine.Engine.
func (e *Engine) Load(ctx context.Context, _ string) error {
	e.loads.Add(1)
	if e.LoadGate != nil {
		select {
		case <-e.LoadGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return e.LoadErr
}

// WriteFile implements engine.Engine.
func (e *Engine) WriteFile(_ context.Context, name string, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.files[name] = append([]byte(nil), data...)
	return nil
}

// ReadFile implements engine.Engine.
func (e *Engine) ReadFile(_ context.Context, name string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	data, ok := e.files[name]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return data, nil
}

// DeleteFile implements engine.Engine.
func (e *Engine) DeleteFile(_ context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.files[name]; !ok {
		return fs.ErrNotExist
	}
	delete(e.files, name)
	return nil
}

// Exec implements engine.Engine.
func (e *Engine) Exec(ctx context.Context, args []string, sink engine.Sink) (int, error) {
	e.mu.Lock()
	idx := len(e.calls)
	e.calls = append(e.calls, args)
	script := e.Scripts[idx]
	e.mu.Unlock()

	if e.ExecGate != nil {
		select {
		case <-e.ExecGate:
		case <-ctx.Done():
			return -1, ctx.Err()
		}
	}

	if script != nil {
		return script(e, args, sink)
	}
	return Copy(e, args, sink)
}

// Copy is the default behaviour: every input is concatenated into the output
// (the last argument), and a log line and a final progress tick are emitted.
func Copy(e *Engine, args []string, sink engine.Sink) (int, error) {
	if len(args) == 0 {
		return 1, errors.New("no arguments")
	}
	var out []byte
	for i := 0; i < len(args)-1; i++ {
		if args[i] != "-i" {
			continue
		}
		data, err := e.ReadFile(context.Background(), args[i+1])
		if err != nil {
			sink.EmitLog(args[i+1] + ": No such file or directory")
			return 1, nil
		}
		out = append(out, data...)
	}
	output := args[len(args)-1]
	sink.EmitLog("Output #0, to '" + output + "'")
	sink.EmitProgress(event.Progress{Ratio: 0.5})
	sink.EmitProgress(event.Progress{Ratio: 1})
	return 0, e.WriteFile(context.Background(), output, out)
}

// Fail is an ExecFunc exiting with the given code after logging message.
func Fail(code int, message string) ExecFunc {
	return func(_ *Engine, _ []string, sink engine.Sink) (int, error) {
		sink.EmitLog(message)
		return code, nil
	}
}

// HasArg reports whether args contains the given argument.
func HasArg(args []string, arg string) bool {
	for _, a := range args {
		if a == arg {
			return true
		}
	}
	return false
}

// Output returns the output name of an argument list.
func Output(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return strings.TrimSpace(args[len(args)-1])
}
