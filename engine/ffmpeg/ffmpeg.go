// Package ffmpeg implements engine.Engine on top of a native ffmpeg executable.
//
// Loading resolves the executable under the core location and creates a
// private working directory which acts as the engine's virtual filesystem.
package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/Darkness4/tsremux/engine"
	"github.com/rs/zerolog/log"
)

// ErrInvalidName is returned for virtual file names which are not plain base names.
var ErrInvalidName = errors.New("invalid virtual file name")

// maxLineSize bounds a single stderr line kept for the log.
const maxLineSize = 1024 * 1024

var _ engine.Engine = (*Engine)(nil)

// Engine runs ffmpeg as a subprocess.
type Engine struct {
	mu      sync.RWMutex
	binary  string
	workDir string
}

// New creates an unloaded engine.
func New() *Engine {
	return &Engine{}
}

func binaryName() string {
	if runtime.GOOS == "windows" {
		return "ffmpeg.exe"
	}
	return "ffmpeg"
}

// lookup resolves the executable. An empty location means PATH, a directory
// means <dir>/ffmpeg, anything else is the executable itself.
func lookup(coreLocation string) (string, error) {
	if coreLocation == "" {
		return exec.LookPath(binaryName())
	}
	fi, err := os.Stat(coreLocation)
	if err != nil {
		return "", err
	}
	if fi.IsDir() {
		return exec.LookPath(filepath.Join(coreLocation, binaryName()))
	}
	return exec.LookPath(coreLocation)
}

// Load implements engine.Engine.
func (e *Engine) Load(ctx context.Context, coreLocation string) error {
	binary, err := lookup(coreLocation)
	if err != nil {
		return fmt.Errorf("ffmpeg executable not found: %w", err)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, "-hide_banner", "-version")
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("ffmpeg is not runnable: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	version, _, _ := strings.Cut(string(out), "\n")

	workDir, err := os.MkdirTemp("", "tsremux-")
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.workDir != "" {
		_ = os.RemoveAll(e.workDir)
	}
	e.binary = binary
	e.workDir = workDir
	log.Info().
		Str("binary", binary).
		Str("version", version).
		Str("workDir", workDir).
		Msg("ffmpeg found")
	return nil
}

// Close removes the working directory.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.workDir == "" {
		return nil
	}
	err := os.RemoveAll(e.workDir)
	e.workDir = ""
	return err
}

func (e *Engine) path(name string) (string, error) {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.workDir == "" {
		return "", engine.ErrNotReady
	}
	return filepath.Join(e.workDir, name), nil
}

// WriteFile implements engine.Engine.
func (e *Engine) WriteFile(_ context.Context, name string, data []byte) error {
	p, err := e.path(name)
	if err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o600)
}

// ReadFile implements engine.Engine.
func (e *Engine) ReadFile(_ context.Context, name string) ([]byte, error) {
	p, err := e.path(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

// DeleteFile implements engine.Engine.
func (e *Engine) DeleteFile(_ context.Context, name string) error {
	p, err := e.path(name)
	if err != nil {
		return err
	}
	return os.Remove(p)
}

// Exec implements engine.Engine.
//
// Every stderr line is forwarded to the sink. Progress is computed from the
// input duration and the "time=" field of the stats lines. A successful run
// always ends with a progress tick of ratio 1.
func (e *Engine) Exec(ctx context.Context, args []string, sink engine.Sink) (int, error) {
	e.mu.RLock()
	binary, workDir := e.binary, e.workDir
	e.mu.RUnlock()
	if workDir == "" {
		return -1, engine.ErrNotReady
	}

	fullArgs := append([]string{"-hide_banner", "-nostdin", "-y"}, args...)
	cmd := exec.CommandContext(ctx, binary, fullArgs...)
	cmd.Dir = workDir
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, err
	}

	log.Debug().Strs("args", fullArgs).Msg("ffmpeg start")
	if err := cmd.Start(); err != nil {
		return -1, err
	}

	var parser ProgressParser
	var lastLine string
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	scanner.Split(scanLines)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lastLine = line
		sink.EmitLog(line)
		if p, ok := parser.Feed(line); ok {
			sink.EmitProgress(p)
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		log.Error().Err(err).Msg("ffmpeg failed to read stderr")
		// Keep the pipe flowing or ffmpeg blocks on write.
		_, _ = io.Copy(io.Discard, stderr)
	}

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return -1, fmt.Errorf("%w: %w", ctxErr, err)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if lastLine == "" {
				return exitErr.ExitCode(), err
			}
			return exitErr.ExitCode(), fmt.Errorf("%w: %s", err, lastLine)
		}
		return -1, err
	}

	sink.EmitProgress(parser.Final())
	log.Debug().Strs("args", fullArgs).Msg("ffmpeg finished")
	return 0, nil
}

// scanLines splits on '\n' and on the bare '\r' ffmpeg uses to redraw its
// stats line.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
