package web

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/Darkness4/tsremux/engine"
	"github.com/Darkness4/tsremux/job"
	"github.com/Darkness4/tsremux/notify/notifier"
	"github.com/Darkness4/tsremux/result"
	"github.com/Darkness4/tsremux/utils"
	"github.com/Darkness4/tsremux/utils/try"
	"github.com/gabriel-vasile/mimetype"
)

const resultMIMEType = "video/mp4"

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator.Running() {
		s.writeError(w, http.StatusConflict, job.ErrAlreadyRunning.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.maxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxBytesErr):
			s.writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		case errors.Is(err, http.ErrMissingFile):
			s.writeError(w, http.StatusBadRequest, "no file selected")
		default:
			s.writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(data) == 0 {
		s.writeError(w, http.StatusBadRequest, "empty file")
		return
	}
	hint := s.threadHint(r.FormValue("threads"))
	name := utils.SanitizeFilename(header.Filename)

	s.log.Info().
		Str("name", name).
		Int("size", len(data)).
		Str("detectedMIMEType", mimetype.Detect(data).String()).
		Msg("upload received")

	s.mu.RLock()
	previous := s.result
	s.mu.RUnlock()

	j, err := s.orchestrator.Start(s.opts.baseContext, name, data, hint, s.onFinished)
	if errors.Is(err, job.ErrAlreadyRunning) {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	} else if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.supersede(previous)
	s.notifyChanged()
	s.notify(func(ctx context.Context) error {
		return notifier.NotifyJobStarted(ctx, j)
	})

	st := s.State()
	s.writeJSON(w, http.StatusAccepted, st)
}

// supersede revokes the result of the previous job. The new job may already
// have published its own result, which is kept.
func (s *Server) supersede(previous *result.Resource) {
	s.mu.Lock()
	if s.result == previous {
		s.result = nil
	}
	s.mu.Unlock()
	if previous != nil {
		s.revoke(previous)
	}
}

func (s *Server) revoke(res *result.Resource) {
	if err := res.Revoke(); err != nil && !errors.Is(err, result.ErrAlreadyRevoked) {
		s.log.Warn().Err(err).Str("id", res.ID).Msg("failed to revoke result")
	}
}

func (s *Server) onFinished(j job.MediaJob, err error) {
	defer s.notifyChanged()

	if err != nil {
		if errors.Is(err, engine.ErrLoad) {
			s.notify(func(ctx context.Context) error {
				return notifier.NotifyEngineLoadFailed(ctx, err)
			})
			return
		}
		s.notify(func(ctx context.Context) error {
			return notifier.NotifyJobFailed(ctx, j, err)
		})
		return
	}

	res, err := s.publisher.Publish(
		j.Result,
		resultMIMEType,
		result.WithName(utils.ReplaceExtension(j.InputName, "mp4")),
	)
	if err != nil {
		s.log.Error().Err(err).Str("jobID", j.ID).Msg("failed to publish result")
		return
	}

	s.mu.Lock()
	if s.orchestrator.Current().ID != j.ID {
		// A newer job was started while this one was finishing.
		s.mu.Unlock()
		s.revoke(res)
		return
	}
	stale := s.result
	s.result = res
	s.mu.Unlock()
	if stale != nil && stale != res {
		s.revoke(stale)
	}

	s.notify(func(ctx context.Context) error {
		return notifier.NotifyJobFinished(ctx, j, res.URL)
	})
}

// notify delivers a notification in the background.
func (s *Server) notify(fn func(ctx context.Context) error) {
	go func() {
		if err := try.Do(
			s.opts.baseContext,
			s.opts.notifyRetries,
			s.opts.notifyDelay,
			fn,
		); err != nil {
			s.log.Err(err).Msg("notify failed")
		}
	}()
}
