// Package job runs the single-flight remux pipeline.
package job

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/Darkness4/tsremux/event"
)

// ErrAlreadyRunning is returned when a run is requested while a job is active.
var ErrAlreadyRunning = errors.New("a job is already running")

// Status represents the state of a job.
type Status int

const (
	// StatusIdle is used before the first job.
	StatusIdle Status = iota
	// StatusLoading is used while the engine is being loaded.
	StatusLoading
	// StatusExtractingAudio is used during the audio extraction stage.
	StatusExtractingAudio
	// StatusExtractingVideo is used during the video extraction stage.
	StatusExtractingVideo
	// StatusMuxing is used during the mux stage.
	StatusMuxing
	// StatusDone is used once the output has been read back.
	StatusDone
	// StatusFailed is used when any step failed.
	StatusFailed
)

// String returns a string representation of a Status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "IDLE"
	case StatusLoading:
		return "LOADING"
	case StatusExtractingAudio:
		return "EXTRACTING_AUDIO"
	case StatusExtractingVideo:
		return "EXTRACTING_VIDEO"
	case StatusMuxing:
		return "MUXING"
	case StatusDone:
		return "DONE"
	case StatusFailed:
		return "FAILED"
	}
	return "IDLE"
}

// StatusFromString returns a Status from a string.
func StatusFromString(s string) Status {
	switch s {
	default:
		return StatusIdle
	case "LOADING":
		return StatusLoading
	case "EXTRACTING_AUDIO":
		return StatusExtractingAudio
	case "EXTRACTING_VIDEO":
		return StatusExtractingVideo
	case "MUXING":
		return StatusMuxing
	case "DONE":
		return StatusDone
	case "FAILED":
		return StatusFailed
	}
}

// MarshalJSON marshals a Status into a string.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON unmarshals a string into a Status.
func (s *Status) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	*s = StatusFromString(str)
	return nil
}

// Terminal reports whether no further transition can happen within the job.
func (s Status) Terminal() bool {
	return s == StatusIdle || s == StatusDone || s == StatusFailed
}

// MediaJob is one user-initiated run.
type MediaJob struct {
	ID         string          `json:"id"`
	InputName  string          `json:"inputName"`
	InputSize  int             `json:"inputSize"`
	Threads    int             `json:"threads"`
	Status     Status          `json:"status"`
	StageIndex int             `json:"stageIndex"`
	Log        []string        `json:"log"`
	Progress   *event.Progress `json:"-"`
	Result     []byte          `json:"-"`
	Err        error           `json:"-"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt"`
}

// clone returns a copy which does not share the log slice.
func (j *MediaJob) clone() MediaJob {
	c := *j
	c.Log = append([]string(nil), j.Log...)
	if j.Progress != nil {
		p := *j.Progress
		c.Progress = &p
	}
	return c
}
