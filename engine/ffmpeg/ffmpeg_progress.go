package ffmpeg

import (
	"regexp"
	"strconv"
	"time"

	"github.com/Darkness4/tsremux/event"
)

var (
	durationRe = regexp.MustCompile(`Duration:\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)
	timeRe     = regexp.MustCompile(`time=\s*(-?\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)
)

// ProgressParser turns ffmpeg stderr lines into progress ticks.
//
// The first "Duration:" line seen is taken as the total; each stats line with
// a "time=" field produces a tick.
type ProgressParser struct {
	duration time.Duration
	elapsed  *time.Duration
}

// Feed parses one line. It returns a tick when the line carried a time.
func (p *ProgressParser) Feed(line string) (event.Progress, bool) {
	if m := durationRe.FindStringSubmatch(line); m != nil && p.duration == 0 {
		p.duration = parseClock(m[1], m[2], m[3])
		return event.Progress{}, false
	}
	m := timeRe.FindStringSubmatch(line)
	if m == nil {
		return event.Progress{}, false
	}
	elapsed := parseClock(m[1], m[2], m[3])
	if elapsed < 0 {
		elapsed = 0
	}
	p.elapsed = &elapsed

	ratio := 0.0
	if p.duration > 0 {
		ratio = float64(elapsed) / float64(p.duration)
	}
	return event.Progress{Ratio: clampRatio(ratio), Elapsed: &elapsed}, true
}

// Final returns the completion tick.
func (p *ProgressParser) Final() event.Progress {
	return event.Progress{Ratio: 1, Elapsed: p.elapsed}
}

func parseClock(h, m, s string) time.Duration {
	hours, _ := strconv.Atoi(h)
	minutes, _ := strconv.Atoi(m)
	seconds, _ := strconv.ParseFloat(s, 64)
	sign := time.Duration(1)
	if hours < 0 {
		sign = -1
		hours = -hours
	}
	return sign * (time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second)))
}

func clampRatio(r float64) float64 {
	switch {
	case r < 0:
		return 0
	case r > 1:
		return 1
	}
	return r
}
