// Package remux provides a command remuxing a transport stream from the shell.
package remux

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Darkness4/tsremux/engine"
	"github.com/Darkness4/tsremux/engine/ffmpeg"
	"github.com/Darkness4/tsremux/event"
	"github.com/Darkness4/tsremux/job"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

var (
	threads      string
	output       string
	coreLocation string
	execTimeout  time.Duration
	extractAudio bool
)

// Command is the command remuxing a transport stream into a faststart MP4.
var Command = &cli.Command{
	Name:      "remux",
	Usage:     "Remux a mpegts into a progressive mp4.",
	ArgsUsage: "file",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:        "threads",
			Usage:       "Thread hint passed to ffmpeg, clamped to [1, 8].",
			Aliases:     []string{"t"},
			EnvVars:     []string{"TSREMUX_THREADS"},
			Destination: &threads,
		},
		&cli.StringFlag{
			Name:        "output",
			Usage:       "Output file. Defaults to the input name with the mp4 extension.",
			Aliases:     []string{"o"},
			Destination: &output,
		},
		&cli.StringFlag{
			Name:        "core-location",
			Usage:       "ffmpeg executable or the directory containing it. Defaults to PATH.",
			EnvVars:     []string{"TSREMUX_CORE_LOCATION"},
			Destination: &coreLocation,
		},
		&cli.DurationFlag{
			Name:        "exec-timeout",
			Usage:       "Maximum duration of each ffmpeg invocation. 0 means no limit.",
			EnvVars:     []string{"TSREMUX_EXEC_TIMEOUT"},
			Destination: &execTimeout,
		},
		&cli.BoolFlag{
			Name:        "extract-audio",
			Value:       false,
			Usage:       "Also keep the audio-only track as m4a.",
			Aliases:     []string{"x"},
			Destination: &extractAudio,
		},
	},
	Action: func(cCtx *cli.Context) error {
		ctx, cancel := context.WithCancel(cCtx.Context)
		defer cancel()

		// Trap cleanup
		cleanChan := make(chan os.Signal, 1)
		signal.Notify(cleanChan, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(cleanChan)
		go func() {
			select {
			case <-cleanChan:
				cancel()
			case <-ctx.Done():
			}
		}()

		file := cCtx.Args().Get(0)
		if file == "" {
			log.Error().Msg("arg[0] is empty")
			return errors.New("missing file path")
		}
		input, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		if output == "" {
			output = prepareFile(file, "mp4")
		}

		bridge := event.NewBridge()
		bridge.OnLog(func(line string) {
			log.Debug().Str("input", file).Msg(line)
		})
		bridge.OnProgress(func(p event.Progress) {
			log.Debug().Str("input", file).Msg(p.String())
		})

		ff := ffmpeg.New()
		defer func() {
			if err := ff.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to remove ffmpeg working directory")
			}
		}()
		h := engine.NewHandle(ff, bridge)
		o := job.New(
			h,
			bridge,
			job.WithCoreLocation(coreLocation),
			job.WithStageTimeout(execTimeout),
		)

		log.Info().Str("output", output).Str("input", file).Msg("remuxing stream...")
		j, err := o.Run(ctx, filepath.Base(file), input, job.ParseThreadHint(threads))
		if err != nil {
			log.Error().
				Str("output", output).
				Str("input", file).
				Err(err).
				Msg("ffmpeg remux finished with error")
			return err
		}
		if err := writeFile(output, j.Result); err != nil {
			return err
		}
		log.Info().
			Str("output", output).
			Int("size", len(j.Result)).
			Dur("took", j.FinishedAt.Sub(j.StartedAt)).
			Msg("remux finished")

		if extractAudio {
			audio, err := h.ReadFile(ctx, job.AudioFile)
			if err != nil {
				return err
			}
			fnameAudio := prepareFile(file, "m4a")
			if err := writeFile(fnameAudio, audio); err != nil {
				return err
			}
			log.Info().Str("output", fnameAudio).Msg("audio extracted")
		}
		return nil
	},
}

func writeFile(name string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return err
	}
	return os.WriteFile(name, data, 0o644)
}

func removeExtension(filename string) string {
	return filename[:len(filename)-len(filepath.Ext(filename))]
}

// prepareFile returns a name next to filename with the new extension that
// does not exist yet.
func prepareFile(filename, newExt string) (fName string) {
	n := 0
	filename = removeExtension(filename)
	for {
		var extn string
		if n == 0 {
			extn = newExt
		} else {
			extn = fmt.Sprintf("%d.%s", n, newExt)
		}
		fName = fmt.Sprintf("%s.%s", filename, extn)
		if _, err := os.Stat(fName); errors.Is(err, os.ErrNotExist) {
			break
		}
		n++
	}
	return fName
}
