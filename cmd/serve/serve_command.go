// Package serve provides the command serving the remux front end over HTTP.
package serve

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "net/http/pprof"

	"github.com/Darkness4/tsremux/config"
	"github.com/Darkness4/tsremux/engine"
	"github.com/Darkness4/tsremux/engine/ffmpeg"
	"github.com/Darkness4/tsremux/event"
	"github.com/Darkness4/tsremux/job"
	"github.com/Darkness4/tsremux/notify"
	"github.com/Darkness4/tsremux/notify/notifier"
	"github.com/Darkness4/tsremux/result"
	"github.com/Darkness4/tsremux/utils/try"
	"github.com/Darkness4/tsremux/web"
	_ "github.com/grafana/pyroscope-go/godeltaprof/http/pprof"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

var (
	listenAddress      string
	pprofListenAddress string
	configPath         string
	coreLocation       string
	threads            string
	resultSecret       string
	resultTTL          time.Duration
	execTimeout        time.Duration
	maxUploadSize      int64
)

// Command is the command serving the web front end.
var Command = &cli.Command{
	Name:  "serve",
	Usage: "Serve a web page remuxing uploaded mpegts into progressive mp4.",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:        "listen-address",
			Value:       ":8080",
			Usage:       "Address to listen on.",
			EnvVars:     []string{"TSREMUX_LISTEN_ADDRESS"},
			Destination: &listenAddress,
		},
		&cli.StringFlag{
			Name:        "pprof.listen-address",
			Usage:       "Address of the profiling listener. Disabled when empty.",
			EnvVars:     []string{"TSREMUX_PPROF_LISTEN_ADDRESS"},
			Destination: &pprofListenAddress,
		},
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Config file path. Reloaded on change.",
			EnvVars:     []string{"TSREMUX_CONFIG"},
			Destination: &configPath,
		},
		&cli.StringFlag{
			Name:        "core-location",
			Usage:       "ffmpeg executable or the directory containing it. Defaults to PATH.",
			EnvVars:     []string{"TSREMUX_CORE_LOCATION"},
			Destination: &coreLocation,
		},
		&cli.StringFlag{
			Name:        "threads",
			Aliases:     []string{"t"},
			Usage:       "Thread hint used when a run does not give one. Overridden by the config file.",
			EnvVars:     []string{"TSREMUX_THREADS"},
			Destination: &threads,
		},
		&cli.StringFlag{
			Name:        "result-secret",
			Usage:       "Secret signing result URLs. Results are unsigned when empty.",
			EnvVars:     []string{"TSREMUX_RESULT_SECRET"},
			Destination: &resultSecret,
		},
		&cli.DurationFlag{
			Name:        "result-ttl",
			Value:       time.Hour,
			Usage:       "Lifetime of signed result URLs.",
			EnvVars:     []string{"TSREMUX_RESULT_TTL"},
			Destination: &resultTTL,
		},
		&cli.DurationFlag{
			Name:        "exec-timeout",
			Usage:       "Maximum duration of each ffmpeg invocation. 0 means no limit.",
			EnvVars:     []string{"TSREMUX_EXEC_TIMEOUT"},
			Destination: &execTimeout,
		},
		&cli.Int64Flag{
			Name:        "max-upload-size",
			Value:       4 << 30,
			Usage:       "Maximum size in bytes of an uploaded file.",
			EnvVars:     []string{"TSREMUX_MAX_UPLOAD_SIZE"},
			Destination: &maxUploadSize,
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

		bridge := event.NewBridge()
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

		var publisherOpts []result.Option
		if resultSecret != "" {
			publisherOpts = append(
				publisherOpts,
				result.WithSecret([]byte(resultSecret)),
				result.WithTTL(resultTTL),
			)
		}
		srv := web.New(
			o,
			h,
			bridge,
			result.NewPublisher(publisherOpts...),
			web.WithBaseContext(ctx),
			web.WithMaxUploadSize(maxUploadSize),
			web.WithMetrics(),
		)
		defaultThreads := job.NoThreadHint()
		if threads != "" {
			defaultThreads = job.ParseThreadHint(threads)
		}
		srv.SetDefaultThreads(defaultThreads)

		if pprofListenAddress != "" {
			go func() {
				log.Info().Str("listenAddress", pprofListenAddress).Msg("profiling listening")
				if err := http.ListenAndServe(pprofListenAddress, nil); err != nil {
					log.Error().Err(err).Msg("profiling listener stopped")
				}
			}()
		}

		go preload(ctx, srv)

		if configPath != "" {
			configChan := make(chan *config.Config)
			go func() {
				if err := config.Watch(ctx, configPath, configChan); err != nil &&
					!errors.Is(err, context.Canceled) {
					log.Error().Err(err).Str("config", configPath).Msg("config watcher stopped")
				}
			}()
			go func() {
				_ = config.Reloader(ctx, configChan, func(ctx context.Context, c *config.Config) {
					handleConfig(ctx, srv, c, defaultThreads)
				})
			}()
		}

		server := &http.Server{
			Addr:              listenAddress,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext: func(_ net.Listener) context.Context {
				return ctx
			},
		}
		errChan := make(chan error, 1)
		go func() {
			log.Info().Str("listenAddress", listenAddress).Msg("listening")
			errChan <- server.ListenAndServe()
		}()

		select {
		case err := <-errChan:
			if !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("fail to serve http")
				return err
			}
			return nil
		case <-ctx.Done():
		}

		log.Info().Msg("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	},
}

func preload(ctx context.Context, srv *web.Server) {
	log.Info().Str("coreLocation", coreLocation).Msg("loading engine...")
	err := srv.Preload(ctx, coreLocation)
	if err == nil {
		log.Info().Msg("engine loaded")
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	log.Error().
		Err(err).
		Msg("engine failed to load, install ffmpeg or set --core-location; runs will retry")
	if err := try.Do(ctx, 3, 5*time.Second, func(ctx context.Context) error {
		return notifier.NotifyEngineLoadFailed(ctx, err)
	}); err != nil {
		log.Err(err).Msg("notify failed")
	}
}

func handleConfig(
	ctx context.Context,
	srv *web.Server,
	c *config.Config,
	defaultThreads float64,
) {
	defer func() {
		if err := recover(); err != nil {
			log.Error().Any("panic", err).Msg("panicked while handling config")
			if err := notifier.NotifyPanicked(context.Background(), err); err != nil {
				log.Err(err).Msg("notify failed")
			}
			os.Exit(1)
		}
	}()

	client := &http.Client{Timeout: time.Minute}
	var base notify.BaseNotifier
	switch {
	case c.Notifier.Gotify.Enabled:
		base = notify.NewGotifyNotifier(
			client,
			c.Notifier.Gotify.Endpoint,
			c.Notifier.Gotify.Token,
		)
		log.Info().Msg("using gotify")
	case c.Notifier.Shoutrrr.Enabled:
		if len(c.Notifier.Shoutrrr.URLs) == 0 {
			log.Warn().Msg("using shoutrrr but there is no URLs")
		}
		var err error
		base, err = notify.NewShoutrrrNotifier(c.Notifier.Shoutrrr.URLs...)
		if err != nil {
			log.Error().Err(err).Msg("invalid shoutrrr URLs, notifications disabled")
			base = notify.NewDummyNotifier()
		} else {
			log.Info().Msg("using shoutrrr")
		}
	default:
		base = notify.NewDummyNotifier()
		log.Info().Msg("no notifier configured")
	}

	n, err := notify.NewFormatedNotifier(base, c.NotificationFormats)
	if err != nil {
		log.Error().Err(err).Msg("invalid notification formats, keeping the previous notifier")
	} else {
		notifier.Set(n)
	}

	if c.DefaultThreads != nil {
		srv.SetDefaultThreads(*c.DefaultThreads)
		log.Info().Float64("threads", *c.DefaultThreads).Msg("default threads set")
	} else {
		srv.SetDefaultThreads(defaultThreads)
	}

	if err := try.Do(ctx, 3, 5*time.Second, func(ctx context.Context) error {
		return notifier.NotifyConfigReloaded(ctx)
	}); err != nil {
		log.Err(err).Msg("notify failed")
	}

	<-ctx.Done()
	log.Debug().Str("config", configPath).Msg("config released")
}
