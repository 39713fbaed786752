package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// debounce groups the bursts of events editors produce on save.
const debounce = 100 * time.Millisecond

// Watch sends the configuration once, then again each time the file changes.
// Files that fail to load are logged and skipped. It returns when ctx is done.
func Watch(ctx context.Context, filename string, configChan chan<- *Config) error {
	filename = filepath.Clean(filename)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watching the directory survives editors replacing the file.
	if err := watcher.Add(filepath.Dir(filename)); err != nil {
		return err
	}

	send := func() bool {
		config, err := Load(filename)
		if err != nil {
			log.Error().Err(err).Str("file", filename).Msg("failed to load config")
			return true
		}
		log.Info().Str("file", filename).Msg("new config detected")
		select {
		case configChan <- config:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !send() {
		return ctx.Err()
	}

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filename {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			timer.Reset(debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Str("file", filename).Msg("config watcher error")
		case <-timer.C:
			if !send() {
				return ctx.Err()
			}
		}
	}
}

// Reloader calls handleConfig for each received configuration. The previous
// handler's context is canceled and the handler awaited before the next one
// starts, so at most one handler runs at a time.
func Reloader(
	ctx context.Context,
	configChan <-chan *Config,
	handleConfig func(ctx context.Context, config *Config),
) error {
	var configCancel context.CancelFunc
	// Ensures only one handleConfig runs.
	doneChan := make(chan struct{})

	for {
		select {
		case newConfig := <-configChan:
			if configCancel != nil {
				configCancel()
				select {
				case <-doneChan:
					log.Info().Msg("loading new config")
				case <-time.After(30 * time.Second):
					log.Fatal().Msg("couldn't load a new config because of a deadlock")
				}
			}
			var configContext context.Context
			configContext, configCancel = context.WithCancel(ctx)
			go func() {
				log.Info().Msg("loaded new config")
				handleConfig(configContext, newConfig)
				doneChan <- struct{}{}
			}()
		case <-ctx.Done():
			if configCancel != nil {
				configCancel()
				// Ensures handleConfig ends gracefully.
				select {
				case <-doneChan:
					log.Info().Msg("config reloader graceful exit")
				case <-time.After(30 * time.Second):
					log.Fatal().Msg("config reloader force fatal exit")
				}
			}
			return ctx.Err()
		}
	}
}
