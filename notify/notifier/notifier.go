// Package notifier holds the process-wide notifier.
package notifier

import (
	"context"
	"sync"

	"github.com/Darkness4/tsremux/notify"
)

var (
	mu       sync.RWMutex
	notifier = mustDefault()
)

func mustDefault() *notify.FormatedNotifier {
	n, err := notify.NewFormatedNotifier(
		notify.NewDummyNotifier(),
		notify.DefaultNotificationFormats,
	)
	if err != nil {
		panic(err)
	}
	return n
}

// Set replaces the process-wide notifier. It is called on config reload.
func Set(n *notify.FormatedNotifier) {
	mu.Lock()
	defer mu.Unlock()
	notifier = n
}

// Get returns the process-wide notifier.
func Get() *notify.FormatedNotifier {
	mu.RLock()
	defer mu.RUnlock()
	return notifier
}

// NotifyConfigReloaded notifies the user that the configuration has been reloaded.
func NotifyConfigReloaded(ctx context.Context) error {
	return Get().NotifyConfigReloaded(ctx)
}

// NotifyEngineLoadFailed notifies the user that the engine could not be loaded.
func NotifyEngineLoadFailed(ctx context.Context, capture error) error {
	return Get().NotifyEngineLoadFailed(ctx, capture)
}

// NotifyJobStarted notifies the user that a job started.
func NotifyJobStarted(ctx context.Context, job any) error {
	return Get().NotifyJobStarted(ctx, job)
}

// NotifyJobFinished notifies the user that a job succeeded.
func NotifyJobFinished(ctx context.Context, job any, url string) error {
	return Get().NotifyJobFinished(ctx, job, url)
}

// NotifyJobFailed notifies the user that a job failed.
func NotifyJobFailed(ctx context.Context, job any, capture error) error {
	return Get().NotifyJobFailed(ctx, job, capture)
}

// NotifyPanicked notifies the user that the program panicked.
func NotifyPanicked(ctx context.Context, capture any) error {
	return Get().NotifyPanicked(ctx, capture)
}
