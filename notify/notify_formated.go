package notify

import (
	"context"
	"strings"
	"text/template"
)

// NotificationFormats is a collection of formats for notifications.
type NotificationFormats struct {
	ConfigReloaded   NotificationFormat `yaml:"configReloaded,omitempty"`
	EngineLoadFailed NotificationFormat `yaml:"engineLoadFailed,omitempty"`
	JobStarted       NotificationFormat `yaml:"jobStarted,omitempty"`
	JobFinished      NotificationFormat `yaml:"jobFinished,omitempty"`
	JobFailed        NotificationFormat `yaml:"jobFailed,omitempty"`
	Panicked         NotificationFormat `yaml:"panicked,omitempty"`
}

// NotificationFormat is a format for a notification.
type NotificationFormat struct {
	Enabled  *bool  `yaml:"enabled,omitempty"`
	Title    string `yaml:"title,omitempty"`
	Message  string `yaml:"message,omitempty"`
	Priority int    `yaml:"priority,omitempty"`
}

// NotificationTemplate is a template for a notification.
type NotificationTemplate struct {
	TitleTemplate   *template.Template
	MessageTemplate *template.Template
}

// NotificationTemplates is a collection of templates for notifications.
type NotificationTemplates struct {
	ConfigReloaded   NotificationTemplate
	EngineLoadFailed NotificationTemplate
	JobStarted       NotificationTemplate
	JobFinished      NotificationTemplate
	JobFailed        NotificationTemplate
	Panicked         NotificationTemplate
}

func ref[T any](v T) *T {
	return &v
}

// DefaultNotificationFormats is the default notification formats.
var DefaultNotificationFormats = NotificationFormats{
	ConfigReloaded: NotificationFormat{
		Enabled:  ref(true),
		Title:    "config reloaded",
		Priority: PriorityHigh,
	},
	EngineLoadFailed: NotificationFormat{
		Enabled:  ref(true),
		Title:    "engine failed to load",
		Message:  "{{ .Error }}",
		Priority: PriorityHigh,
	},
	JobStarted: NotificationFormat{
		Enabled:  ref(false),
		Title:    "remuxing {{ .Job.InputName }}",
		Message:  "{{ .Job.InputSize }} bytes with {{ .Job.Threads }} threads",
		Priority: PriorityLow,
	},
	JobFinished: NotificationFormat{
		Enabled:  ref(true),
		Title:    "{{ .Job.InputName }} remuxed",
		Message:  "{{ .URL }}",
		Priority: PriorityMedium,
	},
	JobFailed: NotificationFormat{
		Enabled:  ref(true),
		Title:    "remux of {{ .Job.InputName }} failed",
		Message:  "{{ .Error }}",
		Priority: PriorityHigh,
	},
	Panicked: NotificationFormat{
		Enabled:  ref(true),
		Title:    "panicked",
		Message:  "{{ .Capture }}",
		Priority: PriorityHigh,
	},
}

func (old *NotificationFormat) applyNotificationFormatDefault(
	newFormat NotificationFormat,
) {
	if newFormat.Enabled != nil {
		old.Enabled = newFormat.Enabled
	}
	if newFormat.Title != "" {
		old.Title = newFormat.Title
	}
	if newFormat.Message != "" {
		old.Message = newFormat.Message
	}
	if newFormat.Priority != 0 {
		old.Priority = newFormat.Priority
	}
}

func applyNotificationFormatsDefault(newFormat NotificationFormats) NotificationFormats {
	formats := DefaultNotificationFormats
	formats.ConfigReloaded.applyNotificationFormatDefault(newFormat.ConfigReloaded)
	formats.EngineLoadFailed.applyNotificationFormatDefault(newFormat.EngineLoadFailed)
	formats.JobStarted.applyNotificationFormatDefault(newFormat.JobStarted)
	formats.JobFinished.applyNotificationFormatDefault(newFormat.JobFinished)
	formats.JobFailed.applyNotificationFormatDefault(newFormat.JobFailed)
	formats.Panicked.applyNotificationFormatDefault(newFormat.Panicked)
	return formats
}

func initializeTemplate(name string, format NotificationFormat) (NotificationTemplate, error) {
	title, err := template.New(name + "Title").Parse(format.Title)
	if err != nil {
		return NotificationTemplate{}, err
	}
	message, err := template.New(name + "Message").Parse(format.Message)
	if err != nil {
		return NotificationTemplate{}, err
	}
	return NotificationTemplate{
		TitleTemplate:   title,
		MessageTemplate: message,
	}, nil
}

func initializeTemplates(formats NotificationFormats) (t NotificationTemplates, err error) {
	if t.ConfigReloaded, err = initializeTemplate("ConfigReloaded", formats.ConfigReloaded); err != nil {
		return t, err
	}
	if t.EngineLoadFailed, err = initializeTemplate("EngineLoadFailed", formats.EngineLoadFailed); err != nil {
		return t, err
	}
	if t.JobStarted, err = initializeTemplate("JobStarted", formats.JobStarted); err != nil {
		return t, err
	}
	if t.JobFinished, err = initializeTemplate("JobFinished", formats.JobFinished); err != nil {
		return t, err
	}
	if t.JobFailed, err = initializeTemplate("JobFailed", formats.JobFailed); err != nil {
		return t, err
	}
	if t.Panicked, err = initializeTemplate("Panicked", formats.Panicked); err != nil {
		return t, err
	}
	return t, nil
}

// FormatedNotifier is a notifier that formats the notifications.
type FormatedNotifier struct {
	BaseNotifier
	NotificationFormats
	NotificationTemplates
}

// NewFormatedNotifier creates a new FormatedNotifier. Formats left empty fall
// back to DefaultNotificationFormats.
func NewFormatedNotifier(
	notifier BaseNotifier,
	formats NotificationFormats,
) (*FormatedNotifier, error) {
	formats = applyNotificationFormatsDefault(formats)
	templates, err := initializeTemplates(formats)
	if err != nil {
		return nil, err
	}
	return &FormatedNotifier{
		BaseNotifier:          notifier,
		NotificationFormats:   formats,
		NotificationTemplates: templates,
	}, nil
}

func (n *FormatedNotifier) send(
	ctx context.Context,
	format NotificationFormat,
	tmpl NotificationTemplate,
	data any,
) error {
	if format.Enabled == nil || !*format.Enabled {
		return nil
	}
	var titleSB strings.Builder
	var messageSB strings.Builder
	if err := tmpl.TitleTemplate.Execute(&titleSB, data); err != nil {
		return err
	}
	if err := tmpl.MessageTemplate.Execute(&messageSB, data); err != nil {
		return err
	}
	return n.Notify(ctx, titleSB.String(), messageSB.String(), format.Priority)
}

// NotifyConfigReloaded sends a notification that the config was reloaded.
func (n *FormatedNotifier) NotifyConfigReloaded(ctx context.Context) error {
	return n.send(
		ctx,
		n.NotificationFormats.ConfigReloaded,
		n.NotificationTemplates.ConfigReloaded,
		struct{}{},
	)
}

// NotifyEngineLoadFailed sends a notification that the engine could not be
// loaded.
func (n *FormatedNotifier) NotifyEngineLoadFailed(ctx context.Context, capture error) error {
	return n.send(
		ctx,
		n.NotificationFormats.EngineLoadFailed,
		n.NotificationTemplates.EngineLoadFailed,
		struct {
			Error error
		}{
			Error: capture,
		},
	)
}

// NotifyJobStarted sends a notification that a job started.
func (n *FormatedNotifier) NotifyJobStarted(ctx context.Context, job any) error {
	return n.send(
		ctx,
		n.NotificationFormats.JobStarted,
		n.NotificationTemplates.JobStarted,
		struct {
			Job any
		}{
			Job: job,
		},
	)
}

// NotifyJobFinished sends a notification that a job succeeded and its result
// is available at url.
func (n *FormatedNotifier) NotifyJobFinished(ctx context.Context, job any, url string) error {
	return n.send(
		ctx,
		n.NotificationFormats.JobFinished,
		n.NotificationTemplates.JobFinished,
		struct {
			Job any
			URL string
		}{
			Job: job,
			URL: url,
		},
	)
}

// NotifyJobFailed sends a notification that a job failed.
func (n *FormatedNotifier) NotifyJobFailed(ctx context.Context, job any, capture error) error {
	return n.send(
		ctx,
		n.NotificationFormats.JobFailed,
		n.NotificationTemplates.JobFailed,
		struct {
			Job   any
			Error error
		}{
			Job:   job,
			Error: capture,
		},
	)
}

// NotifyPanicked sends a notification that the program panicked.
func (n *FormatedNotifier) NotifyPanicked(ctx context.Context, capture any) error {
	return n.send(
		ctx,
		n.NotificationFormats.Panicked,
		n.NotificationTemplates.Panicked,
		struct {
			Capture any
		}{
			Capture: capture,
		},
	)
}
