package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/Darkness4/tsremux/notify"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type notification struct {
	Title    string
	Message  string
	Priority int
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (r *recordingNotifier) Notify(_ context.Context, title, message string, priority int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, notification{Title: title, Message: message, Priority: priority})
	return nil
}

type fakeJob struct {
	InputName string
	InputSize int
	Threads   int
}

type FormatedNotifierTestSuite struct {
	suite.Suite
	base *recordingNotifier
	impl *notify.FormatedNotifier
}

func (suite *FormatedNotifierTestSuite) BeforeTest(suiteName, testName string) {
	suite.base = &recordingNotifier{}
	impl, err := notify.NewFormatedNotifier(suite.base, notify.NotificationFormats{})
	suite.Require().NoError(err)
	suite.impl = impl
}

func (suite *FormatedNotifierTestSuite) TestNotifyJobFinished() {
	err := suite.impl.NotifyJobFinished(
		context.Background(),
		fakeJob{InputName: "in.ts"},
		"/results/abc",
	)

	suite.Require().NoError(err)
	suite.Require().Equal([]notification{
		{Title: "in.ts remuxed", Message: "/results/abc", Priority: notify.PriorityMedium},
	}, suite.base.sent)
}

func (suite *FormatedNotifierTestSuite) TestNotifyJobFailed() {
	err := suite.impl.NotifyJobFailed(
		context.Background(),
		fakeJob{InputName: "in.ts"},
		errors.New("mux: exit code 1"),
	)

	suite.Require().NoError(err)
	suite.Require().Equal([]notification{
		{Title: "remux of in.ts failed", Message: "mux: exit code 1", Priority: notify.PriorityHigh},
	}, suite.base.sent)
}

func (suite *FormatedNotifierTestSuite) TestNotifyJobStartedDisabledByDefault() {
	err := suite.impl.NotifyJobStarted(context.Background(), fakeJob{InputName: "in.ts"})

	suite.Require().NoError(err)
	suite.Require().Empty(suite.base.sent)
}

func (suite *FormatedNotifierTestSuite) TestNotifyEngineLoadFailed() {
	err := suite.impl.NotifyEngineLoadFailed(context.Background(), errors.New("ffmpeg not found"))

	suite.Require().NoError(err)
	suite.Require().Len(suite.base.sent, 1)
	suite.Require().Equal("engine failed to load", suite.base.sent[0].Title)
	suite.Require().Equal("ffmpeg not found", suite.base.sent[0].Message)
}

func (suite *FormatedNotifierTestSuite) TestNotifyPanicked() {
	err := suite.impl.NotifyPanicked(context.Background(), "boom")

	suite.Require().NoError(err)
	suite.Require().Equal("boom", suite.base.sent[0].Message)
}

func TestFormatedNotifierTestSuite(t *testing.T) {
	suite.Run(t, &FormatedNotifierTestSuite{})
}

func TestNewFormatedNotifierOverrides(t *testing.T) {
	base := &recordingNotifier{}
	enabled := true
	impl, err := notify.NewFormatedNotifier(base, notify.NotificationFormats{
		JobStarted: notify.NotificationFormat{
			Enabled: &enabled,
			Title:   "{{ .Job.InputName }} ({{ .Job.Threads }})",
		},
	})
	require.NoError(t, err)

	require.NoError(t, impl.NotifyJobStarted(context.Background(), fakeJob{InputName: "a.ts", Threads: 4}))
	require.Equal(t, "a.ts (4)", base.sent[0].Title)
	// Unset fields keep their default.
	require.Equal(t, "0 bytes with 4 threads", base.sent[0].Message)
}

func TestNewFormatedNotifierInvalidTemplate(t *testing.T) {
	_, err := notify.NewFormatedNotifier(notify.NewDummyNotifier(), notify.NotificationFormats{
		JobFailed: notify.NotificationFormat{Title: "{{ .Job"},
	})
	require.Error(t, err)
}

func TestGotifyNotifier(t *testing.T) {
	var got struct {
		Title    string `json:"title"`
		Message  string `json:"message"`
		Priority int    `json:"priority"`
	}
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/message", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	impl := notify.NewGotifyNotifier(srv.Client(), srv.URL, "token")
	err := impl.Notify(context.Background(), "title", "", notify.PriorityHigh)

	require.NoError(t, err)
	require.Equal(t, "Bearer token", auth)
	require.Equal(t, "tsremux: title", got.Title)
	require.Equal(t, "title", got.Message)
	require.Equal(t, notify.PriorityHigh, got.Priority)
}

func TestGotifyNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	impl := notify.NewGotifyNotifier(srv.Client(), srv.URL, "bad")
	err := impl.Notify(context.Background(), "title", "message", notify.PriorityLow)

	require.ErrorContains(t, err, "unauthorized")
}

func TestShoutrrrNotifier(t *testing.T) {
	impl, err := notify.NewShoutrrrNotifier("logger://")
	require.NoError(t, err)
	require.NoError(t, impl.Notify(context.Background(), "title", "message", notify.PriorityLow))
}

func TestShoutrrrNotifierInvalidURL(t *testing.T) {
	_, err := notify.NewShoutrrrNotifier("nope://")
	require.Error(t, err)
}
