// Package notify sends push notifications about jobs.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/containrrr/shoutrrr"
	"github.com/containrrr/shoutrrr/pkg/router"
	"github.com/containrrr/shoutrrr/pkg/types"
)

const titlePrefix = "tsremux: "

// Priorities understood by Gotify.
const (
	PriorityLow    = 0
	PriorityMedium = 7
	PriorityHigh   = 10
)

// BaseNotifier delivers a single notification.
type BaseNotifier interface {
	Notify(ctx context.Context, title string, message string, priority int) error
}

type dummyNotifier struct{}

func (*dummyNotifier) Notify(context.Context, string, string, int) error {
	return nil
}

// NewDummyNotifier returns a notifier that drops everything.
func NewDummyNotifier() BaseNotifier {
	return &dummyNotifier{}
}

type gotifyMessage struct {
	Title    string `json:"title"`
	Priority int    `json:"priority"`
	Message  string `json:"message"`
}

type gotifyNotifier struct {
	*http.Client
	endpoint string
	token    string
}

// NewGotifyNotifier returns a notifier posting to a Gotify server.
func NewGotifyNotifier(client *http.Client, endpoint string, token string) BaseNotifier {
	return &gotifyNotifier{
		Client:   client,
		endpoint: endpoint,
		token:    token,
	}
}

func (n *gotifyNotifier) Notify(
	ctx context.Context,
	title string,
	message string,
	priority int,
) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if message == "" {
		message = title
	}

	var bb bytes.Buffer
	if err := json.NewEncoder(&bb).Encode(gotifyMessage{
		Title:    titlePrefix + title,
		Message:  message,
		Priority: priority,
	}); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint+"/message", &bb)
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("Authorization", "Bearer "+n.token)

	resp, err := n.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("notification failed: %s", string(out))
	}
	return nil
}

type shoutrrrNotifier struct {
	*router.ServiceRouter
}

// NewShoutrrrNotifier returns a notifier sending to every shoutrrr URL.
func NewShoutrrrNotifier(urls ...string) (BaseNotifier, error) {
	r, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, err
	}
	return &shoutrrrNotifier{r}, nil
}

func (n *shoutrrrNotifier) Notify(
	_ context.Context,
	title string,
	message string,
	priority int,
) error {
	if message == "" {
		message = title
	}
	errs := n.Send(message, &types.Params{
		"title":    titlePrefix + title,
		"priority": strconv.Itoa(priority),
	})
	return errors.Join(errs...)
}
