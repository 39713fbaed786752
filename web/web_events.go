package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Darkness4/tsremux/event"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const writeTimeout = 10 * time.Second

// Message is pushed to event stream clients. Logs holds the lines emitted
// since the previous message. Only the first message carries the full job log.
type Message struct {
	Logs     []string  `json:"logs,omitempty"`
	Progress *Progress `json:"progress,omitempty"`
	State    State     `json:"state"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to accept websocket")
		return
	}
	defer conn.CloseNow()

	// The client never writes; reading only detects the close.
	ctx := conn.CloseRead(r.Context())

	mailbox := event.NewMailbox(s.bridge)
	defer mailbox.Close()

	batches := make(chan event.Batch)
	go func() {
		defer close(batches)
		for {
			b, err := mailbox.Next(ctx)
			if err != nil {
				return
			}
			select {
			case batches <- b:
			case <-ctx.Done():
				return
			}
		}
	}()

	changed := s.changedChan()
	first := Message{State: s.State()}
	if p, ok := s.bridge.LastProgress(); ok {
		first.Progress = newProgress(&p)
	}
	if err := s.writeMessage(ctx, conn, first); err != nil {
		return
	}

	for {
		var msg Message
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case b, ok := <-batches:
			if !ok {
				return
			}
			msg.Logs = b.Logs
			msg.Progress = newProgress(b.Progress)
		case <-changed:
			changed = s.changedChan()
		}
		// Clients rebuild the log from Logs after the first message.
		msg.State = s.State()
		msg.State.Job.Log = nil
		if err := s.writeMessage(ctx, conn, msg); err != nil {
			return
		}
	}
}

func (s *Server) writeMessage(ctx context.Context, conn *websocket.Conn, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	err := wsjson.Write(ctx, conn, msg)
	if err != nil && !errors.Is(err, context.Canceled) {
		var closeError websocket.CloseError
		if !errors.As(err, &closeError) {
			s.log.Warn().Err(err).Msg("failed to write event")
		}
	}
	return err
}
