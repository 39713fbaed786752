package event_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Darkness4/tsremux/event"
	"github.com/stretchr/testify/require"
)

func TestBridgeOrder(t *testing.T) {
	// Arrange
	b := event.NewBridge()
	var first, second []string
	b.OnLog(func(line string) { first = append(first, line) })
	b.OnLog(func(line string) { second = append(second, line) })

	// Act
	for i := 0; i < 5; i++ {
		b.EmitLog(fmt.Sprintf("line %d", i))
	}

	// Assert
	expected := []string{"line 0", "line 1", "line 2", "line 3", "line 4"}
	require.Equal(t, expected, first)
	require.Equal(t, expected, second)
}

func TestBridgeConcurrentEmitsAreSerialized(t *testing.T) {
	b := event.NewBridge()
	var mu sync.Mutex
	inside := 0
	maxInside := 0
	b.OnLog(func(string) {
		mu.Lock()
		inside++
		if inside > maxInside {
			maxInside = inside
		}
		mu.Unlock()
		time.Sleep(time.Millisecond)
		mu.Lock()
		inside--
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.EmitLog("x")
		}()
	}
	wg.Wait()

	require.Equal(t, 1, maxInside)
}

func TestBridgeUnsubscribe(t *testing.T) {
	b := event.NewBridge()
	var got []float64
	unsubscribe := b.OnProgress(func(p event.Progress) { got = append(got, p.Ratio) })

	b.EmitProgress(event.Progress{Ratio: 0.5})
	unsubscribe()
	b.EmitProgress(event.Progress{Ratio: 1})

	require.Equal(t, []float64{0.5}, got)
	last, ok := b.LastProgress()
	require.True(t, ok)
	require.Equal(t, 1.0, last.Ratio)
}

func TestProgressString(t *testing.T) {
	elapsed := 1500 * time.Millisecond
	require.Equal(t, "progress: 50.0% time: 1.5s", event.Progress{Ratio: 0.5, Elapsed: &elapsed}.String())
	require.Equal(t, "progress: 100.0% time: ", event.Progress{Ratio: 1}.String())
}

func TestMailboxKeepsLogsAndLastProgress(t *testing.T) {
	// Arrange
	b := event.NewBridge()
	m := event.NewMailbox(b)
	defer m.Close()

	// Act
	b.EmitLog("a")
	b.EmitProgress(event.Progress{Ratio: 0.1})
	b.EmitLog("b")
	b.EmitProgress(event.Progress{Ratio: 0.7})
	b.EmitProgress(event.Progress{Ratio: 1})

	// Assert
	batch, err := m.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, batch.Logs)
	require.NotNil(t, batch.Progress)
	require.Equal(t, 1.0, batch.Progress.Ratio)
}

func TestMailboxNextHonorsContext(t *testing.T) {
	b := event.NewBridge()
	m := event.NewMailbox(b)
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := m.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMailboxWakesOnEmit(t *testing.T) {
	b := event.NewBridge()
	m := event.NewMailbox(b)
	defer m.Close()

	done := make(chan event.Batch, 1)
	go func() {
		batch, err := m.Next(context.Background())
		if err == nil {
			done <- batch
		}
	}()

	b.EmitLog("hello")

	select {
	case batch := <-done:
		require.Equal(t, []string{"hello"}, batch.Logs)
	case <-time.After(time.Second):
		t.Fatal("mailbox did not wake up")
	}
}
