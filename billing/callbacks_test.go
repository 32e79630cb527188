package billing

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCallbackQueue_OrderedAndSequential(t *testing.T) {
	var (
		q       CallbackQueue
		mu      sync.Mutex
		order   []int
		running int
		overlap bool
		done    = make(chan struct{})
	)

	const n = 100
	for i := 0; i < n; i++ {
		i := i
		q.Post(func() {
			mu.Lock()
			running++
			if running > 1 {
				overlap = true
			}
			order = append(order, i)
			mu.Unlock()

			mu.Lock()
			running--
			mu.Unlock()

			if i == n-1 {
				close(done)
			}
		})
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for callbacks")
	}

	mu.Lock()
	defer mu.Unlock()
	require.False(t, overlap)
	require.Len(t, order, n)
	for i := range order {
		require.Equal(t, i, order[i])
	}
}

func TestCallbackQueue_PostFromCallback(t *testing.T) {
	var q CallbackQueue
	done := make(chan []string, 1)

	var seen []string
	q.Post(func() {
		seen = append(seen, "outer")
		q.Post(func() {
			seen = append(seen, "inner")
			done <- seen
		})
		seen = append(seen, "outer-end")
	})

	select {
	case got := <-done:
		require.Equal(t, []string{"outer", "outer-end", "inner"}, got)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for callbacks")
	}
}

func TestCallbackQueue_ReserveKeepsOrder(t *testing.T) {
	var q CallbackQueue
	order := make(chan string, 3)

	first := q.Reserve()
	second := q.Reserve()
	q.Post(func() { order <- "third" })

	second(func() { order <- "second" })
	select {
	case got := <-order:
		t.Fatalf("%s ran before the first slot was filled", got)
	case <-time.After(50 * time.Millisecond):
	}

	first(func() { order <- "first" })
	// A second fill of the same slot is ignored.
	first(func() { order <- "again" })

	var got []string
	for i := 0; i < 3; i++ {
		select {
		case s := <-order:
			got = append(got, s)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for callbacks")
		}
	}
	require.Equal(t, []string{"first", "second", "third"}, got)

	select {
	case s := <-order:
		t.Fatalf("unexpected callback %s", s)
	case <-time.After(50 * time.Millisecond):
	}
}
