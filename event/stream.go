package event

import (
	"errors"
	"sync"
	"time"
)

var ErrStreamClosed = errors.New("cannot notify closed stream")

type Stream[E any] interface {
	ID() string
	Notify(event E, timeout time.Duration) error
	Close()
}

// ChannelStream delivers events to a single consumer over a buffered
// channel. A consumer that does not keep up within the notify timeout gets
// its stream closed. Close never waits on a blocked Notify.
type ChannelStream[E any] struct {
	sync.Mutex

	id string

	closed   bool
	ch       chan E
	done     chan struct{}
	inflight sync.WaitGroup

	// sendMu keeps concurrent notifications in call order.
	sendMu sync.Mutex
}

func NewChannelStream[E any](id string, bufferSize int) *ChannelStream[E] {
	return &ChannelStream[E]{
		id:   id,
		ch:   make(chan E, bufferSize),
		done: make(chan struct{}),
	}
}

func (s *ChannelStream[E]) ID() string {
	return s.id
}

func (s *ChannelStream[E]) Notify(event E, timeout time.Duration) error {
	s.Lock()
	if s.closed {
		s.Unlock()
		return ErrStreamClosed
	}
	s.inflight.Add(1)
	s.Unlock()

	s.sendMu.Lock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.done:
		s.sendMu.Unlock()
		s.inflight.Done()
		return ErrStreamClosed
	default:
	}

	select {
	case s.ch <- event:
		s.sendMu.Unlock()
		s.inflight.Done()
		return nil
	case <-s.done:
		s.sendMu.Unlock()
		s.inflight.Done()
		return ErrStreamClosed
	case <-timer.C:
		s.sendMu.Unlock()
		s.inflight.Done()
		s.Close()
		return errors.New("timed out sending event to stream")
	}
}

func (s *ChannelStream[E]) Channel() <-chan E {
	return s.ch
}

func (s *ChannelStream[E]) Close() {
	s.Lock()
	if s.closed {
		s.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	s.Unlock()

	// Pending notifications observe done and leave before the channel closes.
	s.inflight.Wait()
	close(s.ch)
}
