package billing

import (
	"sync"

	"go.uber.org/zap"
)

// Request is a unit of work that must only run while the billing service is
// connected.
type Request func()

// Dispatcher gates requests on the billing connection. Requests dispatched
// while connected run immediately on the caller's goroutine. Otherwise they
// are queued and a single connection attempt is started; a successful setup
// drains the queue in dispatch order, a failed one drops it. Losing the
// connection while draining drops what is left of the queue as well. There
// is no retry: the next Dispatch starts a new attempt.
type Dispatcher struct {
	log    *zap.Logger
	client Client

	mu       sync.Mutex
	state    ConnectionState
	lastCode ResponseCode
	pending  []Request
	draining bool
}

func NewDispatcher(log *zap.Logger, client Client) *Dispatcher {
	return &Dispatcher{
		log:      log,
		client:   client,
		state:    StateDisconnected,
		lastCode: ServiceDisconnected,
	}
}

func (d *Dispatcher) Dispatch(req Request) error {
	d.mu.Lock()

	switch d.state {
	case StateClosed:
		d.mu.Unlock()
		return ErrClosed

	case StateConnected:
		if d.draining {
			d.pending = append(d.pending, req)
			d.mu.Unlock()
			return nil
		}
		d.mu.Unlock()

		req()
		return nil

	case StateConnecting:
		d.pending = append(d.pending, req)
		d.mu.Unlock()
		return nil

	default:
		d.pending = append(d.pending, req)
		d.state = StateConnecting
		d.mu.Unlock()

		d.log.Debug("Starting billing connection")
		d.client.StartConnection(d)
		return nil
	}
}

func (d *Dispatcher) OnBillingSetupFinished(result Result) {
	d.log.Debug("Billing setup finished", zap.Stringer("code", result.Code))

	d.mu.Lock()
	if d.state == StateClosed {
		d.mu.Unlock()
		return
	}

	if !result.OK() {
		dropped := len(d.pending)
		d.pending = nil
		d.state = StateDisconnected
		d.mu.Unlock()

		if dropped > 0 {
			d.log.Debug("Dropping pending requests", zap.Int("count", dropped), zap.Stringer("code", result.Code))
		}
		return
	}

	d.state = StateConnected
	d.lastCode = result.Code
	if d.draining {
		// An outer drain loop on this goroutine picks up the queue.
		d.mu.Unlock()
		return
	}
	d.draining = true

	for len(d.pending) > 0 && d.state == StateConnected {
		req := d.pending[0]
		d.pending[0] = nil
		d.pending = d.pending[1:]
		d.mu.Unlock()

		req()

		d.mu.Lock()
	}

	d.draining = false
	d.mu.Unlock()
}

func (d *Dispatcher) OnBillingServiceDisconnected() {
	d.log.Debug("Billing service disconnected")

	d.mu.Lock()
	if d.state == StateClosed {
		d.mu.Unlock()
		return
	}

	var dropped int
	if d.state == StateConnected {
		dropped = len(d.pending)
		d.pending = nil
	}
	d.state = StateDisconnected
	d.mu.Unlock()

	if dropped > 0 {
		d.log.Debug("Dropping pending requests", zap.Int("count", dropped), zap.String("reason", "disconnected"))
	}
}

// Close moves the dispatcher to its terminal state, discarding pending
// requests, and returns the state it was in. Closing twice returns
// StateClosed.
func (d *Dispatcher) Close() ConnectionState {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev := d.state
	d.state = StateClosed
	d.pending = nil
	return prev
}

func (d *Dispatcher) State() ConnectionState {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.state
}

// LastSetupCode returns the response code of the last successful setup.
func (d *Dispatcher) LastSetupCode() ResponseCode {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.lastCode
}

func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.pending)
}
