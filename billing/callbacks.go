package billing

import "sync"

// CallbackQueue runs callbacks one at a time, in the order their slots were
// reserved, on a goroutine it owns while there is work. Client
// implementations use it to honor the sequential callback contract.
type CallbackQueue struct {
	mu      sync.Mutex
	queue   []*callbackSlot
	running bool
}

type callbackSlot struct {
	fn    func()
	ready bool
}

// Post schedules fn after every callback already posted or reserved.
func (q *CallbackQueue) Post(fn func()) {
	q.Reserve()(fn)
}

// Reserve takes the next position in the queue and returns the function
// that fills it. Callbacks behind an unfilled slot wait for it, so work that
// completes out of order is still delivered in reservation order. Only the
// first fill of a slot counts.
func (q *CallbackQueue) Reserve() func(fn func()) {
	slot := &callbackSlot{}

	q.mu.Lock()
	q.queue = append(q.queue, slot)
	q.mu.Unlock()

	return func(fn func()) {
		q.mu.Lock()
		if slot.ready {
			q.mu.Unlock()
			return
		}
		slot.fn = fn
		slot.ready = true

		start := !q.running && q.queue[0].ready
		if start {
			q.running = true
		}
		q.mu.Unlock()

		if start {
			go q.run()
		}
	}
}

func (q *CallbackQueue) run() {
	for {
		q.mu.Lock()
		if len(q.queue) == 0 || !q.queue[0].ready {
			q.running = false
			q.mu.Unlock()
			return
		}
		fn := q.queue[0].fn
		q.queue[0] = nil
		q.queue = q.queue[1:]
		q.mu.Unlock()

		fn()
	}
}
