package synchs

import "sync"

// Promise is a one-shot future (C7). Callbacks attached before
// resolution run when Resolve is called, on the resolving goroutine;
// callbacks attached afterwards run immediately. Resolve is effective
// at most once.
type Promise struct {
	lock  sync.Mutex
	done  bool
	value interface{}
	cbs   []func(interface{})
}

func NewPromise() *Promise {
	return &Promise{}
}

// ResolvedPromise returns a promise already carrying a value.
func ResolvedPromise(value interface{}) *Promise {
	return &Promise{done: true, value: value}
}

// Resolve fulfills the promise. Later calls are no-ops.
func (p *Promise) Resolve(value interface{}) {
	p.lock.Lock()
	if p.done {
		p.lock.Unlock()
		return
	}
	p.done = true
	p.value = value
	cbs := p.cbs
	p.cbs = nil
	p.lock.Unlock()
	for _, cb := range cbs {
		cb(value)
	}
}

// Then attaches a continuation.
func (p *Promise) Then(cb func(interface{})) {
	p.lock.Lock()
	if p.done {
		value := p.value
		p.lock.Unlock()
		cb(value)
		return
	}
	p.cbs = append(p.cbs, cb)
	p.lock.Unlock()
}

// Done reports whether the promise has resolved.
func (p *Promise) Done() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.done
}

// Value returns the resolved value, nil while pending.
func (p *Promise) Value() interface{} {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.value
}
