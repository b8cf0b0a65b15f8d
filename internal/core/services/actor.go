package services

import (
	"context"
	"sync"

	"rillcall/internal/core/domain"
)

// actor serializes state changes onto one goroutine. Blocking work runs
// elsewhere and posts its result back as a func.
type actor struct {
	ops       chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newActor() *actor {
	a := &actor{
		ops:  make(chan func()),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *actor) loop() {
	defer close(a.done)
	for {
		select {
		case op := <-a.ops:
			op()
		case <-a.quit:
			return
		}
	}
}

// exec runs fn on the loop and waits for it to finish.
func (a *actor) exec(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	op := func() {
		defer close(finished)
		fn()
	}

	select {
	case a.ops <- op:
	case <-a.quit:
		return domain.ErrServiceClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// post queues fn without waiting. It reports false once the loop has stopped.
func (a *actor) post(fn func()) bool {
	select {
	case a.ops <- fn:
		return true
	case <-a.quit:
		return false
	}
}

func (a *actor) stop() {
	a.closeOnce.Do(func() { close(a.quit) })
	<-a.done
}
