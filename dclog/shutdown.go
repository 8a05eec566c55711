package dclog

import (
	"context"
	"sync"
)

// OnceActivateHandler is invoked exactly once, with shutdown paused, to
// activate an object managed by a Shutdowner. Returning an error aborts
// activation and starts shutdown immediately.
type OnceActivateHandler func() error

// OnceShutdownHandler is implemented by whatever object a Shutdowner manages.
type OnceShutdownHandler interface {
	// HandleOnceShutdown is called exactly once, in its own goroutine, to
	// actually release resources. completionErr is an advisory status; the
	// return value becomes the final shutdown status.
	HandleOnceShutdown(completionErr error) error
}

// AsyncShutdowner is the interface of objects with managed asynchronous
// shutdown. *Shutdowner implements it, and so does dconn.Connection, which
// embeds one.
type AsyncShutdowner interface {
	StartShutdown(completionErr error)
	ShutdownDoneChan() <-chan struct{}
	IsDoneShutdown() bool
	WaitShutdown() error
}

// Shutdowner is an embeddable base that gives a struct exactly-once
// activation and exactly-once, cascading shutdown. In this module
// dconn.Connection embeds it; Port implementations and the name servers
// have a plain Close instead.
type Shutdowner struct {
	Logger

	lock sync.Mutex

	shutdownHandler OnceShutdownHandler

	pauseCount   int
	activated    bool
	scheduled    bool
	started      bool
	done         bool
	shutdownErr  error

	startedChan        chan struct{}
	handlerDoneChan    chan struct{}
	doneChan           chan struct{}

	wg sync.WaitGroup
}

// Init initializes the Shutdowner in place. Must be called before any other method.
func (h *Shutdowner) Init(logger Logger, shutdownHandler OnceShutdownHandler) {
	h.Logger = logger
	h.shutdownHandler = shutdownHandler
	h.startedChan = make(chan struct{})
	h.handlerDoneChan = make(chan struct{})
	h.doneChan = make(chan struct{})
}

func (h *Shutdowner) asyncDoStartedShutdown() {
	h.DLogf("shutdown started")
	close(h.startedChan)
	go func() {
		h.shutdownErr = h.shutdownHandler.HandleOnceShutdown(h.shutdownErr)
		close(h.handlerDoneChan)
		h.wg.Wait()
		h.lock.Lock()
		h.done = true
		h.lock.Unlock()
		h.DLogf("shutdown done")
		close(h.doneChan)
	}()
}

// PauseShutdown prevents shutdown from starting until a matching ResumeShutdown.
func (h *Shutdowner) PauseShutdown() error {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.started {
		return h.Errorf("shutdown already started; cannot pause")
	}
	h.pauseCount++
	return nil
}

// ResumeShutdown reverses a PauseShutdown, starting shutdown immediately if
// it was scheduled while paused.
func (h *Shutdowner) ResumeShutdown() {
	h.lock.Lock()
	if h.pauseCount < 1 {
		h.lock.Unlock()
		h.Panic("ResumeShutdown before PauseShutdown")
		return
	}
	h.pauseCount--
	doNow := h.pauseCount == 0 && h.scheduled && !h.started
	if doNow {
		h.started = true
	}
	h.lock.Unlock()
	if doNow {
		h.asyncDoStartedShutdown()
	}
}

// DoOnceActivate activates the object exactly once via onceActivateHandler,
// which runs with shutdown paused. If activation fails, shutdown is started
// with the activation error; if waitOnFail, the call blocks until shutdown
// completes before returning the error.
func (h *Shutdowner) DoOnceActivate(onceActivateHandler OnceActivateHandler, waitOnFail bool) error {
	h.lock.Lock()
	if h.activated {
		h.lock.Unlock()
		return nil
	}
	if h.started {
		h.lock.Unlock()
		if waitOnFail {
			h.WaitShutdown()
		}
		return h.Errorf("shutdown already started; cannot activate")
	}
	h.pauseCount++
	h.lock.Unlock()

	err := onceActivateHandler()
	if err == nil {
		h.lock.Lock()
		h.activated = true
		h.lock.Unlock()
	} else {
		h.StartShutdown(err)
	}
	h.ResumeShutdown()
	if err != nil && waitOnFail {
		h.WaitShutdown()
	}
	return err
}

// ShutdownOnContext begins shutting down this object, with the context's
// error as the advisory completion status, as soon as ctx is done.
func (h *Shutdowner) ShutdownOnContext(ctx context.Context) {
	go func() {
		select {
		case <-h.startedChan:
		case <-ctx.Done():
			h.StartShutdown(ctx.Err())
		}
	}()
}

// IsStartedShutdown returns true once shutdown has begun.
func (h *Shutdowner) IsStartedShutdown() bool {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.started
}

// IsDoneShutdown returns true once shutdown has fully completed.
func (h *Shutdowner) IsDoneShutdown() bool {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.done
}

// ShutdownDoneChan returns a channel closed once shutdown fully completes.
func (h *Shutdowner) ShutdownDoneChan() <-chan struct{} { return h.doneChan }

// WaitShutdown blocks until shutdown completes and returns the final status.
func (h *Shutdowner) WaitShutdown() error {
	<-h.doneChan
	return h.shutdownErr
}

// Shutdown starts shutdown (if not already started) and waits for completion.
func (h *Shutdowner) Shutdown(completionErr error) error {
	h.StartShutdown(completionErr)
	return h.WaitShutdown()
}

// StartShutdown schedules shutdown exactly once; subsequent calls are no-ops.
// completionErr is an advisory status passed to HandleOnceShutdown.
func (h *Shutdowner) StartShutdown(completionErr error) {
	var doNow bool
	h.lock.Lock()
	if !h.scheduled {
		h.shutdownErr = completionErr
		h.scheduled = true
		doNow = h.pauseCount == 0
		h.started = doNow
	}
	h.lock.Unlock()
	if doNow {
		h.asyncDoStartedShutdown()
	}
}

// Close is a convenience wrapper that shuts down with a nil advisory status.
func (h *Shutdowner) Close() error {
	return h.Shutdown(nil)
}

// AddShutdownChild registers a child object that will be actively shut down
// once this object's own HandleOnceShutdown returns, and waited on before
// this object's shutdown is considered complete.
func (h *Shutdowner) AddShutdownChild(child AsyncShutdowner) {
	h.wg.Add(1)
	go func() {
		select {
		case <-child.ShutdownDoneChan():
		case <-h.handlerDoneChan:
			child.StartShutdown(h.shutdownErr)
			child.WaitShutdown()
		}
		h.wg.Done()
	}()
}
