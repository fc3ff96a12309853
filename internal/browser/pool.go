package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

type State int

const (
	StateAbsent State = iota
	StateLaunching
	StateReady
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateLaunching:
		return "launching"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	DefaultIdleTimeout   = 5 * time.Minute
	DefaultLaunchTimeout = 60 * time.Second
)

type PoolOptions struct {
	IdleTimeout   time.Duration
	LaunchTimeout time.Duration
	Logger        *slog.Logger
}

type engineHandle struct {
	engine Engine
	gen    uint64
	gone   atomic.Bool
}

// Pool shares one rendering engine across concurrent chain runs. The engine is
// launched on the first lease and torn down once it has had no leases for the
// whole idle timeout. The idle timer is armed exactly when the engine is ready
// and the lease count is zero.
type Pool struct {
	launcher      Launcher
	idleTimeout   time.Duration
	launchTimeout time.Duration
	logger        *slog.Logger
	launchGroup   singleflight.Group

	mu           sync.Mutex
	state        State
	current      *engineHandle
	leases       int
	idleTimer    *time.Timer
	idleToken    uint64
	shutdownDone chan struct{}
	closed       bool
	generation   uint64
	launches     int
}

func NewPool(launcher Launcher, opts PoolOptions) *Pool {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.LaunchTimeout <= 0 {
		opts.LaunchTimeout = DefaultLaunchTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		launcher:      launcher,
		idleTimeout:   opts.IdleTimeout,
		launchTimeout: opts.LaunchTimeout,
		logger:        logger.With("component", "browser_pool"),
	}
}

// AcquirePage leases a fresh page, launching the engine if needed. Callers
// arriving during a shutdown wait for it to finish and then relaunch.
func (p *Pool) AcquirePage(ctx context.Context) (*Lease, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		switch p.state {
		case StateShuttingDown:
			done := p.shutdownDone
			p.mu.Unlock()
			select {
			case <-done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		case StateReady:
			handle := p.current
			p.leases++
			p.disarmIdleLocked()
			p.mu.Unlock()

			page, err := handle.engine.NewPage(ctx)
			if err != nil {
				p.releaseLease(handle)
				if handle.gone.Load() {
					continue
				}
				return nil, fmt.Errorf("browser: new page: %w", err)
			}
			return &Lease{pool: p, handle: handle, page: page}, nil
		default:
			p.mu.Unlock()
			if err := p.awaitLaunch(ctx); err != nil {
				return nil, err
			}
		}
	}
}

// Prewarm launches the engine without taking a lease; the idle timer is armed
// as soon as it is ready.
func (p *Pool) Prewarm(ctx context.Context) error {
	p.mu.Lock()
	state, closed := p.state, p.closed
	p.mu.Unlock()
	if closed {
		return ErrPoolClosed
	}
	if state == StateReady {
		return nil
	}
	return p.awaitLaunch(ctx)
}

func (p *Pool) awaitLaunch(ctx context.Context) error {
	ch := p.launchGroup.DoChan("launch", func() (any, error) {
		return nil, p.launch()
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) launch() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	if p.state != StateAbsent {
		p.mu.Unlock()
		return nil
	}
	p.state = StateLaunching
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), p.launchTimeout)
	defer cancel()
	started := time.Now()
	engine, err := p.launcher.Launch(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.state = StateAbsent
		p.logger.Error("browser launch failed", "error", err)
		return fmt.Errorf("browser: launch: %w", err)
	}
	if p.closed {
		p.state = StateAbsent
		go func() { _ = engine.Close() }()
		return ErrPoolClosed
	}
	p.generation++
	p.launches++
	handle := &engineHandle{engine: engine, gen: p.generation}
	p.current = handle
	p.state = StateReady
	p.armIdleLocked()
	go p.watch(handle)
	p.logger.Info("browser launched", "generation", handle.gen, "launch_ms", time.Since(started).Milliseconds())
	return nil
}

func (p *Pool) watch(handle *engineHandle) {
	<-handle.engine.Disconnected()
	handle.gone.Store(true)

	p.mu.Lock()
	if p.current != handle {
		p.mu.Unlock()
		return
	}
	lost := p.leases
	p.current = nil
	p.state = StateAbsent
	p.leases = 0
	p.disarmIdleLocked()
	p.mu.Unlock()

	p.logger.Warn("browser engine disconnected", "generation", handle.gen, "invalidated_leases", lost)
	_ = handle.engine.Close()
}

// ReleasePage closes the lease's page and returns the lease. Releasing twice is a
// no-op.
func (p *Pool) ReleasePage(lease *Lease) error {
	if lease == nil || !lease.released.CompareAndSwap(false, true) {
		return nil
	}
	var closeErr error
	if !lease.handle.gone.Load() {
		closeErr = lease.page.Close()
	}
	p.releaseLease(lease.handle)
	return closeErr
}

func (p *Pool) releaseLease(handle *engineHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != handle || p.state != StateReady {
		return
	}
	if p.leases > 0 {
		p.leases--
	}
	if p.leases == 0 {
		p.armIdleLocked()
	}
}

func (p *Pool) armIdleLocked() {
	p.disarmIdleLocked()
	token := p.idleToken
	handle := p.current
	p.idleTimer = time.AfterFunc(p.idleTimeout, func() {
		p.onIdle(handle, token)
	})
}

func (p *Pool) disarmIdleLocked() {
	if p.idleTimer != nil {
		p.idleTimer.Stop()
		p.idleTimer = nil
	}
	p.idleToken++
}

func (p *Pool) onIdle(handle *engineHandle, token uint64) {
	p.mu.Lock()
	if token != p.idleToken || p.current != handle || p.state != StateReady || p.leases > 0 {
		p.mu.Unlock()
		return
	}
	done := p.beginShutdownLocked()
	p.mu.Unlock()

	p.logger.Info("browser idle, shutting down", "generation", handle.gen, "idle", p.idleTimeout.String())
	p.finishShutdown(handle, done)
}

func (p *Pool) beginShutdownLocked() chan struct{} {
	p.disarmIdleLocked()
	done := make(chan struct{})
	p.state = StateShuttingDown
	p.shutdownDone = done
	p.current = nil
	return done
}

func (p *Pool) finishShutdown(handle *engineHandle, done chan struct{}) error {
	handle.gone.Store(true)
	err := handle.engine.Close()
	if err != nil {
		p.logger.Warn("browser close failed", "generation", handle.gen, "error", err)
	}
	p.mu.Lock()
	p.state = StateAbsent
	p.shutdownDone = nil
	p.leases = 0
	p.mu.Unlock()
	close(done)
	return err
}

// Close shuts the engine down and refuses further leases.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	switch p.state {
	case StateReady:
		handle := p.current
		done := p.beginShutdownLocked()
		p.mu.Unlock()
		return p.finishShutdown(handle, done)
	case StateShuttingDown:
		done := p.shutdownDone
		p.mu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	default:
		p.disarmIdleLocked()
		p.mu.Unlock()
		return nil
	}
}

func (p *Pool) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pool) Leases() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.leases
}

func (p *Pool) Launches() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.launches
}

func (p *Pool) idleArmed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idleTimer != nil
}

// Lease is one caller's page on the shared engine. It implements Page; once the
// engine is gone every call fails with ErrEngineGone.
type Lease struct {
	pool     *Pool
	handle   *engineHandle
	page     Page
	released atomic.Bool
}

func (l *Lease) Generation() uint64 {
	return l.handle.gen
}

func (l *Lease) Release() error {
	return l.pool.ReleasePage(l)
}

func (l *Lease) check() error {
	if l.released.Load() {
		return errors.New("browser: lease already released")
	}
	if l.handle.gone.Load() {
		return ErrEngineGone
	}
	return nil
}

func (l *Lease) Goto(url string, timeout time.Duration) error {
	if err := l.check(); err != nil {
		return err
	}
	return l.gone(l.page.Goto(url, timeout))
}

func (l *Lease) WaitForSelector(selector string, timeout time.Duration) error {
	if err := l.check(); err != nil {
		return err
	}
	return l.gone(l.page.WaitForSelector(selector, timeout))
}

func (l *Lease) InnerText(selector string) (string, error) {
	if err := l.check(); err != nil {
		return "", err
	}
	text, err := l.page.InnerText(selector)
	return text, l.gone(err)
}

func (l *Lease) Content() (string, error) {
	if err := l.check(); err != nil {
		return "", err
	}
	html, err := l.page.Content()
	return html, l.gone(err)
}

func (l *Lease) Title() (string, error) {
	if err := l.check(); err != nil {
		return "", err
	}
	title, err := l.page.Title()
	return title, l.gone(err)
}

func (l *Lease) URL() string {
	if l.check() != nil {
		return ""
	}
	return l.page.URL()
}

func (l *Lease) Close() error {
	return l.Release()
}

// gone converts an engine error into ErrEngineGone when the engine died while
// the call was in flight.
func (l *Lease) gone(err error) error {
	if err != nil && l.handle.gone.Load() {
		return fmt.Errorf("%w: %v", ErrEngineGone, err)
	}
	return err
}
