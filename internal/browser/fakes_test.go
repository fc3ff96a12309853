package browser

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

type fakeLauncher struct {
	mu        sync.Mutex
	launches  atomic.Int32
	gate      chan struct{}
	err       error
	engines   []*fakeEngine
	newPage   func() (Page, error)
	closeHook func()
}

func (l *fakeLauncher) Launch(ctx context.Context) (Engine, error) {
	l.launches.Add(1)
	if l.gate != nil {
		select {
		case <-l.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if l.err != nil {
		return nil, l.err
	}
	engine := &fakeEngine{disconnected: make(chan struct{}), newPage: l.newPage, closeHook: l.closeHook}
	l.mu.Lock()
	l.engines = append(l.engines, engine)
	l.mu.Unlock()
	return engine, nil
}

func (l *fakeLauncher) engine(i int) *fakeEngine {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.engines[i]
}

type fakeEngine struct {
	mu           sync.Mutex
	disconnected chan struct{}
	once         sync.Once
	closed       atomic.Bool
	closedAt     atomic.Int64
	pages        atomic.Int32
	newPage      func() (Page, error)
	closeHook    func()
}

func (e *fakeEngine) NewPage(ctx context.Context) (Page, error) {
	if e.newPage != nil {
		return e.newPage()
	}
	e.pages.Add(1)
	return &fakePage{text: "hello"}, nil
}

func (e *fakeEngine) Disconnected() <-chan struct{} {
	return e.disconnected
}

func (e *fakeEngine) Close() error {
	if e.closeHook != nil {
		e.closeHook()
	}
	if e.closed.CompareAndSwap(false, true) {
		e.closedAt.Store(time.Now().UnixNano())
	}
	e.crash()
	return nil
}

func (e *fakeEngine) crash() {
	e.once.Do(func() { close(e.disconnected) })
}

type fakePage struct {
	mu        sync.Mutex
	gotoErrs  []error
	waitErr   error
	text      string
	textErr   error
	html      string
	title     string
	url       string
	gotoCalls int
	closed    bool
}

func (p *fakePage) Goto(url string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gotoCalls++
	p.url = url
	if len(p.gotoErrs) > 0 {
		err := p.gotoErrs[0]
		p.gotoErrs = p.gotoErrs[1:]
		return err
	}
	return nil
}

func (p *fakePage) WaitForSelector(selector string, timeout time.Duration) error {
	return p.waitErr
}

func (p *fakePage) InnerText(selector string) (string, error) {
	return p.text, p.textErr
}

func (p *fakePage) Content() (string, error) {
	return p.html, nil
}

func (p *fakePage) Title() (string, error) {
	return p.title, nil
}

func (p *fakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("already closed")
	}
	p.closed = true
	return nil
}

func (p *fakePage) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gotoCalls
}
