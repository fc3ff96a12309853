package browser

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEngineGone is returned by every operation on a lease whose engine
	// disconnected or was shut down while the lease was outstanding.
	ErrEngineGone = errors.New("browser: engine is gone")
	ErrPoolClosed = errors.New("browser: pool closed")
	// ErrTimeout marks engine-level waits that ran out of time.
	ErrTimeout = errors.New("browser: timeout")
)

type Launcher interface {
	Launch(ctx context.Context) (Engine, error)
}

type Engine interface {
	NewPage(ctx context.Context) (Page, error)
	// Disconnected is closed when the engine process goes away, for any reason.
	Disconnected() <-chan struct{}
	Close() error
}

type Page interface {
	Goto(url string, timeout time.Duration) error
	WaitForSelector(selector string, timeout time.Duration) error
	InnerText(selector string) (string, error)
	Content() (string, error)
	Title() (string, error)
	URL() string
	Close() error
}
