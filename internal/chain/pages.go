package chain

import (
	"context"

	"github.com/22f2001388/llm-analysis-quiz/internal/browser"
)

// Pages hands out the page a run renders on.
type Pages interface {
	AcquirePage(ctx context.Context) (browser.Page, error)
	ReleasePage(page browser.Page) error
}

// PoolPages leases pages from a shared browser.Pool.
type PoolPages struct {
	Pool *browser.Pool
}

func (p PoolPages) AcquirePage(ctx context.Context) (browser.Page, error) {
	lease, err := p.Pool.AcquirePage(ctx)
	if err != nil {
		return nil, err
	}
	return lease, nil
}

func (p PoolPages) ReleasePage(page browser.Page) error {
	if lease, ok := page.(*browser.Lease); ok {
		return p.Pool.ReleasePage(lease)
	}
	return page.Close()
}
