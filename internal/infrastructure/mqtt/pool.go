package mqtt

import (
	"errors"
	"sync"
)

// Pool hands out one SharedConnection per Endpoint.
//
// The pool is created once at startup and passed to every component that
// needs broker access, so two consumers targeting the same endpoint always
// share the same socket and state machine.
type Pool struct {
	opts Options

	mu    sync.Mutex
	conns map[Endpoint]*SharedConnection
}

// NewPool creates an empty pool. opts apply to every connection it creates.
func NewPool(opts Options) *Pool {
	return &Pool{
		opts:  opts,
		conns: make(map[Endpoint]*SharedConnection),
	}
}

// Get returns the connection for ep, creating it (idle) on first use.
func (p *Pool) Get(ep Endpoint) *SharedConnection {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.conns[ep]; ok {
		return c
	}
	c := newSharedConnection(ep, p.opts)
	p.conns[ep] = c
	return c
}

// Len returns the number of endpoints the pool has created connections for.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// Close closes every connection and empties the pool.
func (p *Pool) Close() error {
	p.mu.Lock()
	conns := make([]*SharedConnection, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	p.conns = make(map[Endpoint]*SharedConnection)
	p.mu.Unlock()

	var errs []error
	for _, c := range conns {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
