package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

var (
	ErrPoolClosed = errors.New("context pool is closed")
	ErrTimeout    = errors.New("context acquisition timeout")
)

// PoolConfig configures a Pool
type PoolConfig struct {
	Size           int
	AcquireTimeout time.Duration
	Options        []ContextOption
}

// Pool manages reusable contexts on one isolate. Contexts are reset before
// they are handed out again.
type Pool struct {
	iso      *Isolate
	config   PoolConfig
	contexts chan *Context
	mu       sync.RWMutex
	closed   bool
}

// NewPool creates a context pool
func NewPool(iso *Isolate, config PoolConfig) (*Pool, error) {
	if config.Size <= 0 {
		config.Size = 4
	}
	if config.AcquireTimeout <= 0 {
		config.AcquireTimeout = 5 * time.Second
	}

	pool := &Pool{
		iso:      iso,
		config:   config,
		contexts: make(chan *Context, config.Size),
	}

	// Pre-create contexts
	for i := 0; i < config.Size; i++ {
		c, err := pool.newContext()
		if err != nil {
			pool.Close()
			return nil, err
		}
		pool.contexts <- c
	}

	return pool, nil
}

// Isolate returns the isolate the pooled contexts belong to.
func (p *Pool) Isolate() *Isolate { return p.iso }

func (p *Pool) newContext() (*Context, error) {
	opts := append([]ContextOption{WithIsolate(p.iso)}, p.config.Options...)
	return NewContext(opts...)
}

// Acquire gets a context from the pool with timeout
func (p *Pool) Acquire(ctx context.Context) (*Context, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	timer := time.NewTimer(p.config.AcquireTimeout)
	defer timer.Stop()

	select {
	case c := <-p.contexts:
		p.iso.metrics.RecordPoolAcquire(true)
		return c, nil
	case <-ctx.Done():
		p.iso.metrics.RecordPoolAcquire(false)
		return nil, ctx.Err()
	case <-timer.C:
		p.iso.metrics.RecordPoolAcquire(false)
		return nil, ErrTimeout
	}
}

// Release resets c and returns it to the pool
func (p *Pool) Release(c *Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return c.Close()
	}

	if err := c.Reset(); err != nil {
		p.iso.logger.Warn("discarding context that failed to reset", zap.Error(err))
		c.Close()
		// Replace it with a fresh context
		if fresh, err := p.newContext(); err == nil {
			p.contexts <- fresh
		}
		return err
	}

	select {
	case p.contexts <- c:
		return nil
	default:
		// Pool full, close context
		return c.Close()
	}
}

// Execute evaluates src in a pooled context and deep-converts the result.
// The script is interrupted when ctx is done.
func (p *Pool) Execute(ctx context.Context, src, name string) (any, error) {
	c, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer p.Release(c)

	stop := make(chan struct{})
	watcher := make(chan struct{})
	go func() {
		defer close(watcher)
		select {
		case <-ctx.Done():
			c.rt.Interrupt(ctx.Err())
		case <-stop:
		}
	}()

	v, err := c.EvalScript(src, name)
	close(stop)
	<-watcher
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) && ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
		}
		return nil, err
	}
	return Convert(v), nil
}

// Close closes the pool and all idle contexts
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true
	close(p.contexts)

	for c := range p.contexts {
		c.Close()
	}

	return nil
}

// PoolStats describes pool occupancy
type PoolStats struct {
	Size      int  `json:"size"`
	Available int  `json:"available"`
	InUse     int  `json:"in_use"`
	Closed    bool `json:"closed"`
}

// Stats returns pool statistics
func (p *Pool) Stats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return PoolStats{
		Size:      p.config.Size,
		Available: len(p.contexts),
		InUse:     p.config.Size - len(p.contexts),
		Closed:    p.closed,
	}
}
