// Package pool provides a bounded pool of expensive, reusable instances.
//
// A Pool is pre-populated eagerly with Config.InitialSize instances and grows
// lazily, one instance at a time, up to Config.MaxSize. When every instance is
// leased, Acquire blocks. Waiters are served strictly in arrival order: a
// released instance (or a freed construction slot) is handed directly to the
// oldest waiter, so a newer caller can never overtake an older one.
//
// There is no acquisition timeout. Under-sizing MaxSize for the offered load
// makes callers queue rather than fail; that queue is the backpressure
// mechanism. Callers that must give up early pass a cancellable context.
package pool

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// MaxAllowedSize is the hard ceiling for Config.MaxSize.
const MaxAllowedSize = 200

var (
	ErrPoolClosed    = errors.New("pool is closed")
	ErrInvalidConfig = errors.New("invalid pool config")
)

// Config is immutable once the pool is built.
type Config struct {
	InitialSize int
	MaxSize     int
}

func (c Config) Validate() error {
	if c.InitialSize < 1 {
		return fmt.Errorf("%w: initial size %d must be at least 1", ErrInvalidConfig, c.InitialSize)
	}
	if c.MaxSize < c.InitialSize {
		return fmt.Errorf("%w: max size %d is below initial size %d", ErrInvalidConfig, c.MaxSize, c.InitialSize)
	}
	if c.MaxSize > MaxAllowedSize {
		return fmt.Errorf("%w: max size %d exceeds %d", ErrInvalidConfig, c.MaxSize, MaxAllowedSize)
	}
	return nil
}

// Factory constructs one instance. It is called without the pool lock held.
type Factory[T any] func(ctx context.Context) (T, error)

type Option[T any] func(*Pool[T])

// WithDestroy sets the function used to dispose of discarded instances and
// of instances still owned by the pool when it is closed. By default values
// implementing io.Closer are closed.
func WithDestroy[T any](fn func(T)) Option[T] {
	return func(p *Pool[T]) {
		p.destroy = fn
	}
}

func WithLogger[T any](logger logrus.FieldLogger) Option[T] {
	return func(p *Pool[T]) {
		p.log = logger
	}
}

// WithWarmupConcurrency bounds how many instances are built in parallel
// while pre-populating. Zero or less means all at once.
func WithWarmupConcurrency[T any](n int) Option[T] {
	return func(p *Pool[T]) {
		p.warmup = n
	}
}

type Pool[T any] struct {
	cfg     Config
	factory Factory[T]
	destroy func(T)
	log     logrus.FieldLogger
	warmup  int

	mu      sync.Mutex
	idle    []T
	created int
	waiters list.List
	closed  bool

	acquired atomic.Uint64
}

// Stats is a point-in-time view of pool occupancy.
type Stats struct {
	InitialSize  int    `json:"initial_size"`
	MaxSize      int    `json:"max_size"`
	TotalCreated int    `json:"total_created"`
	Available    int    `json:"available"`
	InUse        int    `json:"in_use"`
	Waiting      int    `json:"waiting"`
	Acquisitions uint64 `json:"acquisitions"`
	Closed       bool   `json:"closed"`
}

type grant[T any] struct {
	item  T
	build bool
	err   error
}

type waiter[T any] struct {
	ch chan grant[T]
}

// New builds the pool and eagerly constructs cfg.InitialSize instances. If
// any construction fails, the instances already built are destroyed and the
// error is returned.
func New[T any](ctx context.Context, cfg Config, factory Factory[T], opts ...Option[T]) (*Pool[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, fmt.Errorf("%w: factory is required", ErrInvalidConfig)
	}

	p := &Pool[T]{
		cfg:     cfg,
		factory: factory,
		destroy: closeIfCloser[T],
		log:     discardLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}

	items := make([]T, cfg.InitialSize)
	g, gctx := errgroup.WithContext(ctx)
	if p.warmup > 0 {
		g.SetLimit(p.warmup)
	}
	var built atomic.Int32
	ok := make([]bool, cfg.InitialSize)
	for i := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			item, err := factory(gctx)
			if err != nil {
				return fmt.Errorf("construct instance %d: %w", i, err)
			}
			items[i] = item
			ok[i] = true
			p.log.WithFields(logrus.Fields{
				"instance": i + 1,
				"built":    built.Add(1),
				"initial":  cfg.InitialSize,
			}).Debug("Pool instance constructed")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for i, item := range items {
			if ok[i] {
				p.destroy(item)
			}
		}
		return nil, err
	}

	p.idle = items
	p.created = cfg.InitialSize
	return p, nil
}

// Acquire leases an instance. An idle instance is returned immediately; if
// none is idle and the pool is below MaxSize a new one is constructed;
// otherwise the caller waits its turn. The only errors are ErrPoolClosed,
// the context's error, and a construction failure.
func (p *Pool[T]) Acquire(ctx context.Context) (*Lease[T], error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	if n := len(p.idle); n > 0 {
		item := p.idle[n-1]
		var zero T
		p.idle[n-1] = zero
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return p.lease(item), nil
	}

	if p.created < p.cfg.MaxSize {
		p.created++
		created := p.created
		p.mu.Unlock()
		p.log.WithFields(logrus.Fields{
			"total_created": created,
			"max_size":      p.cfg.MaxSize,
		}).Info("Pool exhausted, growing by one instance")
		return p.build(ctx)
	}

	w := &waiter[T]{ch: make(chan grant[T], 1)}
	elem := p.waiters.PushBack(w)
	p.mu.Unlock()

	select {
	case g := <-w.ch:
		return p.fulfil(ctx, g)
	case <-ctx.Done():
		p.mu.Lock()
		select {
		case g := <-w.ch:
			// Granted while we were giving up; hand it on.
			p.mu.Unlock()
			p.abandon(g)
			return nil, ctx.Err()
		default:
		}
		p.waiters.Remove(elem)
		p.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (p *Pool[T]) fulfil(ctx context.Context, g grant[T]) (*Lease[T], error) {
	if g.err != nil {
		return nil, g.err
	}
	if g.build {
		return p.build(ctx)
	}
	return p.lease(g.item), nil
}

// build runs the factory for a slot already reserved in p.created.
func (p *Pool[T]) build(ctx context.Context) (*Lease[T], error) {
	item, err := p.factory(ctx)
	if err != nil {
		p.releaseSlot()
		return nil, fmt.Errorf("construct instance: %w", err)
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		p.destroy(item)
		p.releaseSlot()
		return nil, ErrPoolClosed
	}

	return p.lease(item), nil
}

func (p *Pool[T]) lease(item T) *Lease[T] {
	p.acquired.Add(1)
	return &Lease[T]{pool: p, item: item}
}

func (p *Pool[T]) abandon(g grant[T]) {
	switch {
	case g.err != nil:
	case g.build:
		p.releaseSlot()
	default:
		p.put(g.item)
	}
}

// put returns an instance to availability, handing it straight to the oldest
// waiter if there is one.
func (p *Pool[T]) put(item T) {
	p.mu.Lock()
	if p.closed {
		p.created--
		p.mu.Unlock()
		p.destroy(item)
		return
	}

	if front := p.waiters.Front(); front != nil {
		w := p.waiters.Remove(front).(*waiter[T])
		w.ch <- grant[T]{item: item}
		p.mu.Unlock()
		return
	}

	p.idle = append(p.idle, item)
	p.mu.Unlock()
}

// releaseSlot gives back a construction slot. The oldest waiter, if any,
// inherits it and builds the replacement itself.
func (p *Pool[T]) releaseSlot() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.created--
	if p.closed {
		return
	}
	if front := p.waiters.Front(); front != nil {
		w := p.waiters.Remove(front).(*waiter[T])
		p.created++
		w.ch <- grant[T]{build: true}
	}
}

func (p *Pool[T]) discard(item T) {
	p.destroy(item)
	p.releaseSlot()
	p.log.Warn("Pool instance discarded, a replacement will be built on demand")
}

// Stats reports occupancy. Values are read under the pool lock and are
// mutually consistent.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		InitialSize:  p.cfg.InitialSize,
		MaxSize:      p.cfg.MaxSize,
		TotalCreated: p.created,
		Available:    len(p.idle),
		InUse:        p.created - len(p.idle),
		Waiting:      p.waiters.Len(),
		Acquisitions: p.acquired.Load(),
		Closed:       p.closed,
	}
}

func (p *Pool[T]) Config() Config {
	return p.cfg
}

// Close wakes every waiter with ErrPoolClosed and destroys idle instances.
// Leased instances are destroyed as they are released. Close is idempotent.
func (p *Pool[T]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true

	idle := p.idle
	p.idle = nil
	p.created -= len(idle)

	for e := p.waiters.Front(); e != nil; e = e.Next() {
		e.Value.(*waiter[T]).ch <- grant[T]{err: ErrPoolClosed}
	}
	p.waiters.Init()
	p.mu.Unlock()

	for _, item := range idle {
		p.destroy(item)
	}
}

func closeIfCloser[T any](item T) {
	if c, ok := any(item).(io.Closer); ok {
		_ = c.Close()
	}
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
