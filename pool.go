package goftp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Pool keeps one Client per remote server, so every caller talking to the
// same server shares its single session and queue. Clients idle for
// longer than maxIdle are closed.
type Pool struct {
	mu      sync.RWMutex
	clients map[string]*pooledClient
	closed  bool
	maxIdle time.Duration
	opts    []Option
	done    chan struct{}
	once    sync.Once

	// connecting dedupes concurrent dials per key outside mu.
	connecting singleflight.Group
}

type pooledClient struct {
	client   *Client
	lastUsed time.Time
	inUse    int // reference count
}

// NewPool creates a pool. opts are applied to every Client it creates.
func NewPool(maxIdle time.Duration, opts ...Option) *Pool {
	pool := &Pool{
		clients: make(map[string]*pooledClient),
		maxIdle: maxIdle,
		opts:    opts,
		done:    make(chan struct{}),
	}

	if maxIdle > 0 {
		go pool.cleanupLoop()
	}

	return pool
}

// GetOrCreate returns the Client for config, connecting a new one if the
// pool has none. The caller must call Release when done with it.
//
// Dialing happens without holding the pool lock, so other servers and
// Stats are not held up by a slow connect. Concurrent callers for the same
// server share one dial.
func (p *Pool) GetOrCreate(ctx context.Context, config ConnectionConfig) (*Client, error) {
	config = config.WithDefaults()
	key := p.connectionKey(config)

	if client, ok := p.acquire(key); ok {
		return client, nil
	}

	_, err, _ := p.connecting.Do(key, func() (any, error) {
		p.mu.RLock()
		pc, ok := p.clients[key]
		p.mu.RUnlock()
		if ok {
			return pc.client, nil
		}

		client := New(p.opts...)
		if err := client.Connect(ctx, config); err != nil {
			_ = client.Close()
			return nil, err
		}

		p.mu.Lock()
		defer p.mu.Unlock()
		if p.closed {
			_ = client.Close()
			return nil, ErrPoolClosed
		}
		p.clients[key] = &pooledClient{client: client, lastUsed: time.Now()}
		return client, nil
	})
	if err != nil {
		return nil, err
	}

	if client, ok := p.acquire(key); ok {
		return client, nil
	}
	return nil, fmt.Errorf("client for %s was closed before use: %w", config.Address(), ErrPoolClosed)
}

// acquire takes a reference on the pooled Client for key, if there is one.
func (p *Pool) acquire(key string) (*Client, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pc, ok := p.clients[key]
	if !ok {
		return nil, false
	}
	pc.inUse++
	pc.lastUsed = time.Now()
	return pc.client, true
}

// Release returns a Client to the pool.
func (p *Pool) Release(config ConnectionConfig) {
	key := p.connectionKey(config.WithDefaults())

	p.mu.Lock()
	defer p.mu.Unlock()

	if pc, ok := p.clients[key]; ok {
		pc.inUse--
		if pc.inUse < 0 {
			pc.inUse = 0
		}
		pc.lastUsed = time.Now()
	}
}

// Close closes every Client and stops the cleanup goroutine.
func (p *Pool) Close() {
	p.once.Do(func() { close(p.done) })

	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	for key, pc := range p.clients {
		_ = pc.client.Close()
		delete(p.clients, key)
	}
}

// CloseIdle closes Clients that have been unused for longer than maxIdle.
func (p *Pool) CloseIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for key, pc := range p.clients {
		if pc.inUse == 0 && now.Sub(pc.lastUsed) > p.maxIdle {
			_ = pc.client.Close()
			delete(p.clients, key)
		}
	}
}

// Stats returns current pool statistics.
func (p *Pool) Stats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var inUse, idle int
	for _, pc := range p.clients {
		if pc.inUse > 0 {
			inUse++
		} else {
			idle++
		}
	}

	return PoolStats{
		Total: len(p.clients),
		InUse: inUse,
		Idle:  idle,
	}
}

// PoolStats contains pool statistics.
type PoolStats struct {
	Total int
	InUse int
	Idle  int
}

func (p *Pool) connectionKey(config ConnectionConfig) string {
	h := sha256.New()

	h.Write([]byte(config.Protocol))
	h.Write([]byte(":" + config.Host))
	fmt.Fprintf(h, ":%d:", config.Port)
	h.Write([]byte(config.Username))

	if config.Password != "" {
		h.Write([]byte(":password:"))
		h.Write([]byte(config.Password))
	}
	if config.PrivateKey != "" {
		h.Write([]byte(":key:"))
		h.Write([]byte(config.PrivateKey))
	}
	if config.KeyPath != "" {
		h.Write([]byte(":keypath:"))
		h.Write([]byte(config.KeyPath))
	}
	if config.Secure {
		h.Write([]byte(":tls"))
	}

	return hex.EncodeToString(h.Sum(nil))[:16]
}

func (p *Pool) cleanupLoop() {
	ticker := time.NewTicker(p.maxIdle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.CloseIdle()
		case <-p.done:
			return
		}
	}
}
