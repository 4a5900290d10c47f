/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package pool implements the per-Client idle connection pool from
// spec §4.5, keyed by (scheme, host, port). Grounded on the teacher's
// Transport.idleConn/idleLRU/tryPutIdleConn/getIdleConn/removeIdleConn,
// generalized from a map keyed by an internal connectMethodKey into one
// keyed directly by internal/uri.ConnKey.
package pool

import (
	"sync"
	"time"

	"github.com/karpetrosyan/aioreq/errs"
	"github.com/karpetrosyan/aioreq/internal/conn"
	"github.com/karpetrosyan/aioreq/internal/uri"
)

// Config bounds the pool's size and idle lifetime, mirroring the
// teacher's Transport.MaxIdleConns/MaxIdleConnsPerHost/IdleConnTimeout.
type Config struct {
	MaxIdlePerHost int
	MaxIdleTotal   int
	IdleTimeout    time.Duration
}

func (c Config) maxIdlePerHost() int {
	if c.MaxIdlePerHost <= 0 {
		return 2
	}
	return c.MaxIdlePerHost
}

// Pool holds idle connections per ConnKey, evicting the
// least-recently-used entry once MaxIdleTotal is exceeded, the way the
// teacher's connLRU backs MaxIdleConns.
type Pool struct {
	mu     sync.Mutex
	cfg    Config
	idle   map[uri.ConnKey][]*entry
	lru    []*entry // oldest first
	closed bool
}

type entry struct {
	key  uri.ConnKey
	conn *conn.Conn
}

// New returns an empty pool configured per cfg.
func New(cfg Config) *Pool {
	return &Pool{cfg: cfg, idle: make(map[uri.ConnKey][]*entry)}
}

// Get removes and returns an idle, not-yet-broken connection for key,
// or (nil, false) if none is available, matching getIdleConn's
// skip-broken-and-retry loop.
func (p *Pool) Get(key uri.ConnKey) (*conn.Conn, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		list := p.idle[key]
		if len(list) == 0 {
			return nil, false
		}
		e := list[len(list)-1]
		list = list[:len(list)-1]
		if len(list) == 0 {
			delete(p.idle, key)
		} else {
			p.idle[key] = list
		}
		p.removeFromLRULocked(e)

		if e.conn.Broken() {
			_ = e.conn.Close()
			continue
		}
		e.conn.MarkInUse()
		return e.conn, true
	}
}

// Put returns c to the idle pool under key, evicting the oldest
// connection across all keys if MaxIdleTotal is exceeded, and refusing
// (closing c instead) once the pool has been closed, is full for that
// key, or c is already broken — mirroring tryPutIdleConn's error
// returns, simplified to a bool since this pool has no waiting-dialer
// hand-off channel.
func (p *Pool) Put(key uri.ConnKey, c *conn.Conn) bool {
	if c.Broken() {
		_ = c.Close()
		return false
	}
	c.MarkIdle()

	accepted, oldest := p.putLocked(key, c)
	if !accepted {
		_ = c.Close()
		return false
	}
	if oldest != nil {
		_ = oldest.Close()
	}
	return true
}

func (p *Pool) putLocked(key uri.ConnKey, c *conn.Conn) (accepted bool, evicted *conn.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || len(p.idle[key]) >= p.cfg.maxIdlePerHost() {
		return false, nil
	}
	e := &entry{key: key, conn: c}
	p.idle[key] = append(p.idle[key], e)
	p.lru = append(p.lru, e)

	if p.cfg.MaxIdleTotal > 0 && len(p.lru) > p.cfg.MaxIdleTotal {
		oldest := p.lru[0]
		p.lru = p.lru[1:]
		p.removeFromBucketLocked(oldest)
		return true, oldest.conn
	}
	return true, nil
}

func (p *Pool) removeFromLRULocked(e *entry) {
	for i, v := range p.lru {
		if v == e {
			p.lru = append(p.lru[:i], p.lru[i+1:]...)
			return
		}
	}
}

func (p *Pool) removeFromBucketLocked(e *entry) {
	list := p.idle[e.key]
	for i, v := range list {
		if v == e {
			p.idle[e.key] = append(list[:i], list[i+1:]...)
			if len(p.idle[e.key]) == 0 {
				delete(p.idle, e.key)
			}
			return
		}
	}
}

// Sweep closes and evicts connections that have been idle longer than
// cfg.IdleTimeout, the pull-based equivalent of the teacher's
// per-connection idleTimer/closeConnIfStillIdle timer.
func (p *Pool) Sweep() {
	if p.cfg.IdleTimeout <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var kept []*entry
	for _, e := range p.lru {
		if e.conn.IdleDuration() > p.cfg.IdleTimeout {
			_ = e.conn.Close()
			p.removeFromBucketLocked(e)
			continue
		}
		kept = append(kept, e)
	}
	p.lru = kept
}

// Close shuts down every idle connection and rejects future Put calls,
// matching spec §7's ErrPoolClosed behavior once a Client is closed.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errs.ErrPoolClosed
	}
	p.closed = true
	for _, list := range p.idle {
		for _, e := range list {
			_ = e.conn.Close()
		}
	}
	p.idle = make(map[uri.ConnKey][]*entry)
	p.lru = nil
	return nil
}

// IdleCount reports the number of idle connections currently pooled
// for key, used by tests asserting reuse behavior.
func (p *Pool) IdleCount(key uri.ConnKey) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle[key])
}
