package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/koustreak/pgtable/internal/backoff"
	"github.com/koustreak/pgtable/internal/errs"
	"github.com/koustreak/pgtable/internal/logger"
	"golang.org/x/sync/singleflight"
)

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return errs.Wrap(errs.ErrKindTimeout, "interrupted while backing off", ctx.Err())
	}
}

// Session is a cached connection plus the lock that hands it to one unit
// of work at a time.
type Session struct {
	mu   sync.Mutex
	id   Identity
	conn Conn
}

// Identity returns the identity the session was opened for.
func (s *Session) Identity() Identity { return s.id }

// Cache holds at most one live connection per (host:port, dbname).
// It is safe for concurrent use by multiple goroutines.
type Cache struct {
	connector Connector
	backoff   backoff.Config
	sleep     SleepFunc
	log       *logger.Logger

	mu       sync.Mutex
	sessions map[string]map[string]*Session // host -> dbname -> session
	group    singleflight.Group
}

// Option customises a Cache.
type Option func(*Cache)

// WithBackoff sets the reconnection backoff shape.
func WithBackoff(cfg backoff.Config) Option {
	return func(c *Cache) { c.backoff = cfg }
}

// WithSleep replaces the function used to wait between connect attempts.
func WithSleep(fn SleepFunc) Option {
	return func(c *Cache) { c.sleep = fn }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Cache) { c.log = l }
}

// NewCache returns an empty cache that opens sessions with connector.
// Call Close when the process shuts down.
func NewCache(connector Connector, opts ...Option) *Cache {
	c := &Cache{
		connector: connector,
		backoff:   backoff.DefaultConfig(),
		sleep:     Sleep,
		log:       logger.Nop(),
		sessions:  make(map[string]map[string]*Session),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Acquire returns the cached session for id, establishing one if needed.
func (c *Cache) Acquire(ctx context.Context, id Identity) (*Session, error) {
	if s := c.lookup(id); s != nil {
		return s, nil
	}
	return c.establish(ctx, id)
}

// AcquireFresh discards any cached session for id and establishes a new
// one, retrying transient connect failures with backoff.
func (c *Cache) AcquireFresh(ctx context.Context, id Identity) (*Session, error) {
	c.Invalidate(ctx, id)
	return c.establish(ctx, id)
}

// Invalidate closes and evicts the cached session for id. Close errors are
// ignored. It waits for any unit of work using the session to finish.
func (c *Cache) Invalidate(ctx context.Context, id Identity) {
	c.mu.Lock()
	s := c.sessions[id.HostKey()][id.DBName]
	if s != nil {
		delete(c.sessions[id.HostKey()], id.DBName)
		if len(c.sessions[id.HostKey()]) == 0 {
			delete(c.sessions, id.HostKey())
		}
	}
	c.mu.Unlock()

	if s != nil {
		c.closeSession(ctx, s)
	}
}

// Close closes every cached session.
func (c *Cache) Close(ctx context.Context) {
	c.mu.Lock()
	var all []*Session
	for _, byDB := range c.sessions {
		for _, s := range byDB {
			all = append(all, s)
		}
	}
	c.sessions = make(map[string]map[string]*Session)
	c.mu.Unlock()

	for _, s := range all {
		c.closeSession(ctx, s)
	}
}

// Len returns the number of cached sessions.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, byDB := range c.sessions {
		n += len(byDB)
	}
	return n
}

func (c *Cache) lookup(id Identity) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[id.HostKey()][id.DBName]
}

func (c *Cache) store(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	host := s.id.HostKey()
	if c.sessions[host] == nil {
		c.sessions[host] = make(map[string]*Session)
	}
	c.sessions[host][s.id.DBName] = s
}

func (c *Cache) closeSession(ctx context.Context, s *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.Close(ctx); err != nil {
		c.log.WarnWith("ignoring error closing connection", err, map[string]interface{}{
			"database": s.id.String(),
		})
	}
}

// establish opens and caches a session for id. Concurrent callers for the
// same key share one connect.
func (c *Cache) establish(ctx context.Context, id Identity) (*Session, error) {
	key := id.HostKey() + "/" + id.DBName
	v, err, _ := c.group.Do(key, func() (any, error) {
		if s := c.lookup(id); s != nil {
			return s, nil
		}
		conn, err := c.connect(ctx, id)
		if err != nil {
			return nil, err
		}
		s := &Session{id: id, conn: conn}
		c.store(s)
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// connect retries transient failures forever, or until id.Retries
// backoffs have been spent.
func (c *Cache) connect(ctx context.Context, id Identity) (Conn, error) {
	gen := backoff.New(c.backoff)
	for emitted := 0; ; emitted++ {
		conn, err := c.connector.Connect(ctx, id)
		if err == nil {
			if emitted > 0 {
				c.log.InfoWith("reconnected", map[string]interface{}{
					"database": id.String(),
					"backoffs": emitted,
				})
			}
			return conn, nil
		}
		if !errs.IsConnectionFailed(err) {
			return nil, err
		}
		if id.Retries > 0 && emitted >= id.Retries {
			return nil, errs.Wrap(errs.ErrKindConnectionFailed,
				fmt.Sprintf("giving up on %s after %d retries", id, id.Retries), err)
		}

		d := gen.Next()
		c.log.WarnWith("connect failed, backing off", err, map[string]interface{}{
			"database": id.String(),
			"backoff":  d.String(),
		})
		if err := c.sleep(ctx, d); err != nil {
			return nil, err
		}
	}
}
