// Package leaselock guards analysis runs with expiring session leases kept in
// the run_locks table. A session key is analysed by at most one process at a
// time, even when a message is redelivered or a second request races the
// first.
package leaselock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/OFFIS-RIT/castgraph/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	// ErrBusy matches the error Acquire returns while another process holds
	// the session.
	ErrBusy = errors.New("session is already being analysed")
	// ErrLost is the cancellation cause of a lease that could not be renewed
	// before it expired, or that another holder took over.
	ErrLost = errors.New("session lease lost")
)

const DefaultTTL = 5 * time.Minute

// BusyError reports who holds a session. Holder and ExpiresAt are empty when
// the lock row vanished between the attempt and the lookup.
type BusyError struct {
	SessionKey string
	Holder     string
	ExpiresAt  time.Time
}

func (e *BusyError) Error() string {
	if e.Holder == "" {
		return fmt.Sprintf("session %q is already being analysed", e.SessionKey)
	}
	return fmt.Sprintf("session %q is being analysed by %s until %s",
		e.SessionKey, e.Holder, e.ExpiresAt.Format(time.RFC3339))
}

func (e *BusyError) Is(target error) bool {
	return target == ErrBusy
}

type dbConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Client hands out session leases on a PostgreSQL connection.
type Client struct {
	db dbConn
}

func New(pool *pgxpool.Pool) *Client {
	return &Client{db: pool}
}

func newWithConn(db dbConn) *Client {
	return &Client{db: db}
}

// Options tune a lease. The zero value holds the session for DefaultTTL,
// renews every third of the TTL and names the host as holder.
type Options struct {
	TTL        time.Duration
	RenewEvery time.Duration
	Holder     string
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.RenewEvery <= 0 || o.RenewEvery >= o.TTL {
		o.RenewEvery = o.TTL / 3
	}
	if o.Holder == "" {
		o.Holder = defaultHolder()
	}
	return o
}

func defaultHolder() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "castgraph"
	}
	return host
}

// Lease is a held session. Context is canceled on Release, or with cause
// ErrLost when the lease could not be kept.
type Lease struct {
	SessionKey string
	Token      string
	Context    context.Context

	client *Client
	opts   Options
	cancel context.CancelCauseFunc

	stopOnce sync.Once
	stop     chan struct{}
}

func lockKey(sessionKey string) string {
	return "analysis:" + sessionKey
}

// holderOf strips the per-lease suffix from a stored token.
func holderOf(token string) string {
	if i := strings.LastIndexByte(token, '/'); i >= 0 {
		return token[:i]
	}
	return token
}

// Acquire takes the lease for sessionKey, or returns a *BusyError when a live
// lease of another process exists. An expired lease is taken over.
func (c *Client) Acquire(ctx context.Context, sessionKey string, opts Options) (*Lease, error) {
	if sessionKey == "" {
		return nil, errors.New("session key is empty")
	}
	opts = opts.withDefaults()

	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate lease token: %w", err)
	}
	token := opts.Holder + "/" + id

	var key string
	err = c.db.QueryRow(ctx, acquireSQL, lockKey(sessionKey), token, opts.TTL.Milliseconds()).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, c.busy(ctx, sessionKey)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to acquire session lease: %w", err)
	}

	leaseCtx, cancel := context.WithCancelCause(ctx)
	l := &Lease{
		SessionKey: sessionKey,
		Token:      token,
		Context:    leaseCtx,
		client:     c,
		opts:       opts,
		cancel:     cancel,
		stop:       make(chan struct{}),
	}
	logger.Debug("[LeaseLock] Session acquired", "session", sessionKey, "holder", opts.Holder, "ttl", opts.TTL)

	go l.keepAlive()
	return l, nil
}

func (c *Client) busy(ctx context.Context, sessionKey string) error {
	busy := &BusyError{SessionKey: sessionKey}
	var token string
	if err := c.db.QueryRow(ctx, holderSQL, lockKey(sessionKey)).Scan(&token, &busy.ExpiresAt); err == nil {
		busy.Holder = holderOf(token)
	}
	return busy
}

// Release stops renewal and frees the session if this lease still holds it.
func (l *Lease) Release(ctx context.Context) error {
	l.stopOnce.Do(func() {
		close(l.stop)
		l.cancel(context.Canceled)
	})

	if _, err := l.client.db.Exec(ctx, releaseSQL, lockKey(l.SessionKey), l.Token); err != nil {
		logger.Warn("[LeaseLock] Failed to release session", "session", l.SessionKey, "err", err)
		return fmt.Errorf("failed to release session lease: %w", err)
	}
	logger.Debug("[LeaseLock] Session released", "session", l.SessionKey)
	return nil
}

// keepAlive extends the lease every RenewEvery. A failed renewal is retried
// on the next tick as long as the lease has not expired by then.
func (l *Lease) keepAlive() {
	t := time.NewTicker(l.opts.RenewEvery)
	defer t.Stop()

	expires := time.Now().Add(l.opts.TTL)
	for {
		select {
		case <-l.stop:
			return
		case <-l.Context.Done():
			return
		case <-t.C:
		}

		err := l.renew()
		switch {
		case err == nil:
			expires = time.Now().Add(l.opts.TTL)
		case l.Context.Err() != nil:
			return
		case errors.Is(err, ErrLost):
			l.lose(err)
			return
		case time.Now().Add(l.opts.RenewEvery).After(expires):
			l.lose(fmt.Errorf("%w: %v", ErrLost, err))
			return
		default:
			logger.Warn("[LeaseLock] Renewal failed, retrying", "session", l.SessionKey, "err", err)
		}
	}
}

func (l *Lease) renew() error {
	ctx, cancel := context.WithTimeout(l.Context, l.opts.RenewEvery)
	defer cancel()

	var key string
	err := l.client.db.QueryRow(ctx, renewSQL, lockKey(l.SessionKey), l.Token, l.opts.TTL.Milliseconds()).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrLost
	}
	return err
}

func (l *Lease) lose(cause error) {
	logger.Error("[LeaseLock] Session lease lost", "session", l.SessionKey, "err", cause)
	l.cancel(cause)
}

const acquireSQL = `
INSERT INTO run_locks (lock_key, locked_by, expires_at)
VALUES ($1, $2, now() + ($3::bigint * interval '1 millisecond'))
ON CONFLICT (lock_key) DO UPDATE
SET locked_by  = EXCLUDED.locked_by,
    expires_at = EXCLUDED.expires_at
WHERE run_locks.expires_at < now()
RETURNING lock_key;
`

const holderSQL = `
SELECT locked_by, expires_at FROM run_locks WHERE lock_key = $1;
`

const renewSQL = `
UPDATE run_locks
SET expires_at = now() + ($3::bigint * interval '1 millisecond')
WHERE lock_key = $1 AND locked_by = $2
RETURNING lock_key;
`

const releaseSQL = `
DELETE FROM run_locks
WHERE lock_key = $1 AND locked_by = $2;
`
