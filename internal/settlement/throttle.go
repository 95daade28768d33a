// throttle.go - Per-authority submission limits.

package settlement

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"github.com/gitteri/confidential-balances-exploration/internal/balance"
	"github.com/gitteri/confidential-balances-exploration/internal/proof"
)

// LimitConfig sizes the submission budget of one authority: Burst credits,
// with Refill credits returned every Period. Authorities is the number of
// buckets kept; the least recently active one is dropped beyond it and
// starts full when it comes back.
type LimitConfig struct {
	Burst       int
	Refill      int
	Period      time.Duration
	Authorities int
}

const defaultLimitAuthorities = 4096

// authorityBucket is the budget left to one authority. at is the start of
// the current refill period.
type authorityBucket struct {
	credits int
	at      time.Time
}

// AuthorityLimiter meters settlement submissions per signing authority.
type AuthorityLimiter struct {
	cfg LimitConfig
	now func() time.Time

	mu      sync.Mutex
	buckets *lru.Cache[balance.Address, *authorityBucket]
}

// NewAuthorityLimiter validates cfg and returns a limiter with no buckets.
func NewAuthorityLimiter(cfg LimitConfig) (*AuthorityLimiter, error) {
	if cfg.Burst <= 0 || cfg.Refill <= 0 || cfg.Period <= 0 {
		return nil, errors.Errorf("invalid submission limit: burst %d, refill %d per %s", cfg.Burst, cfg.Refill, cfg.Period)
	}
	if cfg.Authorities <= 0 {
		cfg.Authorities = defaultLimitAuthorities
	}
	buckets, err := lru.New[balance.Address, *authorityBucket](cfg.Authorities)
	if err != nil {
		return nil, errors.Wrap(err, "limiter buckets")
	}
	return &AuthorityLimiter{cfg: cfg, now: time.Now, buckets: buckets}, nil
}

// bucket returns id's bucket refilled up to now. Callers hold l.mu.
func (l *AuthorityLimiter) bucket(id balance.Address, now time.Time) *authorityBucket {
	b, ok := l.buckets.Get(id)
	if !ok {
		b = &authorityBucket{credits: l.cfg.Burst, at: now}
		l.buckets.Add(id, b)
		return b
	}
	if periods := int(now.Sub(b.at) / l.cfg.Period); periods > 0 {
		b.credits = min(l.cfg.Burst, b.credits+periods*l.cfg.Refill)
		b.at = b.at.Add(time.Duration(periods) * l.cfg.Period)
	}
	return b
}

// Take spends one of id's credits. When none is left it returns false and
// the time until the next refill.
func (l *AuthorityLimiter) Take(id balance.Address) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	b := l.bucket(id, now)
	if b.credits == 0 {
		return false, l.cfg.Period - now.Sub(b.at)
	}
	b.credits--
	return true, 0
}

// Remaining returns the credits id can still spend now.
func (l *AuthorityLimiter) Remaining(id balance.Address) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bucket(id, l.now()).credits
}

// Throttled limits context creation, publication and commits per authority.
// Closing contexts is never throttled so rollback can always run.
type Throttled struct {
	next    Settlement
	limiter *AuthorityLimiter
	// contexts remembers each context's authority for PublishProof.
	mu       sync.Mutex
	contexts map[ContextHandle]balance.Address
}

// NewThrottled wraps next.
func NewThrottled(next Settlement, limiter *AuthorityLimiter) *Throttled {
	return &Throttled{next: next, limiter: limiter, contexts: map[ContextHandle]balance.Address{}}
}

func (t *Throttled) allow(id balance.Address) error {
	if ok, wait := t.limiter.Take(id); !ok {
		return errors.Wrapf(ErrThrottled, "%s, next credit in %s", id, wait.Round(time.Millisecond))
	}
	return nil
}

func (t *Throttled) Freshness(ctx context.Context) (Freshness, error) {
	return t.next.Freshness(ctx)
}

func (t *Throttled) CreateContext(ctx context.Context, req CreateContextRequest, fresh Freshness) (ContextHandle, error) {
	if err := t.allow(req.Authority); err != nil {
		return ContextHandle{}, err
	}
	h, err := t.next.CreateContext(ctx, req, fresh)
	if err == nil {
		t.mu.Lock()
		t.contexts[h] = req.Authority
		t.mu.Unlock()
	}
	return h, err
}

func (t *Throttled) PublishProof(ctx context.Context, h ContextHandle, pd proof.ProofData, fresh Freshness) error {
	t.mu.Lock()
	authority, ok := t.contexts[h]
	t.mu.Unlock()
	if ok {
		if err := t.allow(authority); err != nil {
			return err
		}
	}
	return t.next.PublishProof(ctx, h, pd, fresh)
}

func (t *Throttled) ReferenceAndCommit(ctx context.Context, op Operation, handles []ContextHandle, fresh Freshness) (*CommitReceipt, error) {
	if err := t.allow(op.Authority()); err != nil {
		return nil, err
	}
	return t.next.ReferenceAndCommit(ctx, op, handles, fresh)
}

func (t *Throttled) CloseContext(ctx context.Context, h ContextHandle, authority, rentDestination balance.Address, fresh Freshness) error {
	err := t.next.CloseContext(ctx, h, authority, rentDestination, fresh)
	if err == nil || errors.Is(err, ErrContextNotFound) {
		t.mu.Lock()
		delete(t.contexts, h)
		t.mu.Unlock()
	}
	return err
}
