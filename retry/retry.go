package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nijaru/catchup/errors"
	"github.com/sirupsen/logrus"
)

// Scope decides whether a Budget is shared across every call made for one
// request or refilled for each extraction call.
type Scope string

const (
	ScopeRequest Scope = "request"
	ScopeAttempt Scope = "attempt"
)

// Budget counts the transient retries left for one request. It is owned by
// a single request and is not safe for concurrent use.
type Budget struct {
	initial   int
	remaining int
	scope     Scope
}

func NewBudget(retries int, scope Scope) *Budget {
	if retries < 0 {
		retries = 0
	}
	if scope == "" {
		scope = ScopeRequest
	}
	return &Budget{initial: retries, remaining: retries, scope: scope}
}

// Take consumes one retry. It reports false once the budget is spent.
func (b *Budget) Take() bool {
	if b == nil || b.remaining <= 0 {
		return false
	}
	b.remaining--
	return true
}

func (b *Budget) Remaining() int {
	if b == nil {
		return 0
	}
	return b.remaining
}

// ForAttempt returns the budget an extraction call should draw from.
func (b *Budget) ForAttempt() *Budget {
	if b == nil {
		return NewBudget(0, ScopeRequest)
	}
	if b.scope == ScopeAttempt {
		return NewBudget(b.initial, ScopeAttempt)
	}
	return b
}

type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

func DefaultPolicy() Policy {
	return Policy{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     4 * time.Second,
		Multiplier:      2,
	}
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		bo.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		bo.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		bo.Multiplier = p.Multiplier
	}
	// the retry budget and the context bound the loop, not elapsed time
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// Do runs fn until it succeeds, fails with a non-transient error, the
// budget is spent or ctx is done. A transient failure that outlives the
// budget is escalated to Blocked; budget expiry surfaces as
// BudgetExceeded for stage.
func Do(ctx context.Context, op, stage string, budget *Budget, policy Policy, fn func(attempt int) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := fn(attempt)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(errors.BudgetExceeded(op, stage, ctx.Err()))
		}
		if !errors.Is(err, errors.KindTransient) {
			return backoff.Permanent(err)
		}
		if !budget.Take() {
			return backoff.Permanent(errors.Escalate(op, err))
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		logrus.WithFields(logrus.Fields{
			"op":        op,
			"attempt":   attempt,
			"remaining": budget.Remaining(),
			"wait":      wait,
			"error":     err,
		}).Warn("Transient failure, retrying")
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(policy.backOff(), ctx), notify)
	if err == nil {
		return nil
	}
	if _, typed := errors.As(err); !typed && ctx.Err() != nil {
		return errors.BudgetExceeded(op, stage, ctx.Err())
	}
	return err
}

type budgetKey struct{}

// WithBudget attaches the request's retry budget to ctx so every stage of
// the request draws from it.
func WithBudget(ctx context.Context, b *Budget) context.Context {
	return context.WithValue(ctx, budgetKey{}, b)
}

// BudgetFrom returns the budget attached to ctx, or an empty one.
func BudgetFrom(ctx context.Context) *Budget {
	if b, ok := ctx.Value(budgetKey{}).(*Budget); ok && b != nil {
		return b
	}
	return NewBudget(0, ScopeRequest)
}
