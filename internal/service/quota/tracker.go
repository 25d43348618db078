// Package quota decides whether a guest may send another chat message.
//
// Usage is the identity's MsgCount list. Windows are nested (the day count
// is a subset of the week count and so on) and are checked narrowest first;
// the first window at or over its limit decides the wait.
package quota

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/soullink/backend/internal/model/identity"
)

var ErrLimitReached = errors.New("guest message limit reached")

// Decision is the outcome of an allowance check. WaitMillis is zero when
// the send is allowed.
type Decision struct {
	Allowed    bool   `json:"allowed"`
	WaitMillis int64  `json:"waitMillis"`
	Window     string `json:"window,omitempty"`
}

var allowed = Decision{Allowed: true}

// Identities persists identity changes with read-modify-write semantics.
type Identities interface {
	Update(ctx context.Context, id string, fn func(*identity.User) error) (identity.User, error)
}

// Tracker evaluates and records guest usage.
type Tracker struct {
	policy     Policy
	identities Identities
	now        func() time.Time
	log        *logrus.Entry
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithClock overrides the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker builds a tracker; a nil or empty policy means DefaultPolicy.
func NewTracker(identities Identities, policy Policy, opts ...Option) *Tracker {
	if len(policy) == 0 {
		policy = DefaultPolicy()
	}
	t := &Tracker{
		policy:     policy,
		identities: identities,
		now:        time.Now,
		log:        logrus.WithField("component", "quota"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Policy returns the windows in effect.
func (t *Tracker) Policy() Policy {
	return append(Policy(nil), t.policy...)
}

// Evaluate is a pure query. Non-guests are always allowed.
func (t *Tracker) Evaluate(user identity.User) Decision {
	if !user.IsGuest() {
		return allowed
	}
	return Evaluate(t.policy, user.MsgCount, t.now().UnixMilli())
}

// Record appends the current time to the guest's usage and persists it.
// It does not re-check the limit; call Evaluate first. Non-guests are
// returned unchanged.
func (t *Tracker) Record(ctx context.Context, user identity.User) (identity.User, error) {
	if !user.IsGuest() {
		return user, nil
	}

	updated, err := t.identities.Update(ctx, user.ID, func(u *identity.User) error {
		appendTimestamp(u, t.now().UnixMilli())
		return nil
	})
	if err != nil {
		t.log.WithError(err).WithField("user", user.ID).Warn("record usage failed")
		return user, err
	}
	return updated, nil
}

// Admit evaluates and records in one locked step so concurrent sends from
// the same guest cannot both slip under a limit. A refused send returns
// ErrLimitReached with the decision explaining the wait.
func (t *Tracker) Admit(ctx context.Context, userID string) (identity.User, Decision, error) {
	decision := allowed
	user, err := t.identities.Update(ctx, userID, func(u *identity.User) error {
		if !u.IsGuest() {
			return nil
		}
		now := t.now().UnixMilli()
		decision = Evaluate(t.policy, u.MsgCount, now)
		if !decision.Allowed {
			return ErrLimitReached
		}
		appendTimestamp(u, now)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrLimitReached) {
			t.log.WithFields(logrus.Fields{
				"user":   userID,
				"window": decision.Window,
				"waitMs": decision.WaitMillis,
			}).Info("guest send refused")
		}
		return user, decision, err
	}
	return user, decision, nil
}

// Evaluate checks timestamps (unix ms, oldest first) against policy at now.
//
// Timestamps older than the policy horizon are ignored for counting but the
// wait is computed by indexing the full list: the N-th newest entry, where N
// is the violated limit. That matches the N-th newest entry inside the
// window only while the list is non-decreasing, which appendTimestamp keeps.
// An empty list counts as no usage, so a lost record fails open.
func Evaluate(policy Policy, timestamps []int64, now int64) Decision {
	if len(timestamps) == 0 {
		return allowed
	}

	cutoff := now - policy.Horizon().Milliseconds()
	recent := make([]int64, 0, len(timestamps))
	for _, ts := range timestamps {
		if ts > cutoff {
			recent = append(recent, ts)
		}
	}

	for _, w := range policy {
		windowMs := w.Duration.Milliseconds()
		since := now - windowMs
		count := 0
		for _, ts := range recent {
			if ts > since {
				count++
			}
		}
		if count >= w.Limit {
			nth := timestamps[len(timestamps)-w.Limit]
			return Decision{
				Allowed:    false,
				WaitMillis: nth + windowMs - now,
				Window:     w.Name,
			}
		}
	}
	return allowed
}

// appendTimestamp keeps MsgCount non-decreasing even if the clock steps back.
func appendTimestamp(u *identity.User, now int64) {
	if n := len(u.MsgCount); n > 0 && u.MsgCount[n-1] > now {
		now = u.MsgCount[n-1]
	}
	u.MsgCount = append(u.MsgCount, now)
}

// WindowUsage reports how much of one window a guest has used.
type WindowUsage struct {
	Name       string `json:"name"`
	DurationMs int64  `json:"durationMs"`
	Limit      int    `json:"limit"`
	Used       int    `json:"used"`
}

// Usage counts the user's sends inside every window of the policy. Non-guests
// report zero usage.
func (t *Tracker) Usage(user identity.User) []WindowUsage {
	now := t.now().UnixMilli()
	out := make([]WindowUsage, 0, len(t.policy))
	for _, w := range t.policy {
		u := WindowUsage{Name: w.Name, DurationMs: w.Duration.Milliseconds(), Limit: w.Limit}
		if user.IsGuest() {
			since := now - u.DurationMs
			for _, ts := range user.MsgCount {
				if ts > since {
					u.Used++
				}
			}
		}
		out = append(out, u)
	}
	return out
}

// Status is the allowance snapshot shown to clients.
type Status struct {
	Decision
	Role    identity.Role `json:"role"`
	Windows []WindowUsage `json:"windows"`
}

// Status evaluates user and reports the usage of every window.
func (t *Tracker) Status(user identity.User) Status {
	return Status{
		Decision: t.Evaluate(user),
		Role:     user.Role,
		Windows:  t.Usage(user),
	}
}
