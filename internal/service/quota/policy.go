package quota

import (
	"errors"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

const day = 24 * time.Hour

var ErrInvalidPolicy = errors.New("invalid quota policy")

// Window is a trailing interval with the message count that closes it.
type Window struct {
	Name     string
	Duration time.Duration
	Limit    int
}

// Policy lists windows from narrowest to widest. The widest window is also
// the horizon beyond which timestamps stop counting.
type Policy []Window

// DefaultPolicy is the guest allowance: 12 a day, 24 a week, 36 a month,
// 48 a year.
func DefaultPolicy() Policy {
	return Policy{
		{Name: "day", Duration: day, Limit: 12},
		{Name: "week", Duration: 7 * day, Limit: 24},
		{Name: "month", Duration: 30 * day, Limit: 36},
		{Name: "year", Duration: 365 * day, Limit: 48},
	}
}

// Validate checks that windows are non-empty, positive and ordered.
func (p Policy) Validate() error {
	if len(p) == 0 {
		return fmt.Errorf("%w: no windows", ErrInvalidPolicy)
	}
	for i, w := range p {
		if w.Duration <= 0 || w.Limit <= 0 {
			return fmt.Errorf("%w: window %q needs a positive duration and limit", ErrInvalidPolicy, w.Name)
		}
		if i > 0 && w.Duration <= p[i-1].Duration {
			return fmt.Errorf("%w: window %q must be wider than %q", ErrInvalidPolicy, w.Name, p[i-1].Name)
		}
	}
	return nil
}

// Horizon returns the widest window duration.
func (p Policy) Horizon() time.Duration {
	if len(p) == 0 {
		return 0
	}
	return p[len(p)-1].Duration
}

type policyFile struct {
	Windows []struct {
		Name     string `toml:"name"`
		Duration string `toml:"duration"`
		Limit    int    `toml:"limit"`
	} `toml:"window"`
}

// LoadPolicy reads a TOML policy file of the form
//
//	[[window]]
//	name = "day"
//	duration = "24h"
//	limit = 12
func LoadPolicy(path string) (Policy, error) {
	var file policyFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("decode quota policy %s: %w", path, err)
	}
	return file.policy()
}

// ParsePolicy is LoadPolicy for in-memory TOML.
func ParsePolicy(data string) (Policy, error) {
	var file policyFile
	if _, err := toml.Decode(data, &file); err != nil {
		return nil, fmt.Errorf("decode quota policy: %w", err)
	}
	return file.policy()
}

func (f policyFile) policy() (Policy, error) {
	policy := make(Policy, 0, len(f.Windows))
	for _, w := range f.Windows {
		d, err := time.ParseDuration(w.Duration)
		if err != nil {
			return nil, fmt.Errorf("%w: window %q duration %q: %v", ErrInvalidPolicy, w.Name, w.Duration, err)
		}
		policy = append(policy, Window{Name: w.Name, Duration: d, Limit: w.Limit})
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return policy, nil
}
