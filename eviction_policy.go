package objectpool

import "time"

// DefaultEvictionPolicyName is the name the built-in policy is registered
// under and the one NewDefaultPoolConfig selects unless overridden.
const DefaultEvictionPolicyName = "default"

// EvictionConfig is the per-sweep context an EvictionPolicy's Evict is
// judged against (spec §4.4).
type EvictionConfig struct {
	IdleEvictTime     time.Duration
	IdleSoftEvictTime time.Duration
	MinIdle           int
}

// EvictionCandidate describes the idle record currently under test, without
// exposing the generic PooledObject[T] type — keeping EvictionPolicy
// non-generic lets a single registry serve pools over any T, matching the
// teacher's GetEvictionPolicy(name) lookup-by-string design.
type EvictionCandidate struct {
	IdleTime  time.Duration
	IdleCount int
}

// EvictionPolicy decides whether an idle record should be evicted. The
// default implementation is the spec §4.4 predicate: evict if idle longer
// than the hard threshold, or longer than the soft threshold while above
// MinIdle.
type EvictionPolicy interface {
	Evict(cfg EvictionConfig, candidate EvictionCandidate) bool
}

type defaultEvictionPolicy struct{}

func (defaultEvictionPolicy) Evict(cfg EvictionConfig, c EvictionCandidate) bool {
	if cfg.IdleEvictTime > 0 && c.IdleTime > cfg.IdleEvictTime {
		return true
	}
	if cfg.IdleSoftEvictTime > 0 && c.IdleTime > cfg.IdleSoftEvictTime && c.IdleCount > cfg.MinIdle {
		return true
	}
	return false
}

var evictionPolicies = struct {
	policies map[string]EvictionPolicy
}{policies: map[string]EvictionPolicy{
	DefaultEvictionPolicyName: defaultEvictionPolicy{},
}}

// RegisterEvictionPolicy makes a pluggable policy available to
// ObjectPoolConfig.EvictionPolicyName / WithEvictionPolicyName by name.
// Intended to be called from an init function before any pool referencing
// the name is constructed; it is not safe to call concurrently with pool
// construction.
func RegisterEvictionPolicy(name string, p EvictionPolicy) {
	evictionPolicies.policies[name] = p
}

// GetEvictionPolicy looks up a registered policy by name.
func GetEvictionPolicy(name string) (EvictionPolicy, bool) {
	p, ok := evictionPolicies.policies[name]
	return p, ok
}
