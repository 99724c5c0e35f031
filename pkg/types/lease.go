package types

import "time"

// a lease is the named mutual-exclusion record
// exactly one owner holds it until expiry, after which anyone may claim it
// version is the optimistic concurrency token, bumped by 1 on every accepted write
type Lease struct {
	Name    string
	Owner   string
	Expiry  time.Time
	Version uint64
}

// time left before the lease lapses, negative once expired
func (l *Lease) Remaining(now time.Time) time.Duration {
	return l.Expiry.Sub(now)
}

// a lease is expired when now is past its expiry
func (l *Lease) IsExpired(now time.Time) bool {
	return l.Remaining(now) < 0
}

func (l *Lease) Clone() *Lease {
	if l == nil {
		return nil
	}
	c := *l
	return &c
}
