package domain

import "time"

// Record tracks failed authentication attempts for one (identifier, origin
// address) pair. Created on first failure, incremented per failure, cleared on
// success. LockedUntil is nil until the attempt threshold is crossed.
type Record struct {
	Identifier    string
	OriginAddress string
	AttemptCount  int
	LockedUntil   *time.Time
	LastAttemptAt time.Time
}

// Locked reports whether the record is locked at the given instant.
func (r *Record) Locked(at time.Time) bool {
	return r.LockedUntil != nil && at.Before(*r.LockedUntil)
}
