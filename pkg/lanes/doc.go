// Package lanes provides named serial execution lanes.
//
// A Registry owns any number of Lanes keyed by a case-insensitive name. Each
// Lane runs the work submitted to it one item at a time, in submission order,
// on its own worker goroutine. Different lanes run concurrently.
//
// Invariants:
// - Work in the same lane executes in FIFO order and never overlaps.
// - Work in different lanes has no ordering relationship.
// - Submissions to a disposed Registry or a cancelled Lane fail with an error.
// - Failures and panics inside submitted work are logged and discarded;
//   there is no result channel back to the submitter.
//
// Usage:
//
//	reg := lanes.New()
//	defer reg.Dispose()
//	_ = reg.Submit("iptables", func(ctx context.Context) error {
//		return applyRules(ctx)
//	})
//	reg.WaitDrained("iptables", 5*time.Second)
package lanes
