// Package broker turns the asynchronous push/reply exchange with a device
// into a synchronous-looking call with a deadline.
//
// A send registers a single-use pending entry keyed by a fresh request ID,
// pushes the command over the device's live connection, and suspends the
// caller until either a reply tagged with that exact request ID arrives or
// the deadline fires. Exactly one of the two paths resolves the entry; the
// loser is a no-op. Replies are matched purely by request ID, never by
// arrival order, so interleaved replies from different devices are always
// correctly attributed.
//
// Late or duplicate replies are dropped silently: delivery is best-effort
// within one timeout window, by contract.
package broker
