// Package gate serializes outbound work to at most one dispatch per
// configured interval.
//
// Callers submit zero-argument units of work through Do, which blocks until
// the work is dispatched in strict FIFO order and settles. The queue and the
// dispatch clock are owned exclusively by a single drain goroutine; callers
// never manipulate queue state directly. A caller whose context ends while
// its request is still queued is removed without consuming a dispatch slot;
// once dispatched, the task always runs to completion.
package gate
