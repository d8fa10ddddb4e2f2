// Package workflow coordinates uploads for a queue of files.
//
// The Manager owns every queue.Item. Enqueue, RetryItem, CancelItem and
// RemoveItem mutate items under one lock and end with a scheduling pass that
// admits Added and Retrying items, in queue order, until the number of
// Uploading items reaches the configured concurrency ceiling. Each admitted
// item runs one transfer.Unit attempt on its own goroutine; the attempt
// reports progress and accepted parts back through the Manager, which drops
// reports from superseded attempts by generation number.
//
// A stall detector restarts attempts that stop reporting progress, and
// succeeded items are removed after the auto-clear delay unless they were
// retried in the meantime. Events are queued under the lock and delivered in
// order outside it, so subscribers may call back into the Manager.
// CheckpointRecorder is the subscriber that makes chunked transfers resumable
// across sessions.
package workflow
