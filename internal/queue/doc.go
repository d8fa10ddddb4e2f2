// Package queue models upload items and the ordered collection the
// scheduler admits from.
//
// Item carries the per-file state: status, the server-visible FileID, the
// next part to send, and byte counters. Status transitions are checked
// against a fixed state machine (Added, Uploading, Retrying, and the
// terminal Succeeded, Failed, Cancelled). Part math splits a size into
// fixed-size ranges with a clamped final part.
//
// Queue keeps insertion order and selects admissible items for a given
// concurrency ceiling. It does no locking of its own; the workflow manager
// owns it.
//
// Store persists resume checkpoints in SQLite so a chunked transfer can pick
// up at its next part in a later run. Checkpoints are disposable: schema
// changes bump schemaVersion and the user deletes the database.
package queue
