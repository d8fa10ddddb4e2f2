// Package transport performs the upload requests of the wire protocol.
//
// Two implementations share one Transport interface. HTTP streams bodies,
// reports byte progress, and sends chunked parts as raw bodies carrying
// X-File-ID, X-File-Name, X-Part-Index, X-Part-Count and X-Part-Size headers.
// Form posts whole files as buffered multipart forms and reports neither
// slicing nor progress, so callers fall back to single-shot uploads.
//
// Cancelling the request context aborts a send. An abort does not prove the
// server discarded the bytes; receivers store parts idempotently.
package transport
