// Package transfer runs one upload attempt for a queue item.
//
// Decide chooses between a single multipart request and a chunked transfer
// of fixed-size parts. Unit.Run executes the plan over a transport.Transport,
// reporting whole-file progress and each accepted part to a Reporter, and
// classifies the result into an Outcome. The package holds no queue state;
// the workflow coordinator owns status transitions.
package transfer
