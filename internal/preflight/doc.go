// Package preflight provides readiness checks for the receiver endpoint and
// the local paths uploadq depends on.
//
// The CLI "uploadq check" command runs RunAll and prints one line per check;
// individual checks are exported for callers that need only one of them.
package preflight
