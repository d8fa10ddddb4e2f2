// Package main hosts the uploadq CLI.
//
// "uploadq upload" feeds files into a workflow.Manager and renders its
// events as a progress bar and per-file outcome lines. The other commands
// inspect resume checkpoints, manage files stored on a receiver, run
// preflight checks and scaffold configuration. Configuration resolution, logger setup and the
// single-uploader lock live in context.go so subcommands stay declarative.
package main
