// Package model defines the domain types for the tunnelctl CLI.
//
// Providers describe tunneling backends, Attempts record the immutable
// outcome of trying one provider, and ExposeError aggregates the attempts
// of an orchestration that produced no public URL. CLIError carries the
// exit code the CLI layer hands back to the OS.
package model
