// Package process launches tunnel agents as child processes and captures
// their output.
//
// A Launcher checks availability without side effects and starts agents;
// the returned Process is an explicitly tracked handle (PID or container
// ID) used for termination. Nothing in tunnelctl kills agents by process
// name, so unrelated instances of the same agent are never touched.
package process
