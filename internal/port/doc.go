// Package port implements the local port checks tunnelctl runs before
// launching any agent.
//
// The Scanner answers two questions about a port on 127.0.0.1: can it
// be bound (net.Listen), and does something accept connections on it
// (net.Dial). Preflight combines them into warnings about the port being
// exposed and the status ports of api-strategy providers.
package port
