// Package docker runs tunnel agents as Docker containers.
//
// This package handles:
//   - Docker client initialization with automatic socket detection
//     (Linux, macOS, Windows)
//   - Container labels that mark agent containers for cleanup
//   - ContainerLauncher, the process.Launcher for the docker runtime
//
// Docker labels are the only record of which containers tunnelctl owns.
// The package uses github.com/docker/docker/client as the underlying
// Docker SDK, with version negotiation enabled.
package docker
