package docker

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/shinji-kodama/tunnelctl/internal/model"
	"github.com/shinji-kodama/tunnelctl/internal/process"
)

// removeTimeout bounds the force-remove request issued by Terminate.
const removeTimeout = 10 * time.Second

// engine is the subset of Client the launcher drives. *Client satisfies
// it; tests substitute a fake daemon.
type engine interface {
	Ping(ctx context.Context) error
	ImageExists(ctx context.Context, ref string) (bool, error)
	CreateContainer(ctx context.Context, name string, cfg *container.Config, hostCfg *container.HostConfig) (string, error)
	StartContainer(ctx context.Context, containerID string) error
	FollowLogs(ctx context.Context, containerID string) (io.ReadCloser, error)
	WaitContainer(ctx context.Context, containerID string) (int64, error)
	RemoveContainer(ctx context.Context, containerID string) error
}

// ContainerLauncher runs tunnel agents as Docker containers on the host
// network, so the agent reaches the local port exactly as a native
// binary would. Containers carry tunnelctl labels for cleanup.
type ContainerLauncher struct {
	engine   engine
	killWait time.Duration
	now      func() time.Time
}

// NewContainerLauncher creates a launcher backed by c.
func NewContainerLauncher(c *Client) *ContainerLauncher {
	return newContainerLauncher(c)
}

func newContainerLauncher(e engine) *ContainerLauncher {
	return &ContainerLauncher{
		engine:   e,
		killWait: 5 * time.Second,
		now:      time.Now,
	}
}

// Available checks that the daemon answers and the image is already
// present. It never pulls: pulling can take minutes and would eat the
// readiness window.
func (l *ContainerLauncher) Available(ctx context.Context, p model.Provider) error {
	if p.Image == "" {
		return fmt.Errorf("%w: provider %q has no image", process.ErrUnavailable, p.Name)
	}
	if err := l.engine.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", process.ErrUnavailable, err)
	}
	ok, err := l.engine.ImageExists(ctx, p.Image)
	if err != nil {
		return fmt.Errorf("%w: %v", process.ErrUnavailable, err)
	}
	if !ok {
		return fmt.Errorf("%w: image %s not present locally (run docker pull %s)", process.ErrUnavailable, p.Image, p.Image)
	}
	return nil
}

// Launch creates and starts the agent container, then streams its logs
// into spec.Capture. A container that fails to start is removed before
// returning.
func (l *ContainerLauncher) Launch(ctx context.Context, spec process.LaunchSpec) (process.Process, error) {
	p := spec.Provider
	name := ContainerName(p.Name, spec.LocalPort, spec.RunID)

	cfg := &container.Config{
		Image:  p.Image,
		Cmd:    spec.Args,
		Env:    envList(spec.Env),
		Labels: BuildLabels(p.Name, spec.RunID, spec.LocalPort, l.now()),
	}
	hostCfg := &container.HostConfig{
		NetworkMode: "host",
	}

	id, err := l.engine.CreateContainer(ctx, name, cfg, hostCfg)
	if err != nil {
		return nil, err
	}
	if err := l.engine.StartContainer(ctx, id); err != nil {
		rmCtx, cancel := context.WithTimeout(context.Background(), removeTimeout)
		defer cancel()
		_ = l.engine.RemoveContainer(rmCtx, id)
		return nil, err
	}

	capture := spec.Capture
	if capture == nil {
		capture = process.NewCapture()
	}

	// The agent outlives ctx; only Terminate ends these streams.
	bg, cancel := context.WithCancel(context.Background())
	cp := &containerProcess{
		id:       id,
		engine:   l.engine,
		capture:  capture,
		done:     make(chan struct{}),
		logsDone: make(chan struct{}),
		cancel:   cancel,
		killWait: l.killWait,
	}
	go cp.follow(bg)
	go cp.wait(bg)
	return cp, nil
}

// envList converts an env map to Docker's KEY=VALUE form in stable order.
func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// containerProcess is the handle to one agent container.
type containerProcess struct {
	id       string
	engine   engine
	capture  *process.Capture
	done     chan struct{}
	logsDone chan struct{}
	exitErr  error
	cancel   context.CancelFunc
	killWait time.Duration

	termMu     sync.Mutex
	terminated bool
	termErr    error
}

// follow copies the demultiplexed log stream into the capture until the
// container stops or the stream is cancelled.
func (p *containerProcess) follow(ctx context.Context) {
	defer close(p.logsDone)
	rc, err := p.engine.FollowLogs(ctx, p.id)
	if err != nil {
		fmt.Fprintf(p.capture, "tunnelctl: %v\n", err)
		return
	}
	defer rc.Close()
	_, _ = stdcopy.StdCopy(p.capture, p.capture, rc)
}

func (p *containerProcess) wait(ctx context.Context) {
	code, err := p.engine.WaitContainer(ctx, p.id)
	switch {
	case err != nil:
		p.exitErr = err
	case code != 0:
		p.exitErr = fmt.Errorf("container %s exited with status %d", shortID(p.id), code)
	}
	// Let the log stream drain the last lines before the capture closes.
	select {
	case <-p.logsDone:
	case <-time.After(2 * time.Second):
	}
	_ = p.capture.Close()
	close(p.done)
}

func (p *containerProcess) ID() string {
	return p.id
}

func (p *containerProcess) Output() []byte {
	return p.capture.Bytes()
}

func (p *containerProcess) Done() <-chan struct{} {
	return p.done
}

// ExitErr is only meaningful after Done is closed.
func (p *containerProcess) ExitErr() error {
	select {
	case <-p.done:
		return p.exitErr
	default:
		return nil
	}
}

// Terminate force-removes the container and waits for the wait goroutine
// to observe the exit. Exited containers are removed as well, so no
// handle leaves a container behind. A failed removal is retried by the
// next call.
func (p *containerProcess) Terminate() error {
	p.termMu.Lock()
	defer p.termMu.Unlock()
	if p.terminated {
		return p.termErr
	}

	ctx, cancel := context.WithTimeout(context.Background(), removeTimeout)
	defer cancel()
	if err := p.engine.RemoveContainer(ctx, p.id); err != nil {
		return err
	}
	p.terminated = true
	defer p.cancel()

	select {
	case <-p.done:
	case <-time.After(p.killWait):
		p.termErr = fmt.Errorf("container %s did not stop within %s after removal", shortID(p.id), p.killWait)
	}
	return p.termErr
}

// shortID truncates a container ID to the 12 characters Docker displays.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// ToTunnelContainer converts a Docker container summary to a
// TunnelContainer. Containers with incomplete labels are still reported,
// with whatever metadata could be read.
func ToTunnelContainer(c container.Summary) TunnelContainer {
	name := ""
	if len(c.Names) > 0 {
		// Docker prefixes names with "/".
		name = strings.TrimPrefix(c.Names[0], "/")
	}

	info := TunnelContainer{}
	if parsed, err := ParseLabels(c.Labels); err == nil {
		info = *parsed
	} else {
		info.Provider = c.Labels[LabelProvider]
		info.RunID = c.Labels[LabelRunID]
	}
	info.ContainerID = c.ID
	info.ContainerName = name
	info.State = string(c.State)
	return info
}
