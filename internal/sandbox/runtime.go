// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package sandbox runs auxiliary analysis code in an isolated, resource-
// limited container with a single-use working directory.
// Implements: prd003-sandbox (R1-R5);
//
//	docs/ARCHITECTURE § Sandbox.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os/exec"
	"strconv"
	"syscall"
	"time"
)

const (
	binDocker = "docker"
	binPodman = "podman"
)

// killGrace bounds how long a cancelled container client may linger after
// its process group receives SIGKILL.
const killGrace = time.Second

// RunSpec describes one sandboxed container invocation.
type RunSpec struct {
	// Image is the container image to run.
	Image string

	// WorkDir is the single-use host directory bind-mounted at /work.
	WorkDir string

	// Command is the command executed inside the container, relative to /work.
	Command []string

	// MemoryMB is the container memory ceiling in megabytes.
	MemoryMB int

	// AllowHosts is the network allow-list. Empty runs the container with
	// --network none. Non-empty keeps the runtime's default network but
	// disables container DNS and injects a hosts entry per listed name, so
	// only allow-listed hosts resolve inside the container. Hosts are
	// resolved on the host side before the container starts.
	AllowHosts []string

	// Stdout and Stderr capture the container's output streams.
	Stdout, Stderr io.Writer
}

// Runtime provides container operations: checking availability, verifying
// images, and executing sandboxed commands.
type Runtime interface {
	// Name returns the runtime name ("docker" or "podman").
	Name() string

	// Available reports whether the runtime binary exists on PATH and
	// responds to an info command.
	Available() bool

	// ImageExists checks whether the named image exists locally.
	ImageExists(image string) error

	// Execute runs a container per spec and returns its exit code. On
	// context cancellation the whole process group is force-killed within
	// killGrace and the context error is returned.
	Execute(ctx context.Context, spec RunSpec) (int, error)
}

// executor abstracts command execution for testing.
type executor interface {
	LookPath(file string) (string, error)
	RunSilent(name string, args ...string) error
	RunContext(ctx context.Context, name string, args []string, stdout, stderr io.Writer) (int, error)
}

// osExecutor is the production executor backed by os/exec.
type osExecutor struct{}

func (o *osExecutor) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

func (o *osExecutor) RunSilent(name string, args ...string) error {
	return exec.Command(name, args...).Run()
}

func (o *osExecutor) RunContext(ctx context.Context, name string, args []string, stdout, stderr io.Writer) (int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	// Run the client in its own process group so cancellation kills the
	// whole tree, not just the top process.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = killGrace

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

// runtime implements Runtime for a specific container binary. Docker and
// Podman share the same logic; they differ only in binary name and the
// subcommand used to check image existence.
type runtime struct {
	bin           string
	imageCheckCmd []string // e.g. ["image", "inspect"] for docker
	exec          executor
}

func (r *runtime) Name() string { return r.bin }

func (r *runtime) Available() bool {
	if _, err := r.exec.LookPath(r.bin); err != nil {
		return false
	}
	return r.exec.RunSilent(r.bin, "info") == nil
}

func (r *runtime) ImageExists(image string) error {
	args := make([]string, 0, len(r.imageCheckCmd)+1)
	args = append(args, r.imageCheckCmd...)
	args = append(args, image)

	if err := r.exec.RunSilent(r.bin, args...); err != nil {
		return fmt.Errorf("image %s not found in %s: %w", image, r.bin, err)
	}
	return nil
}

// lookupHost resolves allow-listed hosts before the container starts. A
// variable so tests can substitute resolution.
var lookupHost = net.LookupHost

func (r *runtime) Execute(ctx context.Context, spec RunSpec) (int, error) {
	args := []string{"run", "--rm"}
	if spec.MemoryMB > 0 {
		args = append(args, "--memory", strconv.Itoa(spec.MemoryMB)+"m")
	}
	if len(spec.AllowHosts) == 0 {
		args = append(args, "--network", "none")
	} else {
		args = append(args, "--dns", "0.0.0.0")
		for _, host := range spec.AllowHosts {
			addrs, err := lookupHost(host)
			if err != nil {
				return -1, fmt.Errorf("resolving allowed host %s: %w", host, err)
			}
			if len(addrs) == 0 {
				return -1, fmt.Errorf("resolving allowed host %s: no addresses", host)
			}
			args = append(args, "--add-host", host+":"+addrs[0])
		}
	}
	args = append(args, "-v", spec.WorkDir+":/work", "-w", "/work", spec.Image)
	args = append(args, spec.Command...)

	exit, err := r.exec.RunContext(ctx, r.bin, args, spec.Stdout, spec.Stderr)
	if err != nil {
		// Prefer the context error so cancellation is unambiguous.
		if ctx.Err() != nil {
			return exit, ctx.Err()
		}
		return exit, fmt.Errorf("running %s container %s: %w", r.bin, spec.Image, err)
	}
	if ctx.Err() != nil {
		return exit, ctx.Err()
	}
	return exit, nil
}

func newDockerRuntime(exec executor) *runtime {
	return &runtime{
		bin:           binDocker,
		imageCheckCmd: []string{"image", "inspect"},
		exec:          exec,
	}
}

func newPodmanRuntime(exec executor) *runtime {
	return &runtime{
		bin:           binPodman,
		imageCheckCmd: []string{"image", "exists"},
		exec:          exec,
	}
}

var defaultExec = &osExecutor{}

// DetectRuntime tries docker first, falls back to podman. Returns an error
// if neither runtime is available.
func DetectRuntime() (Runtime, error) {
	return detectRuntime(defaultExec)
}

func detectRuntime(exec executor) (Runtime, error) {
	docker := newDockerRuntime(exec)
	if docker.Available() {
		return docker, nil
	}

	podman := newPodmanRuntime(exec)
	if podman.Available() {
		return podman, nil
	}

	return nil, fmt.Errorf(
		"no container runtime available: neither %s nor %s found or operational",
		binDocker, binPodman,
	)
}
