// Package cgw is the Container Gateway (C2): the out-of-scope external
// collaborator that executes commands inside a named container and
// archives files in/out of it. The container runtime itself is a named,
// replaceable interface per spec §1; this package provides that
// interface plus a default implementation shelling out to the host's
// container CLI.
package cgw

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/pierrec/lz4/v3"
)

// Result is the outcome of a single in-container command.
type Result struct {
	Stdout string
	Stderr string
	Exit   int
}

// Gateway executes commands inside containers and moves files across
// the container boundary. Implementations must be safe for concurrent
// use by many producers against many different containers.
type Gateway interface {
	// Exec runs argv inside container and waits for completion.
	Exec(ctx context.Context, container string, argv ...string) (Result, error)
	// PullFile copies a file out of container, lz4-compressing its
	// contents before returning them to the caller (archival, per §4.9
	// "archive in/out files").
	PullFile(ctx context.Context, container, path string) ([]byte, error)
	// PushFile copies lz4-compressed data into container at path.
	PushFile(ctx context.Context, container, path string, compressed []byte) error
}

// ExecGateway is the default Gateway, driving a container runtime CLI
// (docker/podman/nerdctl - anything accepting "exec" and "cp").
type ExecGateway struct {
	// Bin is the container runtime binary, e.g. "docker".
	Bin string
}

func New(bin string) *ExecGateway {
	if bin == "" {
		bin = "docker"
	}
	return &ExecGateway{Bin: bin}
}

func (g *ExecGateway) Exec(ctx context.Context, container string, argv ...string) (Result, error) {
	args := append([]string{"exec", container}, argv...)
	cmd := exec.CommandContext(ctx, g.Bin, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exit := 0
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			exit = ee.ExitCode()
		} else {
			return Result{}, fmt.Errorf("cgw: exec in %s: %w", container, err)
		}
	}
	return Result{Stdout: stdout.String(), Stderr: stderr.String(), Exit: exit}, nil
}

func (g *ExecGateway) PullFile(ctx context.Context, container, path string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, g.Bin, "cp", container+":"+path, "-")
	var raw bytes.Buffer
	cmd.Stdout = &raw
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("cgw: pulling %s from %s: %w", path, container, err)
	}

	var compressed bytes.Buffer
	zw := lz4.NewWriter(&compressed)
	if _, err := zw.Write(raw.Bytes()); err != nil {
		return nil, fmt.Errorf("cgw: compressing %s: %w", path, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("cgw: closing lz4 stream for %s: %w", path, err)
	}
	return compressed.Bytes(), nil
}

func (g *ExecGateway) PushFile(ctx context.Context, container, path string, compressed []byte) error {
	zr := lz4.NewReader(bytes.NewReader(compressed))
	var raw bytes.Buffer
	if _, err := raw.ReadFrom(zr); err != nil {
		return fmt.Errorf("cgw: decompressing payload for %s: %w", path, err)
	}

	cmd := exec.CommandContext(ctx, g.Bin, "cp", "-", container+":"+path)
	cmd.Stdin = &raw
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("cgw: pushing %s to %s: %w", path, container, err)
	}
	return nil
}
