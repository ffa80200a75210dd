package system

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// CommandError carries the diagnostic of a failed external command.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", strings.Join(e.Args, " "), msg)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Runner executes a command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), &CommandError{
			Args:   append([]string{name}, args...),
			Stderr: stderr.String(),
			Err:    err,
		}
	}
	return stdout.Bytes(), nil
}

// Systemd controls units through systemctl.
type Systemd struct {
	run Runner
}

func NewSystemd(run Runner) *Systemd {
	if run == nil {
		run = ExecRunner
	}
	return &Systemd{run: run}
}

func (s *Systemd) systemctl(ctx context.Context, verb, unit string) error {
	_, err := s.run(ctx, "systemctl", verb, unit)
	return err
}

func (s *Systemd) Start(ctx context.Context, unit string) error {
	return s.systemctl(ctx, "start", unit)
}

func (s *Systemd) Stop(ctx context.Context, unit string) error {
	return s.systemctl(ctx, "stop", unit)
}

func (s *Systemd) Restart(ctx context.Context, unit string) error {
	return s.systemctl(ctx, "restart", unit)
}

func (s *Systemd) Reload(ctx context.Context, unit string) error {
	return s.systemctl(ctx, "reload", unit)
}

// IsActive reports whether the unit is running. Any state other than
// "active" counts as not running.
func (s *Systemd) IsActive(ctx context.Context, unit string) (bool, error) {
	out, err := s.run(ctx, "systemctl", "is-active", unit)
	state := strings.TrimSpace(string(out))
	if err != nil {
		var cerr *CommandError
		if errors.As(err, &cerr) && state != "" {
			return false, nil
		}
		return false, err
	}
	return state == "active", nil
}

// ResolvConf points the host resolver at a single nameserver.
type ResolvConf struct {
	path string
}

func NewResolvConf(path string) *ResolvConf {
	return &ResolvConf{path: path}
}

// PointTo rewrites the file, following a symlink to its target.
func (r *ResolvConf) PointTo(address string) error {
	path := r.path
	if target, err := filepath.EvalSymlinks(path); err == nil {
		path = target
	}
	return WriteFileAtomic(path, []byte(fmt.Sprintf("nameserver %s\n", address)), 0644)
}

func (r *ResolvConf) Nameservers() ([]string, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, err
	}
	var servers []string
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[0] == "nameserver" {
			servers = append(servers, fields[1])
		}
	}
	return servers, nil
}

// WriteFileAtomic replaces path with data via a temporary file and rename.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
