package netfilterHelper

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// CommandRunner executes an external program and returns its output.
type CommandRunner func(ctx context.Context, stdin []byte, name string, args ...string) (stdout, stderr []byte, err error)

func ExecRunner(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// ExecSetManager drives the ipset(8) utility.
type ExecSetManager struct {
	path   string
	family Family
	run    CommandRunner
}

func NewExecSetManager(path string, family Family, run CommandRunner) *ExecSetManager {
	if path == "" {
		path = "ipset"
	}
	if run == nil {
		run = ExecRunner
	}
	return &ExecSetManager{path: path, family: family, run: run}
}

func (m *ExecSetManager) exec(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
	stdout, stderr, err := m.run(ctx, stdin, m.path, args...)
	if err != nil {
		msg := strings.TrimSpace(string(stderr))
		if msg == "" {
			msg = err.Error()
		}
		return stdout, fmt.Errorf("%s %s: %s", m.path, args[0], msg)
	}
	return stdout, nil
}

func (m *ExecSetManager) Info(name string) (SetInfo, error) {
	stdout, stderr, err := m.run(context.Background(), nil, m.path, "list", "-t", name)
	if err != nil {
		if strings.Contains(string(stderr), "does not exist") {
			return SetInfo{}, ErrSetNotFound
		}
		return SetInfo{}, fmt.Errorf("failed to list ipset: %s", strings.TrimSpace(string(stderr)))
	}
	return parseSetHeader(stdout)
}

func (m *ExecSetManager) Create(name string, setType SetType, maxElements uint32) error {
	_, err := m.exec(context.Background(), nil, "create", name, string(setType),
		"family", m.family.String(), "maxelem", strconv.FormatUint(uint64(maxElements), 10))
	if err != nil {
		return fmt.Errorf("failed to create ipset: %w", err)
	}
	return nil
}

func (m *ExecSetManager) Destroy(name string) error {
	_, stderr, err := m.run(context.Background(), nil, m.path, "destroy", name)
	if err != nil && !strings.Contains(string(stderr), "does not exist") {
		return fmt.Errorf("failed to destroy ipset: %s", strings.TrimSpace(string(stderr)))
	}
	return nil
}

func (m *ExecSetManager) Flush(name string) error {
	_, err := m.exec(context.Background(), nil, "flush", name)
	if err != nil {
		return fmt.Errorf("failed to flush ipset: %w", err)
	}
	return nil
}

func (m *ExecSetManager) Restore(ctx context.Context, script []byte) error {
	_, stderr, err := m.run(ctx, script, m.path, "restore")
	if err != nil {
		msg := strings.TrimSpace(string(stderr))
		if msg == "" {
			msg = err.Error()
		}
		return &RestoreError{Stderr: msg}
	}
	return nil
}

// parseSetHeader reads the terse output of "ipset list -t".
func parseSetHeader(out []byte) (SetInfo, error) {
	info := SetInfo{Family: FamilyInet}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "Name":
			info.Name = value
		case "Type":
			info.Type = SetType(value)
		case "Header":
			fields := strings.Fields(value)
			for i := 0; i+1 < len(fields); i++ {
				switch fields[i] {
				case "family":
					if fields[i+1] == "inet6" {
						info.Family = FamilyInet6
					}
				case "maxelem":
					n, err := strconv.ParseUint(fields[i+1], 10, 32)
					if err != nil {
						return SetInfo{}, fmt.Errorf("invalid maxelem %q: %w", fields[i+1], err)
					}
					info.MaxElements = uint32(n)
				}
			}
		case "Number of entries":
			n, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return SetInfo{}, fmt.Errorf("invalid entry count %q: %w", value, err)
			}
			info.Entries = uint32(n)
		}
	}
	if info.Type == "" {
		return SetInfo{}, fmt.Errorf("unexpected ipset header: %q", string(out))
	}
	return info, nil
}
