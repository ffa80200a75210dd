package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"blockips/internal/protection"
	"blockips/internal/status"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type CommandKind string

const (
	CommandUpdate    CommandKind = "update"
	CommandDisable   CommandKind = "disable"
	CommandEnable    CommandKind = "enable"
	CommandRestart   CommandKind = "restart"
	CommandStatus    CommandKind = "status"
	CommandFetchLogs CommandKind = "fetch-logs"
)

var commandKinds = []CommandKind{
	CommandUpdate,
	CommandDisable,
	CommandEnable,
	CommandRestart,
	CommandStatus,
	CommandFetchLogs,
}

func CommandKinds() []CommandKind {
	return append([]CommandKind(nil), commandKinds...)
}

func ParseCommandKind(s string) (CommandKind, error) {
	for _, kind := range commandKinds {
		if string(kind) == s {
			return kind, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCommand, s)
}

// maxLogTail bounds how much of a run log fetch-logs returns.
const maxLogTail = 64 << 10

type Section struct {
	Title string
	Body  string
	Error string
}

type CommandResult struct {
	Command  CommandKind
	OK       bool
	Sections []Section
	Error    string
}

func (r *CommandResult) addSection(title, body string, err error) {
	s := Section{Title: title, Body: strings.TrimRight(body, "\n")}
	if err != nil {
		s.Error = err.Error()
		if r.Error == "" {
			r.Error = s.Error
		}
		r.OK = false
	}
	r.Sections = append(r.Sections, s)
}

func (r *CommandResult) Text() string {
	var sb strings.Builder
	verdict := "ok"
	if !r.OK {
		verdict = "failed"
	}
	fmt.Fprintf(&sb, "%s: %s\n", r.Command, verdict)
	for _, s := range r.Sections {
		fmt.Fprintf(&sb, "\n== %s ==\n", s.Title)
		if s.Body != "" {
			sb.WriteString(s.Body)
			sb.WriteString("\n")
		}
		if s.Error != "" {
			fmt.Fprintf(&sb, "error: %s\n", s.Error)
		}
	}
	return sb.String()
}

type handler func(ctx context.Context, res *CommandResult)

func (a *App) commandHandlers() map[CommandKind]handler {
	return map[CommandKind]handler{
		CommandUpdate:    a.handleUpdate,
		CommandDisable:   a.transitionHandler(a.Disable),
		CommandEnable:    a.transitionHandler(a.Enable),
		CommandRestart:   a.transitionHandler(a.Restart),
		CommandStatus:    a.handleStatus,
		CommandFetchLogs: a.handleFetchLogs,
	}
}

// Authorize checks operatorID against the single configured operator.
func (a *App) Authorize(operatorID int64) error {
	if operatorID != a.cfg.Control.OperatorID {
		return ErrUnauthorized
	}
	return nil
}

// Execute runs one operator command. Only authorization and unknown commands
// are returned as errors; command failures are reported in the result.
func (a *App) Execute(ctx context.Context, operatorID int64, kind CommandKind) (*CommandResult, error) {
	if err := a.Authorize(operatorID); err != nil {
		log.Warn().Int64("operator", operatorID).Str("command", string(kind)).Msg("rejected command from unknown operator")
		return nil, err
	}
	h, ok := a.handlers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, kind)
	}

	start := time.Now()
	log.Info().Int64("operator", operatorID).Str("command", string(kind)).Msg("executing command")
	res := &CommandResult{Command: kind, OK: true}
	h(ctx, res)

	level := zerolog.InfoLevel
	if !res.OK {
		level = zerolog.ErrorLevel
	}
	event := log.WithLevel(level)
	if !res.OK {
		event = event.Str("error", res.Error)
	}
	event.Int64("operator", operatorID).
		Str("command", string(kind)).
		Bool("ok", res.OK).
		Dur("elapsed", time.Since(start)).
		Msg("command finished")
	return res, nil
}

func (a *App) handleUpdate(ctx context.Context, res *CommandResult) {
	for _, run := range []struct {
		title string
		fn    func(context.Context) (*PipelineResult, error)
	}{
		{"ip blocklist", a.ReconcileIPs},
		{"domain blocklist", a.ReconcileDomains},
	} {
		pr, err := run.fn(ctx)
		body := ""
		if pr != nil {
			body = pr.Summary()
		}
		res.addSection(run.title, body, err)
	}
}

func (a *App) transitionHandler(fn func(context.Context) (*protection.Report, error)) handler {
	return func(ctx context.Context, res *CommandResult) {
		report, err := fn(ctx)
		body := ""
		if report != nil {
			body = renderReport(report)
		}
		res.addSection("steps", body, err)
	}
}

func renderReport(report *protection.Report) string {
	var sb strings.Builder
	for _, s := range report.Steps {
		switch {
		case s.Err != nil:
			fmt.Fprintf(&sb, "FAIL %s: %v\n", s.Name, s.Err)
		case s.Tolerated:
			fmt.Fprintf(&sb, "skip %s: %s\n", s.Name, s.Note)
		case s.Note != "":
			fmt.Fprintf(&sb, "ok   %s (%s)\n", s.Name, s.Note)
		default:
			fmt.Fprintf(&sb, "ok   %s\n", s.Name)
		}
	}
	return sb.String()
}

func (a *App) statusProbes() []status.Probe {
	probes := status.HostProbes("/")
	probes = append(probes,
		status.Probe{Title: "protection", Run: func(ctx context.Context) (string, error) {
			p, err := a.Probe(ctx)
			if p == nil {
				return "", err
			}
			return fmt.Sprintf("state: %s\nresolver %s active: %t\nrule present: %t\n%s active: %t\n%s active: %t\nnameservers: %s",
				p.State(),
				a.cfg.Resolver.Service, p.ResolverActive,
				p.BindingPresent,
				a.cfg.Services.IPUpdater, p.IPUpdaterActive,
				a.cfg.Services.DomainUpdater, p.DomainUpdaterActive,
				strings.Join(p.Nameservers, ", "),
			), err
		}},
		status.Probe{Title: "match sets", Run: a.setInfo},
	)
	if a.deps.Rules != nil {
		probes = append(probes, status.Probe{Title: "firewall rules", Run: func(context.Context) (string, error) {
			return a.deps.Rules.ListRules()
		}})
	}
	return probes
}

func (a *App) setInfo(context.Context) (string, error) {
	var (
		sb   strings.Builder
		errs []error
	)
	sets := []struct {
		name string
		mgr  SetManager
	}{{a.cfg.Blocklist.SetName, a.deps.Sets4}}
	if a.deps.Sets6 != nil {
		sets = append(sets, struct {
			name string
			mgr  SetManager
		}{SetName6(a.cfg.Blocklist.SetName), a.deps.Sets6})
	}
	for _, s := range sets {
		info, err := s.mgr.Info(s.name)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			continue
		}
		fmt.Fprintf(&sb, "%s %s family %s maxelem %d entries %d\n", info.Name, info.Type, info.Family, info.MaxElements, info.Entries)
	}
	return sb.String(), errors.Join(errs...)
}

// Status gathers the observability report. Probe failures are reported per
// section and never fail the command.
func (a *App) Status(ctx context.Context) *status.Report {
	return status.Collect(ctx, a.statusProbes()...)
}

func (a *App) handleStatus(ctx context.Context, res *CommandResult) {
	for _, s := range a.Status(ctx).Sections {
		section := Section{Title: s.Title, Body: s.Body}
		if s.Err != nil {
			section.Error = s.Err.Error()
		}
		res.Sections = append(res.Sections, section)
	}
}

func (a *App) handleFetchLogs(_ context.Context, res *CommandResult) {
	found := false
	for _, pipeline := range []string{PipelineIPs, PipelineDomains} {
		path, err := a.deps.Store.Latest(pipeline + "-run")
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			res.addSection(pipeline, "", err)
			continue
		}
		body, err := readTail(path, maxLogTail)
		res.addSection(path, body, err)
		found = true
	}
	if !found && res.OK {
		res.addSection("run logs", "no run logs yet", nil)
	}

	var sb strings.Builder
	for _, entry := range a.deps.Logs.GetFiltered("", 50) {
		fmt.Fprintf(&sb, "%s %-5s %s", entry.Time.Format(time.DateTime), entry.Level, entry.Message)
		if entry.Error != "" {
			fmt.Fprintf(&sb, ": %s", entry.Error)
		}
		sb.WriteString("\n")
	}
	res.addSection("recent", sb.String(), nil)
}

func readTail(path string, limit int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return "", err
	}
	if st.Size() > limit {
		if _, err := f.Seek(-limit, io.SeekEnd); err != nil {
			return "", err
		}
	}
	data, err := io.ReadAll(f)
	return string(data), err
}
