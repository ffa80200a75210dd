package status

import (
	"context"
	"fmt"
	"strings"
)

// Probe produces one plain-text block of the status report.
type Probe struct {
	Title string
	Run   func(ctx context.Context) (string, error)
}

type Section struct {
	Title string
	Body  string
	Err   error
}

type Report struct {
	Sections []Section
}

// Collect runs every probe in order. A failing probe does not stop the rest;
// its error is kept in its section.
func Collect(ctx context.Context, probes ...Probe) *Report {
	report := &Report{Sections: make([]Section, 0, len(probes))}
	for _, p := range probes {
		body, err := p.Run(ctx)
		report.Sections = append(report.Sections, Section{
			Title: p.Title,
			Body:  strings.TrimRight(body, "\n"),
			Err:   err,
		})
	}
	return report
}

func (r *Report) Text() string {
	var sb strings.Builder
	for i, s := range r.Sections {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "== %s ==\n", s.Title)
		if s.Body != "" {
			sb.WriteString(s.Body)
			sb.WriteString("\n")
		}
		if s.Err != nil {
			fmt.Fprintf(&sb, "error: %v\n", s.Err)
		}
	}
	return sb.String()
}

func HostProbes(diskPath string) []Probe {
	return []Probe{
		{Title: "uptime", Run: func(context.Context) (string, error) { return Uptime() }},
		{Title: "memory", Run: func(context.Context) (string, error) { return Memory() }},
		{Title: "disk " + diskPath, Run: func(context.Context) (string, error) { return Disk(diskPath) }},
	}
}

func humanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
