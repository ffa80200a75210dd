package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	netfilterHelper "blockips/netfilter-helper"

	"github.com/rs/zerolog/log"
)

type Restorer interface {
	Restore(ctx context.Context, script []byte) error
}

// ArtifactStore keeps the literal instruction list of every apply.
type ArtifactStore interface {
	SaveBatch(script []byte, failed bool) (string, error)
}

type ApplyResult struct {
	Accepted int
	Artifact string
}

type ApplyError struct {
	Stderr   string
	Artifact string
	Cause    error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("batch rejected: %s", e.Stderr)
}

func (e *ApplyError) Unwrap() error {
	return e.Cause
}

type Applier struct {
	restorer  Restorer
	artifacts ArtifactStore
	setName   string
}

func New(restorer Restorer, artifacts ArtifactStore, setName string) *Applier {
	return &Applier{
		restorer:  restorer,
		artifacts: artifacts,
		setName:   setName,
	}
}

// Normalize trims entries, drops empty ones and removes exact duplicates,
// keeping first-seen order.
func Normalize(entries []string) []string {
	seen := make(map[string]struct{}, len(entries))
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if _, ok := seen[entry]; ok {
			continue
		}
		seen[entry] = struct{}{}
		out = append(out, entry)
	}
	return out
}

// Script renders the restore instructions for entries.
func (a *Applier) Script(entries []string) []byte {
	var sb strings.Builder
	for _, entry := range entries {
		sb.WriteString(netfilterHelper.AddLine(a.setName, entry))
	}
	return []byte(sb.String())
}

// Apply submits all entries as one restore batch. An empty list is a no-op.
func (a *Applier) Apply(ctx context.Context, entries []string) (ApplyResult, error) {
	entries = Normalize(entries)
	if len(entries) == 0 {
		log.Info().Str("set", a.setName).Msg("entry list is empty, nothing to apply")
		return ApplyResult{}, nil
	}

	script := a.Script(entries)
	restoreErr := a.restorer.Restore(ctx, script)

	artifact, err := a.artifacts.SaveBatch(script, restoreErr != nil)
	if err != nil {
		log.Error().Err(err).Str("set", a.setName).Msg("failed to save batch artifact")
	}

	if restoreErr != nil {
		stderr := restoreErr.Error()
		var rerr *netfilterHelper.RestoreError
		if errors.As(restoreErr, &rerr) {
			stderr = rerr.Stderr
		}
		return ApplyResult{}, &ApplyError{Stderr: stderr, Artifact: artifact, Cause: restoreErr}
	}

	log.Info().Str("set", a.setName).Int("entries", len(entries)).Str("artifact", artifact).Msg("batch applied")
	return ApplyResult{Accepted: len(entries), Artifact: artifact}, nil
}
