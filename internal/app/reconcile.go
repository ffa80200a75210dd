package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"blockips/internal/batch"
	"blockips/internal/provision"
	"blockips/internal/source"
	"blockips/internal/zone"
	"blockips/models"
	netfilterHelper "blockips/netfilter-helper"

	"github.com/rs/zerolog"
)

const (
	PipelineIPs     = "ips"
	PipelineDomains = "domains"
)

type SetResult struct {
	Name      string
	Provision *provision.Result
	Accepted  int
	Artifact  string
}

type PipelineResult struct {
	Pipeline string
	Fetched  int
	Skipped  int
	Sets     []SetResult
	Domains  int
	Reloaded bool
	RunLog   string
	Elapsed  time.Duration
}

func (r *PipelineResult) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "fetched %d entries", r.Fetched)
	if r.Skipped > 0 {
		fmt.Fprintf(&sb, ", skipped %d", r.Skipped)
	}
	sb.WriteString("\n")
	for _, s := range r.Sets {
		if s.Provision != nil {
			fmt.Fprintf(&sb, "set %s %s (maxelem %d)", s.Name, s.Provision.Action, s.Provision.Capacity)
			if s.Provision.DuplicatesRemoved > 0 {
				fmt.Fprintf(&sb, ", %d duplicate rules removed", s.Provision.DuplicatesRemoved)
			}
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "set %s: %d entries applied\n", s.Name, s.Accepted)
	}
	if r.Pipeline == PipelineDomains {
		fmt.Fprintf(&sb, "zone: %d domains written\n", r.Domains)
		if r.Reloaded {
			sb.WriteString("resolver reloaded\n")
		}
	}
	fmt.Fprintf(&sb, "took %s", r.Elapsed.Round(time.Millisecond))
	return sb.String()
}

// partition splits entries by address family.
func partition(entries []string) (v4, v6 []string, err error) {
	for _, entry := range entries {
		prefix, parseErr := netfilterHelper.ParseEntry(entry)
		if parseErr != nil {
			return nil, nil, parseErr
		}
		if prefix.Addr().Is6() {
			v6 = append(v6, entry)
			continue
		}
		v4 = append(v4, entry)
	}
	return v4, v6, nil
}

// ReconcileIPs runs one fetch, provision, apply cycle for the IP blocklist.
// The fetch happens before the lock is taken; a failed fetch leaves the
// kernel untouched.
func (a *App) ReconcileIPs(ctx context.Context) (*PipelineResult, error) {
	start := time.Now()
	logger, runLog, closeLog := a.runLog(PipelineIPs)
	defer closeLog()
	res := &PipelineResult{Pipeline: PipelineIPs, RunLog: runLog}
	defer func() { res.Elapsed = time.Since(start) }()

	logger.Info().Str("url", a.cfg.Sources.IPListURL).Msg("fetching ip list")
	entries, err := a.deps.Fetcher.FetchIPs(ctx, a.cfg.Sources.IPListURL)
	if err != nil {
		logger.Error().Err(err).Msg("fetch failed")
		return res, err
	}
	entries = batch.Normalize(entries)
	res.Fetched = len(entries)

	v4, v6, err := partition(entries)
	if err != nil {
		err = &source.FetchError{URL: a.cfg.Sources.IPListURL, Cause: fmt.Errorf("malformed payload: %w", err)}
		logger.Error().Err(err).Msg("fetch failed")
		return res, err
	}
	if a.deps.Sets6 == nil && len(v6) > 0 {
		logger.Warn().Int("count", len(v6)).Msg("ipv6 disabled, skipping ipv6 entries")
		res.Skipped = len(v6)
		v6 = nil
	}

	release, err := a.acquire()
	if err != nil {
		logger.Error().Err(err).Msg("failed to acquire lock")
		return res, err
	}
	defer release()

	name := a.cfg.Blocklist.SetName
	if err := a.reconcileSet(ctx, logger, res, a.deps.Sets4, a.deps.Binding4, name, v4); err != nil {
		return res, err
	}
	if a.deps.Sets6 != nil {
		if err := a.reconcileSet(ctx, logger, res, a.deps.Sets6, a.deps.Binding6, SetName6(name), v6); err != nil {
			return res, err
		}
	}

	logger.Info().Int("fetched", res.Fetched).Dur("elapsed", time.Since(start)).Msg("ip blocklist updated")
	return res, nil
}

func (a *App) reconcileSet(ctx context.Context, logger zerolog.Logger, res *PipelineResult, sets SetManager, firewall provision.Firewall, name string, entries []string) error {
	setRes := SetResult{Name: name}

	prov, err := provision.New(sets, firewall).EnsureSet(name, a.cfg.Blocklist.Capacity)
	if err != nil {
		logger.Error().Err(err).Str("set", name).Msg("provisioning failed")
		return err
	}
	setRes.Provision = prov
	logger.Info().Str("set", name).Str("action", string(prov.Action)).Uint32("capacity", prov.Capacity).Msg("set provisioned")

	applied, err := batch.New(sets, a.deps.Store, name).Apply(ctx, entries)
	setRes.Accepted = applied.Accepted
	setRes.Artifact = applied.Artifact
	res.Sets = append(res.Sets, setRes)
	if err != nil {
		logger.Error().Err(err).Str("set", name).Msg("apply failed")
		return err
	}
	logger.Info().Str("set", name).Int("accepted", applied.Accepted).Str("artifact", applied.Artifact).Msg("batch applied")
	return nil
}

// ReconcileDomains fetches the domain list, drops excluded domains, rewrites
// the resolver zone file and reloads the resolver if it is running.
func (a *App) ReconcileDomains(ctx context.Context) (*PipelineResult, error) {
	start := time.Now()
	logger, runLog, closeLog := a.runLog(PipelineDomains)
	defer closeLog()
	res := &PipelineResult{Pipeline: PipelineDomains, RunLog: runLog}
	defer func() { res.Elapsed = time.Since(start) }()

	logger.Info().Str("url", a.cfg.Sources.DomainListURL).Msg("fetching domain list")
	domains, err := a.deps.Fetcher.FetchDomains(ctx, a.cfg.Sources.DomainListURL)
	if err != nil {
		logger.Error().Err(err).Msg("fetch failed")
		return res, err
	}
	res.Fetched = len(domains)

	kept := make([]string, 0, len(domains))
	for _, domain := range domains {
		if models.IsExcluded(a.cfg.Exclusions, domain) {
			logger.Debug().Str("domain", domain).Msg("excluded")
			continue
		}
		kept = append(kept, domain)
	}
	res.Skipped = len(domains) - len(kept)

	release, err := a.acquire()
	if err != nil {
		logger.Error().Err(err).Msg("failed to acquire lock")
		return res, err
	}
	defer release()

	n, err := zone.Write(a.cfg.Resolver.ZoneFile, kept)
	if err != nil {
		logger.Error().Err(err).Msg("zone write failed")
		return res, err
	}
	res.Domains = n
	logger.Info().Int("domains", n).Str("path", a.cfg.Resolver.ZoneFile).Msg("zone file written")

	unit := a.cfg.Resolver.Service
	active, err := a.deps.Services.IsActive(ctx, unit)
	if err != nil {
		logger.Warn().Err(err).Str("unit", unit).Msg("failed to query resolver state, reloading anyway")
		active = true
	}
	if !active {
		logger.Info().Str("unit", unit).Msg("resolver not running, skipping reload")
		return res, nil
	}
	if err := a.deps.Services.Reload(ctx, unit); err != nil {
		logger.Error().Err(err).Str("unit", unit).Msg("resolver reload failed")
		return res, fmt.Errorf("failed to reload %s: %w", unit, err)
	}
	res.Reloaded = true
	logger.Info().Dur("elapsed", time.Since(start)).Msg("domain blocklist updated")
	return res, nil
}
