package app

import (
	"fmt"
	"io"

	"blockips/constant"
	"blockips/internal/audit"
	"blockips/internal/logbuffer"
	"blockips/internal/source"
	"blockips/internal/system"
	"blockips/models"
	netfilterHelper "blockips/netfilter-helper"
)

const (
	BackendNetlink = "netlink"
	BackendExec    = "exec"
)

// SetName6 is the name of the companion IPv6 set.
func SetName6(name string) string {
	return name + "_6"
}

func newSetManager(backend string, family netfilterHelper.Family) (SetManager, error) {
	switch backend {
	case BackendNetlink:
		return netfilterHelper.NewNetlinkSetManager(family), nil
	case BackendExec:
		return netfilterHelper.NewExecSetManager("", family, nil), nil
	}
	return nil, fmt.Errorf("unknown ipset backend %q", backend)
}

// NewSystemDeps wires the engine to the real host.
func NewSystemDeps(cfg models.Config, logs *logbuffer.RingBuffer, logOutput io.Writer) (Deps, error) {
	nh, err := netfilterHelper.New(cfg.Blocklist.Chain, cfg.Blocklist.Target, cfg.Blocklist.EnableIPv6)
	if err != nil {
		return Deps{}, fmt.Errorf("netfilter helper init fail: %w", err)
	}

	deps := Deps{
		Fetcher:   source.New(nil, cfg.Sources.FetchTimeout),
		Rules:     nh,
		Services:  system.NewSystemd(nil),
		Resolver:  system.NewResolvConf(cfg.Resolver.ResolvConf),
		Store:     audit.NewStore(cfg.LogDir),
		Logs:      logs,
		Lock:      NewFileLock(constant.LockFile),
		LogOutput: logOutput,
	}

	deps.Sets4, err = newSetManager(cfg.Blocklist.Backend, netfilterHelper.FamilyInet)
	if err != nil {
		return Deps{}, err
	}
	binding4 := nh.Binding4(cfg.Blocklist.SetName)
	deps.Binding4 = binding4
	bindings := netfilterHelper.Bindings{binding4}

	if binding6 := nh.Binding6(SetName6(cfg.Blocklist.SetName)); binding6 != nil {
		deps.Sets6, err = newSetManager(cfg.Blocklist.Backend, netfilterHelper.FamilyInet6)
		if err != nil {
			return Deps{}, err
		}
		deps.Binding6 = binding6
		bindings = append(bindings, binding6)
	}
	deps.Protection = bindings

	return deps, nil
}
