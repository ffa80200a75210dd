package protection

import (
	"context"
	"errors"
	"fmt"

	netfilterHelper "blockips/netfilter-helper"

	"github.com/rs/zerolog/log"
)

type Services interface {
	Start(ctx context.Context, unit string) error
	Stop(ctx context.Context, unit string) error
	Restart(ctx context.Context, unit string) error
	IsActive(ctx context.Context, unit string) (bool, error)
}

type Firewall interface {
	Exists() (bool, error)
	Insert() error
	Remove() error
}

type Resolver interface {
	PointTo(address string) error
	Nameservers() ([]string, error)
}

type Config struct {
	ResolverService string
	IPUpdater       string
	DomainUpdater   string
	LocalResolver   string
	PublicResolver  string
}

type Transition string

const (
	TransitionEnable  Transition = "enable"
	TransitionDisable Transition = "disable"
	TransitionRestart Transition = "restart"
)

type StepResult struct {
	Name      string
	Err       error
	Tolerated bool
	Note      string
}

// Report is the per-step outcome of a transition. Steps after the first
// failure are not run and do not appear here.
type Report struct {
	Transition Transition
	Steps      []StepResult
	Err        error
}

func (r *Report) OK() bool {
	return r.Err == nil
}

type TransitionError struct {
	Transition Transition
	Step       string
	Cause      error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s failed at %q: %v", e.Transition, e.Step, e.Cause)
}

func (e *TransitionError) Unwrap() error {
	return e.Cause
}

type step struct {
	name   string
	run    func(ctx context.Context) (note string, err error)
	benign func(err error) bool
}

func ruleAbsent(err error) bool {
	return errors.Is(err, netfilterHelper.ErrBindingAbsent)
}

// Machine drives the enabled/disabled protection state. It keeps no state of
// its own; every transition is safe to run from either state.
type Machine struct {
	cfg      Config
	services Services
	firewall Firewall
	resolver Resolver
}

func New(cfg Config, services Services, firewall Firewall, resolver Resolver) *Machine {
	return &Machine{
		cfg:      cfg,
		services: services,
		firewall: firewall,
		resolver: resolver,
	}
}

func (m *Machine) pointResolver(address string) step {
	return step{
		name: "resolver -> " + address,
		run: func(context.Context) (string, error) {
			return "", m.resolver.PointTo(address)
		},
	}
}

func (m *Machine) service(verb, unit string, fn func(context.Context, string) error) step {
	return step{
		name: verb + " " + unit,
		run: func(ctx context.Context) (string, error) {
			return "", fn(ctx, unit)
		},
	}
}

func (m *Machine) removeBinding() step {
	return step{
		name: "remove rule",
		run: func(context.Context) (string, error) {
			return "", m.firewall.Remove()
		},
		benign: ruleAbsent,
	}
}

func (m *Machine) insertBinding() step {
	return step{
		name: "add rule",
		run: func(context.Context) (string, error) {
			return "", m.firewall.Insert()
		},
	}
}

// ensureBinding checks for the rule and inserts it only when absent. A failed
// check is treated as absence.
func (m *Machine) ensureBinding() step {
	return step{
		name: "ensure rule",
		run: func(context.Context) (string, error) {
			ok, checkErr := m.firewall.Exists()
			if checkErr != nil {
				log.Warn().Err(checkErr).Msg("rule check failed, cannot tell absence from error; inserting")
			}
			if ok {
				return "already present", nil
			}
			if err := m.firewall.Insert(); err != nil {
				return "", err
			}
			if checkErr != nil {
				return "check failed, inserted", nil
			}
			return "inserted", nil
		},
	}
}

func (m *Machine) run(ctx context.Context, t Transition, steps []step) (*Report, error) {
	report := &Report{Transition: t}
	for _, s := range steps {
		note, err := s.run(ctx)
		res := StepResult{Name: s.name, Note: note}
		if err != nil && s.benign != nil && s.benign(err) {
			res.Tolerated = true
			res.Note = err.Error()
			err = nil
		}
		res.Err = err
		report.Steps = append(report.Steps, res)

		if err != nil {
			report.Err = &TransitionError{Transition: t, Step: s.name, Cause: err}
			log.Error().Str("transition", string(t)).Str("step", s.name).Err(err).Msg("transition step failed")
			return report, report.Err
		}
		log.Debug().Str("transition", string(t)).Str("step", s.name).Bool("tolerated", res.Tolerated).Msg("transition step done")
	}
	log.Info().Str("transition", string(t)).Msg("transition completed")
	return report, nil
}

// Disable switches resolution to the public resolver and stops enforcement.
func (m *Machine) Disable(ctx context.Context) (*Report, error) {
	return m.run(ctx, TransitionDisable, []step{
		m.pointResolver(m.cfg.PublicResolver),
		m.removeBinding(),
		m.service("stop", m.cfg.ResolverService, m.services.Stop),
		m.service("stop", m.cfg.IPUpdater, m.services.Stop),
		m.service("stop", m.cfg.DomainUpdater, m.services.Stop),
	})
}

// Enable points resolution back at the local resolver and restarts enforcement.
func (m *Machine) Enable(ctx context.Context) (*Report, error) {
	return m.run(ctx, TransitionEnable, []step{
		m.pointResolver(m.cfg.LocalResolver),
		m.service("start", m.cfg.ResolverService, m.services.Start),
		m.ensureBinding(),
		m.service("start", m.cfg.IPUpdater, m.services.Start),
		m.service("start", m.cfg.DomainUpdater, m.services.Start),
	})
}

// Restart restarts the resolver and force-refreshes the rule.
func (m *Machine) Restart(ctx context.Context) (*Report, error) {
	return m.run(ctx, TransitionRestart, []step{
		m.service("restart", m.cfg.ResolverService, m.services.Restart),
		m.removeBinding(),
		m.insertBinding(),
	})
}

type State string

const (
	StateEnabled  State = "enabled"
	StateDisabled State = "disabled"
)

// Probe is a live snapshot; it is never cached.
type Probe struct {
	ResolverActive      bool
	BindingPresent      bool
	IPUpdaterActive     bool
	DomainUpdaterActive bool
	Nameservers         []string
}

func (p *Probe) State() State {
	if p.ResolverActive && p.BindingPresent && p.IPUpdaterActive && p.DomainUpdaterActive {
		return StateEnabled
	}
	return StateDisabled
}

func (m *Machine) Probe(ctx context.Context) (*Probe, error) {
	var (
		p    Probe
		err  error
		errs []error
	)
	if p.ResolverActive, err = m.services.IsActive(ctx, m.cfg.ResolverService); err != nil {
		errs = append(errs, err)
	}
	if p.BindingPresent, err = m.firewall.Exists(); err != nil {
		errs = append(errs, err)
	}
	if p.IPUpdaterActive, err = m.services.IsActive(ctx, m.cfg.IPUpdater); err != nil {
		errs = append(errs, err)
	}
	if p.DomainUpdaterActive, err = m.services.IsActive(ctx, m.cfg.DomainUpdater); err != nil {
		errs = append(errs, err)
	}
	if p.Nameservers, err = m.resolver.Nameservers(); err != nil {
		errs = append(errs, err)
	}
	return &p, errors.Join(errs...)
}
