package provision

import (
	"errors"
	"fmt"

	netfilterHelper "blockips/netfilter-helper"

	"github.com/rs/zerolog/log"
)

// maxUnbind bounds how many duplicate rules are removed before a destroy.
const maxUnbind = 64

type KernelSetManager interface {
	Info(name string) (netfilterHelper.SetInfo, error)
	Create(name string, setType netfilterHelper.SetType, maxElements uint32) error
	Destroy(name string) error
	Flush(name string) error
}

type Firewall interface {
	Exists() (bool, error)
	Insert() error
	Remove() error
	Count() (int, error)
}

type Action string

const (
	ActionCreated   Action = "created"
	ActionRecreated Action = "recreated"
	ActionFlushed   Action = "flushed"
)

type Result struct {
	Action            Action
	Previous          *netfilterHelper.SetInfo
	Capacity          uint32
	DuplicatesRemoved int
}

type ProvisionError struct {
	Step  string
	Cause error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provisioning failed at %s: %v", e.Step, e.Cause)
}

func (e *ProvisionError) Unwrap() error {
	return e.Cause
}

type Provisioner struct {
	sets     KernelSetManager
	firewall Firewall
}

func New(sets KernelSetManager, firewall Firewall) *Provisioner {
	return &Provisioner{sets: sets, firewall: firewall}
}

// EnsureSet leaves the named set empty, network-capable, sized for at least
// capacity elements and referenced by exactly one firewall rule.
func (p *Provisioner) EnsureSet(name string, capacity uint32) (*Result, error) {
	res := &Result{Capacity: capacity}

	info, err := p.sets.Info(name)
	switch {
	case errors.Is(err, netfilterHelper.ErrSetNotFound):
		if err := p.sets.Create(name, netfilterHelper.SetTypeHashNet, capacity); err != nil {
			return nil, &ProvisionError{Step: "create", Cause: err}
		}
		res.Action = ActionCreated
	case err != nil:
		return nil, &ProvisionError{Step: "inspect", Cause: err}
	case info.MaxElements < capacity || info.Type != netfilterHelper.SetTypeHashNet:
		res.Previous = &info
		if err := p.recreate(name, capacity); err != nil {
			return nil, err
		}
		res.Action = ActionRecreated
	default:
		res.Previous = &info
		if err := p.sets.Flush(name); err != nil {
			return nil, &ProvisionError{Step: "flush", Cause: err}
		}
		res.Action = ActionFlushed
	}

	removed, err := p.ensureSingleBinding()
	if err != nil {
		return nil, err
	}
	res.DuplicatesRemoved = removed

	log.Debug().
		Str("set", name).
		Str("action", string(res.Action)).
		Uint32("capacity", capacity).
		Int("duplicatesRemoved", removed).
		Msg("set provisioned")
	return res, nil
}

func (p *Provisioner) recreate(name string, capacity uint32) error {
	if err := p.unbindAll(); err != nil {
		return err
	}
	if err := p.sets.Destroy(name); err != nil {
		return &ProvisionError{Step: "destroy", Cause: err}
	}
	if err := p.sets.Create(name, netfilterHelper.SetTypeHashNet, capacity); err != nil {
		return &ProvisionError{Step: "create", Cause: err}
	}
	return nil
}

// unbindAll drops every copy of the rule so the set can be destroyed.
func (p *Provisioner) unbindAll() error {
	for i := 0; i < maxUnbind; i++ {
		err := p.firewall.Remove()
		if errors.Is(err, netfilterHelper.ErrBindingAbsent) {
			return nil
		}
		if err != nil {
			return &ProvisionError{Step: "unbind", Cause: err}
		}
	}
	return &ProvisionError{Step: "unbind", Cause: fmt.Errorf("more than %d rules reference the set", maxUnbind)}
}

func (p *Provisioner) ensureSingleBinding() (int, error) {
	ok, err := p.firewall.Exists()
	if err != nil {
		log.Warn().Err(err).Msg("rule check failed, assuming the rule is absent")
	}
	if !ok {
		if err := p.firewall.Insert(); err != nil {
			return 0, &ProvisionError{Step: "bind", Cause: err}
		}
	}

	count, err := p.firewall.Count()
	if err != nil {
		return 0, &ProvisionError{Step: "verify", Cause: err}
	}
	removed := 0
	for ; count > 1; count-- {
		if err := p.firewall.Remove(); err != nil {
			return removed, &ProvisionError{Step: "dedupe", Cause: err}
		}
		removed++
	}
	if count != 1 {
		return removed, &ProvisionError{Step: "verify", Cause: fmt.Errorf("expected one rule, found %d", count)}
	}
	return removed, nil
}
