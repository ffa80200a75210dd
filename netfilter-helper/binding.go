package netfilterHelper

import (
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-iptables/iptables"
)

var _ ruleTable = (*iptables.IPTables)(nil)

// isNotExist matches *iptables.Error reporting a missing rule or chain.
func isNotExist(err error) bool {
	var nerr interface{ IsNotExist() bool }
	return errors.As(err, &nerr) && nerr.IsNotExist()
}

// ErrBindingAbsent is returned by Remove when no matching rule exists.
var ErrBindingAbsent = errors.New("rule not present")

type ruleTable interface {
	Exists(table, chain string, rulespec ...string) (bool, error)
	Append(table, chain string, rulespec ...string) error
	Delete(table, chain string, rulespec ...string) error
	List(table, chain string) ([]string, error)
	ListChains(table string) ([]string, error)
}

// Binding is the single "destination in set => target" rule on a chain.
type Binding struct {
	ipt     ruleTable
	chain   string
	setName string
	target  string
}

func newBinding(ipt ruleTable, chain, setName, target string) *Binding {
	return &Binding{
		ipt:     ipt,
		chain:   chain,
		setName: setName,
		target:  target,
	}
}

func (b *Binding) rulespec() []string {
	return []string{"-m", "set", "--match-set", b.setName, "dst", "-j", b.target}
}

func (b *Binding) String() string {
	return fmt.Sprintf("-A %s %s", b.chain, strings.Join(b.rulespec(), " "))
}

func (b *Binding) Exists() (bool, error) {
	ok, err := b.ipt.Exists(filterTable, b.chain, b.rulespec()...)
	if err != nil {
		return false, fmt.Errorf("failed to check rule: %w", err)
	}
	return ok, nil
}

// Insert appends the rule without checking for an existing copy.
func (b *Binding) Insert() error {
	err := b.ipt.Append(filterTable, b.chain, b.rulespec()...)
	if err != nil {
		return fmt.Errorf("failed to append rule: %w", err)
	}
	return nil
}

// Remove deletes one copy of the rule.
func (b *Binding) Remove() error {
	err := b.ipt.Delete(filterTable, b.chain, b.rulespec()...)
	if err != nil {
		if isNotExist(err) {
			return fmt.Errorf("%w: %s", ErrBindingAbsent, strings.TrimSpace(err.Error()))
		}
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	return nil
}

// Count returns how many copies of the rule are present on the chain.
func (b *Binding) Count() (int, error) {
	rules, err := b.ipt.List(filterTable, b.chain)
	if err != nil {
		return 0, fmt.Errorf("listing rules error: %w", err)
	}
	want := strings.Join(b.rulespec(), " ")
	count := 0
	for _, rule := range rules {
		ruleSlice := strings.Fields(rule)
		if len(ruleSlice) < 2 || ruleSlice[0] != "-A" || ruleSlice[1] != b.chain {
			continue
		}
		if strings.Join(ruleSlice[2:], " ") == want {
			count++
		}
	}
	return count, nil
}

// Bindings fans a single binding operation out to every address family.
type Bindings []*Binding

func (bs Bindings) Exists() (bool, error) {
	for _, b := range bs {
		ok, err := b.Exists()
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// Insert appends the rule for every family that lacks it.
func (bs Bindings) Insert() error {
	for _, b := range bs {
		if ok, err := b.Exists(); err == nil && ok {
			continue
		}
		if err := b.Insert(); err != nil {
			return err
		}
	}
	return nil
}

// Remove reports ErrBindingAbsent only if no family failed for another reason.
func (bs Bindings) Remove() error {
	var errs []error
	absent := false
	for _, b := range bs {
		err := b.Remove()
		switch {
		case err == nil:
		case errors.Is(err, ErrBindingAbsent):
			absent = true
		default:
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if absent {
		return ErrBindingAbsent
	}
	return nil
}

func listRules(ipt ruleTable) (string, error) {
	chains, err := ipt.ListChains(filterTable)
	if err != nil {
		return "", fmt.Errorf("listing chains error: %w", err)
	}
	var sb strings.Builder
	for _, chain := range chains {
		rules, err := ipt.List(filterTable, chain)
		if err != nil {
			return "", fmt.Errorf("listing rules error: %w", err)
		}
		for _, rule := range rules {
			sb.WriteString(rule)
			sb.WriteByte('\n')
		}
	}
	return sb.String(), nil
}
