package netfilterHelper

import (
	"fmt"

	"github.com/coreos/go-iptables/iptables"
)

const filterTable = "filter"

type NetfilterHelper struct {
	Chain     string
	Target    string
	IPTables4 *iptables.IPTables
	IPTables6 *iptables.IPTables
}

func New(chain, target string, enableIPv6 bool) (*NetfilterHelper, error) {
	ipt4, err := iptables.New(iptables.IPFamily(iptables.ProtocolIPv4))
	if err != nil {
		return nil, fmt.Errorf("iptables init fail: %w", err)
	}

	var ipt6 *iptables.IPTables
	if enableIPv6 {
		ipt6, err = iptables.New(iptables.IPFamily(iptables.ProtocolIPv6))
		if err != nil {
			return nil, fmt.Errorf("ip6tables init fail: %w", err)
		}
	}

	return &NetfilterHelper{
		Chain:     chain,
		Target:    target,
		IPTables4: ipt4,
		IPTables6: ipt6,
	}, nil
}

// Binding4 returns the IPv4 rule bound to setName.
func (nh *NetfilterHelper) Binding4(setName string) *Binding {
	return newBinding(nh.IPTables4, nh.Chain, setName, nh.Target)
}

// Binding6 returns the IPv6 rule bound to setName, or nil when IPv6 is disabled.
func (nh *NetfilterHelper) Binding6(setName string) *Binding {
	if nh.IPTables6 == nil {
		return nil
	}
	return newBinding(nh.IPTables6, nh.Chain, setName, nh.Target)
}

// ListRules dumps every chain of the filter table for both families.
func (nh *NetfilterHelper) ListRules() (string, error) {
	out, err := listRules(nh.IPTables4)
	if err != nil {
		return "", err
	}
	if nh.IPTables6 != nil {
		out6, err := listRules(nh.IPTables6)
		if err != nil {
			return "", err
		}
		out += out6
	}
	return out, nil
}
