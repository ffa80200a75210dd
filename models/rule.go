package models

import (
	"strings"

	"github.com/IGLOU-EU/go-wildcard/v2"
	"github.com/dlclark/regexp2"
)

// Rule excludes matching domains from the resolver blocklist.
type Rule struct {
	Name   string
	Type   string
	Rule   string
	Enable bool
}

func (d *Rule) IsEnabled() bool {
	return d.Enable
}

func (d *Rule) IsMatch(domainName string) bool {
	switch d.Type {
	case "wildcard":
		return wildcard.Match(d.Rule, domainName)
	case "regex":
		re, err := regexp2.Compile(d.Rule, regexp2.IgnoreCase)
		if err != nil {
			return false
		}
		ok, _ := re.MatchString(domainName)
		return ok
	case "domain":
		return domainName == d.Rule
	case "namespace":
		if domainName == d.Rule {
			return true
		}
		return strings.HasSuffix(domainName, "."+d.Rule)
	}
	return false
}

// IsExcluded reports whether any enabled rule matches domainName.
func IsExcluded(rules []*Rule, domainName string) bool {
	for _, rule := range rules {
		if rule.IsEnabled() && rule.IsMatch(domainName) {
			return true
		}
	}
	return false
}
