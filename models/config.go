package models

import "time"

type Config struct {
	Blocklist  Blocklist
	Sources    Sources
	Resolver   Resolver
	Services   Services
	Control    Control
	Exclusions []*Rule
	LogDir     string
	LogLevel   string
}

type Blocklist struct {
	SetName    string
	Capacity   uint32
	Chain      string
	Target     string
	Backend    string
	EnableIPv6 bool
}

type Sources struct {
	IPListURL     string
	DomainListURL string
	FetchTimeout  time.Duration
}

type Resolver struct {
	Service       string
	ZoneFile      string
	ResolvConf    string
	LocalAddress  string
	PublicAddress string
}

type Services struct {
	IPUpdater     string
	DomainUpdater string
}

type Control struct {
	OperatorID int64
	HTTP       ControlHTTP
}

type ControlHTTP struct {
	Enabled bool
	Address string
	Port    uint16
}
