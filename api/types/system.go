package types

import "time"

type ErrorRes struct {
	Error string `json:"error"`
}

type StateRes struct {
	State               string   `json:"state" example:"enabled"`
	ResolverActive      bool     `json:"resolverActive"`
	BindingPresent      bool     `json:"bindingPresent"`
	IPUpdaterActive     bool     `json:"ipUpdaterActive"`
	DomainUpdaterActive bool     `json:"domainUpdaterActive"`
	Nameservers         []string `json:"nameservers"`
	Error               string   `json:"error,omitempty"`
}

type LogEntryRes struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level" example:"info"`
	Message string    `json:"message"`
	Error   string    `json:"error,omitempty"`
}

type LogsRes struct {
	Logs []LogEntryRes `json:"logs"`
}
