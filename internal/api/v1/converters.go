package v1

import (
	"blockips/api/types"
	"blockips/internal/app"
	"blockips/internal/logbuffer"
	"blockips/internal/protection"
)

func ToCommandRes(res *app.CommandResult) types.CommandRes {
	sections := make([]types.SectionRes, len(res.Sections))
	for i, s := range res.Sections {
		sections[i] = types.SectionRes{Title: s.Title, Body: s.Body, Error: s.Error}
	}
	return types.CommandRes{
		Command:  string(res.Command),
		OK:       res.OK,
		Sections: sections,
		Error:    res.Error,
		Text:     res.Text(),
	}
}

func ToStateRes(p *protection.Probe) types.StateRes {
	return types.StateRes{
		State:               string(p.State()),
		ResolverActive:      p.ResolverActive,
		BindingPresent:      p.BindingPresent,
		IPUpdaterActive:     p.IPUpdaterActive,
		DomainUpdaterActive: p.DomainUpdaterActive,
		Nameservers:         p.Nameservers,
	}
}

func ToLogsRes(entries []logbuffer.LogEntry) types.LogsRes {
	logs := make([]types.LogEntryRes, len(entries))
	for i, e := range entries {
		logs[i] = types.LogEntryRes{Time: e.Time, Level: e.Level, Message: e.Message, Error: e.Error}
	}
	return types.LogsRes{Logs: logs}
}
