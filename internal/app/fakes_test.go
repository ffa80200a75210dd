package app

import (
	"context"
	"errors"
	"sort"
	"sync"

	netfilterHelper "blockips/netfilter-helper"
)

type memSets struct {
	mu      sync.Mutex
	sets    map[string]*memSet
	calls   []string
	family  netfilterHelper.Family
	restore error
}

type memSet struct {
	info    netfilterHelper.SetInfo
	members map[string]struct{}
}

func newMemSets(family netfilterHelper.Family) *memSets {
	return &memSets{sets: map[string]*memSet{}, family: family}
}

func (m *memSets) Info(name string) (netfilterHelper.SetInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "info")
	s, ok := m.sets[name]
	if !ok {
		return netfilterHelper.SetInfo{}, netfilterHelper.ErrSetNotFound
	}
	info := s.info
	info.Entries = uint32(len(s.members))
	return info, nil
}

func (m *memSets) Create(name string, setType netfilterHelper.SetType, maxElements uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "create")
	m.sets[name] = &memSet{
		info:    netfilterHelper.SetInfo{Name: name, Type: setType, Family: m.family, MaxElements: maxElements},
		members: map[string]struct{}{},
	}
	return nil
}

func (m *memSets) Destroy(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "destroy")
	delete(m.sets, name)
	return nil
}

func (m *memSets) Flush(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "flush")
	s, ok := m.sets[name]
	if !ok {
		return netfilterHelper.ErrSetNotFound
	}
	s.members = map[string]struct{}{}
	return nil
}

func (m *memSets) Restore(_ context.Context, script []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "restore")
	if m.restore != nil {
		return m.restore
	}
	lines, err := netfilterHelper.ParseRestoreScript(script)
	if err != nil {
		return err
	}
	for _, line := range lines {
		s, ok := m.sets[line.Set]
		if !ok {
			return &netfilterHelper.RestoreError{Line: line.No, Stderr: "The set with the given name does not exist"}
		}
		s.members[line.Entry.String()] = struct{}{}
	}
	return nil
}

func (m *memSets) members(name string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[name]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(s.members))
	for member := range s.members {
		out = append(out, member)
	}
	sort.Strings(out)
	return out
}

type memRule struct {
	count int
}

func (r *memRule) Exists() (bool, error) { return r.count > 0, nil }

func (r *memRule) Insert() error {
	r.count++
	return nil
}

func (r *memRule) Remove() error {
	if r.count == 0 {
		return netfilterHelper.ErrBindingAbsent
	}
	r.count--
	return nil
}

func (r *memRule) Count() (int, error) { return r.count, nil }

type memServices struct {
	active  map[string]bool
	reloads []string
}

func newMemServices() *memServices {
	return &memServices{active: map[string]bool{}}
}

func (s *memServices) Start(_ context.Context, unit string) error {
	s.active[unit] = true
	return nil
}

func (s *memServices) Stop(_ context.Context, unit string) error {
	s.active[unit] = false
	return nil
}

func (s *memServices) Restart(_ context.Context, unit string) error {
	s.active[unit] = true
	return nil
}

func (s *memServices) Reload(_ context.Context, unit string) error {
	if !s.active[unit] {
		return errors.New("unit not active")
	}
	s.reloads = append(s.reloads, unit)
	return nil
}

func (s *memServices) IsActive(_ context.Context, unit string) (bool, error) {
	return s.active[unit], nil
}

type memResolver struct {
	nameserver string
}

func (r *memResolver) PointTo(address string) error {
	r.nameserver = address
	return nil
}

func (r *memResolver) Nameservers() ([]string, error) {
	return []string{r.nameserver}, nil
}

type stubFetcher struct {
	ips     []string
	domains []string
	err     error
}

func (f *stubFetcher) FetchIPs(context.Context, string) ([]string, error) {
	return f.ips, f.err
}

func (f *stubFetcher) FetchDomains(context.Context, string) ([]string, error) {
	return f.domains, f.err
}
