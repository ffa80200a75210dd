package netfilterHelper

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

type SetType string

const (
	SetTypeHashNet SetType = "hash:net"
	SetTypeHashIP  SetType = "hash:ip"
)

type Family uint8

const (
	FamilyInet  Family = unix.AF_INET
	FamilyInet6 Family = unix.AF_INET6
)

func (f Family) String() string {
	if f == FamilyInet6 {
		return "inet6"
	}
	return "inet"
}

var ErrSetNotFound = errors.New("set not found")

type SetInfo struct {
	Name        string
	Type        SetType
	Family      Family
	MaxElements uint32
	Entries     uint32
}

// NetlinkSetManager talks to the kernel ipset subsystem directly.
type NetlinkSetManager struct {
	family Family
}

func NewNetlinkSetManager(family Family) *NetlinkSetManager {
	return &NetlinkSetManager{family: family}
}

func (m *NetlinkSetManager) Info(name string) (SetInfo, error) {
	res, err := netlink.IpsetList(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return SetInfo{}, ErrSetNotFound
		}
		return SetInfo{}, fmt.Errorf("failed to list ipset: %w", err)
	}
	return SetInfo{
		Name:        res.SetName,
		Type:        SetType(res.TypeName),
		Family:      Family(res.Family),
		MaxElements: res.MaxElements,
		Entries:     res.NumEntries,
	}, nil
}

func (m *NetlinkSetManager) Create(name string, setType SetType, maxElements uint32) error {
	err := netlink.IpsetCreate(name, string(setType), netlink.IpsetCreateOptions{
		Family:      uint8(m.family),
		MaxElements: maxElements,
	})
	if err != nil {
		return fmt.Errorf("failed to create ipset: %w", err)
	}
	return nil
}

func (m *NetlinkSetManager) Destroy(name string) error {
	err := netlink.IpsetDestroy(name)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to destroy ipset: %w", err)
	}
	return nil
}

func (m *NetlinkSetManager) Flush(name string) error {
	err := netlink.IpsetFlush(name)
	if err != nil {
		return fmt.Errorf("failed to flush ipset: %w", err)
	}
	return nil
}

// Restore applies a restore script through netlink. Every line is validated
// before the kernel is touched; a kernel failure midway rolls back the lines
// already added by this call.
func (m *NetlinkSetManager) Restore(ctx context.Context, script []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lines, err := ParseRestoreScript(script)
	if err != nil {
		return err
	}

	added := make([]RestoreLine, 0, len(lines))
	for _, line := range lines {
		err := netlink.IpsetAdd(line.Set, toEntry(line))
		if err != nil {
			var errs []error
			for _, done := range uniqueEntries(added) {
				errs = append(errs, netlink.IpsetDel(done.Set, toEntry(done)))
			}
			if rollbackErr := errors.Join(errs...); rollbackErr != nil {
				return &RestoreError{Line: line.No, Stderr: fmt.Sprintf("Error in line %d: %v (rollback: %v)", line.No, err, rollbackErr)}
			}
			return &RestoreError{Line: line.No, Stderr: fmt.Sprintf("Error in line %d: %v", line.No, err)}
		}
		added = append(added, line)
	}
	return nil
}

// uniqueEntries keeps the first line for every set member. Distinct inputs
// can mask to the same prefix and the kernel holds only one copy.
func uniqueEntries(lines []RestoreLine) []RestoreLine {
	type key struct {
		set   string
		entry netip.Prefix
	}
	seen := make(map[key]struct{}, len(lines))
	out := make([]RestoreLine, 0, len(lines))
	for _, line := range lines {
		k := key{set: line.Set, entry: line.Entry}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, line)
	}
	return out
}

func toEntry(line RestoreLine) *netlink.IPSetEntry {
	return &netlink.IPSetEntry{
		IP:      line.Entry.Addr().AsSlice(),
		CIDR:    uint8(line.Entry.Bits()),
		Replace: line.Exist,
	}
}

// ParseEntry accepts an address or a CIDR network. A bare address becomes a
// host route.
func ParseEntry(s string) (netip.Prefix, error) {
	prefix, err := netip.ParsePrefix(s)
	if err == nil {
		return prefix.Masked(), nil
	}
	addr, addrErr := netip.ParseAddr(s)
	if addrErr != nil {
		return netip.Prefix{}, fmt.Errorf("invalid entry %q: %w", s, err)
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}
