package netfilterHelper

import (
	"context"
	"errors"
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listOutput = `Name: blocked_ips
Type: hash:net
Revision: 7
Header: family inet hashsize 1024 maxelem 65536 bucketsize 12 initval 0x2d8f4a1b
Size in memory: 456
References: 1
Number of entries: 42
`

type call struct {
	args  []string
	stdin string
}

type fakeRunner struct {
	calls  []call
	stdout map[string]string
	stderr map[string]string
	fail   map[string]bool
}

func (f *fakeRunner) run(_ context.Context, stdin []byte, _ string, args ...string) ([]byte, []byte, error) {
	f.calls = append(f.calls, call{args: args, stdin: string(stdin)})
	verb := args[0]
	if f.fail[verb] {
		return nil, []byte(f.stderr[verb]), errors.New("exit status 1")
	}
	return []byte(f.stdout[verb]), nil, nil
}

func TestParseSetHeader(t *testing.T) {
	info, err := parseSetHeader([]byte(listOutput))
	require.NoError(t, err)
	assert.Equal(t, SetInfo{
		Name:        "blocked_ips",
		Type:        SetTypeHashNet,
		Family:      FamilyInet,
		MaxElements: 65536,
		Entries:     42,
	}, info)
}

func TestParseSetHeader_Garbage(t *testing.T) {
	_, err := parseSetHeader([]byte("nothing useful"))
	require.Error(t, err)
}

func TestExecSetManager_InfoNotFound(t *testing.T) {
	runner := &fakeRunner{
		fail:   map[string]bool{"list": true},
		stderr: map[string]string{"list": "ipset v7.15: The set with the given name does not exist\n"},
	}
	m := NewExecSetManager("", FamilyInet, runner.run)

	_, err := m.Info("blocked_ips")
	assert.ErrorIs(t, err, ErrSetNotFound)
}

func TestExecSetManager_CreateArgs(t *testing.T) {
	runner := &fakeRunner{}
	m := NewExecSetManager("", FamilyInet6, runner.run)

	require.NoError(t, m.Create("blocked_ips_6", SetTypeHashNet, 2097152))
	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{"create", "blocked_ips_6", "hash:net", "family", "inet6", "maxelem", "2097152"}, runner.calls[0].args)
}

func TestExecSetManager_DestroyMissingIsNoop(t *testing.T) {
	runner := &fakeRunner{
		fail:   map[string]bool{"destroy": true},
		stderr: map[string]string{"destroy": "ipset v7.15: The set with the given name does not exist"},
	}
	m := NewExecSetManager("", FamilyInet, runner.run)
	assert.NoError(t, m.Destroy("blocked_ips"))
}

func TestExecSetManager_RestoreCarriesStderr(t *testing.T) {
	runner := &fakeRunner{
		fail:   map[string]bool{"restore": true},
		stderr: map[string]string{"restore": "ipset v7.15: Error in line 2: Syntax error: '300.1.1.1' is invalid as number\n"},
	}
	m := NewExecSetManager("", FamilyInet, runner.run)

	script := []byte("add blocked_ips 1.1.1.1 -exist\nadd blocked_ips 300.1.1.1 -exist\n")
	err := m.Restore(context.Background(), script)

	var rerr *RestoreError
	require.ErrorAs(t, err, &rerr)
	assert.Contains(t, rerr.Stderr, "Error in line 2")
	assert.Equal(t, string(script), runner.calls[0].stdin)
}

func TestParseRestoreScript(t *testing.T) {
	lines, err := ParseRestoreScript([]byte(AddLine("blocked_ips", "10.0.0.0/8") + AddLine("blocked_ips", "1.2.3.4") + "\n"))
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, netip.MustParsePrefix("10.0.0.0/8"), lines[0].Entry)
	assert.Equal(t, netip.MustParsePrefix("1.2.3.4/32"), lines[1].Entry)
	assert.True(t, lines[1].Exist)
	assert.Equal(t, 2, lines[1].No)
}

func TestUniqueEntries_CollapsesMaskedDuplicates(t *testing.T) {
	lines, err := ParseRestoreScript([]byte(
		AddLine("blocked_ips", "1.2.3.0/24") +
			AddLine("blocked_ips", "1.2.3.4/24") +
			AddLine("blocked_ips_6", "1.2.3.0/24") +
			AddLine("blocked_ips", "5.6.7.8"),
	))
	require.NoError(t, err)

	unique := uniqueEntries(lines)
	require.Len(t, unique, 3)
	assert.Equal(t, 1, unique[0].No)
	assert.Equal(t, "blocked_ips_6", unique[1].Set)
	assert.Equal(t, netip.MustParsePrefix("5.6.7.8/32"), unique[2].Entry)
}

func TestParseRestoreScript_RejectsWholeBatch(t *testing.T) {
	script := strings.Join([]string{
		"add blocked_ips 10.0.0.0/8 -exist",
		"add blocked_ips not-an-ip -exist",
	}, "\n")
	lines, err := ParseRestoreScript([]byte(script))
	assert.Nil(t, lines)

	var rerr *RestoreError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 2, rerr.Line)
}

func TestParseEntry(t *testing.T) {
	p, err := ParseEntry("192.168.1.77/24")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.0/24", p.String())

	p, err = ParseEntry("2001:db8::1")
	require.NoError(t, err)
	assert.Equal(t, 128, p.Bits())

	p, err = ParseEntry("::ffff:1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3.4/32", p.String())

	_, err = ParseEntry("example.com")
	assert.Error(t, err)
}
