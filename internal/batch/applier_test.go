package batch

import (
	"context"
	"testing"

	netfilterHelper "blockips/netfilter-helper"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memSet emulates "ipset restore" against an in-memory hash:net set.
type memSet struct {
	members  map[string]struct{}
	restores int
}

func (m *memSet) Restore(_ context.Context, script []byte) error {
	m.restores++
	lines, err := netfilterHelper.ParseRestoreScript(script)
	if err != nil {
		return err
	}
	for _, line := range lines {
		if _, ok := m.members[line.Entry.String()]; ok && !line.Exist {
			return &netfilterHelper.RestoreError{Line: line.No, Stderr: "Element cannot be added to the set: it's already added"}
		}
	}
	for _, line := range lines {
		m.members[line.Entry.String()] = struct{}{}
	}
	return nil
}

type memArtifacts struct {
	saved  [][]byte
	failed []bool
}

func (m *memArtifacts) SaveBatch(script []byte, failed bool) (string, error) {
	m.saved = append(m.saved, script)
	m.failed = append(m.failed, failed)
	return "ipset_rules.txt", nil
}

func TestApply_EmptyIsNoop(t *testing.T) {
	set := &memSet{members: map[string]struct{}{}}
	artifacts := &memArtifacts{}
	a := New(set, artifacts, "blocked_ips")

	for _, entries := range [][]string{nil, {}, {" ", ""}} {
		res, err := a.Apply(context.Background(), entries)
		require.NoError(t, err)
		assert.Equal(t, 0, res.Accepted)
	}
	assert.Equal(t, 0, set.restores)
	assert.Empty(t, artifacts.saved)
}

func TestApply_IsIdempotent(t *testing.T) {
	set := &memSet{members: map[string]struct{}{}}
	artifacts := &memArtifacts{}
	a := New(set, artifacts, "blocked_ips")
	entries := []string{"10.0.0.0/8", "1.1.1.1", "10.0.0.0/8", " 8.8.8.8 "}

	first, err := a.Apply(context.Background(), entries)
	require.NoError(t, err)
	snapshot := len(set.members)

	second, err := a.Apply(context.Background(), entries)
	require.NoError(t, err)

	assert.Equal(t, 3, first.Accepted)
	assert.Equal(t, first.Accepted, second.Accepted)
	assert.Equal(t, snapshot, len(set.members))
	assert.Equal(t, artifacts.saved[0], artifacts.saved[1])
	assert.Equal(t, []bool{false, false}, artifacts.failed)
}

func TestApply_RejectedBatchIsPersisted(t *testing.T) {
	set := &memSet{members: map[string]struct{}{}}
	artifacts := &memArtifacts{}
	a := New(set, artifacts, "blocked_ips")

	_, err := a.Apply(context.Background(), []string{"10.0.0.0/8", "garbage"})
	var aerr *ApplyError
	require.ErrorAs(t, err, &aerr)
	assert.Contains(t, aerr.Stderr, "Error in line 2")
	assert.Equal(t, "ipset_rules.txt", aerr.Artifact)
	assert.Empty(t, set.members)
	assert.Equal(t, []bool{true}, artifacts.failed)
}

func TestScript(t *testing.T) {
	a := New(nil, nil, "blocked_ips")
	assert.Equal(t,
		"add blocked_ips 10.0.0.0/8 -exist\nadd blocked_ips 1.1.1.1 -exist\n",
		string(a.Script([]string{"10.0.0.0/8", "1.1.1.1"})))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, Normalize([]string{" a", "", "b", "a", "\t"}))
}
