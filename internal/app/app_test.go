package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"blockips/internal/audit"
	"blockips/internal/batch"
	"blockips/internal/source"
	"blockips/internal/zone"
	"blockips/models"
	netfilterHelper "blockips/netfilter-helper"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	app      *App
	cfg      models.Config
	sets     *memSets
	rule     *memRule
	services *memServices
	resolver *memResolver
	fetcher  *stubFetcher
	store    *audit.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.LogDir = filepath.Join(dir, "logs")
	cfg.Resolver.ZoneFile = filepath.Join(dir, "blocked-domains.conf")
	cfg.Blocklist.Capacity = 1024
	cfg.Control.OperatorID = 42

	env := &testEnv{
		cfg:      cfg,
		sets:     newMemSets(netfilterHelper.FamilyInet),
		rule:     &memRule{},
		services: newMemServices(),
		resolver: &memResolver{},
		fetcher:  &stubFetcher{},
		store:    audit.NewStore(cfg.LogDir),
	}
	env.app = New(cfg, Deps{
		Fetcher:    env.fetcher,
		Sets4:      env.sets,
		Binding4:   env.rule,
		Protection: env.rule,
		Services:   env.services,
		Resolver:   env.resolver,
		Store:      env.store,
	})
	return env
}

func TestReconcileIPs_ProvisionsAndApplies(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.ips = []string{"10.0.0.0/8", "", "  192.0.2.1 ", "10.0.0.0/8", "2001:db8::/32"}

	res, err := env.app.ReconcileIPs(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, res.Fetched)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, res.Sets, 1)
	assert.Equal(t, 2, res.Sets[0].Accepted)
	assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.1/32"}, env.sets.members("blocked_ips"))
	assert.Equal(t, 1, env.rule.count)

	require.NotEmpty(t, res.Sets[0].Artifact)
	script, err := os.ReadFile(res.Sets[0].Artifact)
	require.NoError(t, err)
	assert.Equal(t, "add blocked_ips 10.0.0.0/8 -exist\nadd blocked_ips 192.0.2.1 -exist\n", string(script))

	require.NotEmpty(t, res.RunLog)
	runLog, err := os.ReadFile(res.RunLog)
	require.NoError(t, err)
	assert.Contains(t, string(runLog), "ip blocklist updated")
}

func TestReconcileIPs_SecondRunFlushesAndStaysSingleRule(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.ips = []string{"198.51.100.0/24"}

	_, err := env.app.ReconcileIPs(context.Background())
	require.NoError(t, err)

	env.fetcher.ips = []string{"203.0.113.0/24"}
	res, err := env.app.ReconcileIPs(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "flushed", string(res.Sets[0].Provision.Action))
	assert.Equal(t, []string{"203.0.113.0/24"}, env.sets.members("blocked_ips"))
	assert.Equal(t, 1, env.rule.count)
}

func TestReconcileIPs_FetchFailureLeavesKernelUntouched(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.ips = []string{"198.51.100.0/24"}
	_, err := env.app.ReconcileIPs(context.Background())
	require.NoError(t, err)

	env.sets.calls = nil
	env.fetcher.err = &source.FetchError{URL: "https://example.invalid", Cause: errors.New("no such host")}
	_, err = env.app.ReconcileIPs(context.Background())

	var ferr *source.FetchError
	require.ErrorAs(t, err, &ferr)
	assert.Empty(t, env.sets.calls)
	assert.Equal(t, []string{"198.51.100.0/24"}, env.sets.members("blocked_ips"))
	assert.Equal(t, 1, env.rule.count)
}

func TestReconcileIPs_HTMLPayloadLeavesKernelUntouched(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.ips = []string{"10.0.0.0/8", "192.0.2.1"}
	_, err := env.app.ReconcileIPs(context.Background())
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>\n<body>503 Service Temporarily Unavailable</body>\n</html>\n"))
	}))
	t.Cleanup(srv.Close)

	cfg := env.cfg
	cfg.Sources.IPListURL = srv.URL
	env.app = New(cfg, Deps{
		Fetcher:    source.New(srv.Client(), time.Second),
		Sets4:      env.sets,
		Binding4:   env.rule,
		Protection: env.rule,
		Services:   env.services,
		Resolver:   env.resolver,
		Store:      env.store,
	})
	env.sets.calls = nil

	_, err = env.app.ReconcileIPs(context.Background())

	var ferr *source.FetchError
	require.ErrorAs(t, err, &ferr)
	assert.Contains(t, err.Error(), "line 1")
	assert.Empty(t, env.sets.calls)
	assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.1/32"}, env.sets.members("blocked_ips"))
	assert.Equal(t, 1, env.rule.count)
}

func TestReconcileIPs_UnparsableEntryRejectedBeforeProvisioning(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.ips = []string{"198.51.100.0/24"}
	_, err := env.app.ReconcileIPs(context.Background())
	require.NoError(t, err)

	env.sets.calls = nil
	env.fetcher.ips = []string{"203.0.113.0/24", "not-an-ip"}
	_, err = env.app.ReconcileIPs(context.Background())

	var ferr *source.FetchError
	require.ErrorAs(t, err, &ferr)
	assert.Empty(t, env.sets.calls)
	assert.Equal(t, []string{"198.51.100.0/24"}, env.sets.members("blocked_ips"))
}

func TestReconcileIPs_RejectedBatch(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.ips = []string{"198.51.100.0/24", "203.0.113.7"}
	env.sets.restore = &netfilterHelper.RestoreError{Line: 2, Stderr: "Error in line 2: Hash is full, cannot add more elements"}

	res, err := env.app.ReconcileIPs(context.Background())

	var aerr *batch.ApplyError
	require.ErrorAs(t, err, &aerr)
	assert.Contains(t, aerr.Stderr, "line 2")
	assert.Empty(t, env.sets.members("blocked_ips"))
	require.Len(t, res.Sets, 1)
	assert.FileExists(t, aerr.Artifact)
}

func TestReconcileIPs_IPv6Set(t *testing.T) {
	env := newTestEnv(t)
	sets6 := newMemSets(netfilterHelper.FamilyInet6)
	rule6 := &memRule{}
	env.app = New(env.cfg, Deps{
		Fetcher:    env.fetcher,
		Sets4:      env.sets,
		Sets6:      sets6,
		Binding4:   env.rule,
		Binding6:   rule6,
		Protection: env.rule,
		Services:   env.services,
		Resolver:   env.resolver,
		Store:      env.store,
	})
	env.fetcher.ips = []string{"192.0.2.0/24", "2001:db8::/32"}

	res, err := env.app.ReconcileIPs(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Sets, 2)
	assert.Equal(t, []string{"192.0.2.0/24"}, env.sets.members("blocked_ips"))
	assert.Equal(t, []string{"2001:db8::/32"}, sets6.members("blocked_ips_6"))
	assert.Equal(t, 1, rule6.count)
}

func TestReconcileDomains_WritesZoneAndReloads(t *testing.T) {
	env := newTestEnv(t)
	env.app.cfg.Exclusions = []*models.Rule{
		{Name: "allow", Type: "namespace", Rule: "example.org", Enable: true},
	}
	env.services.active["unbound"] = true
	env.fetcher.domains = []string{"ads.example.com", "cdn.example.org", "tracker.example.net"}

	res, err := env.app.ReconcileDomains(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Domains)
	assert.Equal(t, 1, res.Skipped)
	assert.True(t, res.Reloaded)
	assert.Equal(t, []string{"unbound"}, env.services.reloads)

	f, err := os.Open(env.cfg.Resolver.ZoneFile)
	require.NoError(t, err)
	defer f.Close()
	domains, err := zone.Parse(f)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ads.example.com", "tracker.example.net"}, domains)
}

func TestReconcileDomains_ResolverStopped(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.domains = []string{"ads.example.com"}

	res, err := env.app.ReconcileDomains(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Reloaded)
	assert.Empty(t, env.services.reloads)
	assert.FileExists(t, env.cfg.Resolver.ZoneFile)
}
