package client

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/attachkit/agent/admin"
	"github.com/attachkit/agent/agent"
	"github.com/attachkit/agent/deploy"
	"github.com/attachkit/agent/events"
	"github.com/attachkit/agent/protocol"
	"github.com/attachkit/agent/results"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDomain struct {
	name   string
	loaded map[string]bool
}

func (d *fakeDomain) Name() string { return d.name }

func (d *fakeDomain) IsLoaded(path string) bool { return d.loaded[path] }

type fakeResolver struct {
	domain *fakeDomain
}

func (r *fakeResolver) Resolve(identity string) (deploy.Domain, error) {
	return r.domain, nil
}

type fakeRedefiner struct {
	batches []map[string][]byte
}

func (r *fakeRedefiner) Redefine(domain deploy.Domain, batch map[string][]byte) error {
	r.batches = append(r.batches, batch)
	return nil
}

type fakeInvoker struct{}

func (fakeInvoker) Invoke(domain deploy.Domain, className, methodName string, args map[string]string, trace deploy.TraceOptions) (deploy.Invocation, error) {
	return deploy.Invocation{TypeName: "java.lang.String", Printed: className + "#" + methodName}, nil
}

func startAgent(t *testing.T) (*agent.Server, *admin.Server, *fakeRedefiner) {
	t.Helper()

	redefiner := &fakeRedefiner{}
	resolver := &fakeResolver{domain: &fakeDomain{
		name:   "AppClassLoader@e2e",
		loaded: map[string]bool{"com/example/Foo.class": true},
	}}
	bus := events.NewBus()
	cache := results.NewCache()

	dispatcher := deploy.NewDispatcher(deploy.Config{
		ApplicationName: "e2e-app",
		Resolver:        resolver,
		Redefiner:       redefiner,
		Invoker:         fakeInvoker{},
		Staging:         deploy.NewStaging(filepath.Join(t.TempDir(), "staging")),
		Results:         cache,
		Events:          bus,
	})

	server, err := agent.NewServer(dispatcher, agent.WithListenAddr("127.0.0.1:0"), agent.WithEvents(bus))
	require.NoError(t, err)
	require.NoError(t, server.Start())
	t.Cleanup(func() { server.Close() })

	adminServer, err := admin.NewServer("e2e-app",
		admin.WithListenAddr("127.0.0.1:0"),
		admin.WithRegistry(server.Registry()),
		admin.WithResults(cache),
		admin.WithEvents(bus),
	)
	require.NoError(t, err)
	require.NoError(t, adminServer.Start())
	t.Cleanup(func() { adminServer.Close() })

	return server, adminServer, redefiner
}

func TestEndToEnd(t *testing.T) {
	server, adminServer, redefiner := startAgent(t)

	c, err := Dial(server.Addr().String(), WithTimeout(5*time.Second))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Heartbeat())

	resp, ok, err := c.DeployClasses("AppClassLoader@e2e", map[string][]byte{
		"com/example/Foo.class": {0xca, 0xfe},
		"com/example/Bar.class": {0xba, 0xbe},
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "e2e-app", resp.ApplicationName)
	assert.Contains(t, resp.Text, "com/example/Foo.class")

	// Only the loaded unit reaches the redefiner.
	require.Len(t, redefiner.batches, 1)
	assert.Len(t, redefiner.batches[0], 1)
	assert.Contains(t, redefiner.batches[0], "com/example/Foo.class")

	runResp, ok, err := c.RunMethod(&protocol.RunMethodRequest{
		Identity:   "AppClassLoader@e2e",
		ClassName:  "com.example.Foo",
		MethodName: "bar",
		Args:       map[string]string{"x": "1"},
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "com.example.Foo#bar", runResp.PrintResult)
	assert.NotEmpty(t, runResp.OffsetPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ac := NewAdminClient(adminServer.Addr().String())
	require.NoError(t, ac.WaitForServer(ctx))

	name, err := ac.ApplicationName(ctx)
	require.NoError(t, err)
	assert.Equal(t, "e2e-app", name)

	entry, err := ac.ResultDetail(ctx, runResp.OffsetPath)
	require.NoError(t, err)
	assert.Equal(t, "com.example.Foo#bar", entry.Printed)
}
