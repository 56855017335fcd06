package deploy

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/attachkit/agent/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDomain struct {
	name   string
	loaded map[string]bool
}

func (d *fakeDomain) Name() string           { return d.name }
func (d *fakeDomain) IsLoaded(p string) bool { return d.loaded[p] }

type fakeResolver struct {
	domains map[string]*fakeDomain
}

func (r *fakeResolver) Resolve(identity string) (Domain, error) {
	d, ok := r.domains[identity]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrDomainNotFound, identity)
	}
	return d, nil
}

// fakeRedefiner records batches and trips overlapped if it is ever entered
// while another call is still in progress.
type fakeRedefiner struct {
	delay time.Duration
	err   error

	inProgress atomic.Bool
	overlapped atomic.Bool

	mu    sync.Mutex
	calls [][]string
}

func (f *fakeRedefiner) Redefine(_ Domain, batch map[string][]byte) error {
	if !f.inProgress.CompareAndSwap(false, true) {
		f.overlapped.Store(true)
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.calls = append(f.calls, sortedPathList(batch))
	f.mu.Unlock()
	f.inProgress.Store(false)
	return f.err
}

func newTestDispatcher(t *testing.T, redefiner Redefiner, domain *fakeDomain) (*Dispatcher, string) {
	t.Helper()
	stagingDir := t.TempDir()
	d := NewDispatcher(Config{
		ApplicationName: "orders",
		Resolver:        &fakeResolver{domains: map[string]*fakeDomain{domain.name: domain}},
		Redefiner:       redefiner,
		Staging:         NewStaging(stagingDir),
	})
	return d, stagingDir
}

func deployFrame(t *testing.T, identity string, contents map[string][]byte) *protocol.Frame {
	t.Helper()
	req := &protocol.LocalDeployRequest{}
	req.Identity = identity
	for p, c := range contents {
		req.Add(p, c)
	}
	return protocol.NewFrame(req)
}

func readResponse(t *testing.T, buf *bytes.Buffer) (*protocol.Frame, *protocol.DeployResponse) {
	t.Helper()
	frame, err := protocol.ReadFrame(buf)
	require.NoError(t, err)
	resp, ok := frame.Message.(*protocol.DeployResponse)
	require.True(t, ok, "expected a deploy response, got command %d", frame.Message.Command())
	return frame, resp
}

func TestHotDeploySuccess(t *testing.T) {
	redefiner := &fakeRedefiner{}
	domain := &fakeDomain{name: "domainA@123", loaded: map[string]bool{"a/B.class": true}}
	d, stagingDir := newTestDispatcher(t, redefiner, domain)

	content := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	out := &bytes.Buffer{}
	d.Handle(out, deployFrame(t, "domainA@123", map[string][]byte{"a/B.class": content}))

	frame, resp := readResponse(t, out)
	assert.True(t, frame.Success())
	assert.Contains(t, resp.Text, "a/B.class")
	assert.Equal(t, "orders", resp.ApplicationName)

	staged, err := os.ReadFile(filepath.Join(stagingDir, "a", "B.class"))
	require.NoError(t, err)
	assert.Equal(t, content, staged)

	require.Len(t, redefiner.calls, 1)
	assert.Equal(t, []string{"a/B.class"}, redefiner.calls[0])
}

func TestHotDeployPartialLoad(t *testing.T) {
	// One class loaded, one not: overall success, both staged, only the
	// loaded one redefined.
	redefiner := &fakeRedefiner{}
	domain := &fakeDomain{name: "domainA@123", loaded: map[string]bool{"a/Loaded.class": true}}
	d, stagingDir := newTestDispatcher(t, redefiner, domain)

	out := &bytes.Buffer{}
	d.Handle(out, deployFrame(t, "domainA@123", map[string][]byte{
		"a/Loaded.class": {1},
		"a/NotYet.class": {2},
	}))

	frame, _ := readResponse(t, out)
	assert.True(t, frame.Success())

	for _, name := range []string{"Loaded.class", "NotYet.class"} {
		_, err := os.Stat(filepath.Join(stagingDir, "a", name))
		assert.NoError(t, err)
	}

	require.Len(t, redefiner.calls, 1)
	assert.Equal(t, []string{"a/Loaded.class"}, redefiner.calls[0])
}

func TestHotDeployNothingLoaded(t *testing.T) {
	redefiner := &fakeRedefiner{}
	domain := &fakeDomain{name: "domainA@123", loaded: map[string]bool{}}
	d, _ := newTestDispatcher(t, redefiner, domain)

	out := &bytes.Buffer{}
	d.Handle(out, deployFrame(t, "domainA@123", map[string][]byte{"a/B.class": {1}}))

	frame, _ := readResponse(t, out)
	assert.True(t, frame.Success())
	assert.Empty(t, redefiner.calls)
}

func TestHotDeployUnknownDomain(t *testing.T) {
	redefiner := &fakeRedefiner{}
	domain := &fakeDomain{name: "domainA@123", loaded: map[string]bool{"a/B.class": true}}
	d, _ := newTestDispatcher(t, redefiner, domain)

	out := &bytes.Buffer{}
	d.Handle(out, deployFrame(t, "nope@999", map[string][]byte{"a/B.class": {1}}))

	frame, resp := readResponse(t, out)
	assert.False(t, frame.Success())
	assert.Contains(t, resp.Text, "a/B.class")
	assert.Empty(t, redefiner.calls)
}

func TestHotDeployRedefinerFailureRecovers(t *testing.T) {
	redefiner := &fakeRedefiner{err: fmt.Errorf("incompatible change")}
	domain := &fakeDomain{name: "domainA@123", loaded: map[string]bool{"a/B.class": true}}
	d, _ := newTestDispatcher(t, redefiner, domain)

	out := &bytes.Buffer{}
	d.Handle(out, deployFrame(t, "domainA@123", map[string][]byte{"a/B.class": {1}}))
	frame, resp := readResponse(t, out)
	assert.False(t, frame.Success())
	assert.Contains(t, resp.Text, "incompatible change")

	// The lock is free again; the next request goes through.
	redefiner.err = nil
	out.Reset()
	d.Handle(out, deployFrame(t, "domainA@123", map[string][]byte{"a/B.class": {2}}))
	frame, _ = readResponse(t, out)
	assert.True(t, frame.Success())
}

func TestHotDeployStagingFailureIsNonFatal(t *testing.T) {
	redefiner := &fakeRedefiner{}
	domain := &fakeDomain{name: "domainA@123", loaded: map[string]bool{"a/B.class": true}}

	// Point staging at a regular file so directory creation fails.
	stagingFile := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(stagingFile, []byte("x"), 0o644))

	d := NewDispatcher(Config{
		ApplicationName: "orders",
		Resolver:        &fakeResolver{domains: map[string]*fakeDomain{domain.name: domain}},
		Redefiner:       redefiner,
		Staging:         NewStaging(filepath.Join(stagingFile, "sub")),
	})

	out := &bytes.Buffer{}
	d.Handle(out, deployFrame(t, "domainA@123", map[string][]byte{"a/B.class": {1}}))

	frame, _ := readResponse(t, out)
	assert.True(t, frame.Success())
	require.Len(t, redefiner.calls, 1)
}

func TestHotDeployMutualExclusion(t *testing.T) {
	redefiner := &fakeRedefiner{delay: 5 * time.Millisecond}
	domain := &fakeDomain{name: "domainA@123", loaded: map[string]bool{"a/B.class": true}}
	d, _ := newTestDispatcher(t, redefiner, domain)

	const sessions = 16
	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out := &bytes.Buffer{}
			d.Handle(out, deployFrame(t, "domainA@123", map[string][]byte{"a/B.class": {byte(i)}}))
			frame, _ := readResponse(t, out)
			assert.True(t, frame.Success())
		}(i)
	}
	wg.Wait()

	assert.False(t, redefiner.overlapped.Load(), "replacement facility observed concurrent invocations")
	assert.Len(t, redefiner.calls, sessions)
}

func TestResourceDeployStagesOnly(t *testing.T) {
	redefiner := &fakeRedefiner{}
	domain := &fakeDomain{name: "domainA@123", loaded: map[string]bool{}}
	d, stagingDir := newTestDispatcher(t, redefiner, domain)

	req := &protocol.ResourceDeployRequest{}
	req.Identity = "domainA@123"
	req.Add("mapper/UserMapper.xml", []byte("<mapper/>"))

	out := &bytes.Buffer{}
	d.Handle(out, protocol.NewFrame(req))

	frame, resp := readResponse(t, out)
	assert.True(t, frame.Success())
	assert.Contains(t, resp.Text, "mapper/UserMapper.xml")

	staged, err := os.ReadFile(filepath.Join(stagingDir, "mapper", "UserMapper.xml"))
	require.NoError(t, err)
	assert.Equal(t, []byte("<mapper/>"), staged)
	assert.Empty(t, redefiner.calls)
}

func TestStagingRejectsEscapingPaths(t *testing.T) {
	s := NewStaging(t.TempDir())
	err := s.WriteBatch(map[string][]byte{"../../etc/passwd": {1}})
	require.Error(t, err)
}
