package dispatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetbot/internal/audit"
	"fleetbot/internal/auth"
	"fleetbot/internal/config"
	"fleetbot/internal/delivery"
	"fleetbot/internal/metrics"
	"fleetbot/internal/models"
	"fleetbot/internal/navigation"
	"fleetbot/internal/registry"
	"fleetbot/internal/ssh"
	"fleetbot/internal/testutil/sshtest"
	"fleetbot/internal/testutil/testlog"
	"fleetbot/internal/worker"
)

type call struct {
	server  string
	command string
}

type fakeExecutor struct {
	mu      sync.Mutex
	calls   []call
	outcome models.Outcome
	delay   time.Duration
}

func (f *fakeExecutor) Execute(_ context.Context, d models.ServerDescriptor, command string) models.Outcome {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.calls = append(f.calls, call{server: d.ID, command: command})
	f.mu.Unlock()
	return f.outcome
}

func (f *fakeExecutor) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

type sent struct {
	dest int64
	msg  delivery.Message
}

type fakeSender struct {
	mu   sync.Mutex
	msgs []sent
	docs int
}

func (f *fakeSender) SendMessage(_ context.Context, dest int64, msg delivery.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, sent{dest: dest, msg: msg})
	return nil
}

func (f *fakeSender) SendDocument(context.Context, int64, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs++
	return nil
}

func (f *fakeSender) Messages() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.msgs...)
}

type harness struct {
	d         *Dispatcher
	exec      *fakeExecutor
	sender    *fakeSender
	store     *navigation.Store
	pool      *worker.Pool
	metrics   *metrics.Metrics
	auditPath string
}

func twoServers() []config.ServerBlock {
	return []config.ServerBlock{
		{Name: "S1", Host: "10.0.0.1", Password: "pw", Machines: 10},
		{Name: "S2", Host: "10.0.0.2", Password: "pw", Machines: 5, AddressBase: "10.9.0.", AddressOffset: new(int)},
	}
}

func newHarness(t *testing.T, allowed []int64, exec ssh.Executor) *harness {
	t.Helper()
	log := testlog.New(t)
	reg, err := registry.Load(twoServers(), log)
	require.NoError(t, err)

	h := &harness{
		sender:    &fakeSender{},
		store:     navigation.NewStore(),
		pool:      worker.New(4, log),
		metrics:   metrics.New(),
		auditPath: filepath.Join(t.TempDir(), "access.log"),
	}
	if exec == nil {
		h.exec = &fakeExecutor{outcome: models.Outcome{Succeeded: true, Output: "done"}}
		exec = h.exec
	}
	auditLog, err := audit.Open(h.auditPath)
	require.NoError(t, err)

	var n atomic.Int64
	h.d = &Dispatcher{
		Gate:      auth.NewGate(allowed, log),
		Router:    NewRouter(reg, 6, 8),
		Store:     h.store,
		Pool:      h.pool,
		Executor:  exec,
		Deliverer: delivery.New(h.sender, 0, t.TempDir(), log),
		Script:    "/opt/update.sh",
		Audit:     auditLog,
		Metrics:   h.metrics,
		Logger:    log,
		newID:     func() string { return fmt.Sprintf("job-%d", n.Add(1)) },
	}
	t.Cleanup(func() { _ = h.pool.Close(context.Background()) })
	return h
}

func (h *harness) do(t *testing.T, user int64, tokens ...string) Effect {
	t.Helper()
	var eff Effect
	for _, tok := range tokens {
		eff = h.d.Handle(Event{User: user, Dest: user * 10, Token: tok})
	}
	return eff
}

func TestEndToEndTwoServersOnePage(t *testing.T) {
	h := newHarness(t, nil, nil)
	eff := h.do(t, 1, TokenMenu)
	require.Equal(t, EffectRender, eff.Kind)
	assert.Equal(t, navigation.Initial(), eff.State)

	v, err := h.d.Router.View(eff.State)
	require.NoError(t, err)
	assert.Equal(t, 1, v.Pages)
	require.Len(t, v.Servers, 2)
	assert.Equal(t, "S1", v.Servers[0].Name)
	assert.Equal(t, "S2", v.Servers[1].Name)
}

func TestAccessGateDenial(t *testing.T) {
	h := newHarness(t, []int64{42}, nil)

	eff := h.do(t, 43, TokenMenu)
	require.Equal(t, EffectReject, eff.Kind)
	assert.ErrorIs(t, eff.Err, models.ErrAccessDenied)
	assert.Contains(t, eff.Reason, "43")
	_, seen := h.store.Get(43)
	assert.False(t, seen, "denied users get no state")

	eff = h.do(t, 43, "srv:1", "pc:1:3", "run:1:3")
	assert.Equal(t, EffectReject, eff.Kind)
	h.pool.Wait()
	assert.Empty(t, h.exec.Calls())

	eff = h.do(t, 42, TokenMenu)
	assert.Equal(t, EffectRender, eff.Kind)
}

func TestBackToServersResetsPage(t *testing.T) {
	h := newHarness(t, nil, nil)
	eff := h.do(t, 1, TokenMenu, "srv:1")
	assert.Equal(t, navigation.State{Kind: navigation.MachineList, Server: "1"}, eff.State)

	eff = h.do(t, 1, "mp:1:1")
	assert.Equal(t, 1, eff.State.MachinePage)

	eff = h.do(t, 1, "home:1")
	assert.Equal(t, navigation.Initial(), eff.State)
}

func TestNormalUpdateIsDelivered(t *testing.T) {
	h := newHarness(t, nil, nil)
	eff := h.do(t, 1, TokenMenu, "srv:1", "pc:1:7")
	require.Equal(t, navigation.ModeSelect, eff.State.Kind)

	eff = h.do(t, 1, "run:1:7")
	require.Equal(t, EffectExecute, eff.Kind)
	assert.Equal(t, "job-1", eff.Job.ID)
	assert.Equal(t, models.ModeNormal, eff.Job.Mode)
	assert.Equal(t, "192.168.1.107", eff.Job.Address)
	assert.Equal(t, navigation.ModeSelect, eff.State.Kind)

	h.pool.Wait()
	require.Equal(t, []call{{server: "1", command: "/opt/update.sh '192.168.1.107'"}}, h.exec.Calls())
	msgs := h.sender.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(10), msgs[0].dest)
	assert.Equal(t, "done", msgs[0].msg.Body)
	assert.Contains(t, msgs[0].msg.Header, "Machine: PC-07 (192.168.1.107)")
}

func TestConcurrentNormalUpdatesBothDelivered(t *testing.T) {
	exec := &fakeExecutor{outcome: models.Outcome{Succeeded: true, Output: "ok"}, delay: 300 * time.Millisecond}
	h := newHarness(t, nil, exec)
	h.do(t, 1, TokenMenu, "srv:2", "pc:2:4")

	start := time.Now()
	first := h.do(t, 1, "run:2:4")
	second := h.do(t, 1, "run:2:4")
	assert.Less(t, time.Since(start), 300*time.Millisecond, "dispatch must not wait for execution")
	require.Equal(t, EffectExecute, first.Kind)
	require.Equal(t, EffectExecute, second.Kind)
	assert.NotEqual(t, first.Job.ID, second.Job.ID)

	h.pool.Wait()
	assert.Len(t, exec.Calls(), 2)
	assert.Len(t, h.sender.Messages(), 2)
	for _, c := range exec.Calls() {
		assert.Equal(t, "/opt/update.sh '10.9.0.4'", c.command)
	}
}

func TestForceRequiresConfirmation(t *testing.T) {
	h := newHarness(t, nil, nil)
	eff := h.do(t, 1, TokenMenu, "srv:1", "pc:1:2", "frc:1:2")
	require.Equal(t, EffectRender, eff.Kind)
	assert.Equal(t, navigation.ForceConfirm, eff.State.Kind)

	eff = h.do(t, 1, "no:1:2")
	assert.Equal(t, navigation.ModeSelect, eff.State.Kind)

	eff = h.do(t, 1, "frc:1:2", "ok:1:2")
	require.Equal(t, EffectExecute, eff.Kind)
	assert.Equal(t, models.ModeForce, eff.Job.Mode)

	stale := h.do(t, 1, "ok:1:2")
	assert.Equal(t, EffectReject, stale.Kind)
	assert.ErrorIs(t, stale.Err, models.ErrStaleAction)

	h.pool.Wait()
	require.Len(t, h.exec.Calls(), 1)
	assert.Equal(t, "/opt/update.sh --force '192.168.1.102'", h.exec.Calls()[0].command)
}

func TestUpdateAll(t *testing.T) {
	h := newHarness(t, nil, nil)
	eff := h.do(t, 1, TokenMenu, "srv:2", "all:2")
	require.Equal(t, EffectExecute, eff.Kind)
	assert.Equal(t, models.ModeAll, eff.Job.Mode)
	assert.Equal(t, navigation.State{Kind: navigation.MachineList, Server: "2"}, eff.State)

	h.pool.Wait()
	require.Len(t, h.exec.Calls(), 1)
	assert.Equal(t, "/opt/update.sh --all", h.exec.Calls()[0].command)
	msgs := h.sender.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].msg.Header, "Machine: all")
}

func TestRejectionsLeaveStateAlone(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.do(t, 1, TokenMenu, "srv:1")
	before, _ := h.store.Get(1)

	cases := map[string]error{
		"bogus":      models.ErrUnknownAction,
		"srv":        models.ErrUnknownAction,
		"mp:9:0":     models.ErrUnknownAction,
		"mp:1:x":     models.ErrUnknownAction,
		"mp:1:2":     models.ErrInvalidPage,
		"pc:1:0":     models.ErrInvalidIndex,
		"pc:1:11":    models.ErrInvalidIndex,
		"pc:1:seven": models.ErrInvalidIndex,
		"run:1:3":    models.ErrStaleAction,
		"sp:0":       models.ErrStaleAction,
	}
	for tok, want := range cases {
		eff := h.do(t, 1, tok)
		assert.Equal(t, EffectReject, eff.Kind, tok)
		assert.ErrorIs(t, eff.Err, want, tok)
		assert.NotEmpty(t, eff.Reason, tok)
		after, _ := h.store.Get(1)
		assert.Equal(t, before, after, tok)
	}
	h.pool.Wait()
	assert.Empty(t, h.exec.Calls())
}

func TestNoopToken(t *testing.T) {
	h := newHarness(t, nil, nil)
	eff := h.do(t, 1, TokenNoop)
	assert.Equal(t, EffectNoop, eff.Kind)
	_, seen := h.store.Get(1)
	assert.False(t, seen)
}

func TestClosedPoolRejects(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.do(t, 1, TokenMenu, "srv:1", "pc:1:1")
	require.NoError(t, h.pool.Close(context.Background()))

	eff := h.do(t, 1, "run:1:1")
	assert.Equal(t, EffectReject, eff.Kind)
	assert.ErrorIs(t, eff.Err, worker.ErrClosed)

	assert.Equal(t, 0.0, h.inflight(t))
	lines := h.auditLines(t)
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "status=started")
	assert.Contains(t, lines[1], "status=failure")
	assert.Contains(t, lines[1], "not")
}

func (h *harness) inflight(t *testing.T) float64 {
	t.Helper()
	families, err := h.metrics.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "fleetbot_executions_inflight" {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatal("inflight gauge not registered")
	return 0
}

func (h *harness) auditLines(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(h.auditPath)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestStartedRecordedBeforeFastFailure(t *testing.T) {
	exec := &fakeExecutor{outcome: models.Outcome{Output: "connection refused"}}
	h := newHarness(t, nil, exec)
	h.do(t, 1, TokenMenu, "srv:1")
	for i := 0; i < 20; i++ {
		eff := h.do(t, 1, "all:1")
		require.Equal(t, EffectExecute, eff.Kind)
	}
	h.pool.Wait()

	assert.Equal(t, 0.0, h.inflight(t))
	started := map[string]bool{}
	for _, line := range h.auditLines(t) {
		id := jobField(line)
		switch {
		case strings.Contains(line, "status=started"):
			started[id] = true
		case strings.Contains(line, "status=failure"):
			assert.True(t, started[id], "finished before started: %s", line)
		}
	}
	assert.Len(t, started, 20)
}

func jobField(line string) string {
	for _, f := range strings.Fields(line) {
		if v, ok := strings.CutPrefix(f, "id="); ok {
			return v
		}
	}
	return ""
}

func TestLaunchFromCLI(t *testing.T) {
	h := newHarness(t, nil, nil)
	server, ok := h.d.Router.registry.Get("2")
	require.True(t, ok)
	job, err := h.d.Launch(models.Job{Server: server, Mode: models.ModeAll, Dest: 5})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	h.pool.Wait()
	assert.Len(t, h.sender.Messages(), 1)
}

func TestAgainstSSHServer(t *testing.T) {
	srv := sshtest.Start(t, func(cmd string) sshtest.Reply {
		if strings.Contains(cmd, "--all") {
			return sshtest.Reply{Stdout: strings.Repeat("line\n", 1000)}
		}
		return sshtest.Reply{Stdout: "refreshed " + cmd}
	})
	log := testlog.New(t)
	reg, err := registry.Load([]config.ServerBlock{{
		Name: "Lab", Host: srv.Host, Port: srv.Port, Username: srv.User, Password: srv.Password, Machines: 3,
	}}, log)
	require.NoError(t, err)
	client, err := ssh.NewClient(ssh.Options{ConnectTimeout: 5 * time.Second, Logger: log})
	require.NoError(t, err)

	sender := &fakeSender{}
	pool := worker.New(2, log)
	d := &Dispatcher{
		Gate:      auth.NewGate(nil, log),
		Router:    NewRouter(reg, 6, 8),
		Store:     navigation.NewStore(),
		Pool:      pool,
		Executor:  client,
		Deliverer: delivery.New(sender, 0, t.TempDir(), log),
		Script:    "update.sh",
		Logger:    log,
	}
	for _, tok := range []string{TokenMenu, "srv:1", "pc:1:3", "run:1:3", "all:1"} {
		eff := d.Handle(Event{User: 7, Dest: 70, Token: tok})
		if tok == "all:1" {
			// run:1:3 left the user on the mode screen.
			assert.Equal(t, EffectReject, eff.Kind)
		}
	}
	d.Handle(Event{User: 7, Dest: 70, Token: "back:1:3"})
	d.Handle(Event{User: 7, Dest: 70, Token: "all:1"})
	pool.Wait()
	require.NoError(t, pool.Close(context.Background()))

	msgs := sender.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "refreshed update.sh '192.168.1.103'", msgs[0].msg.Body)
	assert.Equal(t, 1, sender.docs, "whole-server output exceeds the inline limit")
}
