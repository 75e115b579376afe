package ssh

import (
	"context"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetbot/internal/models"
	"fleetbot/internal/testutil/sshtest"
	"fleetbot/internal/testutil/testlog"
)

func newClient(t *testing.T, timeout time.Duration) *Client {
	t.Helper()
	c, err := NewClient(Options{ConnectTimeout: timeout, Logger: testlog.New(t)})
	require.NoError(t, err)
	return c
}

func descriptorFor(srv *sshtest.Server) models.ServerDescriptor {
	return models.ServerDescriptor{ID: "1", Name: "Hall", Host: srv.Host, Port: srv.Port, User: srv.User, Machines: 10}
}

func TestExecuteWithPassword(t *testing.T) {
	srv := sshtest.Start(t, func(cmd string) sshtest.Reply {
		return sshtest.Reply{Stdout: "\n  updated " + cmd + "\n", Stderr: "rsync: 3 files\n"}
	})
	d := descriptorFor(srv)
	d.Password = srv.Password

	out := newClient(t, 5*time.Second).Execute(context.Background(), d, "update.sh '192.168.1.101'")
	require.True(t, out.Succeeded, out.Output)
	assert.Contains(t, out.Output, "updated update.sh '192.168.1.101'")
	assert.Contains(t, out.Output, "rsync: 3 files")
	assert.Equal(t, strings.TrimSpace(out.Output), out.Output)
	assert.Equal(t, []string{"update.sh '192.168.1.101'"}, srv.Commands())
}

func TestExecuteWithKey(t *testing.T) {
	srv := sshtest.Start(t, func(string) sshtest.Reply { return sshtest.Reply{Stdout: "ok"} })
	d := descriptorFor(srv)
	d.KeyPath = srv.KeyPath

	out := newClient(t, 5*time.Second).Execute(context.Background(), d, "update.sh --all")
	require.True(t, out.Succeeded, out.Output)
	assert.Equal(t, "ok", out.Output)
}

func TestNonZeroExitIsStillSuccess(t *testing.T) {
	srv := sshtest.Start(t, func(string) sshtest.Reply {
		return sshtest.Reply{Stderr: "machine busy", Status: 3}
	})
	d := descriptorFor(srv)
	d.Password = srv.Password

	out := newClient(t, 5*time.Second).Execute(context.Background(), d, "update.sh x")
	assert.True(t, out.Succeeded)
	assert.Equal(t, "machine busy", out.Output)
}

func TestAuthFailureIsTransportFailure(t *testing.T) {
	srv := sshtest.Start(t, nil)
	d := descriptorFor(srv)
	d.Password = "wrong"

	out := newClient(t, 5*time.Second).Execute(context.Background(), d, "update.sh x")
	assert.False(t, out.Succeeded)
	assert.Contains(t, out.Output, "transport failure")
	assert.Empty(t, srv.Commands())
}

func TestConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())

	d := models.ServerDescriptor{Name: "gone", Host: "127.0.0.1", Port: addr.Port, User: "u", Password: "p", Machines: 1}
	out := newClient(t, time.Second).Execute(context.Background(), d, "true")
	assert.False(t, out.Succeeded)
	assert.NotEmpty(t, out.Output)
}

func TestHandshakeTimeout(t *testing.T) {
	// Accepts TCP but never speaks SSH.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			time.Sleep(2 * time.Second)
			conn.Close()
		}
	}()
	addr := ln.Addr().(*net.TCPAddr)
	d := models.ServerDescriptor{Name: "mute", Host: "127.0.0.1", Port: addr.Port, User: "u", Password: "p", Machines: 1}

	start := time.Now()
	out := newClient(t, 200*time.Millisecond).Execute(context.Background(), d, "true")
	assert.False(t, out.Succeeded)
	assert.Less(t, time.Since(start), 1500*time.Millisecond)
}

func TestMissingKeyFile(t *testing.T) {
	d := models.ServerDescriptor{Name: "k", Host: "127.0.0.1", Port: 1, User: "u", KeyPath: "/nonexistent/key", Machines: 1}
	out := newClient(t, time.Second).Execute(context.Background(), d, "true")
	assert.False(t, out.Succeeded)
	assert.Contains(t, out.Output, "read private key")
}

func TestUnreadableKeyFallsBackToPassword(t *testing.T) {
	srv := sshtest.Start(t, func(string) sshtest.Reply { return sshtest.Reply{Stdout: "ok"} })
	d := descriptorFor(srv)
	d.KeyPath = filepath.Join(t.TempDir(), "missing_key")
	d.Password = srv.Password

	out := newClient(t, 5*time.Second).Execute(context.Background(), d, "update.sh --all")
	require.True(t, out.Succeeded, out.Output)
	assert.Equal(t, "ok", out.Output)
}
