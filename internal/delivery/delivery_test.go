package delivery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetbot/internal/models"
	"fleetbot/internal/testutil/testlog"
)

type document struct {
	path    string
	caption string
	body    string
}

type fakeSender struct {
	mu       sync.Mutex
	messages []Message
	docs     []document
	docErr   error
}

func (f *fakeSender) SendMessage(_ context.Context, _ int64, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeSender) SendDocument(_ context.Context, _ int64, path, caption string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, document{path: path, caption: caption, body: string(data)})
	return f.docErr
}

var title = Title{Server: "Hall A", Machine: 7, Address: "192.168.1.107", Mode: models.ModeNormal}

func newDeliverer(t *testing.T, s Sender) (*Deliverer, string) {
	dir := t.TempDir()
	return New(s, 0, dir, testlog.New(t)), dir
}

func TestFailureIsAlwaysInline(t *testing.T) {
	s := &fakeSender{}
	d, _ := newDeliverer(t, s)
	kind, err := d.Deliver(context.Background(), 1, title, models.Outcome{Output: strings.Repeat("e", 9000)})
	require.NoError(t, err)
	assert.Equal(t, KindFailure, kind)
	require.Len(t, s.messages, 1)
	assert.True(t, s.messages[0].Failed)
	assert.Contains(t, s.messages[0].Header[0], "Hall A")
	assert.Contains(t, s.messages[0].Header[1], "PC-07")
	assert.Len(t, s.messages[0].Body, 9000)
	assert.Empty(t, s.docs)
}

func TestSmallOutputInline(t *testing.T) {
	s := &fakeSender{}
	d, _ := newDeliverer(t, s)
	out := strings.Repeat("a", 3999)
	kind, err := d.Deliver(context.Background(), 1, title, models.Outcome{Succeeded: true, Output: out})
	require.NoError(t, err)
	assert.Equal(t, KindInline, kind)
	require.Len(t, s.messages, 1)
	assert.Equal(t, out, s.messages[0].Body)
	assert.Equal(t, []string{"Server: Hall A", "Machine: PC-07 (192.168.1.107)", "Mode: normal"}, s.messages[0].Header)
}

func TestLargeOutputAsArtifact(t *testing.T) {
	s := &fakeSender{}
	d, dir := newDeliverer(t, s)
	out := strings.Repeat("b", 4001)
	kind, err := d.Deliver(context.Background(), 1, title, models.Outcome{Succeeded: true, Output: out})
	require.NoError(t, err)
	assert.Equal(t, KindArtifact, kind)
	assert.Empty(t, s.messages)
	require.Len(t, s.docs, 1)
	assert.Equal(t, out, s.docs[0].body)
	assert.Equal(t, title.Caption(), s.docs[0].caption)

	_, statErr := os.Stat(s.docs[0].path)
	assert.True(t, os.IsNotExist(statErr), "artifact must be removed")
	left, _ := filepath.Glob(filepath.Join(dir, "*"))
	assert.Empty(t, left)
}

func TestExactlyAtLimitIsArtifact(t *testing.T) {
	s := &fakeSender{}
	d, _ := newDeliverer(t, s)
	kind, err := d.Deliver(context.Background(), 1, title, models.Outcome{Succeeded: true, Output: strings.Repeat("c", 4000)})
	require.NoError(t, err)
	assert.Equal(t, KindArtifact, kind)
}

func TestArtifactFailureFallsBackToTruncated(t *testing.T) {
	s := &fakeSender{docErr: errors.New("413 too large")}
	d, dir := newDeliverer(t, s)
	out := strings.Repeat("x", 4000) + "TAIL"
	kind, err := d.Deliver(context.Background(), 1, title, models.Outcome{Succeeded: true, Output: out})
	require.NoError(t, err)
	assert.Equal(t, KindFallback, kind)
	require.Len(t, s.messages, 1)
	msg := s.messages[0]
	assert.True(t, msg.Truncated)
	assert.Equal(t, strings.Repeat("x", 4000), msg.Body)
	assert.NotContains(t, msg.Body, "T")

	left, _ := filepath.Glob(filepath.Join(dir, "*"))
	assert.Empty(t, left, "artifact must be removed on failure too")
}

func TestWholeServerTitle(t *testing.T) {
	tt := Title{Server: "Hall B", Mode: models.ModeAll}
	assert.Equal(t, []string{"Server: Hall B", "Machine: all", "Mode: all"}, tt.Lines())
	assert.Equal(t, "Server: Hall B | Machine: all | Mode: all", tt.Caption())
}

func TestTruncateCountsCharacters(t *testing.T) {
	assert.Equal(t, "жж", Truncate("жжж", 2))
	assert.Equal(t, "ab", Truncate("ab", 5))
}
