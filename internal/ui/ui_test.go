package ui_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/tle_downloader/internal/boundary"
	"github.com/italolelis/tle_downloader/internal/ui"
)

var notice = boundary.Notice{
	Kind:        boundary.NoticeURLOutOfSync,
	Text:        "url out of sync",
	Action:      boundary.ActionResync,
	Selection:   "gps-ops",
	ActiveURL:   "http://mirror/custom.txt",
	ResolvedURL: "http://host/gps-ops.txt",
}

func TestStatus_RecordsUpdates(t *testing.T) {
	s := ui.NewStatus()

	s.ShowProgress(42)
	s.ShowMessage("first")
	s.ShowNotice(notice)
	s.SetFrameRate(59.9, "59.9 fps | 2024-03-01 | iridium.txt")
	s.SetBeam(boundary.BeamEvent{Name: "ISS", CatalogNumber: 25544})

	snap := s.Snapshot()
	assert.Equal(t, 42, snap.Progress)
	assert.Equal(t, []string{"first"}, snap.Messages)
	require.NotNil(t, snap.Notice)
	assert.Equal(t, notice, *snap.Notice)
	assert.InDelta(t, 59.9, snap.FrameRate, 0.001)
	assert.Equal(t, "59.9 fps | 2024-03-01 | iridium.txt", snap.Label)
	require.NotNil(t, snap.Beam)
	assert.Equal(t, 25544, snap.Beam.CatalogNumber)

	s.DismissNotice()
	assert.Nil(t, s.Snapshot().Notice)
}

func TestStatus_KeepsRecentMessages(t *testing.T) {
	s := ui.NewStatus()

	for i := range 25 {
		s.ShowMessage(fmt.Sprintf("message %d", i))
	}

	msgs := s.Snapshot().Messages
	require.Len(t, msgs, 20)
	assert.Equal(t, "message 5", msgs[0])
	assert.Equal(t, "message 24", msgs[19])
}

func TestStatus_SnapshotIsACopy(t *testing.T) {
	s := ui.NewStatus()
	s.ShowMessage("a")
	s.ShowNotice(notice)

	snap := s.Snapshot()
	snap.Messages[0] = "changed"
	snap.Notice.Text = "changed"

	again := s.Snapshot()
	assert.Equal(t, "a", again.Messages[0])
	assert.Equal(t, "url out of sync", again.Notice.Text)
}

func TestStatus_JSON(t *testing.T) {
	s := ui.NewStatus()
	s.ShowProgress(10)

	raw, err := json.Marshal(s.Snapshot())
	require.NoError(t, err)
	assert.JSONEq(t, `{"progress":10,"label":"","frame_rate":0,"messages":[]}`, string(raw))
}

func TestLogUI(t *testing.T) {
	var buf bytes.Buffer

	u := &ui.LogUI{Logger: slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))}

	u.ShowProgress(50)
	u.ShowMessage("Failed to download TLE from http://host/a.txt")
	u.ShowNotice(notice)

	out := buf.String()
	assert.Contains(t, out, `"percent":50`)
	assert.Contains(t, out, `"msg":"Failed to download TLE from http://host/a.txt"`)
	assert.Contains(t, out, `"kind":"url_out_of_sync"`)
	assert.Contains(t, out, `"resolved_url":"http://host/gps-ops.txt"`)
}

func TestConsoleUI(t *testing.T) {
	var buf bytes.Buffer

	u := ui.NewConsoleUI(&buf)
	u.ShowProgress(30)
	u.ShowProgress(0)
	u.ShowMessage("Failed to download TLE from http://host/a.txt")
	u.ShowNotice(notice)

	out := buf.String()
	assert.Contains(t, out, "Failed to download TLE from http://host/a.txt")
	assert.Contains(t, out, "url out of sync")
	assert.Contains(t, out, "action: resync")
}

type recordingUI struct {
	progress []int
	messages []string
	notices  []boundary.Notice
}

func (r *recordingUI) ShowProgress(p int)           { r.progress = append(r.progress, p) }
func (r *recordingUI) ShowMessage(s string)         { r.messages = append(r.messages, s) }
func (r *recordingUI) ShowNotice(n boundary.Notice) { r.notices = append(r.notices, n) }

func TestMulti(t *testing.T) {
	a, b := &recordingUI{}, &recordingUI{}
	m := ui.Multi{a, b}

	m.ShowProgress(7)
	m.ShowMessage("msg")
	m.ShowNotice(notice)

	for _, r := range []*recordingUI{a, b} {
		assert.Equal(t, []int{7}, r.progress)
		assert.Equal(t, []string{"msg"}, r.messages)
		assert.Equal(t, []boundary.Notice{notice}, r.notices)
	}
}

type chanNotifier struct {
	sent chan string
	err  error
}

func (n *chanNotifier) Notify(_ context.Context, content string) error {
	n.sent <- content

	return n.err
}

func TestNotifying_ForwardsMessages(t *testing.T) {
	n := &chanNotifier{sent: make(chan string, 1), err: errors.New("webhook down")}

	var buf bytes.Buffer

	u := ui.NewNotifying(context.Background(), n, slog.New(slog.NewJSONHandler(&buf, nil)))
	u.ShowProgress(10)
	u.ShowNotice(notice)
	u.ShowMessage("Failed to download TLE from http://host/a.txt")

	select {
	case got := <-n.sent:
		assert.Equal(t, "❌ Failed to download TLE from http://host/a.txt", got)
	case <-time.After(time.Second):
		t.Fatal("notification not sent")
	}
}
