package console

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"storybot/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingHandler struct {
	mu    sync.Mutex
	calls []string
	reply session.Reply
}

func (h *recordingHandler) HandleText(_ context.Context, userID int64, text string) session.Reply {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, text)
	return h.reply
}

func (h *recordingHandler) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func TestRunForwardsLinesUntilQuit(t *testing.T) {
	h := &recordingHandler{reply: session.Reply{Text: "Once upon a time.", Outcome: session.OutcomeOK, Actions: []string{"/end"}}}
	var out bytes.Buffer

	in := strings.NewReader("  hello there  \n\n/begin\n/quit\nnever sent\n")
	r := New(h, Options{In: in, Out: &out, UserID: 42})

	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, []string{"hello there", "/begin"}, h.Calls())
	assert.Contains(t, out.String(), "Once upon a time.")
	assert.Contains(t, out.String(), "/end")
	assert.Contains(t, out.String(), "user 42")
}

func TestRunStopsAtEOF(t *testing.T) {
	h := &recordingHandler{reply: session.Reply{Text: "ok"}}
	var out bytes.Buffer

	r := New(h, Options{In: strings.NewReader("one\ntwo"), Out: &out, UserID: 1})
	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, []string{"one", "two"}, h.Calls())
}

func TestHelpIsLocal(t *testing.T) {
	h := &recordingHandler{}
	var out bytes.Buffer

	r := New(h, Options{In: strings.NewReader("/help\n"), Out: &out, UserID: 1})
	require.NoError(t, r.Run(context.Background()))

	assert.Empty(t, h.Calls())
	for _, c := range session.Commands() {
		assert.Contains(t, out.String(), c.Label())
	}
	assert.Contains(t, out.String(), metaQuit)
}

func TestRunReturnsOnCancel(t *testing.T) {
	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	r := New(&recordingHandler{}, Options{In: pr, Out: io.Discard, UserID: 1})

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRenderAttachmentAndActions(t *testing.T) {
	var out bytes.Buffer
	r := New(&recordingHandler{}, Options{In: strings.NewReader(""), Out: &out})

	r.Render(session.Reply{
		Outcome:    session.OutcomeOK,
		Attachment: "logs/storybot.log",
		Actions:    []string{"/new_story", "/usage_report"},
	})

	got := out.String()
	assert.Contains(t, got, "attachment: ")
	assert.Contains(t, got, "logs/storybot.log")
	assert.Contains(t, got, "/new_story")
	assert.Contains(t, got, "/usage_report")
}

func TestRenderFailureKeepsText(t *testing.T) {
	var out bytes.Buffer
	r := New(&recordingHandler{}, Options{In: strings.NewReader(""), Out: &out})

	r.Render(session.Reply{Text: "Status code 500. See the log for details.", Outcome: session.OutcomeBackendError})

	assert.Contains(t, out.String(), "Status code 500")
}
