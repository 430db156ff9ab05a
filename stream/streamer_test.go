package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/zendesk/samson-sub001/job"
	"github.com/zendesk/samson-sub001/output"
)

type fakeSource struct {
	buf     *output.Buffer
	viewers *Viewers
	started chan struct{}
	done    chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		buf:     output.NewBuffer(),
		viewers: NewViewers(),
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (f *fakeSource) Output() *output.Buffer   { return f.buf }
func (f *fakeSource) Viewers() *Viewers        { return f.viewers }
func (f *fakeSource) Started() <-chan struct{} { return f.started }
func (f *fakeSource) Done() <-chan struct{}    { return f.done }

func (f *fakeSource) finish(status string) {
	_ = f.buf.Emit(output.EventFinished, status)
	f.buf.Close()
	close(f.done)
}

func collect(t *testing.T, ch <-chan Frame) []Frame {
	t.Helper()
	var frames []Frame
	timeout := time.After(2 * time.Second)
	for {
		select {
		case f, ok := <-ch:
			if !ok {
				return frames
			}
			frames = append(frames, f)
		case <-timeout:
			t.Fatalf("frames not closed, got %v", frames)
		}
	}
}

func TestFrames_TranslatesOutput(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	close(src.started)
	_ = src.buf.Emit(output.EventStarted, "")
	_, _ = src.buf.WriteString("hello\rwor")
	_, _ = src.buf.WriteString("ld\n")
	_, _ = src.buf.WriteString("tail")
	src.finish("succeeded")

	frames := collect(t, NewStreamer().Frames(context.Background(), src))

	want := []struct{ event, data string }{
		{"started", `{}`},
		{"append", `{"msg":"hello"}`},
		{"replace", `{"msg":"world\n"}`},
		{"append", `{"msg":"tail"}`},
		{"finished", `{"status":"succeeded"}`},
	}
	if len(frames) != len(want) {
		t.Fatalf("got %d frames: %+v", len(frames), frames)
	}
	for i, w := range want {
		if frames[i].Event != w.event || string(frames[i].Data) != w.data {
			t.Errorf("frame[%d] = %s %s, want %s %s", i, frames[i].Event, frames[i].Data, w.event, w.data)
		}
	}
}

func TestFrames_WaitsForStart(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	_, _ = src.buf.WriteString("queued output\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	frames := NewStreamer().Frames(ctx, src)

	select {
	case f := <-frames:
		t.Fatalf("frame before start: %+v", f)
	case <-time.After(50 * time.Millisecond):
	}

	close(src.started)
	select {
	case f := <-frames:
		if f.Event != "append" {
			t.Errorf("first frame = %+v", f)
		}
	case <-time.After(time.Second):
		t.Fatal("no frame after start")
	}
}

func TestFrames_FinishedBeforeStart(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	src.finish("cancelled")

	frames := collect(t, NewStreamer().Frames(context.Background(), src))
	if len(frames) != 1 || frames[0].Event != "finished" {
		t.Errorf("frames = %+v", frames)
	}
}

func TestFrames_Viewers(t *testing.T) {
	t.Parallel()

	f := eventFrame(output.Event{Type: output.EventViewers, Data: `["alice","bob"]`})
	if string(f.Data) != `{"viewers":["alice","bob"]}` {
		t.Errorf("viewers frame = %s", f.Data)
	}
	f = eventFrame(output.Event{Type: output.EventTruncated, Data: "12"})
	if string(f.Data) != `{"skipped":12}` {
		t.Errorf("truncated frame = %s", f.Data)
	}
}

func TestServeSSE(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	close(src.started)
	streamer := NewStreamer(WithHeartbeat(0))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streamer.ServeSSE(w, r, src, "alice")
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	deadline := time.Now().Add(2 * time.Second)
	for src.viewers.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := src.viewers.List(); len(got) != 1 || got[0] != "alice" {
		t.Fatalf("viewers = %v", got)
	}

	_, _ = src.buf.WriteString("deploying\n")
	src.finish("succeeded")

	var events []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			events = append(events, name)
		}
	}
	if strings.Join(events, ",") != "append,finished" {
		t.Errorf("events = %v", events)
	}

	deadline = time.Now().Add(2 * time.Second)
	for src.viewers.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if src.viewers.Len() != 0 {
		t.Error("viewer not removed after stream ended")
	}
}

func TestServeWebSocket(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	close(src.started)
	_, _ = src.buf.WriteString("line one\n")
	streamer := NewStreamer()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streamer.ServeWebSocket(w, r, src, "bob")
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, br, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Frames sent right after the handshake may already sit in br.
	var rw io.ReadWriter = conn
	if br != nil {
		rw = struct {
			io.Reader
			io.Writer
		}{br, conn}
	}

	data, err := wsutil.ReadServerText(rw)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatal(err)
	}
	if f.Event != "append" || string(f.Data) != `{"msg":"line one\n"}` {
		t.Errorf("frame = %s %s", f.Event, f.Data)
	}

	src.finish("failed")
	data, err = wsutil.ReadServerText(rw)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatal(err)
	}
	if f.Event != "finished" {
		t.Errorf("frame = %s", f.Event)
	}
}

func TestReplay(t *testing.T) {
	t.Parallel()

	frames := collect(t, NewStreamer().Frames(context.Background(), Replay("line one\nline two\n", "failed")))
	if len(frames) < 2 {
		t.Fatalf("frames = %+v", frames)
	}
	last := frames[len(frames)-1]
	if last.Event != "finished" || string(last.Data) != `{"status":"failed"}` {
		t.Errorf("last frame = %s %s", last.Event, last.Data)
	}
	var text strings.Builder
	for _, f := range frames[:len(frames)-1] {
		var m struct{ Msg string }
		_ = json.Unmarshal(f.Data, &m)
		text.WriteString(m.Msg)
	}
	if text.String() != "line one\nline two\n" {
		t.Errorf("replayed text = %q", text.String())
	}
}

func TestServeEvents(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	sub := b.Subscribe("sub-sse", TopicJobs)
	streamer := NewStreamer(WithHeartbeat(0))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streamer.ServeEvents(w, r, sub)
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	j := &job.Job{ID: "job-9", ProjectID: "web"}
	_ = b.OnJobStarted(context.Background(), j)
	_ = b.OnJobFinished(context.Background(), j, time.Second)

	lines := make(chan string, 64)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	var events []string
	timeout := time.After(2 * time.Second)
	for len(events) < 2 {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatalf("stream closed, events = %v", events)
			}
			if name, ok := strings.CutPrefix(line, "event: "); ok {
				events = append(events, name)
			}
		case <-timeout:
			t.Fatalf("events = %v", events)
		}
	}
	if events[0] != "job.started" || events[1] != "job.finished" {
		t.Errorf("events = %v", events)
	}
	b.RemoveSubscriber("sub-sse")
}
