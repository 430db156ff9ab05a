package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/zendesk/samson-sub001/output"
	"github.com/zendesk/samson-sub001/terminal"
)

// DefaultHeartbeat is how often an idle SSE stream sends a comment line.
const DefaultHeartbeat = 20 * time.Second

// Source is a streamable execution.
type Source interface {
	Output() *output.Buffer
	Viewers() *Viewers
	// Started is closed once the execution leaves the queue.
	Started() <-chan struct{}
	// Done is closed once the execution finished.
	Done() <-chan struct{}
}

// Frame is one unit sent to a client. Event is "append", "replace",
// "started", "finished", "viewers", "reloaded" or "truncated".
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Streamer forwards the output of an execution to HTTP clients.
type Streamer struct {
	logger    *slog.Logger
	heartbeat time.Duration
}

// StreamerOption configures a Streamer.
type StreamerOption func(*Streamer)

// WithStreamLogger sets the logger.
func WithStreamLogger(l *slog.Logger) StreamerOption {
	return func(s *Streamer) { s.logger = l }
}

// WithHeartbeat sets the SSE keep-alive interval. Zero disables it.
func WithHeartbeat(d time.Duration) StreamerOption {
	return func(s *Streamer) { s.heartbeat = d }
}

// NewStreamer creates a Streamer.
func NewStreamer(opts ...StreamerOption) *Streamer {
	s := &Streamer{logger: slog.Default(), heartbeat: DefaultHeartbeat}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Frames waits until src is running (or already finished) and then yields
// every buffered event translated into frames. Message chunks pass through
// a terminal scanner so carriage-return rewrites arrive as replace frames.
// The channel is closed when the output is closed or ctx is done.
func (s *Streamer) Frames(ctx context.Context, src Source) <-chan Frame {
	ch := make(chan Frame)
	go func() {
		defer close(ch)

		select {
		case <-src.Started():
		case <-src.Done():
		case <-ctx.Done():
			return
		}

		send := func(f Frame) bool {
			select {
			case ch <- f:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := terminal.NewScanner()
		sendTokens := func(tokens []terminal.Token) bool {
			for _, tok := range tokens {
				if !send(Frame{Event: string(tok.Kind), Data: payload(map[string]string{"msg": tok.Text})}) {
					return false
				}
			}
			return true
		}

		for evt := range src.Output().Subscribe(ctx) {
			if evt.Type == output.EventMessage {
				if !sendTokens(scanner.Feed(evt.Data)) {
					return
				}
				continue
			}
			if evt.Type == output.EventFinished && !sendTokens(scanner.Flush()) {
				return
			}
			if !send(eventFrame(evt)) {
				return
			}
		}
		sendTokens(scanner.Flush())
	}()
	return ch
}

func eventFrame(evt output.Event) Frame {
	switch evt.Type {
	case output.EventFinished:
		return Frame{Event: string(evt.Type), Data: payload(map[string]string{"status": evt.Data})}
	case output.EventViewers:
		list := json.RawMessage(evt.Data)
		if !json.Valid(list) {
			list = json.RawMessage("[]")
		}
		return Frame{Event: string(evt.Type), Data: payload(map[string]json.RawMessage{"viewers": list})}
	case output.EventTruncated:
		n, _ := strconv.Atoi(evt.Data)
		return Frame{Event: string(evt.Type), Data: payload(map[string]int{"skipped": n})}
	default:
		return Frame{Event: string(evt.Type), Data: json.RawMessage("{}")}
	}
}

func payload(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}

// watch registers viewer on src for the lifetime of the returned func.
func watch(src Source, viewer string) func() {
	if viewer == "" {
		return func() {}
	}
	src.Viewers().Push(viewer)
	return func() { src.Viewers().Delete(viewer) }
}

// ServeSSE streams src to w as server-sent events until the output closes
// or the client goes away.
func (s *Streamer) ServeSSE(w http.ResponseWriter, r *http.Request, src Source, viewer string) {
	flusher, ok := beginSSE(w)
	if !ok {
		return
	}

	defer watch(src, viewer)()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	frames := s.Frames(ctx, src)

	var tick <-chan time.Time
	if s.heartbeat > 0 {
		t := time.NewTicker(s.heartbeat)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case f, ok := <-frames:
			if !ok {
				return
			}
			if err := writeSSE(w, f); err != nil {
				s.logger.Debug("sse client gone", slog.String("error", err.Error()))
				return
			}
			flusher.Flush()
		case <-tick:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// ServeEvents streams the lifecycle events of sub as server-sent events
// until the client goes away or the subscriber is closed.
func (s *Streamer) ServeEvents(w http.ResponseWriter, r *http.Request, sub *Subscriber) {
	flusher, ok := beginSSE(w)
	if !ok {
		return
	}

	var tick <-chan time.Time
	if s.heartbeat > 0 {
		t := time.NewTicker(s.heartbeat)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-sub.C():
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			if err := writeSSE(w, Frame{Event: string(evt.Type), Data: data}); err != nil {
				return
			}
			flusher.Flush()
		case <-tick:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func beginSSE(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return flusher, true
}

func writeSSE(w io.Writer, f Frame) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", f.Event, f.Data)
	return err
}

// ServeWebSocket upgrades the request and streams src as JSON text frames
// until the output closes or the client disconnects.
func (s *Streamer) ServeWebSocket(w http.ResponseWriter, r *http.Request, src Source, viewer string) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	defer watch(src, viewer)()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	// The reader only exists to notice the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := wsutil.ReadClientData(conn); err != nil {
				return
			}
		}
	}()

	for f := range s.Frames(ctx, src) {
		data, err := json.Marshal(f)
		if err != nil {
			continue
		}
		if err := wsutil.WriteServerText(conn, data); err != nil {
			s.logger.Debug("websocket client gone", slog.String("error", err.Error()))
			return
		}
	}
	_ = ws.WriteFrame(conn, ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "")))
}
