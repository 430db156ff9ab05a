package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/zendesk/samson-sub001/api"
	"github.com/zendesk/samson-sub001/stream"
)

// WatchJob follows the output of a job over a WebSocket. The client user
// is shown as a viewer while watching. The channel is closed after the
// finished frame, when the server goes away or when ctx is done.
func (c *Client) WatchJob(ctx context.Context, jobID string) (<-chan stream.Frame, error) {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/jobs/" + url.PathEscape(jobID) + "/ws"

	dialer := ws.Dialer{}
	if c.user != "" {
		dialer.Header = ws.HandshakeHeaderHTTP(http.Header{api.UserHeader: []string{c.user}})
	}
	conn, br, _, err := dialer.Dial(ctx, wsURL)
	if err != nil {
		return nil, fmt.Errorf("samson/client: watch %s: %w", jobID, err)
	}

	// Frames sent right after the handshake may already sit in br.
	var rw io.ReadWriter = conn
	if br != nil {
		rw = struct {
			io.Reader
			io.Writer
		}{br, conn}
	}

	ch := make(chan stream.Frame, 64)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	go func() {
		defer close(ch)
		defer close(done)
		defer conn.Close()
		for {
			data, err := wsutil.ReadServerText(rw)
			if err != nil {
				var closed wsutil.ClosedError
				if !errors.As(err, &closed) && ctx.Err() == nil {
					c.logger.Warn("samson watch read error",
						slog.String("job_id", jobID),
						slog.String("error", err.Error()),
					)
				}
				return
			}
			var f stream.Frame
			if err := json.Unmarshal(data, &f); err != nil {
				c.logger.Warn("samson watch: invalid frame", slog.String("error", err.Error()))
				continue
			}
			select {
			case ch <- f:
			case <-ctx.Done():
				return
			}
			if f.Event == "finished" {
				_ = ws.WriteFrame(conn, ws.MaskFrameInPlace(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))))
				return
			}
		}
	}()
	return ch, nil
}
