package stream

import "github.com/zendesk/samson-sub001/output"

type replay struct {
	buf     *output.Buffer
	viewers *Viewers
	closed  chan struct{}
}

// Replay returns a Source for a job that is no longer running: its persisted
// output followed by a finished event carrying status.
func Replay(text, status string) Source {
	buf := output.NewBuffer()
	if text != "" {
		_, _ = buf.WriteString(text)
	}
	_ = buf.Emit(output.EventFinished, status)
	buf.Close()

	closed := make(chan struct{})
	close(closed)
	return &replay{buf: buf, viewers: NewViewers(), closed: closed}
}

func (r *replay) Output() *output.Buffer   { return r.buf }
func (r *replay) Viewers() *Viewers        { return r.viewers }
func (r *replay) Started() <-chan struct{} { return r.closed }
func (r *replay) Done() <-chan struct{}    { return r.closed }
