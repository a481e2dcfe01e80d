// Defines upload progress reporting interfaces and implementations.

package ingest

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/unheard/unheard/internal/contextfile"
)

// Observer receives upload progress, in order. Delivery is best effort: an
// upload's outcome never depends on it.
type Observer interface {
	OnParsing(percent int)
	OnCopying(percent int)
	OnCommitting(percent int)
	OnComplete(rec *contextfile.Record)
	OnError(msg string)
}

// EventType tags an Event.
type EventType string

// Upload event types.
const (
	EventParsing    EventType = "parsing"
	EventCopying    EventType = "copying"
	EventCommitting EventType = "committing"
	EventComplete   EventType = "complete"
	EventError      EventType = "error"
)

// Event is a progress update for channel-based reporting.
type Event struct {
	Type    EventType           `json:"type"`
	Percent int                 `json:"percent,omitempty"`
	Record  *contextfile.Record `json:"record,omitempty"`
	Message string              `json:"message,omitempty"`
}

// ChannelObserver sends events on a channel without blocking. Events that do
// not fit are dropped; those that are sent keep their order.
//
// The channel must stay open until the upload returns.
type ChannelObserver struct {
	Events chan<- Event
}

// NewChannelObserver creates a channel-based observer.
func NewChannelObserver(events chan<- Event) *ChannelObserver {
	return &ChannelObserver{Events: events}
}

func (o *ChannelObserver) send(e Event) {
	select {
	case o.Events <- e:
	default:
		slog.Debug("ingest: progress event dropped", "type", e.Type)
	}
}

// OnParsing implements Observer.
func (o *ChannelObserver) OnParsing(percent int) {
	o.send(Event{Type: EventParsing, Percent: percent})
}

// OnCopying implements Observer.
func (o *ChannelObserver) OnCopying(percent int) {
	o.send(Event{Type: EventCopying, Percent: percent})
}

// OnCommitting implements Observer.
func (o *ChannelObserver) OnCommitting(percent int) {
	o.send(Event{Type: EventCommitting, Percent: percent})
}

// OnComplete implements Observer.
func (o *ChannelObserver) OnComplete(rec *contextfile.Record) {
	o.send(Event{Type: EventComplete, Percent: 100, Record: rec})
}

// OnError implements Observer.
func (o *ChannelObserver) OnError(msg string) {
	o.send(Event{Type: EventError, Message: msg})
}

// CLIObserver writes progress to a terminal.
type CLIObserver struct {
	Out io.Writer
	Err io.Writer
}

// OnParsing implements Observer.
func (p *CLIObserver) OnParsing(percent int) {
	_, _ = fmt.Fprintf(p.Out, "[%3d%%] parsing\n", percent)
}

// OnCopying implements Observer.
func (p *CLIObserver) OnCopying(percent int) {
	_, _ = fmt.Fprintf(p.Out, "[%3d%%] copying\n", percent)
}

// OnCommitting implements Observer.
func (p *CLIObserver) OnCommitting(percent int) {
	_, _ = fmt.Fprintf(p.Out, "[%3d%%] committing\n", percent)
}

// OnComplete implements Observer.
func (p *CLIObserver) OnComplete(rec *contextfile.Record) {
	_, _ = fmt.Fprintf(p.Out, "[100%%] stored %s (%s, %d bytes)\n", rec.RelativePath, rec.FileType, rec.Size)
}

// OnError implements Observer.
func (p *CLIObserver) OnError(msg string) {
	_, _ = fmt.Fprintf(p.Err, "Error: %s\n", msg)
}

// NullObserver discards all progress.
type NullObserver struct{}

// OnParsing implements Observer.
func (NullObserver) OnParsing(int) {}

// OnCopying implements Observer.
func (NullObserver) OnCopying(int) {}

// OnCommitting implements Observer.
func (NullObserver) OnCommitting(int) {}

// OnComplete implements Observer.
func (NullObserver) OnComplete(*contextfile.Record) {}

// OnError implements Observer.
func (NullObserver) OnError(string) {}
