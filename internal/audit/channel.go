package audit

import "context"

// ChannelSink hands entries to a Worker through a buffered channel. When
// the buffer is full it appends synchronously through the overflow sink
// instead of blocking or dropping: the trail stays complete either way.
type ChannelSink struct {
	inbox    chan<- Entry
	overflow Sink
}

// NewChannelSink pairs an inbox with an overflow sink.
func NewChannelSink(inbox chan<- Entry, overflow Sink) *ChannelSink {
	return &ChannelSink{inbox: inbox, overflow: overflow}
}

func (s *ChannelSink) Append(ctx context.Context, entry Entry) error {
	select {
	case s.inbox <- entry:
		return nil
	default:
		return s.overflow.Append(ctx, entry)
	}
}
