package signal

import "encoding/json"

// Event is the wire envelope. Seq numbers every room-facing event so a
// resuming client can name the last one it saw.
type Event struct {
	Seq  uint64          `json:"seq,omitempty"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// backlog is a bounded ring of recently sent events kept per
// connection for the reconnection grace window. Once full, the oldest
// event is overwritten; a client that fell further behind than the
// ring holds must re-run admission anyway.
type backlog struct {
	items []Event
	start int
	count int
}

func newBacklog(capacity int) *backlog {
	if capacity <= 0 {
		capacity = 1
	}
	return &backlog{items: make([]Event, capacity)}
}

func (b *backlog) add(e Event) {
	if b.count < len(b.items) {
		b.items[(b.start+b.count)%len(b.items)] = e
		b.count++
		return
	}
	b.items[b.start] = e
	b.start = (b.start + 1) % len(b.items)
}

// since returns, in order, every retained event with Seq > seq.
func (b *backlog) since(seq uint64) []Event {
	out := make([]Event, 0, b.count)
	for i := 0; i < b.count; i++ {
		e := b.items[(b.start+i)%len(b.items)]
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}
