package agent

import (
	"context"
	"fmt"
)

// Protocol is the single contract every backend variant implements:
// one prompt in, one normalized Result out. A deployment configures
// exactly one variant as authoritative; the three shapes observed in
// the wild never coexist behind one endpoint.
type Protocol interface {
	// Name identifies the variant ("complete", "batch", "stream").
	Name() string

	// Ask sends the prompt and returns the normalized result.
	Ask(ctx context.Context, prompt string) (*Result, error)
}

// eventStreamer is implemented by variants able to deliver the raw
// normalized event sequence while it arrives. The stream proxy
// endpoint prefers this; other variants get their batch result
// synthesized into events.
type eventStreamer interface {
	Stream(ctx context.Context, prompt string, fn func(Event) error) (*Result, error)
}

// NewProtocol builds the configured protocol variant.
func NewProtocol(variant string, backend *Backend) (Protocol, error) {
	switch variant {
	case "", "complete":
		return newCompleteProtocol(backend)
	case "batch":
		return newBatchProtocol(backend)
	case "stream":
		return newStreamProtocol(backend)
	default:
		return nil, fmt.Errorf("unknown agent variant %q", variant)
	}
}
