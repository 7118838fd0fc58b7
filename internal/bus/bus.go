// Package bus implements the named-channel publish/subscribe contract shared
// by all agents. Delivery is fire-and-forget: a message reaches the
// subscribers listening at publish time, nothing is persisted or replayed,
// and a subscriber that falls behind loses messages instead of slowing the
// publisher down.
package bus

import (
	"context"
	"time"

	xerrors "Fluxo/internal/errors"
)

// Channel names used by the agent pipeline.
const (
	ChannelMacro          = "macro_data_channel"
	ChannelOnchain        = "onchain_transfer_channel"
	ChannelPortfolio      = "portfolio_channel"
	ChannelMacroProcessed = "macro_processed_channel"
	ChannelWhaleWatch     = "whale_watch_channel"
	ChannelFinalPortfolio = "final_portfolio_channel"
)

// Channels lists every channel of the pipeline.
func Channels() []string {
	return []string{ChannelMacro, ChannelOnchain, ChannelPortfolio, ChannelMacroProcessed, ChannelWhaleWatch, ChannelFinalPortfolio}
}

// Known reports whether channel is one of Channels.
func Known(channel string) bool {
	for _, c := range Channels() {
		if c == channel {
			return true
		}
	}
	return false
}

// Kind distinguishes payload frames from subscription bookkeeping frames.
type Kind string

const (
	KindData    Kind = "data"
	KindControl Kind = "control"
)

// Message is a frame received from a subscription. It only exists in transit.
type Message struct {
	Channel    string
	Payload    []byte
	Kind       Kind
	ReceivedAt time.Time
}

// IsData reports whether the frame carries a published payload.
func (m Message) IsData() bool { return m.Kind == KindData }

// Publisher delivers payloads to the current subscribers of a channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Subscription is a live, non-restartable feed of one channel. Messages is
// closed after Close is called or the subscribing context ends.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Subscriber opens subscriptions.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Bus combines both sides of the contract.
type Bus interface {
	Publisher
	Subscriber
	Close() error
}

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = xerrors.New(xerrors.CodeBusFailure, "bus closed", xerrors.WithRetryable(false))

const defaultBuffer = 128
