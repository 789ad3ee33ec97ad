package messaging

import (
	"context"
	"fmt"

	"github.com/wolfman30/clinic-automation/internal/automation"
)

// ChannelRouter picks the sender registered for a message's channel.
type ChannelRouter struct {
	senders map[automation.Channel]automation.MessageSender
}

// NewChannelRouter creates an empty router.
func NewChannelRouter() *ChannelRouter {
	return &ChannelRouter{senders: make(map[automation.Channel]automation.MessageSender)}
}

// Handle registers sender for channel. A nil sender is ignored.
func (r *ChannelRouter) Handle(channel automation.Channel, sender automation.MessageSender) *ChannelRouter {
	if sender != nil {
		r.senders[channel] = sender
	}
	return r
}

// Channels lists configured channels.
func (r *ChannelRouter) Channels() []automation.Channel {
	out := make([]automation.Channel, 0, len(r.senders))
	for _, c := range []automation.Channel{automation.ChannelSMS, automation.ChannelWhatsApp, automation.ChannelEmail} {
		if _, ok := r.senders[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

var _ automation.MessageSender = (*ChannelRouter)(nil)

// Send delivers msg through its channel's sender. Empty channels go over SMS.
func (r *ChannelRouter) Send(ctx context.Context, msg automation.OutboundMessage) error {
	channel := msg.Channel
	if channel == "" {
		channel = automation.ChannelSMS
		msg.Channel = channel
	}
	sender, ok := r.senders[channel]
	if !ok {
		return fmt.Errorf("messaging: no sender configured for channel %s", channel)
	}
	return sender.Send(ctx, msg)
}
