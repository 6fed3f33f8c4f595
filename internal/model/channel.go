package model

import "strings"

type Channel string

const (
	ChannelWeb      Channel = "web"
	ChannelTelegram Channel = "telegram"
	ChannelDiscord  Channel = "discord"
)

func (c Channel) String() string { return string(c) }

func (c Channel) Valid() bool {
	return c == ChannelWeb || c == ChannelTelegram || c == ChannelDiscord
}

// ParseChannel normalizes input. Returns (value, true) if valid;
// otherwise (web, false).
func ParseChannel(s string) (Channel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "web":
		return ChannelWeb, true
	case "telegram":
		return ChannelTelegram, true
	case "discord":
		return ChannelDiscord, true
	default:
		return ChannelWeb, false
	}
}
