package pxlsbot

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

func pingCommand() *Command {
	return &Command{
		ID:          "ping",
		Name:        "Ping",
		Category:    "Utility",
		Description: "Returns the ping to Discord.",
		Usage:       "ping",
		Aliases:     []string{"ping"},
		Execute:     executePing,
	}
}

func executePing(
	_ context.Context,
	b *Bot,
	m *discordgo.MessageCreate,
	_ string,
) error {
	latency := b.discord.session.HeartbeatLatency()
	embed := &discordgo.MessageEmbed{
		Description: fmt.Sprintf(
			"**Average Ping:** %dms",
			latency.Milliseconds(),
		),
		Color: lerpColor(
			float64(latency.Milliseconds())/1000,
			colorGreen,
			colorRed,
		),
	}
	_, err := b.discord.session.ChannelMessageSendEmbed(m.ChannelID, embed)
	return err
}
