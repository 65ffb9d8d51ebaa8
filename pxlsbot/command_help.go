package pxlsbot

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
)

func helpCommand() *Command {
	return &Command{
		ID:          "help",
		Name:        "Help",
		Category:    "Utility",
		Description: "Returns a list of commands, or if specified, information about a specific command.",
		Usage:       "help [command]",
		Aliases:     []string{"help", "?"},
		Execute:     executeHelp,
	}
}

func executeHelp(
	ctx context.Context,
	b *Bot,
	m *discordgo.MessageCreate,
	argument string,
) error {
	session := b.discord.session
	embed := &discordgo.MessageEmbed{Color: colorSkyBlue}

	if argument == "" {
		// group commands by category, keeping registration order
		var categories []string
		byCategory := map[string][]string{}
		for _, cmd := range b.commands.commands {
			if _, seen := byCategory[cmd.Category]; !seen {
				categories = append(categories, cmd.Category)
			}
			byCategory[cmd.Category] = append(byCategory[cmd.Category], cmd.Name)
		}
		for _, category := range categories {
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
				Name:  category,
				Value: strings.Join(byCategory[category], ", "),
			})
		}
		prefix := b.config.Prefix
		if m.GuildID != "" {
			prefix = b.guildPrefix(ctx, m.GuildID)
		}
		embed.Description = fmt.Sprintf(
			"For more information on a specific command, try `%shelp [command]`.",
			prefix,
		)
		_, err := session.ChannelMessageSendEmbed(m.ChannelID, embed)
		return err
	}

	cmd := b.commands.find(argument)
	if cmd == nil {
		_, err := session.ChannelMessageSend(
			m.ChannelID,
			fmt.Sprintf(
				"Could not find a command with the name or alias %q.",
				argument,
			),
		)
		return err
	}

	prefix := b.config.Prefix
	if m.GuildID != "" {
		prefix = b.guildPrefix(ctx, m.GuildID)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "**Description:** %s\n", cmd.Description)
	fmt.Fprintf(&sb, "**Usage:** `%s%s`\n", prefix, cmd.Usage)
	fmt.Fprintf(&sb, "**Aliases:** [ `%s` ]\n", strings.Join(cmd.Aliases, "` | `"))
	if cmd.Permissions != 0 {
		fmt.Fprintf(
			&sb,
			"**Required Permissions:** %d\n%s",
			cmd.Permissions,
			permissionNames(cmd.Permissions),
		)
	}
	embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
		Name:  cmd.Name,
		Value: sb.String(),
	})
	_, err := session.ChannelMessageSendEmbed(m.ChannelID, embed)
	return err
}

// permissionNames renders the named permission bits in mask, one per
// line.
func permissionNames(mask int64) string {
	named := []struct {
		bit  int64
		name string
	}{
		{discordgo.PermissionManageServer, "MANAGE_GUILD"},
		{discordgo.PermissionViewChannel, "VIEW_CHANNEL"},
		{discordgo.PermissionSendMessages, "SEND_MESSAGES"},
		{discordgo.PermissionReadMessageHistory, "READ_MESSAGE_HISTORY"},
		{discordgo.PermissionEmbedLinks, "EMBED_LINKS"},
	}
	var lines []string
	for _, p := range named {
		if mask&p.bit == p.bit {
			lines = append(lines, " - `"+p.name+"`")
		}
	}
	return strings.Join(lines, "\n")
}
