package pxlsbot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

// auditLogPageLimit caps how many characters of formatted entries go
// into a single embed description.
const auditLogPageLimit = 2048

func auditLogCommand() *Command {
	return &Command{
		ID:          "auditlog",
		Name:        "Audit Log",
		Category:    "Utility",
		Description: "Display actions taken with the bot.",
		Usage:       "auditlog [id]",
		Aliases:     []string{"al", "audit", "auditlog", "auditlogs"},
		ServerOnly:  true,
		Permissions: discordgo.PermissionManageServer,
		Execute:     executeAuditLog,
	}
}

func executeAuditLog(
	ctx context.Context,
	b *Bot,
	m *discordgo.MessageCreate,
	argument string,
) error {
	session := b.discord.session

	if argument == "" {
		entries, err := b.writeDB.GuildAuditLogs(ctx, m.GuildID)
		if err != nil {
			_, _ = session.ChannelMessageSend(
				m.ChannelID,
				"Could not display audit log. Details have been logged.",
			)
			return fmt.Errorf("error loading audit log: %w", err)
		}
		if len(entries) == 0 {
			_, err = session.ChannelMessageSend(
				m.ChannelID,
				"This server has no audit log entries.",
			)
			return err
		}

		lines := make([]string, 0, len(entries))
		for _, entry := range entries {
			lines = append(lines, formatAuditLogEntry(b, entry))
		}
		for _, page := range chunkLines(lines, auditLogPageLimit) {
			if _, err := session.ChannelMessageSendEmbed(
				m.ChannelID,
				&discordgo.MessageEmbed{
					Color:       colorSkyBlue,
					Description: strings.Join(page, "\n"),
				},
			); err != nil {
				return err
			}
		}
		return nil
	}

	id, err := strconv.ParseUint(argument, 10, 64)
	if err != nil {
		_, err = session.ChannelMessageSend(
			m.ChannelID,
			"You must specify a valid audit log ID - not a number.",
		)
		return err
	}
	entry, err := b.writeDB.GetAuditLog(ctx, m.GuildID, uint(id))
	if err != nil {
		_, _ = session.ChannelMessageSend(
			m.ChannelID,
			fmt.Sprintf("Could not search for audit log by ID `%d`.", id),
		)
		return fmt.Errorf("error loading audit log entry %d: %w", id, err)
	}
	if entry == nil {
		_, err = session.ChannelMessageSend(
			m.ChannelID,
			fmt.Sprintf("Could not find audit log by ID `%d`.", id),
		)
		return err
	}

	embed := &discordgo.MessageEmbed{
		Color:     colorSkyBlue,
		Title:     fmt.Sprintf("Audit Log #%d", entry.ID),
		Timestamp: time.UnixMilli(entry.CreatedAt).UTC().Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{
				Name:  "Command",
				Value: fmt.Sprintf("`%s`", entry.CommandID),
			},
			{
				Name: "Message Text",
				Value: ellipsis(
					"```\n"+entry.Message+"```",
					embedFieldValueLimit,
					" ...",
				),
			},
		},
	}
	if member, memberErr := session.GuildMember(
		m.GuildID,
		entry.UserID,
	); memberErr == nil && member.User != nil {
		embed.Author = &discordgo.MessageEmbedAuthor{
			Name: fmt.Sprintf(
				"%s (%s)",
				member.User.String(),
				member.User.ID,
			),
			IconURL: member.User.AvatarURL(""),
		}
	}
	_, err = session.ChannelMessageSendEmbed(m.ChannelID, embed)
	return err
}

// formatAuditLogEntry renders one audit log row for the list view.
func formatAuditLogEntry(b *Bot, entry AuditLog) string {
	userTag := entry.UserID
	if member, err := b.discord.session.GuildMember(
		entry.GuildID,
		entry.UserID,
	); err == nil && member.User != nil {
		userTag = member.User.String()
	}
	timestamp := time.UnixMilli(entry.CreatedAt).UTC().Format(time.DateTime)
	return fmt.Sprintf(
		"__**Audit Log #%d:**__ `%s`\n**Time:** %s\n**User:** %s\n(%s)",
		entry.ID,
		entry.CommandID,
		timestamp,
		userTag,
		entry.UserID,
	)
}
