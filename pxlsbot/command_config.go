package pxlsbot

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

func configCommand() *Command {
	return &Command{
		ID:          "config",
		Name:        "Configure",
		Category:    "Utility",
		Description: "Configures bot settings for the guild.",
		Usage:       "config [get (key) | set (key) (value)]",
		Aliases:     []string{"config", "configure"},
		ServerOnly:  true,
		Permissions: discordgo.PermissionManageServer,
		Execute:     executeConfig,
	}
}

func executeConfig(
	ctx context.Context,
	b *Bot,
	m *discordgo.MessageCreate,
	argument string,
) error {
	session := b.discord.session

	setting, created, err := b.writeDB.EnsureGuildSetting(ctx, m.GuildID)
	if err != nil {
		_, _ = session.ChannelMessageSend(
			m.ChannelID,
			"Could not create config entry. Details have been logged.",
		)
		return fmt.Errorf("error ensuring guild settings: %w", err)
	}
	if created {
		_, _ = session.ChannelMessageSend(
			m.ChannelID,
			"Default configuration has been generated.",
		)
	}

	args := strings.Fields(argument)
	if len(args) == 0 {
		// (prefix)config — show everything
		var lines []string
		for _, key := range settingKeys {
			lines = append(lines, fmt.Sprintf(
				"%s : %s",
				key,
				formatSetting(setting, key, b.config.Prefix),
			))
		}
		_, err = session.ChannelMessageSendEmbed(m.ChannelID, &discordgo.MessageEmbed{
			Color:       colorSkyBlue,
			Description: strings.Join(lines, "\n"),
		})
		return err
	}

	action := strings.ToLower(args[0])
	switch action {
	case "get":
		if len(args) < 2 {
			_, err = session.ChannelMessageSend(
				m.ChannelID,
				"You must specify a config key.",
			)
			return err
		}
		key := strings.ToLower(args[1])
		if !isValidSettingKey(key) {
			_, err = session.ChannelMessageSend(
				m.ChannelID,
				"The specified config key is not on the column whitelist.",
			)
			return err
		}
		_, err = session.ChannelMessageSendEmbed(m.ChannelID, &discordgo.MessageEmbed{
			Color: colorSkyBlue,
			Description: fmt.Sprintf(
				"%s : %s",
				key,
				formatSetting(setting, key, b.config.Prefix),
			),
		})
		return err
	case "set":
		if len(args) < 2 {
			_, err = session.ChannelMessageSend(
				m.ChannelID,
				"You must specify a config key.",
			)
			return err
		}
		key := strings.ToLower(args[1])
		if !isValidSettingKey(key) {
			_, err = session.ChannelMessageSend(
				m.ChannelID,
				"The specified config key is not on the column whitelist.",
			)
			return err
		}
		if len(args) < 3 {
			_, err = session.ChannelMessageSend(
				m.ChannelID,
				"You must specify a value.",
			)
			return err
		}
		rendered, err := b.applySetting(setting, key, args[2])
		if err != nil {
			_, sendErr := session.ChannelMessageSend(
				m.ChannelID,
				fmt.Sprintf("The specified value is invalid: %s.", err),
			)
			return sendErr
		}
		if err := b.writeDB.InsertAuditLog(ctx, &AuditLog{
			GuildID:   m.GuildID,
			UserID:    m.Author.ID,
			CommandID: "config",
			Message:   m.Content,
		}); err != nil {
			b.logger.Error("error inserting audit log entry", tint.Err(err))
		}
		if err := b.writeDB.SaveGuildSetting(ctx, setting); err != nil {
			_, _ = session.ChannelMessageSend(
				m.ChannelID,
				"Could not set config key. Details have been logged.",
			)
			return fmt.Errorf("error saving guild settings: %w", err)
		}
		_, err = session.ChannelMessageSendEmbed(m.ChannelID, &discordgo.MessageEmbed{
			Color: colorGreen,
			Description: fmt.Sprintf(
				"Config key `%s` has been set to %s.",
				key,
				rendered,
			),
		})
		return err
	default:
		_, err = session.ChannelMessageSend(
			m.ChannelID,
			fmt.Sprintf("Unknown subcommand `%s`.", action),
		)
		return err
	}
}
