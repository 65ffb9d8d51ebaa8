package pxlsbot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Keys accepted by `config get` / `config set`.
const (
	settingKeyPrefix             = "prefix"
	settingKeyStarboardChannel   = "starboard_channel"
	settingKeyStarboardThreshold = "starboard_threshold"
)

var settingKeys = []string{
	settingKeyPrefix,
	settingKeyStarboardChannel,
	settingKeyStarboardThreshold,
}

// guildPrefix returns the command prefix for guildID: the guild's
// configured override, or the bot-wide default. Lookup errors fall back
// to the default so command handling never breaks on a database hiccup.
func (b *Bot) guildPrefix(ctx context.Context, guildID string) string {
	if guildID == "" {
		return b.config.Prefix
	}
	setting, err := b.writeDB.GetGuildSetting(ctx, guildID)
	if err != nil {
		b.logger.Error(
			"could not get guild prefix",
			"guild_id", guildID,
			"error", err,
		)
		return b.config.Prefix
	}
	if setting == nil || setting.Prefix == nil || *setting.Prefix == "" {
		return b.config.Prefix
	}
	return *setting.Prefix
}

// starboardChannelID returns the guild's configured starboard channel ID,
// or "" if the starboard is disabled for the guild.
func (b *Bot) starboardChannelID(ctx context.Context, guildID string) (
	string,
	error,
) {
	setting, err := b.writeDB.GetGuildSetting(ctx, guildID)
	if err != nil {
		return "", err
	}
	if setting == nil || setting.StarboardChannelID == nil {
		return "", nil
	}
	return *setting.StarboardChannelID, nil
}

// starboardThreshold returns the guild's reaction threshold, defaulting
// to DefaultStarboardThreshold when unset.
func (b *Bot) starboardThreshold(ctx context.Context, guildID string) (
	int,
	error,
) {
	setting, err := b.writeDB.GetGuildSetting(ctx, guildID)
	if err != nil {
		return 0, err
	}
	if setting == nil || setting.StarboardThreshold == nil {
		return DefaultStarboardThreshold, nil
	}
	return int(*setting.StarboardThreshold), nil
}

// applySetting validates the user-provided value for key and writes it
// into setting. Returns a human-readable rendering of the stored value.
func (b *Bot) applySetting(
	setting *GuildSetting,
	key string,
	value string,
) (string, error) {
	switch key {
	case settingKeyPrefix:
		if value == "" {
			return "", fmt.Errorf("prefix can't be empty")
		}
		if len(value) > 10 {
			return "", fmt.Errorf("prefix is too long")
		}
		setting.Prefix = &value
		return fmt.Sprintf("`%s`", value), nil
	case settingKeyStarboardChannel:
		if strings.EqualFold(value, "none") {
			setting.StarboardChannelID = nil
			return "<unset>", nil
		}
		channel, err := findGuildChannel(b.discord.session, setting.GuildID, value)
		if err != nil {
			return "", fmt.Errorf("channel not found")
		}
		if !isTextChannel(channel) {
			return "", fmt.Errorf("channel must be a text channel")
		}
		setting.StarboardChannelID = &channel.ID
		return fmt.Sprintf("<#%s>", channel.ID), nil
	case settingKeyStarboardThreshold:
		threshold, err := strconv.Atoi(value)
		if err != nil {
			return "", fmt.Errorf("not a number")
		}
		if threshold < MinStarboardThreshold {
			return "", fmt.Errorf("threshold is too small")
		}
		if threshold > MaxStarboardThreshold {
			return "", fmt.Errorf("threshold is too big")
		}
		v := int16(threshold)
		setting.StarboardThreshold = &v
		return strconv.Itoa(threshold), nil
	default:
		return "", fmt.Errorf("unknown setting %q", key)
	}
}

// formatSetting renders the current value of key for display.
func formatSetting(setting *GuildSetting, key string, defaultPrefix string) string {
	switch key {
	case settingKeyPrefix:
		if setting != nil && setting.Prefix != nil && *setting.Prefix != "" {
			return fmt.Sprintf("`%s`", *setting.Prefix)
		}
		return fmt.Sprintf("`%s` (default)", defaultPrefix)
	case settingKeyStarboardChannel:
		if setting != nil && setting.StarboardChannelID != nil {
			return fmt.Sprintf("<#%s>", *setting.StarboardChannelID)
		}
		return "<unset>"
	case settingKeyStarboardThreshold:
		if setting != nil && setting.StarboardThreshold != nil {
			return strconv.Itoa(int(*setting.StarboardThreshold))
		}
		return fmt.Sprintf("%d (default)", DefaultStarboardThreshold)
	default:
		return "<unknown>"
	}
}

func isValidSettingKey(key string) bool {
	for _, k := range settingKeys {
		if k == key {
			return true
		}
	}
	return false
}
