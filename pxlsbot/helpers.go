package pxlsbot

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
)

var structValidator = validator.New()

func init() {
	structValidator.SetTagName("binding")
}

const (
	// snowflakeMaxLength is the maximum number of digits in a Discord
	// snowflake ID (also the column width used for persisted IDs).
	snowflakeMaxLength = 20

	// defaultEllipsisSuffix is appended when a string is shortened
	// to fit an embed limit.
	defaultEllipsisSuffix = "…"
)

var (
	userMentionRegex    = regexp.MustCompile(`^<@(!?)(\d+)>$`)
	channelMentionRegex = regexp.MustCompile(`^<#(\d+)>$`)
)

// ellipsis shortens s to at most maxLength characters (runes). If s is
// too long, it is cut short by exactly enough characters to fit suffix,
// then suffix is appended, so the result is always exactly maxLength
// characters long when truncation occurs.
//
// Ex: ellipsis("abcdefg", 4, "…") == "abc…"
func ellipsis(s string, maxLength int, suffix string) string {
	runes := []rune(s)
	if len(runes) <= maxLength {
		return s
	}
	suffixRunes := []rune(suffix)
	if maxLength <= len(suffixRunes) {
		return string(suffixRunes[:maxLength])
	}
	return string(runes[:maxLength-len(suffixRunes)]) + suffix
}

// isSnowflake reports whether input looks like a Discord snowflake ID.
func isSnowflake(input string) bool {
	if input == "" || len(input) > snowflakeMaxLength {
		return false
	}
	_, err := strconv.ParseUint(input, 10, 64)
	return err == nil
}

// resolveChannelID extracts a channel ID from a raw snowflake or a
// channel mention ("<#123>"). Returns "" if input is neither.
func resolveChannelID(input string) string {
	if isSnowflake(input) {
		return input
	}
	if m := channelMentionRegex.FindStringSubmatch(input); m != nil {
		return m[1]
	}
	return ""
}

// resolveUserID extracts a user ID from a raw snowflake or a user
// mention ("<@123>" / "<@!123>"). Returns "" if input is neither.
func resolveUserID(input string) string {
	if isSnowflake(input) {
		return input
	}
	if m := userMentionRegex.FindStringSubmatch(input); m != nil {
		return m[2]
	}
	return ""
}

// findGuildChannel resolves a guild channel from user input: an ID, a
// channel mention, or a channel name (case-insensitive).
func findGuildChannel(
	session DiscordSessionHandler,
	guildID string,
	input string,
) (*discordgo.Channel, error) {
	if id := resolveChannelID(input); id != "" {
		ch, err := session.Channel(id)
		if err != nil {
			return nil, err
		}
		if ch.GuildID != guildID {
			return nil, fmt.Errorf("channel %s is not in guild %s", id, guildID)
		}
		return ch, nil
	}
	channels, err := session.GuildChannels(guildID)
	if err != nil {
		return nil, err
	}
	name := strings.ToLower(strings.TrimPrefix(input, "#"))
	for _, ch := range channels {
		if strings.ToLower(ch.Name) == name {
			return ch, nil
		}
	}
	return nil, fmt.Errorf("no channel named %q in guild %s", input, guildID)
}

// chunkLines groups lines into chunks whose joined length stays at or
// below limit, preserving order. A single line longer than limit gets
// its own chunk.
func chunkLines(lines []string, limit int) [][]string {
	chunks := [][]string{{}}
	size := 0
	for _, line := range lines {
		lineLen := len([]rune(line)) + 1 // trailing newline
		if size+lineLen > limit && len(chunks[len(chunks)-1]) > 0 {
			chunks = append(chunks, []string{})
			size = 0
		}
		chunks[len(chunks)-1] = append(chunks[len(chunks)-1], line)
		size += lineLen
	}
	return chunks
}

// lerpColor interpolates between two RGB colors. x is clamped to [0, 1].
func lerpColor(x float64, from int, to int) int {
	if x < 0 {
		x = 0
	}
	if x > 1 {
		x = 1
	}
	fr, fg, fb := (from>>16)&0xff, (from>>8)&0xff, from&0xff
	tr, tg, tb := (to>>16)&0xff, (to>>8)&0xff, to&0xff
	r := fr + int(float64(tr-fr)*x)
	g := fg + int(float64(tg-fg)*x)
	b := fb + int(float64(tb-fb)*x)
	return (r << 16) | (g << 8) | b
}

// memberDisplayColor returns the color of the member's highest-positioned
// colored role, or 0 if the member has no colored role or can't be
// resolved.
func memberDisplayColor(
	session DiscordSessionHandler,
	guildID string,
	userID string,
) int {
	member, err := session.GuildMember(guildID, userID)
	if err != nil {
		return 0
	}
	guild, err := session.Guild(guildID)
	if err != nil {
		return 0
	}
	roleByID := make(map[string]*discordgo.Role, len(guild.Roles))
	for _, role := range guild.Roles {
		roleByID[role.ID] = role
	}
	color := 0
	position := -1
	for _, roleID := range member.Roles {
		role, ok := roleByID[roleID]
		if !ok || role.Color == 0 {
			continue
		}
		if role.Position > position {
			color = role.Color
			position = role.Position
		}
	}
	return color
}

// messageLink returns the canonical web URL for a guild message.
func messageLink(guildID, channelID, messageID string) string {
	return fmt.Sprintf(
		"https://discord.com/channels/%s/%s/%s",
		guildID, channelID, messageID,
	)
}
