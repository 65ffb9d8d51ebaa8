package pxlsbot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func testBot(t testing.TB) (*Bot, *mockDiscordSession) {
	t.Helper()
	cfg := DefaultConfig()
	b := &Bot{
		config:  cfg,
		logger:  slog.Default().With("test", t.Name()),
		writeDB: testDBI(t),
	}
	b.discord = &Discord{
		config: cfg.Discord,
		logger: b.logger,
		bot:    b,
	}
	session := newMockSession()
	b.discord.session = session
	b.starboard = newStarboard(b)
	b.commands = newCommandRegistry(b.logger)
	b.registerCommands()
	return b, session
}

// starboardFixture wires up a guild with a source channel, a board
// channel, and a starred source message.
func starboardFixture(
	t testing.TB,
	b *Bot,
	session *mockDiscordSession,
	stars int,
	threshold int16,
) reactionEvent {
	t.Helper()
	ctx := context.Background()

	session.addChannel(
		&discordgo.Channel{
			ID:      "chan1",
			GuildID: "guild1",
			Name:    "general",
			Type:    discordgo.ChannelTypeGuildText,
		},
	)
	session.addChannel(
		&discordgo.Channel{
			ID:      "board1",
			GuildID: "guild1",
			Name:    "starboard",
			Type:    discordgo.ChannelTypeGuildText,
		},
	)
	session.addMessage(sourceMessage(stars))

	setting, _, err := b.writeDB.EnsureGuildSetting(ctx, "guild1")
	require.NoError(t, err)
	boardID := "board1"
	setting.StarboardChannelID = &boardID
	setting.StarboardThreshold = &threshold
	require.NoError(t, b.writeDB.SaveGuildSetting(ctx, setting))

	return reactionEvent{
		Kind:      reactionAdded,
		GuildID:   "guild1",
		ChannelID: "chan1",
		MessageID: "msg1",
		EmojiName: starEmoji,
	}
}

func sourceMessage(stars int) *discordgo.Message {
	msg := &discordgo.Message{
		ID:        "msg1",
		ChannelID: "chan1",
		GuildID:   "guild1",
		Content:   "look at this pixel art",
		Timestamp: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		Author: &discordgo.User{
			ID:            "author1",
			Username:      "netux",
			Discriminator: "0001",
		},
	}
	if stars > 0 {
		msg.Reactions = []*discordgo.MessageReactions{
			{Count: stars, Emoji: &discordgo.Emoji{Name: starEmoji}},
		}
	}
	return msg
}

func TestStarboardThresholdBoundary(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b, session := testBot(t)

	ev := starboardFixture(t, b, session, 3, 4)

	// one below the threshold: nothing happens
	require.NoError(t, b.starboard.reconcile(ctx, ev))
	assert.Empty(t, session.sentEmbeds)

	mapping, err := b.writeDB.GetMapping(ctx, "guild1", "msg1")
	require.NoError(t, err)
	assert.Nil(t, mapping)

	// at the threshold: mirror sent, mapping written
	session.addMessage(sourceMessage(4))
	require.NoError(t, b.starboard.reconcile(ctx, ev))
	require.Len(t, session.sentEmbeds, 1)

	mapping, err = b.writeDB.GetMapping(ctx, "guild1", "msg1")
	require.NoError(t, err)
	require.NotNil(t, mapping)
	assert.True(t, strings.HasPrefix(mapping.BoardMessageID, "board-"))
}

func TestStarboardEditNotResend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b, session := testBot(t)

	ev := starboardFixture(t, b, session, 4, 4)
	require.NoError(t, b.starboard.reconcile(ctx, ev))
	require.Len(t, session.sentEmbeds, 1)

	// another star: the live mirror is edited, not re-sent
	session.addMessage(sourceMessage(5))
	require.NoError(t, b.starboard.reconcile(ctx, ev))
	assert.Len(t, session.sentEmbeds, 1)
	require.Len(t, session.editedEmbeds, 1)

	footer := session.editedEmbeds[0].Fields[len(session.editedEmbeds[0].Fields)-1]
	assert.Contains(t, footer.Value, "5")

	// unchanged count reconciles to another edit, never a duplicate send
	require.NoError(t, b.starboard.reconcile(ctx, ev))
	assert.Len(t, session.sentEmbeds, 1)
	assert.Len(t, session.editedEmbeds, 2)
}

func TestStarboardMirrorSurvivesBelowThreshold(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b, session := testBot(t)

	ev := starboardFixture(t, b, session, 4, 4)
	require.NoError(t, b.starboard.reconcile(ctx, ev))
	require.Len(t, session.sentEmbeds, 1)

	// dropping back below the threshold only edits; deletion happens at
	// zero, not at "below threshold"
	session.addMessage(sourceMessage(3))
	ev.Kind = reactionRemoved
	require.NoError(t, b.starboard.reconcile(ctx, ev))
	assert.Empty(t, session.deletedIDs)
	assert.Len(t, session.editedEmbeds, 1)

	mapping, err := b.writeDB.GetMapping(ctx, "guild1", "msg1")
	require.NoError(t, err)
	assert.NotNil(t, mapping)
}

func TestStarboardDeleteAtZero(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b, session := testBot(t)

	ev := starboardFixture(t, b, session, 4, 4)
	require.NoError(t, b.starboard.reconcile(ctx, ev))
	require.Len(t, session.sentEmbeds, 1)

	session.addMessage(sourceMessage(0))
	ev.Kind = reactionRemoved
	require.NoError(t, b.starboard.reconcile(ctx, ev))
	require.Len(t, session.deletedIDs, 1)

	mapping, err := b.writeDB.GetMapping(ctx, "guild1", "msg1")
	require.NoError(t, err)
	assert.Nil(t, mapping)
}

func TestStarboardBulkClear(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b, session := testBot(t)

	ev := starboardFixture(t, b, session, 4, 4)
	require.NoError(t, b.starboard.reconcile(ctx, ev))
	require.Len(t, session.sentEmbeds, 1)

	// a bulk clear tears down unconditionally, ignoring the count
	ev.Kind = reactionClearedAll
	require.NoError(t, b.starboard.reconcile(ctx, ev))
	assert.Len(t, session.deletedIDs, 1)

	mapping, err := b.writeDB.GetMapping(ctx, "guild1", "msg1")
	require.NoError(t, err)
	assert.Nil(t, mapping)

	// and again with nothing left to do
	require.NoError(t, b.starboard.reconcile(ctx, ev))
	assert.Len(t, session.deletedIDs, 1)
}

func TestStarboardIgnoresBoardChannelMessages(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b, session := testBot(t)

	ev := starboardFixture(t, b, session, 4, 4)
	ev.ChannelID = "board1"
	require.NoError(t, b.starboard.reconcile(ctx, ev))
	assert.Empty(t, session.sentEmbeds)
	assert.Empty(t, session.deletedIDs)
}

func TestStarboardDisabledGuild(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b, session := testBot(t)

	ev := starboardFixture(t, b, session, 4, 4)

	setting, err := b.writeDB.GetGuildSetting(ctx, "guild1")
	require.NoError(t, err)
	setting.StarboardChannelID = nil
	require.NoError(t, b.writeDB.SaveGuildSetting(ctx, setting))

	require.NoError(t, b.starboard.reconcile(ctx, ev))
	assert.Empty(t, session.sentEmbeds)
}

func TestStarboardInsufficientPermissions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b, session := testBot(t)

	ev := starboardFixture(t, b, session, 4, 4)
	session.permissions["board1"] = discordgo.PermissionViewChannel

	require.NoError(t, b.starboard.reconcile(ctx, ev))
	assert.Empty(t, session.sentEmbeds)
}

func TestStarboardRecreatesOutOfBandDeletedMirror(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b, session := testBot(t)

	ev := starboardFixture(t, b, session, 4, 4)
	require.NoError(t, b.starboard.reconcile(ctx, ev))
	require.Len(t, session.sentEmbeds, 1)

	mapping, err := b.writeDB.GetMapping(ctx, "guild1", "msg1")
	require.NoError(t, err)
	require.NotNil(t, mapping)
	firstBoardID := mapping.BoardMessageID

	// someone deletes the mirror by hand; the stale mapping row is
	// treated as "no mirror" and a new one is sent
	delete(session.messages, messageKey("board1", firstBoardID))

	require.NoError(t, b.starboard.reconcile(ctx, ev))
	require.Len(t, session.sentEmbeds, 2)

	mapping, err = b.writeDB.GetMapping(ctx, "guild1", "msg1")
	require.NoError(t, err)
	require.NotNil(t, mapping)
	assert.NotEqual(t, firstBoardID, mapping.BoardMessageID)
}

func TestStarboardSubmitFilters(t *testing.T) {
	t.Parallel()
	b, _ := testBot(t)

	b.starboard.submit(
		reactionEvent{
			Kind:      reactionAdded,
			GuildID:   "guild1",
			ChannelID: "chan1",
			MessageID: "msg1",
			EmojiName: "👍",
		},
	)
	assert.Zero(t, b.starboard.metricEventsSeen.Load())

	// direct messages carry no guild ID
	b.starboard.submit(
		reactionEvent{
			Kind:      reactionAdded,
			ChannelID: "chan1",
			MessageID: "msg1",
			EmojiName: starEmoji,
		},
	)
	assert.Zero(t, b.starboard.metricEventsSeen.Load())
}

func TestRenderBoardEmbed(t *testing.T) {
	t.Parallel()
	_, session := testBot(t)
	session.addChannel(
		&discordgo.Channel{
			ID:      "chan1",
			GuildID: "guild1",
			Name:    "general",
			Type:    discordgo.ChannelTypeGuildText,
		},
	)

	embed := renderBoardEmbed(session, sourceMessage(5), 5, starEmoji)

	assert.Equal(t, "#general", embed.Title)
	assert.Equal(t, "look at this pixel art", embed.Description)
	require.NotNil(t, embed.Author)
	assert.Equal(t, "netux#0001", embed.Author.Name)

	require.NotEmpty(t, embed.Fields)
	footer := embed.Fields[len(embed.Fields)-1]
	assert.Equal(t, zeroWidthSpace, footer.Name)
	assert.Equal(
		t,
		fmt.Sprintf(
			"\\%s 5 • [Link](https://discord.com/channels/guild1/chan1/msg1)",
			starEmoji,
		),
		footer.Value,
	)
}

func TestRenderBoardEmbedTruncation(t *testing.T) {
	t.Parallel()
	_, session := testBot(t)
	session.addChannel(
		&discordgo.Channel{
			ID:      "chan1",
			GuildID: "guild1",
			Name:    strings.Repeat("x", 300),
			Type:    discordgo.ChannelTypeGuildText,
		},
	)

	msg := sourceMessage(5)
	msg.Content = strings.Repeat("y", 3000)
	embed := renderBoardEmbed(session, msg, 5, starEmoji)

	assert.Len(t, []rune(embed.Title), embedTitleLimit)
	assert.Len(t, []rune(embed.Description), embedDescriptionLimit)
	assert.True(t, strings.HasSuffix(embed.Title, defaultEllipsisSuffix))
	assert.True(t, strings.HasSuffix(embed.Description, defaultEllipsisSuffix))
}

func TestRenderBoardEmbedMirroredFields(t *testing.T) {
	t.Parallel()
	_, session := testBot(t)
	session.addChannel(
		&discordgo.Channel{
			ID:      "chan1",
			GuildID: "guild1",
			Name:    "general",
			Type:    discordgo.ChannelTypeGuildText,
		},
	)

	msg := sourceMessage(5)
	for i := 0; i < 30; i++ {
		msg.Embeds = append(
			msg.Embeds, &discordgo.MessageEmbed{
				Title:       fmt.Sprintf("embed title %d", i),
				Description: "embed body",
			},
		)
	}
	embed := renderBoardEmbed(session, msg, 5, starEmoji)

	// at most embedMaxMirroredFields mirrored fields, plus the footer
	require.LessOrEqual(t, len(embed.Fields), embedMaxMirroredFields+1)
	assert.Equal(t, "Embed #1 - embed title 0", embed.Fields[0].Name)

	total := len([]rune(embed.Title)) +
		len([]rune(embed.Description)) +
		len([]rune(embed.Author.Name))
	for _, field := range embed.Fields {
		total += len([]rune(field.Name)) + len([]rune(field.Value))
	}
	assert.LessOrEqual(t, total, embedTotalLimit)
}

func TestRenderBoardEmbedEmptySourceEmbed(t *testing.T) {
	t.Parallel()
	_, session := testBot(t)
	session.addChannel(
		&discordgo.Channel{
			ID:      "chan1",
			GuildID: "guild1",
			Name:    "general",
			Type:    discordgo.ChannelTypeGuildText,
		},
	)

	msg := sourceMessage(5)
	msg.Embeds = []*discordgo.MessageEmbed{{}}
	embed := renderBoardEmbed(session, msg, 5, starEmoji)

	require.GreaterOrEqual(t, len(embed.Fields), 2)
	assert.Equal(t, "Embed", embed.Fields[0].Name)
	assert.Equal(t, "*<empty>*", embed.Fields[0].Value)
}

func TestRenderBoardEmbedProminentImage(t *testing.T) {
	t.Parallel()
	_, session := testBot(t)
	session.addChannel(
		&discordgo.Channel{
			ID:      "chan1",
			GuildID: "guild1",
			Name:    "general",
			Type:    discordgo.ChannelTypeGuildText,
		},
	)

	msg := sourceMessage(5)
	msg.Embeds = []*discordgo.MessageEmbed{
		{
			Image: &discordgo.MessageEmbedImage{
				ProxyURL: "https://proxy/embed.png",
				Width:    128,
			},
		},
	}
	embed := renderBoardEmbed(session, msg, 5, starEmoji)
	require.NotNil(t, embed.Image)
	assert.Equal(t, "https://proxy/embed.png", embed.Image.URL)

	// attachments win over embed images
	msg.Attachments = []*discordgo.MessageAttachment{
		{ProxyURL: "https://proxy/attachment.png"},
	}
	embed = renderBoardEmbed(session, msg, 5, starEmoji)
	require.NotNil(t, embed.Image)
	assert.Equal(t, "https://proxy/attachment.png", embed.Image.URL)
}

func TestStarCount(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0, starCount(sourceMessage(0), starEmoji))
	assert.Equal(t, 3, starCount(sourceMessage(3), starEmoji))

	msg := sourceMessage(0)
	msg.Reactions = []*discordgo.MessageReactions{
		{Count: 7, Emoji: &discordgo.Emoji{Name: "👍"}},
	}
	assert.Equal(t, 0, starCount(msg, starEmoji))
}

func TestStarboardLimiter(t *testing.T) {
	t.Parallel()
	b, _ := testBot(t)

	sb := newStarboard(b)
	assert.Equal(
		t,
		rate.Limit(DefaultStarboardMaxEventsPerSecond),
		sb.limiter.Limit(),
	)

	// 0 disables rate limiting entirely
	b.config.Starboard.MaxEventsPerSecond = 0
	sb = newStarboard(b)
	assert.Equal(t, rate.Inf, sb.limiter.Limit())
}

func TestRenderBoardEmbedBudgetWithLongFieldNames(t *testing.T) {
	t.Parallel()
	_, session := testBot(t)
	session.addChannel(
		&discordgo.Channel{
			ID:      "chan1",
			GuildID: "guild1",
			Name:    strings.Repeat("x", 300),
			Type:    discordgo.ChannelTypeGuildText,
		},
	)

	// title, description and the first four fields leave less budget
	// than the fifth field's 256-rune name needs, so that field must be
	// dropped entirely rather than squeezed past the total limit
	msg := sourceMessage(5)
	msg.Content = strings.Repeat("y", 3000)
	for i := 0; i < 3; i++ {
		msg.Embeds = append(msg.Embeds, &discordgo.MessageEmbed{
			Description: strings.Repeat("z", 2000),
		})
	}
	msg.Embeds = append(msg.Embeds, &discordgo.MessageEmbed{
		Description: strings.Repeat("z", 400),
	})
	msg.Embeds = append(msg.Embeds, &discordgo.MessageEmbed{
		Title:       strings.Repeat("w", 300),
		Description: "short desc",
	})

	embed := renderBoardEmbed(session, msg, 5, starEmoji)

	require.Len(t, embed.Fields, 5)
	assert.Equal(t, zeroWidthSpace, embed.Fields[4].Name)
	for _, field := range embed.Fields[:4] {
		assert.NotContains(t, field.Name, "w")
	}

	total := len([]rune(embed.Title)) +
		len([]rune(embed.Description)) +
		len([]rune(embed.Author.Name))
	for _, field := range embed.Fields {
		total += len([]rune(field.Name)) + len([]rune(field.Value))
	}
	assert.LessOrEqual(t, total, embedTotalLimit)
}
