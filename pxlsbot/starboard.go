package pxlsbot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
)

const (
	starEmoji      = "⭐"
	zeroWidthSpace = "​"

	// Permissions the bot needs in the starboard channel before it will
	// mirror anything into it.
	starboardPermissions = discordgo.PermissionViewChannel |
		discordgo.PermissionSendMessages |
		discordgo.PermissionReadMessageHistory |
		discordgo.PermissionEmbedLinks

	// Gateway event type for per-emoji reaction clears, which discordgo
	// doesn't expose as a typed event.
	eventTypeReactionRemoveEmoji = "MESSAGE_REACTION_REMOVE_EMOJI"
)

type reactionEventKind string

const (
	reactionAdded        reactionEventKind = "added"
	reactionRemoved      reactionEventKind = "removed"
	reactionClearedAll   reactionEventKind = "cleared_all"
	reactionClearedEmoji reactionEventKind = "cleared_emoji"
)

// reactionEvent is the normalized form of the four gateway reaction
// events the starboard cares about. Counts are never taken from the
// event payload; the reconciler re-fetches the source message.
type reactionEvent struct {
	Kind      reactionEventKind
	GuildID   string
	ChannelID string
	MessageID string
	EmojiName string
}

// bulk reports whether the event clears reactions wholesale, skipping
// the count-based decision table.
func (e reactionEvent) bulk() bool {
	return e.Kind == reactionClearedAll || e.Kind == reactionClearedEmoji
}

// Starboard mirrors sufficiently-starred messages into a per-guild
// board channel, keeping a persisted source-to-mirror mapping.
//
// All reconciliation for a given source message is serialized through
// [messageQueue], keyed by message ID, so rapid reaction bursts can't
// race each other into duplicate mirrors or stale counts.
type Starboard struct {
	bot     *Bot
	queue   *messageQueue
	limiter *rate.Limiter
	logger  *slog.Logger
	emoji   string

	metricEventsSeen     atomic.Int64
	metricReconciles     atomic.Int64
	metricMirrorsSent    atomic.Int64
	metricMirrorsEdited  atomic.Int64
	metricMirrorsDeleted atomic.Int64
	metricErrors         atomic.Int64
}

func newStarboard(bot *Bot) *Starboard {
	logger := bot.logger.With(loggerNameKey, "starboard")
	cfg := bot.config.Starboard
	// 0 (or negative) disables the limiter
	limit := rate.Limit(cfg.MaxEventsPerSecond)
	if cfg.MaxEventsPerSecond <= 0 {
		limit = rate.Inf
	}
	burst := int(cfg.MaxEventsPerSecond)
	if burst < 1 {
		burst = 1
	}
	emoji := cfg.Emoji
	if emoji == "" {
		emoji = starEmoji
	}
	return &Starboard{
		bot:     bot,
		queue:   newMessageQueue(logger, cfg.TaskTimeout),
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
		emoji:   emoji,
	}
}

// registerHandlers subscribes to the reaction gateway events. The
// returned funcs remove the handlers again.
func (sb *Starboard) registerHandlers(session DiscordSessionHandler) []func() {
	return []func(){
		session.AddHandler(sb.handlerReactionAdd()),
		session.AddHandler(sb.handlerReactionRemove()),
		session.AddHandler(sb.handlerReactionRemoveAll()),
		session.AddHandler(sb.handlerRawEvent()),
	}
}

func (sb *Starboard) handlerReactionAdd() func(
	s *discordgo.Session,
	r *discordgo.MessageReactionAdd,
) {
	return func(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
		sb.submit(reactionEvent{
			Kind:      reactionAdded,
			GuildID:   r.GuildID,
			ChannelID: r.ChannelID,
			MessageID: r.MessageID,
			EmojiName: r.Emoji.Name,
		})
	}
}

func (sb *Starboard) handlerReactionRemove() func(
	s *discordgo.Session,
	r *discordgo.MessageReactionRemove,
) {
	return func(_ *discordgo.Session, r *discordgo.MessageReactionRemove) {
		sb.submit(reactionEvent{
			Kind:      reactionRemoved,
			GuildID:   r.GuildID,
			ChannelID: r.ChannelID,
			MessageID: r.MessageID,
			EmojiName: r.Emoji.Name,
		})
	}
}

func (sb *Starboard) handlerReactionRemoveAll() func(
	s *discordgo.Session,
	r *discordgo.MessageReactionRemoveAll,
) {
	return func(_ *discordgo.Session, r *discordgo.MessageReactionRemoveAll) {
		sb.submit(reactionEvent{
			Kind:      reactionClearedAll,
			GuildID:   r.GuildID,
			ChannelID: r.ChannelID,
			MessageID: r.MessageID,
			EmojiName: sb.emoji,
		})
	}
}

// handlerRawEvent picks MESSAGE_REACTION_REMOVE_EMOJI out of the raw
// event stream.
func (sb *Starboard) handlerRawEvent() func(
	s *discordgo.Session,
	e *discordgo.Event,
) {
	return func(_ *discordgo.Session, e *discordgo.Event) {
		if e.Type != eventTypeReactionRemoveEmoji {
			return
		}
		var payload struct {
			GuildID   string `json:"guild_id"`
			ChannelID string `json:"channel_id"`
			MessageID string `json:"message_id"`
			Emoji     struct {
				Name string `json:"name"`
			} `json:"emoji"`
		}
		if err := json.Unmarshal(e.RawData, &payload); err != nil {
			sb.logger.Warn(
				"malformed reaction remove emoji payload",
				tint.Err(err),
			)
			return
		}
		sb.submit(reactionEvent{
			Kind:      reactionClearedEmoji,
			GuildID:   payload.GuildID,
			ChannelID: payload.ChannelID,
			MessageID: payload.MessageID,
			EmojiName: payload.Emoji.Name,
		})
	}
}

// submit filters the event and hands it to the per-message queue. The
// queue slot is claimed synchronously so chained events for one message
// run in gateway delivery order.
func (sb *Starboard) submit(ev reactionEvent) {
	if ev.EmojiName != sb.emoji {
		return
	}
	if ev.GuildID == "" {
		// direct message
		return
	}
	sb.metricEventsSeen.Add(1)
	sb.queue.Submit(context.Background(), ev.MessageID, func(ctx context.Context) error {
		if err := sb.limiter.Wait(ctx); err != nil {
			return err
		}
		return sb.reconcile(ctx, ev)
	})
}

// reconcile brings the mirror for ev's source message in line with its
// current star count. It re-fetches the live count rather than trusting
// the event payload, so stale or reordered events converge on the same
// outcome.
func (sb *Starboard) reconcile(ctx context.Context, ev reactionEvent) error {
	sb.metricReconciles.Add(1)

	b := sb.bot
	boardChannelID, err := b.starboardChannelID(ctx, ev.GuildID)
	if err != nil {
		sb.metricErrors.Add(1)
		return fmt.Errorf("error loading starboard channel: %w", err)
	}
	if boardChannelID == "" {
		return nil
	}
	if ev.ChannelID == boardChannelID {
		// never mirror the starboard into itself
		return nil
	}

	session := b.discord.session
	perms, err := session.UserChannelPermissions(
		b.discord.botUserID(),
		boardChannelID,
	)
	if err != nil {
		sb.metricErrors.Add(1)
		return fmt.Errorf("error checking starboard permissions: %w", err)
	}
	if perms&starboardPermissions != starboardPermissions {
		sb.logger.Debug(
			"insufficient starboard permissions",
			"guild_id", ev.GuildID,
			"channel_id", boardChannelID,
		)
		return nil
	}

	mapping, err := b.writeDB.GetMapping(ctx, ev.GuildID, ev.MessageID)
	if err != nil {
		sb.metricErrors.Add(1)
		return fmt.Errorf("error loading starboard mapping: %w", err)
	}

	// A mapping row whose mirror was deleted out-of-band is treated as
	// "no mirror."
	var boardMessage *discordgo.Message
	if mapping != nil {
		boardMessage, _ = session.ChannelMessage(
			boardChannelID,
			mapping.BoardMessageID,
		)
	}

	if ev.bulk() {
		return sb.teardown(ctx, ev, boardChannelID, boardMessage)
	}

	sourceMessage, err := session.ChannelMessage(ev.ChannelID, ev.MessageID)
	if err != nil {
		sb.metricErrors.Add(1)
		return fmt.Errorf("error fetching source message: %w", err)
	}
	count := starCount(sourceMessage, sb.emoji)

	switch {
	case count == 0:
		return sb.teardown(ctx, ev, boardChannelID, boardMessage)
	case boardMessage == nil:
		threshold, err := b.starboardThreshold(ctx, ev.GuildID)
		if err != nil {
			sb.metricErrors.Add(1)
			return fmt.Errorf("error loading starboard threshold: %w", err)
		}
		if count < threshold {
			return nil
		}
		embed := renderBoardEmbed(session, sourceMessage, count, sb.emoji)
		sent, err := session.ChannelMessageSendEmbed(boardChannelID, embed)
		if err != nil {
			sb.metricErrors.Add(1)
			return fmt.Errorf("error sending board message: %w", err)
		}
		sb.metricMirrorsSent.Add(1)
		if err := b.writeDB.UpsertMapping(
			ctx,
			ev.GuildID,
			ev.MessageID,
			sent.ID,
		); err != nil {
			// The mirror exists but the mapping write failed; the next
			// event on this message re-fetches state and recovers.
			sb.metricErrors.Add(1)
			return fmt.Errorf("error saving starboard mapping: %w", err)
		}
		return nil
	default:
		embed := renderBoardEmbed(session, sourceMessage, count, sb.emoji)
		if _, err := session.ChannelMessageEditEmbed(
			boardChannelID,
			boardMessage.ID,
			embed,
		); err != nil {
			sb.metricErrors.Add(1)
			return fmt.Errorf("error editing board message: %w", err)
		}
		sb.metricMirrorsEdited.Add(1)
		return nil
	}
}

// teardown deletes the mirror message (if still live) and the mapping
// row.
func (sb *Starboard) teardown(
	ctx context.Context,
	ev reactionEvent,
	boardChannelID string,
	boardMessage *discordgo.Message,
) error {
	var errs []error
	if boardMessage != nil {
		if err := sb.bot.discord.session.ChannelMessageDelete(
			boardChannelID,
			boardMessage.ID,
		); err != nil {
			errs = append(errs, fmt.Errorf("error deleting board message: %w", err))
		} else {
			sb.metricMirrorsDeleted.Add(1)
		}
	}
	if err := sb.bot.writeDB.DeleteMapping(
		ctx,
		ev.GuildID,
		ev.MessageID,
	); err != nil {
		errs = append(errs, fmt.Errorf("error deleting starboard mapping: %w", err))
	}
	if len(errs) > 0 {
		sb.metricErrors.Add(1)
		return errors.Join(errs...)
	}
	return nil
}

// starCount returns the live count of emoji reactions on msg.
func starCount(msg *discordgo.Message, emoji string) int {
	for _, reaction := range msg.Reactions {
		if reaction.Emoji != nil && reaction.Emoji.Name == emoji {
			return reaction.Count
		}
	}
	return 0
}

// renderBoardEmbed builds the mirror embed for a starred message:
// source channel as title, message content as description, the author's
// tag and avatar, up to embedMaxMirroredFields fields mirroring the
// source message's own embeds, the most prominent image, and a footer
// field with the star count and a jump link.
//
// Field content is trimmed so the total payload stays within
// embedTotalLimit.
func renderBoardEmbed(
	session DiscordSessionHandler,
	msg *discordgo.Message,
	starCount int,
	emoji string,
) *discordgo.MessageEmbed {
	var channelName string
	if channel, err := session.Channel(msg.ChannelID); err == nil {
		channelName = channel.Name
	}

	embed := &discordgo.MessageEmbed{
		Title:       ellipsis("#"+channelName, embedTitleLimit, defaultEllipsisSuffix),
		Description: ellipsis(msg.Content, embedDescriptionLimit, defaultEllipsisSuffix),
		Timestamp:   msg.Timestamp.Format(time.RFC3339),
		Color:       memberDisplayColor(session, msg.GuildID, msg.Author.ID),
		Author: &discordgo.MessageEmbedAuthor{
			Name:    ellipsis(msg.Author.String(), embedAuthorNameLimit, defaultEllipsisSuffix),
			IconURL: msg.Author.AvatarURL("32"),
		},
	}
	used := utf8.RuneCountInString(embed.Title) +
		utf8.RuneCountInString(embed.Description) +
		utf8.RuneCountInString(embed.Author.Name)

	footer := &discordgo.MessageEmbedField{
		Name: zeroWidthSpace,
		Value: fmt.Sprintf(
			"\\%s %d • [Link](%s)",
			emoji,
			starCount,
			messageLink(msg.GuildID, msg.ChannelID, msg.ID),
		),
	}
	used += utf8.RuneCountInString(footer.Name) +
		utf8.RuneCountInString(footer.Value)

	sourceEmbeds := msg.Embeds
	if len(sourceEmbeds) > embedMaxMirroredFields {
		sourceEmbeds = sourceEmbeds[:embedMaxMirroredFields]
	}
	for idx, sourceEmbed := range sourceEmbeds {
		name := "Embed"
		if len(msg.Embeds) > 1 {
			name = fmt.Sprintf("Embed #%d", idx+1)
		}
		subtitle := sourceEmbed.Title
		if subtitle == "" && sourceEmbed.Author != nil {
			subtitle = sourceEmbed.Author.Name
		}
		if subtitle != "" {
			name = ellipsis(name+" - "+subtitle, embedFieldNameLimit, defaultEllipsisSuffix)
		}
		value := sourceEmbed.Description
		if value == "" {
			value = "*<empty>*"
		}
		value = ellipsis(value, embedFieldValueLimit, defaultEllipsisSuffix)

		fieldLen := utf8.RuneCountInString(name) + utf8.RuneCountInString(value)
		exceeded := false
		if over := used + fieldLen - embedTotalLimit; over > 0 {
			trimmed := utf8.RuneCountInString(value) - over
			if trimmed <= 0 {
				// even the name alone doesn't fit the remaining budget
				break
			}
			value = ellipsis(value, trimmed, defaultEllipsisSuffix)
			exceeded = true
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  name,
			Value: value,
		})
		if exceeded {
			break
		}
		used += fieldLen
	}

	if imageURL := prominentImageURL(msg); imageURL != "" {
		embed.Image = &discordgo.MessageEmbedImage{URL: imageURL}
	}

	embed.Fields = append(embed.Fields, footer)
	return embed
}

// prominentImageURL picks the image shown on the mirror: the first
// attachment if any, otherwise the first source embed with a sized
// image.
func prominentImageURL(msg *discordgo.Message) string {
	if len(msg.Attachments) > 0 {
		return msg.Attachments[0].ProxyURL
	}
	for _, sourceEmbed := range msg.Embeds {
		if sourceEmbed.Image != nil && sourceEmbed.Image.Width > 0 {
			return sourceEmbed.Image.ProxyURL
		}
	}
	return ""
}

// Len reports the number of messages with queued reconciliations,
// surfaced on the status API.
func (sb *Starboard) Len() int {
	return sb.queue.Len()
}
