package pxlsbot

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// Discord manages the gateway session and event handler registration.
type Discord struct {
	session                     DiscordSessionHandler
	config                      *DiscordConfig
	logger                      *slog.Logger
	metricConnects              atomic.Int64
	metricDisconnects           atomic.Int64
	metricMessagesHandled       atomic.Int64
	connected                   atomic.Bool
	discordgoRemoveHandlerFuncs []func()
	bot                         *Bot
}

// newDiscord initializes a new Discord instance with the provided
// configuration.
func newDiscord(config *DiscordConfig) (*Discord, error) {
	return &Discord{
		config:                      config,
		discordgoRemoveHandlerFuncs: []func(){},
	}, nil
}

// newSession initializes the gateway session. SyncEvents is enabled so
// handlers observe events in gateway delivery order; anything slow is
// handed off to the starboard queue or a goroutine by the handler itself.
func (d *Discord) newSession() (DiscordSessionHandler, error) {
	session := DiscordSession{
		logger: d.logger.With(loggerNameKey, "discord_session_handler"),
	}
	disc, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return session, fmt.Errorf("error creating discord session: %w", err)
	}
	disc.SyncEvents = true
	disc.Identify.Intents = d.config.GatewayIntents
	session.session = disc
	if d.config.httpClient != nil {
		disc.Client = d.config.httpClient
	}
	return session, nil
}

func (d *Discord) handlerReady() func(
	s *discordgo.Session,
	r *discordgo.Ready,
) {
	return func(s *discordgo.Session, r *discordgo.Ready) {
		d.logger.Info(
			"ready",
			"session_id", s.State.SessionID,
			"user_id", s.State.User.ID,
			"username", s.State.User.Username,
		)
	}
}

func (d *Discord) handlerConnect() func(
	s *discordgo.Session,
	r *discordgo.Connect,
) {
	return func(s *discordgo.Session, _ *discordgo.Connect) {
		d.metricConnects.Add(1)
		d.connected.Store(true)

		var sessionID string
		if s != nil && s.State != nil {
			sessionID = s.State.SessionID
		}
		d.logger.Info("connected", "session_id", sessionID)

		if d.config.CustomStatus != "" {
			if err := d.session.UpdateCustomStatus(d.config.CustomStatus); err != nil {
				d.logger.Error("unable to set custom status", tint.Err(err))
			}
		}
	}
}

func (d *Discord) handlerDisconnect() func(
	s *discordgo.Session,
	r *discordgo.Disconnect,
) {
	return func(s *discordgo.Session, _ *discordgo.Disconnect) {
		d.connected.Store(false)
		d.metricDisconnects.Add(1)

		var sessionID string
		if s != nil && s.State != nil {
			sessionID = s.State.SessionID
		}
		d.logger.Info("disconnected", "session_id", sessionID)
	}
}

// botUserID returns the connected bot user's ID, or "" before the first
// READY.
func (d *Discord) botUserID() string {
	return d.session.StateUserID()
}

func isTextChannel(channel *discordgo.Channel) bool {
	switch channel.Type {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews:
		return true
	default:
		return false
	}
}

// DiscordSessionHandler defines the methods from `discordgo.Session`
// used by this application, to enable testing/mocking.
type DiscordSessionHandler interface {
	// Open creates a websocket connection to Discord
	Open() error

	// Close closes the websocket connection to Discord
	Close() error

	// AddHandler adds a discord gateway event handler
	AddHandler(handler any) func()

	// Channel fetches a channel by ID
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)

	// GuildChannels lists the guild's channels
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)

	// ChannelMessage fetches a single message
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)

	// ChannelMessageSend sends a plain-text message to a channel
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)

	// ChannelMessageSendEmbed sends an embed to a channel
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)

	// ChannelMessageSendComplex sends a message with embeds and file
	// attachments
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)

	// ChannelMessageEditEmbed replaces an existing message's embed
	ChannelMessageEditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)

	// ChannelMessageDelete deletes a message
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error

	// Guild fetches a guild by ID
	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)

	// GuildMember fetches a guild member
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)

	// UserChannelPermissions computes the given user's effective
	// permissions in the given channel
	UserChannelPermissions(userID, channelID string) (int64, error)

	// UpdateCustomStatus sets the bot user's custom status
	UpdateCustomStatus(status string) error

	// HeartbeatLatency returns the round-trip time to the gateway
	HeartbeatLatency() time.Duration

	// StateUserID returns the connected bot user's ID
	StateUserID() string

	// SetHTTPClient sets the HTTP client for the session
	SetHTTPClient(client *http.Client)
}

// DiscordSession implements DiscordSessionHandler, wrapping a
// [discordgo.Session].
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

func (d DiscordSession) Open() error {
	return d.session.Open()
}

func (d DiscordSession) Close() error {
	return d.session.Close()
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.session.AddHandler(handler)
}

func (d DiscordSession) Channel(
	channelID string,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	return d.session.Channel(channelID, options...)
}

func (d DiscordSession) GuildChannels(
	guildID string,
	options ...discordgo.RequestOption,
) ([]*discordgo.Channel, error) {
	return d.session.GuildChannels(guildID, options...)
}

func (d DiscordSession) ChannelMessage(
	channelID string,
	messageID string,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessage(channelID, messageID, options...)
}

func (d DiscordSession) ChannelMessageSend(
	channelID string,
	content string,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.ChannelMessageSend(channelID, content, options...)
	if err != nil {
		d.logger.Error(
			"error sending message",
			"channel_id", channelID,
			tint.Err(err),
		)
	}
	return msg, err
}

func (d DiscordSession) ChannelMessageSendEmbed(
	channelID string,
	embed *discordgo.MessageEmbed,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.ChannelMessageSendEmbed(channelID, embed, options...)
	if err != nil {
		d.logger.Error(
			"error sending embed",
			"channel_id", channelID,
			tint.Err(err),
		)
	}
	return msg, err
}

func (d DiscordSession) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.ChannelMessageSendComplex(channelID, data, options...)
	if err != nil {
		d.logger.Error(
			"error sending message attachment",
			"channel_id", channelID,
			tint.Err(err),
		)
	}
	return msg, err
}

func (d DiscordSession) ChannelMessageEditEmbed(
	channelID string,
	messageID string,
	embed *discordgo.MessageEmbed,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageEditEmbed(channelID, messageID, embed, options...)
}

func (d DiscordSession) ChannelMessageDelete(
	channelID string,
	messageID string,
	options ...discordgo.RequestOption,
) error {
	return d.session.ChannelMessageDelete(channelID, messageID, options...)
}

func (d DiscordSession) Guild(
	guildID string,
	options ...discordgo.RequestOption,
) (*discordgo.Guild, error) {
	return d.session.Guild(guildID, options...)
}

func (d DiscordSession) GuildMember(
	guildID string,
	userID string,
	options ...discordgo.RequestOption,
) (*discordgo.Member, error) {
	return d.session.GuildMember(guildID, userID, options...)
}

func (d DiscordSession) UserChannelPermissions(
	userID string,
	channelID string,
) (int64, error) {
	return d.session.UserChannelPermissions(userID, channelID)
}

func (d DiscordSession) UpdateCustomStatus(status string) error {
	return d.session.UpdateCustomStatus(status)
}

func (d DiscordSession) HeartbeatLatency() time.Duration {
	return d.session.HeartbeatLatency()
}

func (d DiscordSession) StateUserID() string {
	if d.session.State != nil && d.session.State.User != nil {
		return d.session.State.User.ID
	}
	return ""
}

func (d DiscordSession) SetHTTPClient(client *http.Client) {
	d.session.Client = client
}
