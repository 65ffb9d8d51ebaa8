package pxlsbot

import (
	"context"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	colorSkyBlue = 0x007FFF
	colorGreen   = 0x00FF00
	colorRed     = 0xFF0000
)

// Command is a prefix command. Execute receives the message and the
// remainder of the content after the invoking alias.
type Command struct {
	ID          string
	Name        string
	Category    string
	Description string
	Usage       string
	Aliases     []string

	// ServerOnly commands are ignored outside of guilds.
	ServerOnly bool

	// Permissions the invoking member must hold in the channel, or 0
	// for no requirement.
	Permissions int64

	Execute func(
		ctx context.Context,
		b *Bot,
		message *discordgo.MessageCreate,
		argument string,
	) error
}

// commandRegistry maps aliases to commands while keeping registration
// order for help output.
type commandRegistry struct {
	commands []*Command
	byAlias  map[string]*Command
	logger   *slog.Logger
}

func newCommandRegistry(logger *slog.Logger) *commandRegistry {
	return &commandRegistry{
		byAlias: map[string]*Command{},
		logger:  logger.With(loggerNameKey, "commands"),
	}
}

func (r *commandRegistry) register(cmd *Command) {
	r.commands = append(r.commands, cmd)
	for _, alias := range cmd.Aliases {
		r.byAlias[strings.ToLower(alias)] = cmd
	}
}

// find resolves a command by name, ID or alias.
func (r *commandRegistry) find(name string) *Command {
	name = strings.ToLower(name)
	if cmd, ok := r.byAlias[name]; ok {
		return cmd
	}
	for _, cmd := range r.commands {
		if strings.ToLower(cmd.ID) == name || strings.ToLower(cmd.Name) == name {
			return cmd
		}
	}
	return nil
}

// registerCommands wires up the built-in command set.
func (b *Bot) registerCommands() {
	b.commands.register(pingCommand())
	b.commands.register(helpCommand())
	b.commands.register(coordinatesCommand())
	b.commands.register(boardCommand())
	b.commands.register(configCommand())
	b.commands.register(auditLogCommand())
}

// handlerMessageCreate dispatches prefix commands and runs the passive
// coordinate-link listener on everything else.
func (b *Bot) handlerMessageCreate() func(
	s *discordgo.Session,
	m *discordgo.MessageCreate,
) {
	return func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}
		go b.dispatchMessage(context.Background(), m)
	}
}

func (b *Bot) dispatchMessage(ctx context.Context, m *discordgo.MessageCreate) {
	logger := b.commands.logger

	prefix := b.config.Prefix
	if m.GuildID != "" {
		prefix = b.guildPrefix(ctx, m.GuildID)
	}
	if !strings.HasPrefix(m.Content, prefix) {
		b.handleCoordinateMessage(m)
		return
	}

	rest := strings.TrimPrefix(m.Content, prefix)
	name, argument, _ := strings.Cut(rest, " ")
	if name == "" {
		return
	}
	cmd := b.commands.byAlias[strings.ToLower(name)]
	if cmd == nil {
		return
	}
	if cmd.ServerOnly && m.GuildID == "" {
		return
	}
	if cmd.Permissions != 0 {
		perms, err := b.discord.session.UserChannelPermissions(
			m.Author.ID,
			m.ChannelID,
		)
		if err != nil {
			logger.Error(
				"error checking member permissions",
				"command", cmd.ID,
				tint.Err(err),
			)
			return
		}
		if perms&cmd.Permissions != cmd.Permissions {
			return
		}
	}

	b.discord.metricMessagesHandled.Add(1)
	logger.Info(
		"command",
		"command", cmd.ID,
		"guild_id", m.GuildID,
		"user_id", m.Author.ID,
	)
	if err := cmd.Execute(ctx, b, m, strings.TrimSpace(argument)); err != nil {
		logger.Error(
			"command failed",
			"command", cmd.ID,
			"guild_id", m.GuildID,
			tint.Err(err),
		)
	}
}
