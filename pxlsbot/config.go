//nolint:lll // struct tags can't be split
package pxlsbot

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
)

const (
	DefaultDatabaseType = "sqlite"
	DefaultDatabase     = "pxlsbot.sqlite3"
	DefaultLogLevel     = slog.LevelInfo

	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 60 * time.Second

	// DefaultCommandPrefix is the prefix used for guilds without a
	// configured override.
	DefaultCommandPrefix = "!"

	// DefaultStarboardThreshold is the reaction count required before a
	// message is mirrored, for guilds that haven't set their own.
	DefaultStarboardThreshold = 4

	// MinStarboardThreshold / MaxStarboardThreshold bound the values
	// accepted by `config set starboard_threshold`. The upper bound is
	// the SMALLINT column maximum.
	MinStarboardThreshold = 2
	MaxStarboardThreshold = 32767

	// DefaultStarboardTaskTimeout bounds a single reconciliation pass, so
	// a hung API call can't permanently stall its per-message chain.
	DefaultStarboardTaskTimeout = time.Minute

	// DefaultStarboardSweepSchedule is the cron schedule for the stale
	// mapping sweep. Empty disables the sweep.
	DefaultStarboardSweepSchedule = "@daily"

	// DefaultStarboardMaxEventsPerSecond rate-limits mirror
	// send/edit/delete calls against the Discord REST API.
	DefaultStarboardMaxEventsPerSecond = 5

	DefaultCanvasURL = "https://pxls.space"

	DefaultDiscordGatewayIntent = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentMessageContent
	DefaultDiscordLogLevel     = slog.LevelWarn
	DefaultDiscordgoLogLevel   = slog.LevelWarn
	DefaultDiscordCustomStatus = "⭐ watching for stars"

	DefaultDatabaseSlowThreshold = 200 * time.Millisecond
	DefaultDatabaseLogLevel      = slog.LevelInfo

	DefaultAPIListen         = "127.0.0.1:5000"
	DefaultAPILogLevel       = slog.LevelInfo
	defaultListenNetwork     = "tcp"
	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second

	// Discord embed limits the mirror renderer has to respect.
	embedTitleLimit        = 256
	embedDescriptionLimit  = 2048
	embedAuthorNameLimit   = 256
	embedFieldNameLimit    = 256
	embedFieldValueLimit   = 1024
	embedTotalLimit        = 6000
	embedMaxMirroredFields = 24
)

var DefaultCORSAllowMethods = []string{
	http.MethodGet,
	http.MethodHead,
	http.MethodOptions,
}

// Config is the static (file/env) bot configuration. Per-guild settings
// live in the database and are managed with the `config` command.
type Config struct {
	// Database connection string, or SQLite file path
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Prefix is the default command prefix, used for guilds without a
	// configured override
	Prefix string `yaml:"prefix" mapstructure:"prefix" json:"prefix" binding:"required"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// initialize. If this is passed, the bot will abort startup.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After
	// this elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	// Discord configures the discord session itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// Starboard configures the reaction-mirroring pipeline
	Starboard *StarboardConfig `yaml:"starboard" mapstructure:"starboard" json:"starboard"`

	// Canvas configures links generated by the coordinates command
	Canvas *CanvasConfig `yaml:"canvas" mapstructure:"canvas" json:"canvas"`

	// API configures the status/health HTTP server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	HTTPClient *http.Client `yaml:"-" mapstructure:"-" json:"-"`
}

// DiscordConfig configures the discord session.
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"-" binding:"required"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	// CustomStatus is set as the bot user's status on connect. Empty
	// leaves the status untouched.
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	httpClient *http.Client
}

// StarboardConfig configures the starboard pipeline.
type StarboardConfig struct {
	// Emoji is the tracked reaction. Reactions with any other emoji are
	// ignored (except bulk clears, which always tear down the mirror).
	Emoji string `yaml:"emoji" mapstructure:"emoji" json:"emoji" binding:"required"`

	// TaskTimeout bounds a single reconciliation pass. 0 disables the
	// per-task deadline.
	TaskTimeout time.Duration `yaml:"task_timeout" mapstructure:"task_timeout" json:"task_timeout"`

	// SweepSchedule is a cron expression for the stale-mapping sweep.
	// Empty disables the sweep.
	SweepSchedule string `yaml:"sweep_schedule" mapstructure:"sweep_schedule" json:"sweep_schedule"`

	// MaxEventsPerSecond rate-limits mirror mutations against the
	// Discord REST API. 0 disables the limiter.
	MaxEventsPerSecond float64 `yaml:"max_events_per_second" mapstructure:"max_events_per_second" json:"max_events_per_second"`
}

// CanvasConfig points the coordinates command at a Pxls instance.
type CanvasConfig struct {
	// Base URL of the canvas, without a trailing slash
	URL string `yaml:"url" mapstructure:"url" json:"url" binding:"required,url"`
}

// APIConfig configures the status/health HTTP server.
type APIConfig struct {
	// Enabled determines whether the HTTP server is started at all
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5000")
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true,hostname_port|filepath"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix")
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"required_if=Enabled true,oneof=tcp tcp4 tcp6 unix"`

	// The logging level for the HTTP server
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	// Maximum duration for reading the entire request, including the body
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout"`

	// Amount of time allowed to read request headers
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"`

	// Maximum duration before timing out writes of the response
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"`
}

// CORSConfig specifies cross-origin resource sharing settings.
type CORSConfig struct {
	AllowOrigins []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	MaxAge       time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	return cors.Config{
		AllowOrigins: c.AllowOrigins,
		AllowMethods: c.AllowMethods,
		MaxAge:       c.MaxAge,
	}
}

// DefaultConfig returns a Config with all default settings populated.
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)

	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		Prefix:                DefaultCommandPrefix,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Discord: &DiscordConfig{
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
			GatewayIntents:    DefaultDiscordGatewayIntent,
			CustomStatus:      DefaultDiscordCustomStatus,
		},
		Starboard: &StarboardConfig{
			Emoji:              starEmoji,
			TaskTimeout:        DefaultStarboardTaskTimeout,
			SweepSchedule:      DefaultStarboardSweepSchedule,
			MaxEventsPerSecond: DefaultStarboardMaxEventsPerSecond,
		},
		Canvas: &CanvasConfig{
			URL: DefaultCanvasURL,
		},
		API: &APIConfig{
			Enabled:           false,
			Listen:            DefaultAPIListen,
			ListenNetwork:     defaultListenNetwork,
			LogLevel:          apiLogLevel,
			ReadTimeout:       DefaultReadTimeout,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			CORS: CORSConfig{
				AllowMethods: DefaultCORSAllowMethods,
				MaxAge:       12 * time.Hour,
			},
		},
	}
}
