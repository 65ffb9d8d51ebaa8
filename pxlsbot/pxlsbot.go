// PxlsBot is the Discord community bot for pxls.space: a starboard,
// per-guild configuration, audit logging, and canvas coordinate links.
package pxlsbot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

var defaultLogWriter io.Writer = os.Stdout

var (
	// When building, set these like:
	// -ldflags "-X github.com/pxlsspace/PxlsBot/pxlsbot.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

// Bot is the top-level application object. Create it with [New], then
// call [Bot.Run].
type Bot struct {
	config     *Config
	db         *gorm.DB
	writeDB    DBI
	logger     *slog.Logger
	logHandler slog.Handler

	discord   *Discord
	starboard *Starboard
	api       *API
	scheduler *scheduler
	commands  *commandRegistry

	startedAt time.Time
	runMu     sync.Mutex

	// signalStop enables an explicit stop signal to be sent to the bot,
	// triggering a graceful shutdown.
	signalStop chan struct{}

	// signalReady has a value sent on it once Run has finished starting
	// everything up.
	signalReady chan struct{}
}

func New(config *Config) (*Bot, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	b := &Bot{
		config:      config,
		signalReady: make(chan struct{}, 1),
	}

	b.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     config.LogLevel,
			AddSource: true,
		},
	)
	b.logger = slog.New(b.logHandler)
	slog.SetDefault(b.logger)

	b.config.Discord.httpClient = b.config.HTTPClient

	disc, err := newDiscord(b.config.Discord)
	if err != nil {
		errs = append(errs, err)
	}

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     b.config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	disc.logger = slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     b.config.Discord.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "discord")

	b.discord = disc
	disc.bot = b

	b.starboard = newStarboard(b)

	b.commands = newCommandRegistry(b.logger)
	b.registerCommands()

	if config.API.Enabled {
		api, e := newAPI(b, config.API)
		errs = append(errs, e)
		b.api = api
	}

	sched, err := newScheduler(b)
	if err != nil {
		errs = append(errs, err)
	}
	b.scheduler = sched

	return b, errors.Join(errs...)
}

func (b *Bot) ValidateConfig() error {
	return structValidator.Struct(b.config)
}

// Run starts the bot and blocks until ctx is canceled or Stop is
// called, then shuts down gracefully.
func (b *Bot) Run(ctx context.Context) error {
	// prevents concurrent runs
	b.runMu.Lock()
	defer b.runMu.Unlock()

	b.signalStop = make(chan struct{}, 1)
	b.startedAt = time.Now()
	logger := b.logger

	if err := b.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-b.signalStop:
			logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
			logger.Warn("context canceled, sending stop signal")
			b.signalStop <- struct{}{}
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, b.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		initErr <- b.init(startCtx)
	}()
	select {
	case <-startCtx.Done():
		return fmt.Errorf("startup cancelled or timed out")
	case err := <-initErr:
		if err != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(err))
			return err
		}
	}

	if b.api != nil {
		go func() {
			httpErr := b.api.Serve(ctx)
			if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
				logger.ErrorContext(
					ctx,
					"error serving api HTTP",
					tint.Err(httpErr),
				)
			}
		}()
	}

	if err := b.discord.session.Open(); err != nil {
		return fmt.Errorf("error opening discord session: %w", err)
	}

	b.scheduler.start()

	b.signalReady <- struct{}{}
	logger.InfoContext(ctx, "sent ready signal")

	<-ctx.Done()
	return b.shutdown()
}

// init connects persistence and the gateway session, and registers the
// gateway handlers. It doesn't open the gateway connection.
func (b *Bot) init(ctx context.Context) error {
	db, err := CreateDB(ctx, b.config.DatabaseType, b.config.Database)
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	b.db = db
	b.writeDB = NewDatabase(
		db,
		b.logger,
		b.config.DatabaseType == dbTypePostgres,
	)

	session, err := b.discord.newSession()
	if err != nil {
		return err
	}
	b.discord.session = session

	session.AddHandler(b.discord.handlerReady())
	session.AddHandler(b.discord.handlerConnect())
	session.AddHandler(b.discord.handlerDisconnect())
	session.AddHandler(b.handlerMessageCreate())
	b.starboard.registerHandlers(session)
	return nil
}

// Stop triggers a graceful shutdown of a running bot.
func (b *Bot) Stop() {
	if b.signalStop != nil {
		b.signalStop <- struct{}{}
	}
}

func (b *Bot) shutdown() error {
	logger := b.logger
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		b.config.ShutdownTimeout,
	)
	defer cancel()

	// let any scheduled sweep finish
	select {
	case <-b.scheduler.stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("timed out waiting for scheduler")
	}

	var errs []error
	if b.discord.session != nil {
		if err := b.discord.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing discord session: %w", err))
		}
	}
	if b.api != nil {
		if err := b.api.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("error shutting down api: %w", err))
		}
	}

	if b.db != nil {
		if sqlDB, err := b.db.DB(); err == nil {
			if closeErr := sqlDB.Close(); closeErr != nil {
				errs = append(errs, fmt.Errorf("error closing database: %w", closeErr))
			}
		}
	}

	logger.Info("shutdown complete")
	return errors.Join(errs...)
}
