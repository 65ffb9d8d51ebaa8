package pxlsbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"
)

var dbOperationTimeout = 30 * time.Second

// ModelUnixTime is an embeddable model with Unix millisecond timestamps
// for creation and update.
type ModelUnixTime struct {
	CreatedAt int64 `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64 `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
}

// StarboardMapping links a source message to the message mirroring it on
// the guild's starboard channel. At most one mapping exists per
// (guild, source message) pair.
type StarboardMapping struct {
	ModelUnixTime
	GuildID         string `gorm:"type:varchar(20);uniqueIndex:starboard_guild_source_pair,priority:1;not null" json:"guild_id"`
	SourceMessageID string `gorm:"type:varchar(20);uniqueIndex:starboard_guild_source_pair,priority:2;not null" json:"source_message_id"`
	BoardMessageID  string `gorm:"type:varchar(20);not null" json:"board_message_id"`
}

func (StarboardMapping) TableName() string {
	return "starboard_messages"
}

// GuildSetting holds the per-guild configuration managed with the
// `config` command. Nil pointers mean "unset, use the default".
type GuildSetting struct {
	ModelUnixTime
	GuildID string `gorm:"type:varchar(20);primaryKey" json:"guild_id"`

	// Prefix overrides the bot-wide command prefix for this guild.
	Prefix *string `gorm:"type:text" json:"prefix,omitempty"`

	// StarboardChannelID is the channel mirrors are posted to. Unset
	// means the starboard is disabled for the guild.
	StarboardChannelID *string `gorm:"type:varchar(20)" json:"starboard_channel,omitempty"`

	// StarboardThreshold is the reaction count required before a message
	// is mirrored. Bounds are enforced at write time by the config
	// command handler.
	StarboardThreshold *int16 `gorm:"type:smallint" json:"starboard_threshold,omitempty"`
}

func (GuildSetting) TableName() string {
	return "guild_settings"
}

// AuditLog records privileged command invocations, browsable with the
// `auditlog` command.
type AuditLog struct {
	ID uint `gorm:"primaryKey" json:"id"`
	ModelUnixTime
	GuildID   string `gorm:"type:varchar(20);index;not null" json:"guild_id"`
	UserID    string `gorm:"type:varchar(20);not null" json:"user_id"`
	CommandID string `gorm:"type:text" json:"command_id"`
	Message   string `gorm:"type:text" json:"message"`
}

func (AuditLog) TableName() string {
	return "auditlog"
}

// database wraps the GORM connection. Writes are serialized with a mutex
// when using SQLite, out of an overabundance of caution for its single
// writer.
type database struct {
	db                     *gorm.DB
	mu                     sync.Mutex
	logger                 *slog.Logger
	enableConcurrentWrites bool
}

// DBI is the persistence interface used by the bot. database implements
// it for 'real' operations; tests may substitute their own.
type DBI interface {
	DB() *gorm.DB

	// GetMapping returns the mapping for (guildID, sourceMessageID), or
	// nil if none exists.
	GetMapping(ctx context.Context, guildID, sourceMessageID string) (*StarboardMapping, error)

	// UpsertMapping inserts a mapping, or updates BoardMessageID on
	// conflict of the (guild, source message) unique key. This is a
	// single statement, never read-modify-write.
	UpsertMapping(ctx context.Context, guildID, sourceMessageID, boardMessageID string) error

	// DeleteMapping removes the mapping for (guildID, sourceMessageID),
	// if it exists.
	DeleteMapping(ctx context.Context, guildID, sourceMessageID string) error

	// GuildMappings returns all mappings for the guild.
	GuildMappings(ctx context.Context, guildID string) ([]StarboardMapping, error)

	// AllMappings returns every mapping, for the stale-mapping sweep.
	AllMappings(ctx context.Context) ([]StarboardMapping, error)

	// GetGuildSetting returns the settings row for guildID, or nil if
	// the guild never configured anything.
	GetGuildSetting(ctx context.Context, guildID string) (*GuildSetting, error)

	// EnsureGuildSetting creates a default settings row for guildID if
	// none exists, reporting whether a row was created.
	EnsureGuildSetting(ctx context.Context, guildID string) (*GuildSetting, bool, error)

	// SaveGuildSetting persists the given settings row.
	SaveGuildSetting(ctx context.Context, setting *GuildSetting) error

	// InsertAuditLog records a privileged command invocation.
	InsertAuditLog(ctx context.Context, entry *AuditLog) error

	// GuildAuditLogs returns the guild's audit log entries, oldest first.
	GuildAuditLogs(ctx context.Context, guildID string) ([]AuditLog, error)

	// GetAuditLog returns a single entry by guild and ID, or nil if not
	// found.
	GetAuditLog(ctx context.Context, guildID string, id uint) (*AuditLog, error)
}

// NewDatabase wraps db in the write-serializing DBI implementation.
func NewDatabase(db *gorm.DB, log *slog.Logger, enableConcurrentWrites bool) DBI {
	if log == nil {
		log = slog.Default()
	}
	return &database{
		db:                     db,
		logger:                 log.With(loggerNameKey, "writedb"),
		enableConcurrentWrites: enableConcurrentWrites,
	}
}

func (d *database) DB() *gorm.DB {
	return d.db
}

func (d *database) lock() func() {
	if d.enableConcurrentWrites {
		return func() {}
	}
	d.mu.Lock()
	return d.mu.Unlock
}

// withDeadline attaches the default operation timeout if ctx doesn't
// already carry one.
func withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, dbOperationTimeout)
}

func (d *database) GetMapping(
	ctx context.Context,
	guildID string,
	sourceMessageID string,
) (*StarboardMapping, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()
	var mapping StarboardMapping
	err := d.db.WithContext(ctx).Where(
		"guild_id = ? AND source_message_id = ?",
		guildID, sourceMessageID,
	).First(&mapping).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &mapping, nil
}

func (d *database) UpsertMapping(
	ctx context.Context,
	guildID string,
	sourceMessageID string,
	boardMessageID string,
) error {
	defer d.lock()()
	ctx, cancel := withDeadline(ctx)
	defer cancel()
	mapping := StarboardMapping{
		GuildID:         guildID,
		SourceMessageID: sourceMessageID,
		BoardMessageID:  boardMessageID,
	}
	return d.db.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns: []clause.Column{
				{Name: "guild_id"},
				{Name: "source_message_id"},
			},
			DoUpdates: clause.AssignmentColumns(
				[]string{"board_message_id", "updated_at"},
			),
		},
	).Create(&mapping).Error
}

func (d *database) DeleteMapping(
	ctx context.Context,
	guildID string,
	sourceMessageID string,
) error {
	defer d.lock()()
	ctx, cancel := withDeadline(ctx)
	defer cancel()
	return d.db.WithContext(ctx).Where(
		"guild_id = ? AND source_message_id = ?",
		guildID, sourceMessageID,
	).Delete(&StarboardMapping{}).Error
}

func (d *database) GuildMappings(
	ctx context.Context,
	guildID string,
) ([]StarboardMapping, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()
	var mappings []StarboardMapping
	err := d.db.WithContext(ctx).Where(
		"guild_id = ?", guildID,
	).Order("created_at").Find(&mappings).Error
	return mappings, err
}

func (d *database) AllMappings(ctx context.Context) ([]StarboardMapping, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()
	var mappings []StarboardMapping
	err := d.db.WithContext(ctx).Order("guild_id").Find(&mappings).Error
	return mappings, err
}

func (d *database) GetGuildSetting(
	ctx context.Context,
	guildID string,
) (*GuildSetting, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()
	var setting GuildSetting
	err := d.db.WithContext(ctx).Where(
		"guild_id = ?", guildID,
	).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &setting, nil
}

func (d *database) EnsureGuildSetting(
	ctx context.Context,
	guildID string,
) (*GuildSetting, bool, error) {
	defer d.lock()()
	ctx, cancel := withDeadline(ctx)
	defer cancel()
	setting := GuildSetting{GuildID: guildID}
	rv := d.db.WithContext(ctx).Clauses(
		clause.OnConflict{DoNothing: true},
	).Create(&setting)
	if rv.Error != nil {
		return nil, false, rv.Error
	}
	created := rv.RowsAffected > 0
	if !created {
		if err := d.db.WithContext(ctx).Where(
			"guild_id = ?", guildID,
		).First(&setting).Error; err != nil {
			return nil, false, err
		}
	}
	return &setting, created, nil
}

func (d *database) SaveGuildSetting(
	ctx context.Context,
	setting *GuildSetting,
) error {
	defer d.lock()()
	ctx, cancel := withDeadline(ctx)
	defer cancel()
	return d.db.WithContext(ctx).Save(setting).Error
}

func (d *database) InsertAuditLog(ctx context.Context, entry *AuditLog) error {
	defer d.lock()()
	ctx, cancel := withDeadline(ctx)
	defer cancel()
	return d.db.WithContext(ctx).Create(entry).Error
}

func (d *database) GuildAuditLogs(
	ctx context.Context,
	guildID string,
) ([]AuditLog, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()
	var entries []AuditLog
	err := d.db.WithContext(ctx).Where(
		"guild_id = ?", guildID,
	).Order("id").Find(&entries).Error
	return entries, err
}

func (d *database) GetAuditLog(
	ctx context.Context,
	guildID string,
	id uint,
) (*AuditLog, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()
	var entry AuditLog
	err := d.db.WithContext(ctx).Where(
		"guild_id = ? AND id = ?", guildID, id,
	).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// CreateDB initializes a GORM connection for the given database type and
// runs migrations for all persisted models.
func CreateDB(ctx context.Context, databaseType string, database string) (
	*gorm.DB,
	error,
) {
	handler := tint.NewHandler(
		os.Stdout,
		&tint.Options{
			Level:     slog.LevelWarn,
			AddSource: true,
		},
	)

	gormLogger := newGORMLogger(handler, DefaultDatabaseSlowThreshold)
	dbLogger := slog.New(handler)

	dbLogger.InfoContext(
		ctx,
		"initializing database",
		"database_type", databaseType,
		"database", database,
	)
	db, err := getDB(databaseType, database, gormLogger)
	if err != nil {
		return db, err
	}

	err = db.WithContext(ctx).AutoMigrate(
		&StarboardMapping{},
		&GuildSetting{},
		&AuditLog{},
	)
	return db, err
}

// getDB opens the underlying GORM connection.
func getDB(
	databaseType string,
	database string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	switch databaseType {
	case dbTypeSQLite:
		parentDir := filepath.Dir(database)
		if parentDir != "" {
			if err := os.MkdirAll(parentDir, 0755); err != nil {
				if !errors.Is(err, os.ErrExist) {
					return nil, err
				}
			}
		}
		return gorm.Open(
			sqlite.Open(database),
			&gorm.Config{
				Logger: gormLogger,
				NowFunc: func() time.Time {
					return time.Now().UTC()
				},
			},
		)
	case dbTypePostgres:
		return gorm.Open(
			postgres.Open(database), &gorm.Config{
				Logger: gormLogger,
				NowFunc: func() time.Time {
					return time.Now().UTC()
				},
			},
		)
	default:
		return nil, fmt.Errorf(
			"unsupported database type: %s (must be %q or %q)",
			databaseType, dbTypeSQLite, dbTypePostgres,
		)
	}
}
