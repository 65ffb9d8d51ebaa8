package pxlsbot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lmittmann/tint"
	"github.com/robfig/cron/v3"
)

// scheduler runs the periodic starboard sweep, which removes mapping
// rows whose mirror message was deleted out-of-band (nothing else ever
// cleans those up, since reconciliation only runs on reaction events).
type scheduler struct {
	cron   *cron.Cron
	bot    *Bot
	logger *slog.Logger
}

func newScheduler(b *Bot) (*scheduler, error) {
	s := &scheduler{
		cron:   cron.New(),
		bot:    b,
		logger: b.logger.With(loggerNameKey, "scheduler"),
	}
	schedule := b.config.Starboard.SweepSchedule
	if schedule == "" {
		// sweep disabled
		return s, nil
	}
	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return nil, fmt.Errorf("error scheduling starboard sweep: %w", err)
	}
	return s, nil
}

func (s *scheduler) start() {
	s.cron.Start()
	if schedule := s.bot.config.Starboard.SweepSchedule; schedule != "" {
		s.logger.Info("starboard sweep scheduled", "schedule", schedule)
	}
}

func (s *scheduler) stop() context.Context {
	return s.cron.Stop()
}

// sweep checks every mapping row for a still-live mirror message and
// deletes stale rows. Deletions go through the per-message queue so a
// sweep never races an in-flight reconciliation for the same message.
func (s *scheduler) sweep() {
	ctx := context.Background()
	b := s.bot

	mappings, err := b.writeDB.AllMappings(ctx)
	if err != nil {
		s.logger.Error("error loading starboard mappings", tint.Err(err))
		return
	}
	s.logger.Info("starboard sweep started", "mappings", len(mappings))

	var removed int
	for _, mapping := range mappings {
		boardChannelID, err := b.starboardChannelID(ctx, mapping.GuildID)
		if err != nil {
			s.logger.Error(
				"error loading starboard channel",
				"guild_id", mapping.GuildID,
				tint.Err(err),
			)
			continue
		}
		if boardChannelID == "" {
			// starboard disabled since the mapping was written
			continue
		}
		if _, err := b.discord.session.ChannelMessage(
			boardChannelID,
			mapping.BoardMessageID,
		); err == nil {
			continue
		}

		mapping := mapping
		b.starboard.queue.Enqueue(
			ctx,
			mapping.SourceMessageID,
			func(ctx context.Context) error {
				return b.writeDB.DeleteMapping(
					ctx,
					mapping.GuildID,
					mapping.SourceMessageID,
				)
			},
		)
		removed++
	}
	s.logger.Info("starboard sweep finished", "removed", removed)
}
