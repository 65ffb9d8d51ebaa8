package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/pxlsspace/PxlsBot/pxlsbot"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultEnvPrefix = "PXLSBOT"

var (
	cfg        = pxlsbot.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "pxlsbot [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}
		if t.Elem() != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvlVar, err := levelStringToLevelVar(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		return lvlVar, nil
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		if err := godotenv.Load(configFile); err != nil {
			log.Printf("error loading env file %s: %v", configFile, err)
		}
	}

	viper.SetDefault("database", pxlsbot.DefaultDatabase)
	viper.SetDefault("database_type", pxlsbot.DefaultDatabaseType)
	viper.SetDefault(
		"database_slow_threshold",
		pxlsbot.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		pxlsbot.DefaultDatabaseLogLevel.String(),
	)

	viper.SetDefault("log_level", pxlsbot.DefaultLogLevel.String())
	viper.SetDefault("prefix", pxlsbot.DefaultCommandPrefix)
	viper.SetDefault("startup_timeout", pxlsbot.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", pxlsbot.DefaultShutdownTimeout)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault(
		"discord.log_level",
		pxlsbot.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		pxlsbot.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault(
		"discord.gateway_intents",
		int(pxlsbot.DefaultDiscordGatewayIntent),
	)
	viper.SetDefault(
		"discord.custom_status",
		pxlsbot.DefaultDiscordCustomStatus,
	)

	// Starboard config
	viper.SetDefault("starboard.emoji", "⭐")
	viper.SetDefault(
		"starboard.task_timeout",
		pxlsbot.DefaultStarboardTaskTimeout,
	)
	viper.SetDefault(
		"starboard.sweep_schedule",
		pxlsbot.DefaultStarboardSweepSchedule,
	)
	viper.SetDefault(
		"starboard.max_events_per_second",
		pxlsbot.DefaultStarboardMaxEventsPerSecond,
	)

	viper.SetDefault("canvas.url", pxlsbot.DefaultCanvasURL)

	// API config
	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.listen", pxlsbot.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.log_level", pxlsbot.DefaultAPILogLevel.String())
	viper.SetDefault("api.read_timeout", pxlsbot.DefaultReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		pxlsbot.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", pxlsbot.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", pxlsbot.DefaultIdleTimeout)
	viper.SetDefault(
		"api.cors.allow_methods",
		pxlsbot.DefaultCORSAllowMethods,
	)
	viper.SetDefault("api.cors.allow_origins", []string{})

	viper.SetEnvPrefix(defaultEnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.Set(
		"api.cors.allow_methods",
		viper.GetStringSlice("api.cors.allow_methods"),
	)
	viper.Set(
		"api.cors.allow_origins",
		viper.GetStringSlice("api.cors.allow_origins"),
	)

	for _, key := range []string{
		"log_level",
		"database_log_level",
		"discord.log_level",
		"discord.discordgo_log_level",
		"api.log_level",
	} {
		lvl, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, lvl)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Env file to use",
	)
}
