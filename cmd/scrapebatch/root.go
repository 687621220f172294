package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/scrapernhl/scrapekit/internal/config"
	"github.com/scrapernhl/scrapekit/pkg/cache"
	"github.com/scrapernhl/scrapekit/pkg/logging"
)

// app carries state shared by all subcommands.
type app struct {
	configFile string
	envFile    string
	logLevel   string
	pretty     bool

	cfg    *config.Config
	logger zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "scrapebatch",
		Short: "Rate-limited, resumable batch fetching of JSON API endpoints",
		Long: `scrapebatch fetches many endpoints of a JSON API with:
- a bounded worker pool sharing one rate limit
- retries with exponential backoff for transient and rate-limit errors
- a file or Redis response cache
- checkpoints so interrupted runs resume where they stopped`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&a.envFile, "env-file", "", "dotenv file with SCRAPEKIT_* overrides")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&a.pretty, "pretty", false, "human-readable log output")

	rootCmd.AddCommand(newRunCmd(a))
	rootCmd.AddCommand(newCacheCmd(a))

	return rootCmd
}

// setup loads configuration and sets up logging.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configFile, a.envFile)
	if err != nil {
		return err
	}

	if a.logLevel != "" {
		level, err := logging.ParseLevel(a.logLevel)
		if err != nil {
			return err
		}
		cfg.Log.Level = level
	}
	if cmd.Flags().Changed("pretty") {
		cfg.Log.Pretty = a.pretty
	}
	cfg.Log.Output = cmd.ErrOrStderr()

	logging.Setup(cfg.Log)
	a.cfg = cfg
	a.logger = logging.NewLogger("cli")
	return nil
}

// openCache builds the configured cache. It returns a nil cache for the
// "none" backend. The returned close function is never nil.
func (a *app) openCache(ctx context.Context) (*cache.Cache, func() error, error) {
	noop := func() error { return nil }
	cc := a.cfg.Cache

	switch cc.Backend {
	case config.CacheNone:
		return nil, noop, nil

	case config.CacheRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cc.Redis.Addr,
			Password: cc.Redis.Password,
			DB:       cc.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("connect to redis at %s: %w", cc.Redis.Addr, err)
		}
		a.logger.Debug().Str("addr", cc.Redis.Addr).Int("db", cc.Redis.DB).Msg("Connected to Redis")
		return cache.New(cache.NewRedisStore(client, cc.Redis.Prefix)), client.Close, nil

	default:
		dir := cache.DefaultDir()
		if cc.Dir != "" {
			dir = config.ExpandPath(cc.Dir)
		}
		store, err := cache.NewFileStore(dir)
		if err != nil {
			return nil, noop, err
		}
		return cache.New(store), noop, nil
	}
}
