package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mossy-p/videoroom-relay/config"
	"github.com/mossy-p/videoroom-relay/internal/handlers"
	"github.com/mossy-p/videoroom-relay/internal/janus"
	"github.com/mossy-p/videoroom-relay/internal/livestream"
	"github.com/mossy-p/videoroom-relay/internal/logger"
	"github.com/mossy-p/videoroom-relay/internal/redis"
	"github.com/mossy-p/videoroom-relay/internal/relay"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "signaling",
	Short: "WebRTC signaling relay in front of a Janus gateway",
	Long: `signaling accepts browser WebSocket clients, joins them to one shared
videoroom on a Janus gateway and relays SDP and ICE between the two. A second
namespace manages an RTP ingest mountpoint on the streaming plugin.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), config.FromViper(viper.GetViper()))
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, optional)")
	rootCmd.Flags().String("port", "", "HTTP listen port (overrides PORT)")
	rootCmd.Flags().String("janus-url", "", "Janus WebSocket URL (overrides JANUS_URL)")
	rootCmd.Flags().String("log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")

	viper.BindPFlag("port", rootCmd.Flags().Lookup("port"))
	viper.BindPFlag("janus_url", rootCmd.Flags().Lookup("janus-url"))
	viper.BindPFlag("log_level", rootCmd.Flags().Lookup("log-level"))
}

// initConfig reads the optional config file on top of defaults and environment.
func initConfig() {
	config.Init(viper.GetViper())

	if cfgFile == "" {
		return
	}
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		logger.Fatalf("Failed to read config file %s: %v", cfgFile, err)
	}
	logger.Infof("Using config file %s", viper.ConfigFileUsed())
}

func run(ctx context.Context, cfg *config.Config) error {
	defer logger.Sync()

	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		logger.Warnf("Ignoring log level %q: %v", cfg.LogLevel, err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := janus.Open(ctx, janus.Config{
		URL:            cfg.Janus.URL,
		APISecret:      cfg.Janus.APISecret,
		MaxRetries:     cfg.Janus.MaxRetries,
		RetryDelay:     cfg.Janus.RetryDelay,
		RequestTimeout: cfg.Janus.RequestTimeout,
		KeepAlive:      cfg.Janus.KeepAlive,
	})
	if errors.Is(err, janus.ErrUnreachable) {
		logger.Fatalf("Janus gateway at %s is unreachable: %v", cfg.Janus.URL, err)
	}
	if err != nil {
		return err
	}
	defer gw.Close()
	logger.Infof("Janus connection established (%s)", cfg.Janus.URL)

	created, err := janus.EnsureRoom(ctx, gw, cfg.Room.ID, cfg.Room.Publishers)
	if err != nil {
		logger.Fatalf("Failed to provision room %d: %v", cfg.Room.ID, err)
	}
	if created {
		logger.Infof("Created room %d", cfg.Room.ID)
	} else {
		logger.Infof("Room %d already exists", cfg.Room.ID)
	}

	rdb, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		logger.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer rdb.Close()
	logger.Info("Redis connection established")

	store := redis.NewStore(rdb, cfg.Room.ID)
	if err := store.Reset(ctx); err != nil {
		logger.Warnf("Failed to reset room presence: %v", err)
	}

	rl := relay.New(gw, relay.Config{
		Room: cfg.Room.ID,
		Retry: relay.RetryPolicy{
			MaxAttempts: cfg.Room.SubscribeMaxAttempts,
			Delay:       cfg.Room.SubscribeRetryDelay,
		},
	}, relay.WithPresence(store))

	router := handlers.NewRouter(cfg, handlers.Deps{
		Relay:    rl,
		Mounts:   livestream.NewMounts(gw, cfg.Stream.RTPHost, store),
		Presence: store,
		Store:    store,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Starting signaling server on port %s", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}
