package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/awnumar/memguard"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"southwinds.dev/keycache"
	"southwinds.dev/keycache/alarm"
	"southwinds.dev/keycache/broadcast"
	"southwinds.dev/keycache/display"
	"southwinds.dev/keycache/internal/logging"
	"southwinds.dev/keycache/settings"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the key cache",
	Long: `Run the key cache, reading lifecycle commands from stdin one per line.

The host process writes activity-start and activity-stop as its screens come and
go, unlock when the user has entered the passphrase, and clear-key on lock.
Type help for the full list.

Examples:
  # Interactive, five minute timeout
  KEYCACHE_PASSPHRASE_TIMEOUT_ENABLED=true keycache serve

  # Expose prometheus metrics
  keycache serve --metrics-addr :9464`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("metrics-addr", "", "address to serve prometheus metrics on (disabled when empty)")
	serveCmd.Flags().String("permission", "", "capability token guarding the key event channel")
	serveCmd.Flags().Bool("lock-memory", true, "lock the whole process into RAM")

	for key, flag := range map[string]string{
		"metrics.address":   "metrics-addr",
		"cache.permission":  "permission",
		"cache.lock_memory": "lock-memory",
	} {
		if err := viper.BindPFlag(key, serveCmd.Flags().Lookup(flag)); err != nil {
			panic(fmt.Sprintf("failed to bind %s flag: %v", flag, err))
		}
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer memguard.Purge()

	auditLogger, err := createAuditLogger()
	if err != nil {
		return fmt.Errorf("failed to create audit logger: %w", err)
	}

	permission := viper.GetString("cache.permission")
	channel, err := broadcast.NewChannel(permission)
	if err != nil {
		return fmt.Errorf("failed to create event channel: %w", err)
	}
	defer channel.Close()

	sub, err := channel.Subscribe(permission, viper.GetInt("cache.subscriber_buffer"))
	if err != nil {
		return fmt.Errorf("failed to subscribe to key events: %w", err)
	}
	go logEvents(sub)

	scheduler := alarm.NewTimerScheduler()
	defer scheduler.Close()

	provider := settings.NewViperProvider(viper.GetViper())
	if viper.ConfigFileUsed() != "" {
		provider.Watch()
	}

	cache, err := keycache.New(keycache.Options{
		Scheduler:        scheduler,
		Publisher:        channel,
		Permission:       permission,
		Settings:         provider,
		Indicator:        display.NewLogIndicator(nil, "Passphrase Cached"),
		Audit:            auditLogger,
		EnableMemoryLock: viper.GetBool("cache.lock_memory"),
	})
	if err != nil {
		_ = auditLogger.Close()
		return fmt.Errorf("failed to create key cache: %w", err)
	}
	defer func() {
		if err := cache.Close(); err != nil {
			logging.L.Error("key cache shutdown", "err", err)
		}
	}()

	if addr := viper.GetString("metrics.address"); addr != "" {
		srv := startMetricsServer(addr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	logging.L.Info("key cache ready",
		"memory_protection", cache.SecureMemoryProtection(),
		"timeout_enabled", provider.TimeoutEnabled(),
		"timeout", provider.TimeoutInterval(),
		"flags", changedFlags(cmd))

	return newSession(cache, cmd.OutOrStdout()).run(ctx, cmd.InOrStdin())
}

// logEvents drains the key event channel until it is closed
func logEvents(sub *broadcast.Subscription) {
	for ev := range sub.C {
		logging.L.Info("key event", "type", ev.Type, "id", ev.ID)
	}
}

func startMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.L.Error("metrics server stopped", "addr", addr, "err", err)
		}
	}()
	logging.L.Info("serving metrics", "addr", addr)
	return srv
}
