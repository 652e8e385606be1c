// syncprobe is a diagnostic client: it connects to a table server, joins
// a table, fires probe moves, and prints the interpolated view and
// round-trip feedback the sync core produces.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tavern-games/tablesync/internal/client"
	"github.com/tavern-games/tablesync/internal/metrics"
	"github.com/tavern-games/tablesync/internal/transport"
	"github.com/tavern-games/tablesync/internal/wire"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	configPath := getEnv("SYNCPROBE_CONFIG", "syncprobe.yaml")
	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	credential := getEnv("SYNCPROBE_CREDENTIAL", "probe-user")
	tableID := getEnv("SYNCPROBE_TABLE_ID", cfg.TableID)
	probeCount := getEnvAsInt("SYNCPROBE_MOVES", 5)
	if tableID == "" {
		log.Fatal().Msg("no table id; set table_id in config or SYNCPROBE_TABLE_ID")
	}

	log.Info().
		Str("transport", cfg.Transport).
		Str("table_id", tableID).
		Str("credential", credential).
		Msg("starting syncprobe")

	// Metrics endpoint
	registry := prometheus.NewRegistry()
	collector := metrics.NewPrometheusCollector(registry)
	go func() {
		http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		if err := http.ListenAndServe(cfg.MetricsAddr, nil); err != nil {
			log.Warn().Err(err).Msg("metrics server stopped")
		}
	}()

	dialer, err := buildDialer(cfg, collector)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build dialer")
	}

	svc := client.NewService(client.DefaultConfig(), dialer, nil, collector)
	svc.OnGameOver(func(over wire.GameOverPayload) {
		log.Info().
			Str("winner_id", over.WinnerID).
			Int64("prize", over.Prize).
			Msg("game over")
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go svc.Run(ctx)

	if err := svc.Connect(ctx, credential); err != nil {
		log.Fatal().Err(err).Msg("connect failed")
	}
	defer svc.Disconnect()

	if err := svc.JoinTable(tableID); err != nil {
		log.Fatal().Err(err).Msg("join failed")
	}

	go func() {
		for fb := range svc.Feedback() {
			log.Info().
				Str("action_id", fb.ActionID).
				Dur("elapsed", fb.Elapsed).
				RawJSON("payload", fb.Payload).
				Msg("round trip")
		}
	}()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for i := 0; i < probeCount; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		move, _ := json.Marshal(map[string]any{"probe": i, "from": i, "to": i + 1})
		id := svc.SendMove(move)
		if id == "" {
			log.Warn().Msg("move dropped, sync not ready")
			continue
		}

		view, _ := json.Marshal(svc.View())
		fmt.Printf("move %d sent (action %s), view: %s, state: %s\n", i, id, view, svc.State())
	}

	log.Info().Str("health", fmt.Sprintf("%+v", svc.Health())).Msg("probe complete")
}

func buildDialer(cfg Config, collector metrics.Collector) (transport.Dialer, error) {
	switch cfg.Transport {
	case "websocket":
		wsCfg := transport.DefaultWebSocketConfig()
		wsCfg.URL = cfg.WebSocket.URL
		wsCfg.MaxReconnects = cfg.WebSocket.MaxReconnects
		wsCfg.InitialBackoff = cfg.WebSocket.InitialBackoff
		wsCfg.BackoffCeiling = cfg.WebSocket.BackoffCeiling
		return transport.NewWebSocketDialer(wsCfg, nil, collector), nil
	case "nats":
		natsCfg := transport.DefaultNATSConfig()
		natsCfg.URL = cfg.NATS.URL
		natsCfg.ServerSubject = cfg.NATS.ServerSubject
		natsCfg.ClientSubjects = cfg.NATS.ClientSubject
		return transport.NewNATSDialer(natsCfg, collector), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}
