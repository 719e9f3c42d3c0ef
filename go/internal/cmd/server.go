package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/focusroom/go/internal/config"
	"github.com/mcdev12/focusroom/go/internal/metrics"
	"github.com/mcdev12/focusroom/go/internal/relay"
)

func setupRelay(cfg config.Relay) (*relay.Server, error) {
	serverConfig := relay.DefaultConfig()
	serverConfig.Port = cfg.Port
	serverConfig.AllowedOrigins = cfg.AllowedOrigins
	serverConfig.ReadTimeout = cfg.ReadTimeout
	serverConfig.IdleTimeout = cfg.IdleTimeout
	serverConfig.Hub.RecentLimit = cfg.RecentLimit

	var opts []relay.Option

	if cfg.NATSURL != "" {
		natsConfig := relay.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		fanout, err := relay.NewNATSFanout(natsConfig)
		if err != nil {
			return nil, fmt.Errorf("setup NATS fanout: %w", err)
		}
		opts = append(opts, relay.WithFanout(fanout))
		log.Info().Str("nats_url", cfg.NATSURL).Msg("relaying rooms through NATS")
	}

	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts = append(opts, relay.WithMetrics(metrics.NewPrometheusCollector(reg), reg))
	}

	return relay.NewServer(serverConfig, opts...)
}
