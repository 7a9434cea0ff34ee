// main.go: IHP capsule auth server binary.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"net/http"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/agilira/ihp"
	"github.com/agilira/ihp/ihpmetrics"
	"github.com/agilira/ihp/ihpserver"
)

type serverConfig struct {
	Addr             string `env:"IHP_ADDR" envDefault:":8443"`
	ProfileID        uint64 `env:"IHP_PROFILE_ID" envDefault:"1"`
	MasterKeyHex     string `env:"IHP_MASTER_KEY_HEX"`
	MaxDriftSeconds  int64  `env:"IHP_MAX_DRIFT_SECONDS" envDefault:"300"`
	ReplayProtection bool   `env:"IHP_REPLAY_PROTECTION" envDefault:"true"`
	DevExporterHex   string `env:"IHP_DEV_EXPORTER_HEX"`
	LogLevel         string `env:"IHP_LOG_LEVEL" envDefault:"info"`
}

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	// Optional .env for local development; absence is not an error.
	_ = godotenv.Load()

	var cfg serverConfig
	if err := env.Parse(&cfg); err != nil {
		log.WithError(err).Fatal("configuration parse failed")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	protocolConfig, err := ihp.NewConfigBuilder().
		MaxTimestampDrift(cfg.MaxDriftSeconds).
		Build()
	if err != nil {
		log.WithError(err).Fatal("protocol configuration rejected")
	}

	master, err := loadMasterKey(cfg.MasterKeyHex, log)
	if err != nil {
		log.WithError(err).Fatal("master key unavailable")
	}
	masterProvider := ihp.NewInMemoryMasterKeyProvider()
	if err := masterProvider.Register(ihp.ServerProfileID(cfg.ProfileID), master); err != nil {
		log.WithError(err).Fatal("master key registration failed")
	}
	defer masterProvider.Close()

	var exporter ihpserver.ExporterSource = ihpserver.TLSExporterSource{}
	if cfg.DevExporterHex != "" {
		material, err := ihp.KeyFromHex(cfg.DevExporterHex)
		if err != nil {
			log.WithError(err).Fatal("dev exporter material malformed")
		}
		exporter = ihpserver.StaticExporterSource(material)
		log.Warn("static exporter material in use, sessions are not channel-bound")
	}

	registry := prometheus.NewRegistry()
	server, err := ihpserver.Bootstrap(ihpserver.Options{
		Config:           protocolConfig,
		Provider:         ihp.NewHKDFKeyProvider(masterProvider),
		ProfileID:        ihp.ServerProfileID(cfg.ProfileID),
		Exporter:         exporter,
		Logger:           log,
		Observer:         ihpmetrics.NewObserver(registry),
		ReplayProtection: cfg.ReplayProtection,
	})
	if err != nil {
		log.WithError(err).Fatal("server bootstrap failed")
	}

	mux := http.NewServeMux()
	mux.Handle("/ihp/", server.Router())
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.WithField("addr", cfg.Addr).Info("ihp server listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("server terminated")
	}
}

// loadMasterKey decodes the configured master key, or generates an ephemeral
// one for development when none is configured.
func loadMasterKey(hexKey string, log *logrus.Logger) (*ihp.MasterKey, error) {
	if hexKey == "" {
		log.Warn("no master key configured, generating an ephemeral development key")
		return ihp.GenerateMasterKey()
	}
	raw, err := ihp.KeyFromHex(hexKey)
	if err != nil {
		return nil, err
	}
	if err := ihp.ValidateKeyLen(raw); err != nil {
		ihp.Zeroize(raw)
		return nil, err
	}
	var bytes [ihp.KeySize]byte
	copy(bytes[:], raw)
	ihp.Zeroize(raw)
	key := ihp.NewMasterKey(bytes)
	ihp.Zeroize(bytes[:])
	// Clearing the env var narrows the window the key is readable from the
	// process environment.
	_ = os.Unsetenv("IHP_MASTER_KEY_HEX")
	return key, nil
}
