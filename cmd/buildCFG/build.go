// Package buildCFG turns the raw config file into the typed settings
// each subsystem is wired with.
package buildCFG

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/dbpg"

	"festreg/internal/mailer"
)

type ServerConfig struct {
	Port string
}

type RabbitConfig struct {
	Url      string
	Exchange string
	Queue    string
}

type SyncConfig struct {
	BatchDelay time.Duration
}

func BuildServerConfig(cfg *config.Config, log *zerolog.Logger) ServerConfig {
	port := cfg.GetString("server.port")
	if port == "" {
		port = "8080"
		log.Warn().Msg("server.port not set, defaulting to 8080")
	}
	return ServerConfig{Port: port}
}

func BuildDBConfig(cfg *config.Config, log *zerolog.Logger) (string, []string, *dbpg.Options, error) {
	masterDSN := cfg.GetString("database.master_dsn")
	if masterDSN == "" {
		return "", nil, nil, fmt.Errorf("database.master_dsn is required")
	}
	slaveDSNs := cfg.GetStringSlice("database.slave_dsns")

	opts := &dbpg.Options{
		MaxOpenConns:    cfg.GetInt("database.max_open_conns"),
		MaxIdleConns:    cfg.GetInt("database.max_idle_conns"),
		ConnMaxLifetime: cfg.GetDuration("database.conn_max_lifetime"),
	}
	log.Info().Int("slaves", len(slaveDSNs)).Msg("database config built")
	return masterDSN, slaveDSNs, opts, nil
}

func BuildRabbitConfig(cfg *config.Config, log *zerolog.Logger) (RabbitConfig, error) {
	rc := RabbitConfig{
		Url:      cfg.GetString("rabbit.url"),
		Exchange: cfg.GetString("rabbit.exchange"),
		Queue:    cfg.GetString("rabbit.queue"),
	}
	if rc.Url == "" {
		return rc, fmt.Errorf("rabbit.url is required")
	}
	if rc.Exchange == "" {
		rc.Exchange = "registration.sync"
	}
	if rc.Queue == "" {
		rc.Queue = "registration.sync.q"
	}
	log.Info().Str("exchange", rc.Exchange).Str("queue", rc.Queue).Msg("rabbit config built")
	return rc, nil
}

func BuildSyncConfig(cfg *config.Config) SyncConfig {
	delay := cfg.GetDuration("sync.batch_delay")
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	return SyncConfig{BatchDelay: delay}
}

// BuildMailerConfig returns nil settings when SMTP is not configured;
// the service then skips notification mail entirely.
func BuildMailerConfig(cfg *config.Config, log *zerolog.Logger) *mailer.Config {
	host := cfg.GetString("smtp.host")
	from := cfg.GetString("smtp.from")
	if host == "" || from == "" {
		log.Warn().Msg("smtp not configured, registration emails disabled")
		return nil
	}
	port := cfg.GetInt("smtp.port")
	if port == 0 {
		port = 587
	}
	return &mailer.Config{
		Host:     host,
		Port:     port,
		From:     from,
		Password: cfg.GetString("smtp.password"),
	}
}
