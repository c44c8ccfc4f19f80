// Package events publishes stage completion reports over NATS so downstream
// consumers can refresh when new data has been committed.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Config holds NATS settings.
type Config struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// ApplyDefaults sets default values for NATS config.
func (c *Config) ApplyDefaults() {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "air_tracker"
	}
}

// StageReport summarises one committed stage cycle.
type StageReport struct {
	RunID      string    `json:"run_id"`
	Stage      string    `json:"stage"`
	Processed  int       `json:"processed"`
	Written    int       `json:"written"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Subject returns the subject a stage's reports are published on.
func Subject(prefix, stage string) string {
	return strings.TrimSuffix(prefix, ".") + ".stage." + stage
}

// Publisher sends StageReports to NATS.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	log    *zap.Logger
}

// Connect dials NATS.
func Connect(cfg Config, log *zap.Logger) (*Publisher, error) {
	cfg.ApplyDefaults()
	if log == nil {
		log = zap.NewNop()
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("air-tracker"),
		nats.Timeout(5*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(30),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	return &Publisher{nc: nc, prefix: cfg.SubjectPrefix, log: log}, nil
}

// PublishStage publishes r and flushes so delivery failures surface here.
func (p *Publisher) PublishStage(ctx context.Context, r StageReport) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal stage report: %w", err)
	}
	subject := Subject(p.prefix, r.Stage)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	if err := p.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush %s: %w", subject, err)
	}
	return nil
}

// Conn exposes the underlying connection.
func (p *Publisher) Conn() *nats.Conn {
	return p.nc
}

// Close drains and closes the connection.
func (p *Publisher) Close() error {
	return p.nc.Drain()
}
