// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package alerting publishes escalation warnings raised by forecasts and
// replays.
package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/AleutianAI/adam/internal/eri"
	"github.com/AleutianAI/adam/internal/replay"
	"github.com/AleutianAI/adam/pkg/logging"
)

// DefaultTopic receives warnings when Config.Topic is empty.
const DefaultTopic = "adam.escalation.warnings"

// Warning sources.
const (
	SourceForecast = "forecast"
	SourceReplay   = "replay"
)

// Warning is an ERI threshold crossing.
type Warning struct {
	Source       string    `json:"source"`
	ControlID    string    `json:"control_id"`
	ERI          float64   `json:"eri"`
	Threshold    float64   `json:"threshold"`
	AsOf         time.Time `json:"as_of"`
	LeadTimeDays *float64  `json:"lead_time_days,omitempty"`
	RunID        string    `json:"run_id,omitempty"`
}

// ForecastWarning builds a warning from a live forecast score, or returns
// false when the score is below threshold.
func ForecastWarning(score eri.Result, threshold float64, asOf time.Time) (Warning, bool) {
	if !score.Exceeds(threshold) {
		return Warning{}, false
	}
	return Warning{
		Source:    SourceForecast,
		ControlID: score.TopDriver,
		ERI:       score.ERI,
		Threshold: threshold,
		AsOf:      asOf.UTC(),
	}, true
}

// ReplayWarning builds a warning from a replay's first warning day, or
// returns false when the replay never warned.
func ReplayWarning(res *replay.Result) (Warning, bool) {
	p, ok := res.FirstWarning()
	if !ok {
		return Warning{}, false
	}
	return Warning{
		Source:       SourceReplay,
		ControlID:    p.TopDriver,
		ERI:          p.ERI,
		Threshold:    res.Threshold,
		AsOf:         p.AsOf,
		LeadTimeDays: res.LeadTimeDays,
		RunID:        res.RunID,
	}, true
}

// Publisher delivers warnings.
type Publisher interface {
	Publish(ctx context.Context, w Warning) error
	Close() error
}

// NopPublisher drops every warning.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Warning) error { return nil }
func (NopPublisher) Close() error                           { return nil }

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes warnings as JSON, keyed by control id so that one
// control's warnings stay ordered within a partition.
//
// # Thread Safety
//
// KafkaPublisher is safe for concurrent use.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *slog.Logger
}

// Config selects and configures a publisher.
type Config struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// New returns a KafkaPublisher when brokers are configured and a
// NopPublisher otherwise.
func New(cfg Config, logger *slog.Logger) Publisher {
	if logger == nil {
		logger = logging.Discard()
	}
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		logger.Debug("no kafka brokers configured, escalation warnings are not published")
		return NopPublisher{}
	}
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		WriteTimeout:           timeout,
		AllowAutoTopicCreation: true,
	}
	return newKafkaPublisher(w, topic, logger)
}

func newKafkaPublisher(w messageWriter, topic string, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: w,
		topic:  topic,
		logger: logger.With(slog.String("component", "alerting"), slog.String("topic", topic)),
	}
}

// Publish writes one warning.
func (p *KafkaPublisher) Publish(ctx context.Context, w Warning) error {
	if w.Source == "" {
		return errors.New("warning source is required")
	}
	body, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("encode warning: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(w.ControlID),
		Value: body,
		Time:  w.AsOf,
		Headers: []kafka.Header{
			{Key: "source", Value: []byte(w.Source)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish warning to %s: %w", p.topic, err)
	}
	p.logger.Info("escalation warning published",
		slog.String("source", w.Source),
		slog.String("control_id", w.ControlID),
		slog.Float64("eri", w.ERI),
	)
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
