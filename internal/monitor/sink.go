package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"soundmeter/internal/model"
)

// Sink persists periodic readings.
type Sink interface {
	Send(ctx context.Context, rec model.LogRecord) error
	Close() error
}

type HTTPSink struct {
	url    string
	client *http.Client
}

func NewHTTPSink(baseURL string, timeout time.Duration) *HTTPSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSink{
		url:    strings.TrimRight(baseURL, "/") + "/api/logs",
		client: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSink) Send(ctx context.Context, rec model.LogRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("log rejected: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func (s *HTTPSink) Close() error { return nil }

// KafkaSink publishes readings to the topic the server ingests from, keyed
// by client id.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}}
}

func (s *KafkaSink) Send(ctx context.Context, rec model.LogRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kafka.Message{Key: []byte(rec.ClientID), Value: b, Time: rec.Timestamp})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
