// Package dispatch delivers alert requests to the alert service.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"soundmeter/internal/engine"
	"soundmeter/internal/model"
)

const alertPath = "/api/email-alert"

// Dispatcher sends one alert attempt and classifies the result. It never
// fails: transport problems are reported as an outcome.
type Dispatcher interface {
	Dispatch(ctx context.Context, req engine.Request) model.DispatchOutcome
}

type HTTPDispatcher struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewHTTPDispatcher(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPDispatcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, req engine.Request) model.DispatchOutcome {
	out := d.send(ctx, req)
	d.logger.Info("alert dispatch",
		"attempt", req.ID,
		"kind", req.Kind,
		"db", req.Value,
		"slot", req.SlotID,
		"status", out.Status,
		"detail", out.Detail,
	)
	return out
}

func (d *HTTPDispatcher) send(ctx context.Context, req engine.Request) model.DispatchOutcome {
	body, err := json.Marshal(req.AlertRequest())
	if err != nil {
		return failure(fmt.Errorf("encode alert: %w", err))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+alertPath, bytes.NewReader(body))
	if err != nil {
		return failure(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := d.client.Do(httpReq)
	if err != nil {
		return failure(err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return failure(fmt.Errorf("read response: %w", err))
	}
	return Classify(resp.StatusCode, raw)
}

// Classify maps an alert service response onto a dispatch outcome.
func Classify(status int, body []byte) model.DispatchOutcome {
	var ar model.AlertResponse
	decodeErr := json.Unmarshal(body, &ar)
	switch status {
	case http.StatusOK:
		if decodeErr != nil {
			return failure(fmt.Errorf("decode response: %w", decodeErr))
		}
		if ar.Success {
			return model.DispatchOutcome{Status: model.DispatchSent, Detail: ar.Message}
		}
		return model.DispatchOutcome{Status: model.DispatchDisabled, Detail: ar.Message}
	case http.StatusTooManyRequests:
		out := model.DispatchOutcome{Status: model.DispatchInCooldown, Detail: ar.Message}
		if decodeErr == nil {
			out.SecondsRemaining = ar.SecondsRemaining
			if ar.NextAvailableAt != nil {
				out.NextEligibleAt = *ar.NextAvailableAt
			}
		}
		return out
	default:
		detail := fmt.Sprintf("status %d", status)
		if decodeErr == nil && ar.Message != "" {
			detail += ": " + ar.Message
		}
		return model.DispatchOutcome{Status: model.DispatchTransportFailure, Detail: detail}
	}
}

func failure(err error) model.DispatchOutcome {
	return model.DispatchOutcome{Status: model.DispatchTransportFailure, Detail: err.Error()}
}
