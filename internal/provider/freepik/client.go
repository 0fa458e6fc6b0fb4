// Package freepik wraps the Freepik skin enhancer task API.
package freepik

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/digkill/SynergyHub/internal/config"
	"github.com/digkill/SynergyHub/internal/models"
	"github.com/digkill/SynergyHub/internal/provider"
)

const Name = "freepik"

var modes = map[string]bool{"creative": true, "faithful": true, "flexible": true}

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *slog.Logger
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Client{
		apiKey:     cfg.FreepikAPIKey,
		baseURL:    strings.TrimRight(cfg.FreepikBaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    provider.NewLimiter(cfg.ProviderRatePerSecond, cfg.ProviderBurst),
		log:        log,
	}
}

func (c *Client) Name() string { return Name }

type taskResponse struct {
	Data struct {
		TaskID    string   `json:"task_id"`
		Status    string   `json:"status"`
		Generated []string `json:"generated"`
	} `json:"data"`
	Message string `json:"message"`
}

// modeFromModel reads the enhancer mode from ids like "freepik:skin-enhancer/faithful".
func modeFromModel(model string) string {
	if _, mode, ok := strings.Cut(model, "/"); ok && modes[strings.ToLower(mode)] {
		return strings.ToLower(mode)
	}
	return "creative"
}

func (c *Client) Submit(ctx context.Context, req provider.Request) (*provider.Output, error) {
	if req.Operation != models.OperationSkinEnhance {
		return nil, fmt.Errorf("freepik does not support %s", req.Operation)
	}
	if req.InputImage == nil {
		return nil, fmt.Errorf("skin enhance requires an input image")
	}
	payload := map[string]any{
		"image":       base64.StdEncoding.EncodeToString(req.InputImage.Data),
		"sharpen":     req.Sharpen,
		"smart_grain": req.SmartGrain,
	}
	mode := modeFromModel(req.Model)
	resp, err := c.call(ctx, http.MethodPost, "/v1/ai/skin-enhancer/"+mode, payload)
	if err != nil {
		return nil, err
	}
	if resp.Data.TaskID == "" {
		return nil, &provider.Error{Provider: Name, Message: "empty task_id in response"}
	}
	c.log.Info("freepik task created", "task_id", resp.Data.TaskID, "mode", mode)
	return &provider.Output{TaskID: resp.Data.TaskID}, nil
}

func (c *Client) Status(ctx context.Context, taskID string) (*provider.Status, error) {
	resp, err := c.call(ctx, http.MethodGet, "/v1/ai/skin-enhancer/"+url.PathEscape(taskID), nil)
	if err != nil {
		return nil, err
	}
	switch strings.ToUpper(resp.Data.Status) {
	case "CREATED":
		return &provider.Status{State: models.TaskPending}, nil
	case "IN_PROGRESS":
		return &provider.Status{State: models.TaskGenerating}, nil
	case "COMPLETED":
		if len(resp.Data.Generated) == 0 {
			return &provider.Status{State: models.TaskFailed, Message: "completed without results"}, nil
		}
		return &provider.Status{State: models.TaskCompleted, ResultURL: resp.Data.Generated[0]}, nil
	case "FAILED":
		msg := resp.Message
		if msg == "" {
			msg = "task failed"
		}
		return &provider.Status{State: models.TaskFailed, Message: msg}, nil
	default:
		return nil, fmt.Errorf("unknown freepik task status %q", resp.Data.Status)
	}
}

func (c *Client) call(ctx context.Context, method, path string, payload any) (*taskResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("x-freepik-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call freepik: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var out taskResponse
	decodeErr := json.Unmarshal(rawBody, &out)
	if resp.StatusCode >= 300 {
		c.log.Error("freepik request failed", "status", resp.StatusCode, "path", path, "body", provider.TruncateBody(rawBody))
		msg := provider.TruncateBody(rawBody)
		if decodeErr == nil && out.Message != "" {
			msg = out.Message
		}
		return nil, &provider.Error{Provider: Name, StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode freepik response: %w (body=%s)", decodeErr, provider.TruncateBody(rawBody))
	}
	return &out, nil
}
