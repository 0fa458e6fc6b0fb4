// Package runware talks to the Runware task API for image, upscale and video jobs.
package runware

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/digkill/SynergyHub/internal/config"
	"github.com/digkill/SynergyHub/internal/models"
	"github.com/digkill/SynergyHub/internal/provider"
	"github.com/digkill/SynergyHub/internal/storage"
)

const Name = "runware"

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
		apiKey:     cfg.RunwareAPIKey,
		baseURL:    strings.TrimRight(cfg.RunwareBaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    provider.NewLimiter(cfg.ProviderRatePerSecond, cfg.ProviderBurst),
		log:        log,
	}
}

func (c *Client) Name() string { return Name }

type taskResult struct {
	TaskType string `json:"taskType"`
	TaskUUID string `json:"taskUUID"`
	ImageURL string `json:"imageURL"`
	VideoURL string `json:"videoURL"`
	Status   string `json:"status"`
}

type apiError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	TaskUUID string `json:"taskUUID"`
}

type envelope struct {
	Data   []taskResult `json:"data"`
	Errors []apiError   `json:"errors"`
}

func (c *Client) Submit(ctx context.Context, req provider.Request) (*provider.Output, error) {
	switch req.Operation {
	case models.OperationImageGeneration:
		return c.generateImages(ctx, req)
	case models.OperationUpscale:
		return c.upscale(ctx, req)
	case models.OperationVideoGeneration:
		return c.generateVideo(ctx, req)
	default:
		return nil, fmt.Errorf("runware does not support %s", req.Operation)
	}
}

func (c *Client) generateImages(ctx context.Context, req provider.Request) (*provider.Output, error) {
	q := lookupQuirk(req.Model)
	width, height := q.dimensions(req.Width, req.Height)
	format := outputFormat(req.OutputFormat)

	task := map[string]any{
		"taskType":       "imageInference",
		"taskUUID":       uuid.NewString(),
		"model":          req.Model,
		"positivePrompt": req.Prompt,
		"width":          width,
		"height":         height,
		"numberResults":  max(req.Count, 1),
		"outputType":     "URL",
		"outputFormat":   format,
	}
	if req.InputImage != nil {
		task["seedImage"] = dataURI(*req.InputImage)
		if req.Strength > 0 && !q.noStrength {
			task["strength"] = req.Strength
		}
	}
	if len(req.References) > 0 {
		refs := make([]string, 0, len(req.References))
		for _, ref := range req.References {
			refs = append(refs, dataURI(ref))
		}
		task["referenceImages"] = refs
	}

	results, err := c.post(ctx, task)
	if err != nil {
		return nil, err
	}
	out := &provider.Output{}
	for _, r := range results {
		if r.ImageURL == "" {
			continue
		}
		out.Images = append(out.Images, provider.Image{
			URL:         r.ImageURL,
			ContentType: storage.ContentTypeFor(format),
			Width:       width,
			Height:      height,
		})
	}
	if len(out.Images) == 0 {
		return nil, &provider.Error{Provider: Name, Message: "no images in response"}
	}
	return out, nil
}

func (c *Client) upscale(ctx context.Context, req provider.Request) (*provider.Output, error) {
	if req.InputImage == nil {
		return nil, fmt.Errorf("upscale requires an input image")
	}
	factor := min(max(req.UpscaleFactor, 2), 4)
	format := outputFormat(req.OutputFormat)
	task := map[string]any{
		"taskType":      "imageUpscale",
		"taskUUID":      uuid.NewString(),
		"inputImage":    dataURI(*req.InputImage),
		"upscaleFactor": factor,
		"outputType":    "URL",
		"outputFormat":  format,
	}
	results, err := c.post(ctx, task)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 || results[0].ImageURL == "" {
		return nil, &provider.Error{Provider: Name, Message: "no image in upscale response"}
	}
	return &provider.Output{Images: []provider.Image{{
		URL:         results[0].ImageURL,
		ContentType: storage.ContentTypeFor(format),
		Width:       req.Width * factor,
		Height:      req.Height * factor,
	}}}, nil
}

func (c *Client) generateVideo(ctx context.Context, req provider.Request) (*provider.Output, error) {
	q := lookupQuirk(req.Model)
	width, height := q.dimensions(req.Width, req.Height)
	taskID := uuid.NewString()
	task := map[string]any{
		"taskType":       "videoInference",
		"taskUUID":       taskID,
		"model":          req.Model,
		"positivePrompt": req.Prompt,
		"width":          width,
		"height":         height,
		"deliveryMethod": "async",
		"outputType":     "URL",
		"outputFormat":   "MP4",
	}
	if req.Duration > 0 {
		task["duration"] = req.Duration
	}
	if req.InputImage != nil {
		task["frameImages"] = []map[string]any{{"inputImage": dataURI(*req.InputImage), "frame": "first"}}
	}

	results, err := c.post(ctx, task)
	if err != nil {
		return nil, err
	}
	if len(results) > 0 && results[0].TaskUUID != "" {
		taskID = results[0].TaskUUID
	}
	c.log.Info("runware video task created", "task_id", taskID, "model", req.Model)
	return &provider.Output{TaskID: taskID}, nil
}

// Status polls an async task with getResponse.
func (c *Client) Status(ctx context.Context, taskID string) (*provider.Status, error) {
	task := map[string]any{"taskType": "getResponse", "taskUUID": taskID}
	env, err := c.do(ctx, task)
	if err != nil {
		return nil, err
	}
	for _, e := range env.Errors {
		if e.TaskUUID == "" || e.TaskUUID == taskID {
			return &provider.Status{State: models.TaskFailed, Message: e.Message}, nil
		}
	}
	for _, r := range env.Data {
		if r.TaskUUID != taskID {
			continue
		}
		switch strings.ToLower(r.Status) {
		case "success":
			url := r.VideoURL
			if url == "" {
				url = r.ImageURL
			}
			return &provider.Status{State: models.TaskCompleted, ResultURL: url}, nil
		case "error", "failed":
			return &provider.Status{State: models.TaskFailed, Message: "generation failed"}, nil
		default:
			return &provider.Status{State: models.TaskGenerating}, nil
		}
	}
	return &provider.Status{State: models.TaskPending}, nil
}

func (c *Client) post(ctx context.Context, task map[string]any) ([]taskResult, error) {
	env, err := c.do(ctx, task)
	if err != nil {
		return nil, err
	}
	if len(env.Errors) > 0 {
		return nil, &provider.Error{Provider: Name, Message: env.Errors[0].Message}
	}
	return env.Data, nil
}

func (c *Client) do(ctx context.Context, task map[string]any) (*envelope, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal([]map[string]any{task})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post runware: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(rawBody, &env)
	if resp.StatusCode >= 300 {
		c.log.Error("runware request failed", "status", resp.StatusCode, "task_type", task["taskType"], "body", provider.TruncateBody(rawBody))
		msg := provider.TruncateBody(rawBody)
		if decodeErr == nil && len(env.Errors) > 0 {
			msg = env.Errors[0].Message
		}
		return nil, &provider.Error{Provider: Name, StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode runware response: %w (body=%s)", decodeErr, provider.TruncateBody(rawBody))
	}
	return &env, nil
}

func dataURI(a provider.Attachment) string {
	ct := a.ContentType
	if ct == "" {
		ct = http.DetectContentType(a.Data)
	}
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(a.Data)
}

func outputFormat(format string) string {
	switch strings.ToUpper(strings.TrimSpace(format)) {
	case "JPG", "JPEG":
		return "JPG"
	case "WEBP":
		return "WEBP"
	default:
		return "PNG"
	}
}

