// Package gemini performs image edits and inpainting with Gemini image models.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/digkill/SynergyHub/internal/config"
	"github.com/digkill/SynergyHub/internal/models"
	"github.com/digkill/SynergyHub/internal/provider"
)

const Name = "gemini"

const maskInstruction = "The next image is a mask: only change the regions painted white in it and keep everything else identical."

type Client struct {
	genai   *genai.Client
	limiter *rate.Limiter
	log     *slog.Logger
}

func NewClient(ctx context.Context, cfg config.Config, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	cc := &genai.ClientConfig{
		APIKey:     cfg.GeminiAPIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.RequestTimeout},
	}
	if cfg.GeminiBaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.GeminiBaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Client{
		genai:   client,
		limiter: provider.NewLimiter(cfg.ProviderRatePerSecond, cfg.ProviderBurst),
		log:     log,
	}, nil
}

func (c *Client) Name() string { return Name }

// Submit runs a synchronous edit. The result bytes come back inline.
func (c *Client) Submit(ctx context.Context, req provider.Request) (*provider.Output, error) {
	if req.Operation != models.OperationInpaint {
		return nil, fmt.Errorf("gemini does not support %s", req.Operation)
	}
	if req.InputImage == nil {
		return nil, fmt.Errorf("inpaint requires an input image")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	parts := []*genai.Part{
		genai.NewPartFromText(req.Prompt),
		genai.NewPartFromBytes(req.InputImage.Data, mimeOrDefault(req.InputImage)),
	}
	if req.Mask != nil {
		parts = append(parts,
			genai.NewPartFromText(maskInstruction),
			genai.NewPartFromBytes(req.Mask.Data, mimeOrDefault(req.Mask)),
		)
	}
	for _, ref := range req.References {
		parts = append(parts, genai.NewPartFromBytes(ref.Data, mimeOrDefault(&ref)))
	}

	resp, err := c.genai.Models.GenerateContent(ctx, req.Model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		&genai.GenerateContentConfig{ResponseModalities: []string{"TEXT", "IMAGE"}},
	)
	if err != nil {
		return nil, wrapError(err)
	}

	out := &provider.Output{}
	var text []string
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			switch {
			case part.InlineData != nil && len(part.InlineData.Data) > 0:
				out.Images = append(out.Images, provider.Image{
					Data:        part.InlineData.Data,
					ContentType: part.InlineData.MIMEType,
					Width:       req.Width,
					Height:      req.Height,
				})
			case part.Text != "":
				text = append(text, part.Text)
			}
		}
	}
	if len(out.Images) == 0 {
		msg := "no image returned"
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			msg = "prompt blocked: " + string(resp.PromptFeedback.BlockReason)
		} else if len(text) > 0 {
			msg = strings.Join(text, " ")
		}
		c.log.Warn("gemini returned no image", "model", req.Model, "reason", msg)
		return nil, &provider.Error{Provider: Name, Message: msg}
	}
	return out, nil
}

func wrapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &provider.Error{Provider: Name, StatusCode: apiErr.Code, Message: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &provider.Error{Provider: Name, StatusCode: apiErrPtr.Code, Message: apiErrPtr.Message}
	}
	return fmt.Errorf("gemini generate content: %w", err)
}

func mimeOrDefault(a *provider.Attachment) string {
	if a.ContentType != "" {
		return a.ContentType
	}
	return http.DetectContentType(a.Data)
}
