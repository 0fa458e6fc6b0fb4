package api

import (
	"bytes"
	"encoding/base64"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"strings"

	_ "golang.org/x/image/webp"

	"github.com/digkill/SynergyHub/internal/models"
	"github.com/digkill/SynergyHub/internal/provider"
	"github.com/digkill/SynergyHub/internal/service"
	"github.com/digkill/SynergyHub/internal/storage"
)

// generateRequest carries input files as base64 or data URIs. Model, PositivePrompt,
// NumberResults, InputImage(s) and SmartGrainAlt are the provider-style names accepted
// for the same fields.
type generateRequest struct {
	Operation     string   `json:"operationType,omitempty"`
	Model         string   `json:"modelIdentifier"`
	Prompt        string   `json:"prompt"`
	Width         int      `json:"width"`
	Height        int      `json:"height"`
	Count         int      `json:"desiredCount"`
	Image         string   `json:"image"`
	Mask          string   `json:"mask"`
	References    []string `json:"references"`
	UpscaleFactor int      `json:"upscaleFactor"`
	Strength      float64  `json:"strength"`
	Duration      int      `json:"duration"`
	Sharpen       int      `json:"sharpen"`
	SmartGrain    int      `json:"smartGrain"`
	OutputFormat  string   `json:"outputFormat"`

	ModelAlias     string   `json:"model"`
	PositivePrompt string   `json:"positivePrompt"`
	NumberResults  int      `json:"numberResults"`
	InputImage     string   `json:"inputImage"`
	InputImages    []string `json:"inputImages"`
	SmartGrainAlt  int      `json:"smart_grain"`
}

// merge folds the alternative field names into the primary ones. Primary names win.
func (r *generateRequest) merge() {
	if r.Model == "" {
		r.Model = r.ModelAlias
	}
	if r.Prompt == "" {
		r.Prompt = r.PositivePrompt
	}
	if r.Count == 0 {
		r.Count = r.NumberResults
	}
	if r.SmartGrain == 0 {
		r.SmartGrain = r.SmartGrainAlt
	}
	if r.Image == "" {
		r.Image = r.InputImage
	}
	images := r.InputImages
	if r.Image == "" && len(images) > 0 {
		r.Image, images = images[0], images[1:]
	}
	r.References = append(r.References, images...)
}

type generateResponse struct {
	Image            *artifactResponse  `json:"image,omitempty"`
	Images           []artifactResponse `json:"images,omitempty"`
	Pending          int                `json:"pending"`
	TaskID           string             `json:"taskId,omitempty"`
	Status           string             `json:"status,omitempty"`
	CreditsRemaining float64            `json:"creditsRemaining"`
	CostCharged      float64            `json:"costCharged"`
}

func (s *Server) handleGenerate(op models.OperationType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		genReq, err := toGenerationRequest(op, req)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		res, err := s.generation.Generate(r.Context(), userID(r.Context()), genReq)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		resp := generateResponse{
			Pending:          res.Pending,
			CreditsRemaining: credits(res.CreditsRemaining),
			CostCharged:      credits(res.CostCharged),
		}
		if res.Task != nil {
			resp.TaskID = res.Task.ID
			resp.Status = string(res.Task.Status)
			writeJSON(w, http.StatusAccepted, resp)
			return
		}
		first := toArtifact(res.Artifact)
		resp.Image = &first
		resp.Images = []artifactResponse{first}
		writeJSON(w, http.StatusOK, resp)
	}
}

type quoteResponse struct {
	OperationType      string  `json:"operationType"`
	ModelIdentifier    string  `json:"modelIdentifier"`
	Provider           string  `json:"provider"`
	Units              int     `json:"units"`
	UnitCredits        float64 `json:"unitCredits"`
	CostRequired       float64 `json:"costRequired"`
	SupportsAttachment bool    `json:"supportsAttachment"`
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	genReq, err := toGenerationRequest(models.OperationType(req.Operation), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q, err := s.generation.Quote(genReq)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quoteResponse{
		OperationType:      string(q.Descriptor.Operation),
		ModelIdentifier:    genReq.Model,
		Provider:           q.Descriptor.Provider,
		Units:              q.Units,
		UnitCredits:        credits(q.UnitCredits),
		CostRequired:       credits(q.Credits),
		SupportsAttachment: q.Descriptor.SupportsAttachment,
	})
}

func toGenerationRequest(op models.OperationType, req generateRequest) (service.GenerationRequest, error) {
	req.merge()
	out := service.GenerationRequest{
		Operation:     op,
		Model:         req.Model,
		Prompt:        req.Prompt,
		Width:         req.Width,
		Height:        req.Height,
		Count:         req.Count,
		UpscaleFactor: req.UpscaleFactor,
		Strength:      req.Strength,
		Duration:      req.Duration,
		Sharpen:       req.Sharpen,
		SmartGrain:    req.SmartGrain,
		OutputFormat:  req.OutputFormat,
	}

	var err error
	if out.InputImage, err = decodeAttachment("image", req.Image); err != nil {
		return out, err
	}
	if out.Mask, err = decodeAttachment("mask", req.Mask); err != nil {
		return out, err
	}
	for _, ref := range req.References {
		a, err := decodeAttachment("references", ref)
		if err != nil {
			return out, err
		}
		if a != nil {
			out.References = append(out.References, *a)
		}
	}

	// Upscale pricing needs the input size.
	if op == models.OperationUpscale && out.InputImage != nil && (out.Width == 0 || out.Height == 0) {
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(out.InputImage.Data)); err == nil {
			out.Width, out.Height = cfg.Width, cfg.Height
		}
	}
	return out, nil
}

func decodeAttachment(field, value string) (*provider.Attachment, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	declared := ""
	if rest, ok := strings.CutPrefix(value, "data:"); ok {
		meta, payload, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(meta, ";base64") {
			return nil, &service.ValidationError{Field: field, Message: "data URI must be base64 encoded"}
		}
		declared = strings.TrimSuffix(meta, ";base64")
		value = payload
	}
	data, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, &service.ValidationError{Field: field, Message: "invalid base64"}
	}
	contentType, err := storage.NormalizeContentType(declared, data)
	if err != nil {
		return nil, &service.ValidationError{Field: field, Message: err.Error()}
	}
	return &provider.Attachment{Data: data, ContentType: contentType}, nil
}
