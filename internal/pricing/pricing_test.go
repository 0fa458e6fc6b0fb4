package pricing

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/digkill/SynergyHub/internal/models"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestUpscaleCost_Tiers(t *testing.T) {
	cases := []struct {
		w, h int
		want string
	}{
		{1024, 1024, "0.005"},
		{512, 1024, "0.005"},
		{2048, 1024, "0.01"},
		{2048, 2048, "0.01"},
		{1025, 10, "0.01"},
		{4096, 4096, "0.02"},
		{4096, 2049, "0.02"},
	}
	for _, tc := range cases {
		got, err := UpscaleCost(tc.w, tc.h)
		if err != nil {
			t.Fatalf("UpscaleCost(%d,%d): %v", tc.w, tc.h, err)
		}
		if !got.Equal(d(tc.want)) {
			t.Errorf("UpscaleCost(%d,%d) = %s, want %s", tc.w, tc.h, got, tc.want)
		}
	}
}

func TestUpscaleCost_RejectsOversized(t *testing.T) {
	if _, err := UpscaleCost(5000, 5000); !errors.Is(err, ErrImageTooLarge) {
		t.Fatalf("expected ErrImageTooLarge, got %v", err)
	}
	if _, err := UpscaleCost(4097, 1); !errors.Is(err, ErrImageTooLarge) {
		t.Fatalf("expected ErrImageTooLarge for 4097, got %v", err)
	}
}

func TestUpscaleCost_IsPure(t *testing.T) {
	a, _ := UpscaleCost(2048, 1024)
	b, _ := UpscaleCost(2048, 1024)
	if !a.Equal(b) || !a.Equal(d("0.01")) {
		t.Fatalf("expected identical 0.01 results, got %s and %s", a, b)
	}
}

func TestVideoCost_MostSpecificFamilyWins(t *testing.T) {
	cases := map[string]string{
		"klingai:5@3":    "2.8",
		"klingai:1@2":    "1.5",
		"KlingAI:4@1":    "1.5",
		"google:3@1":     "4",
		"bytedance:1@1":  "0.6",
		"bytedance:2@1":  "1",
		"unknown:9@9":    "1",
		"":               "1",
		"minimax:3@1":    "1.2",
		"google:2@0-pro": "2.5",
	}
	for model, want := range cases {
		if got := VideoCost(model); !got.Equal(d(want)) {
			t.Errorf("VideoCost(%q) = %s, want %s", model, got, want)
		}
	}
}

func TestCatalog_LookupExactBeforeSubstring(t *testing.T) {
	desc := DefaultCatalog().Lookup(models.OperationImageGeneration, "runware:100@1")
	if !desc.ProviderCost.Equal(d("0.0013")) {
		t.Errorf("provider cost = %s, want 0.0013", desc.ProviderCost)
	}
	if desc.Provider != "runware" {
		t.Errorf("provider = %q, want runware", desc.Provider)
	}
	if !desc.Credits.Equal(d("1")) {
		t.Errorf("credits = %s, want inherited default 1", desc.Credits)
	}
}

func TestCatalog_AttachmentSupport(t *testing.T) {
	if DefaultCatalog().Lookup(models.OperationImageGeneration, "google:4@1").SupportsAttachment {
		t.Error("imagen family should not accept attachments")
	}
	if !DefaultCatalog().Lookup(models.OperationImageGeneration, "bfl:3@1").SupportsAttachment {
		t.Error("flux family should accept attachments")
	}
}

func TestQuote(t *testing.T) {
	c := DefaultCatalog()

	q, err := c.Quote(QuoteInput{Operation: models.OperationImageGeneration, Model: "runware:100@1", Count: 4})
	if err != nil {
		t.Fatal(err)
	}
	if !q.Credits.Equal(d("4")) || q.Units != 4 {
		t.Errorf("image quote = %s x%d, want 4 x4", q.Credits, q.Units)
	}
	if !q.ProviderCost.Equal(d("0.0052")) {
		t.Errorf("provider cost = %s, want 0.0052", q.ProviderCost)
	}

	q, err = c.Quote(QuoteInput{Operation: models.OperationVideoGeneration, Model: "klingai:1@2"})
	if err != nil {
		t.Fatal(err)
	}
	if !q.Credits.Equal(d("1.5")) {
		t.Errorf("video quote = %s, want 1.5", q.Credits)
	}

	q, err = c.Quote(QuoteInput{Operation: models.OperationUpscale, Model: "runware:upscale", Width: 1024, Height: 768, UpscaleFactor: 2})
	if err != nil {
		t.Fatal(err)
	}
	if !q.Credits.Equal(d("0.01")) {
		t.Errorf("upscale quote = %s, want 0.01", q.Credits)
	}

	if _, err := c.Quote(QuoteInput{Operation: models.OperationUpscale, Width: 2048, Height: 2048, UpscaleFactor: 4}); !errors.Is(err, ErrImageTooLarge) {
		t.Errorf("expected ErrImageTooLarge, got %v", err)
	}

	q, err = c.Quote(QuoteInput{Operation: models.OperationSkinEnhance, Model: "freepik:skin-enhancer/creative"})
	if err != nil {
		t.Fatal(err)
	}
	if !q.Credits.Equal(d("1")) || q.Descriptor.Provider != "freepik" {
		t.Errorf("skin quote = %s via %s", q.Credits, q.Descriptor.Provider)
	}
}

func TestLoadCatalog_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	doc := `
defaults:
  image-generation: {provider: runware, credits: "2"}
  video-generation: {provider: runware, credits: "3"}
  upscale: {provider: runware}
  skin-enhance: {provider: freepik, credits: "1"}
  inpaint: {provider: gemini, credits: "1"}
models:
  - {match: "veo", operation: video-generation, credits: "7"}
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if got := c.VideoCost("google-veo-3"); !got.Equal(d("7")) {
		t.Errorf("VideoCost = %s, want 7", got)
	}
	if got := c.ImageCost("anything", 3); !got.Equal(d("6")) {
		t.Errorf("ImageCost = %s, want 6", got)
	}
}

func TestParseCatalog_RejectsMissingDefaults(t *testing.T) {
	_, err := ParseCatalog([]byte(`defaults: {image-generation: {provider: runware, credits: "1"}}`))
	if err == nil {
		t.Fatal("expected error for incomplete defaults")
	}
}
