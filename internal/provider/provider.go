// Package provider defines the contract every generation backend implements.
package provider

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"github.com/digkill/SynergyHub/internal/models"
)

// Attachment is an input file sent along with a request.
type Attachment struct {
	Data        []byte
	ContentType string
}

type Request struct {
	Operation     models.OperationType
	Model         string
	Prompt        string
	Width         int
	Height        int
	Count         int
	InputImage    *Attachment
	Mask          *Attachment
	References    []Attachment
	UpscaleFactor int
	Strength      float64
	Duration      int
	Sharpen       int
	SmartGrain    int
	OutputFormat  string
}

// HasAttachments reports whether any input file is present.
func (r Request) HasAttachments() bool {
	return r.InputImage != nil || r.Mask != nil || len(r.References) > 0
}

// Image is one produced file. Exactly one of Data or URL is set.
type Image struct {
	Data        []byte
	URL         string
	ContentType string
	Width       int
	Height      int
}

// Output is either a set of finished images or the handle of an asynchronous job.
type Output struct {
	Images []Image
	TaskID string
}

func (o *Output) Async() bool {
	return o != nil && o.TaskID != ""
}

type Status struct {
	State     models.TaskStatus
	ResultURL string
	Message   string
}

type Adapter interface {
	Name() string
	Submit(ctx context.Context, req Request) (*Output, error)
}

// StatusChecker is implemented by adapters that return task handles.
type StatusChecker interface {
	Status(ctx context.Context, taskID string) (*Status, error)
}

// Error is a failure reported by the upstream API. Message is kept verbatim.
type Error struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error: status=%d %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Provider, e.Message)
}

func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
}

func TruncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}

// Registry resolves adapters by the provider name used in the model catalog.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	for _, a := range adapters {
		if a != nil {
			r.adapters[a.Name()] = a
		}
	}
	return r
}

func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

func (r *Registry) StatusChecker(name string) (StatusChecker, bool) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, false
	}
	sc, ok := a.(StatusChecker)
	return sc, ok
}
