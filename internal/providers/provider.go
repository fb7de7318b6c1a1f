// Package providers adapts external image-to-video services to one contract.
// Every adapter stages the source frames with its provider, starts a
// generation and returns the finished asset. Adapters never retry; a failed
// clip is retried by generating it again.
package providers

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/bobarin/listingreels/internal/models"
)

const (
	NameFal    = "fal"
	NameRunway = "runway"
	NameVeo    = "veo"
)

// Stages at which a provider call can fail.
const (
	StageSelect  = "select"
	StageStaging = "stage"
	StageSubmit  = "submit"
	StagePoll    = "poll"
	StageTimeout = "timeout"
	StageResult  = "result"
)

// Image is a frame passed to a provider as raw bytes.
type Image struct {
	Data        []byte
	ContentType string
}

type Input struct {
	Source         Image
	Tail           *Image // End frame; nil lets the provider choose freely
	Prompt         string
	NegativePrompt string
	Duration       int // 5 or 10
	AspectRatio    models.AspectRatio
	GenerateAudio  bool
}

// tailIsSource reports whether the end frame is the source frame itself, so
// adapters can reuse the staged source instead of uploading it twice.
func (in Input) tailIsSource() bool {
	return in.Tail != nil && bytes.Equal(in.Tail.Data, in.Source.Data)
}

// Result holds the generated asset. VideoURL is a provider-hosted location;
// adapters that download through their SDK fill Video instead.
type Result struct {
	VideoURL string
	Video    []byte
}

type Provider interface {
	Name() string
	GenerateClip(ctx context.Context, in Input) (*Result, error)
}

// Error is the single failure type every adapter returns.
type Error struct {
	Provider string
	Stage    string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s failed: %s: %v", e.Provider, e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Provider, e.Stage, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(provider, stage string, err error, format string, args ...interface{}) *Error {
	return &Error{Provider: provider, Stage: stage, Message: fmt.Sprintf(format, args...), Err: err}
}

// Registry selects an adapter by name.
type Registry struct {
	providers map[string]Provider
	fallback  string
}

// NewRegistry registers the given adapters. defaultName is used when neither
// the caller nor the project names a provider; empty means fal.
func NewRegistry(defaultName string, adapters ...Provider) *Registry {
	if defaultName == "" {
		defaultName = NameFal
	}
	r := &Registry{providers: make(map[string]Provider), fallback: defaultName}
	for _, p := range adapters {
		r.providers[p.Name()] = p
	}
	return r
}

// Resolve returns the adapter for the first non-empty name in preference,
// falling back to the registry default.
func (r *Registry) Resolve(preference ...string) (Provider, error) {
	name := r.fallback
	for _, candidate := range preference {
		if candidate != "" {
			name = candidate
			break
		}
	}

	p, ok := r.providers[name]
	if !ok {
		return nil, newError(name, StageSelect, nil, "provider not configured (available: %v)", r.Names())
	}
	return p, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
