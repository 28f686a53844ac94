package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/paintgate/paintgate/internal/pkg/env"
)

const (
	DefaultPrompt   = "professional photograph, highly detailed, photorealistic"
	DefaultStrength = 0.75
	DefaultSteps    = 30
	DefaultGuidance = 7.5
)

// Parameter bounds enforced before a request leaves the process. The engine
// rejects values outside these ranges, so clamping here keeps a sloppy caller
// from burning a token on a guaranteed failure.
const (
	MinStrength = 0.4
	MaxStrength = 0.95
	MinSteps    = 15
	MaxSteps    = 100
	MinGuidance = 5.0
	MaxGuidance = 15.0
)

// Error is a typed failure from the painting engine.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("engine returned status %d: %s", e.StatusCode, e.Message)
}

// Request is the normalized payload for one metered painting call: the raw
// image plus a flat set of named parameters.
type Request struct {
	Image    []byte
	Filename string
	Prompt   string
	Strength float64
	Steps    int
	Guidance float64
}

// Result carries the processed image and call metadata back to the caller.
type Result struct {
	Image    []byte
	Model    string
	Duration time.Duration
}

// Client talks to the external image-to-image painting engine. The engine's
// internals are opaque here; this is purely the wire boundary.
type Client struct {
	BaseURL string

	HTTPClient *http.Client
}

// NewClientFromEnv builds the engine client from environment configuration.
func NewClientFromEnv() *Client {
	timeout := time.Duration(env.GetEnvInt("PAINT_ENGINE_TIMEOUT_SECONDS", 120)) * time.Second
	return &Client{
		BaseURL: strings.TrimRight(env.GetEnv("PAINT_ENGINE_URL", ""), "/"),
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Normalize fills defaults and clamps parameters into the engine's accepted
// ranges.
func (r *Request) Normalize() {
	if strings.TrimSpace(r.Prompt) == "" {
		r.Prompt = DefaultPrompt
	}
	if r.Strength == 0 {
		r.Strength = DefaultStrength
	}
	if r.Steps == 0 {
		r.Steps = DefaultSteps
	}
	if r.Guidance == 0 {
		r.Guidance = DefaultGuidance
	}
	r.Strength = clampFloat(r.Strength, MinStrength, MaxStrength)
	r.Steps = clampInt(r.Steps, MinSteps, MaxSteps)
	r.Guidance = clampFloat(r.Guidance, MinGuidance, MaxGuidance)
}

// Process sends the painting request and returns the generated image. The
// context bounds the call; a canceled or timed-out call returns an error and
// the already-debited token stays spent (compensating credits are an explicit,
// separate ledger operation).
func (c *Client) Process(ctx context.Context, req *Request) (*Result, error) {
	if c.BaseURL == "" {
		return nil, errors.New("PAINT_ENGINE_URL is not configured")
	}
	if len(req.Image) == 0 {
		return nil, errors.New("image payload is required")
	}
	req.Normalize()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	filename := req.Filename
	if filename == "" {
		filename = "input.png"
	}
	part, err := writer.CreateFormFile("image", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(req.Image); err != nil {
		return nil, err
	}
	_ = writer.WriteField("prompt", req.Prompt)
	_ = writer.WriteField("strength", strconv.FormatFloat(req.Strength, 'f', -1, 64))
	_ = writer.WriteField("steps", strconv.Itoa(req.Steps))
	_ = writer.WriteField("guidance", strconv.FormatFloat(req.Guidance, 'f', -1, 64))
	if err := writer.Close(); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/process", &body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	start := time.Now()
	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("engine request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &Error{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	image, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("engine response read failed: %w", err)
	}

	return &Result{
		Image:    image,
		Model:    resp.Header.Get("X-Model"),
		Duration: time.Since(start),
	}, nil
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
