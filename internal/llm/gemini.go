// Package llm talks to the Gemini generateContent API and prepares the
// prompts used to draft and revise grant form text.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// PreferredModels are tried in order when no model is configured.
var PreferredModels = []string{
	"gemini-2.5-flash",
	"gemini-2.0-flash-001",
	"gemini-flash-latest",
	"gemini-2.0-flash",
	"gemini-2.5-flash-lite",
}

// modelListTimeout bounds the one-off model listing done on first use.
const modelListTimeout = 10 * time.Second

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("gemini API key is not configured")

type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// Client calls Gemini. The zero model is resolved on first use from the
// models the key can access.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	logger  zerolog.Logger

	modelOnce sync.Once
	model     string
}

func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		http:    httpClient,
		logger:  log.With().Str("component", "llm").Logger(),
		model:   strings.TrimPrefix(cfg.Model, "models/"),
	}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c != nil && c.apiKey != ""
}

// GenerateInput is a draft to turn into academic text.
type GenerateInput struct {
	Draft                  string
	Context                PromptContext
	AdditionalInstructions string
}

// Generate rewrites a draft and returns post-processed text.
func (c *Client) Generate(ctx context.Context, in GenerateInput) (string, error) {
	prompt := BuildGeneratePrompt(in.Draft, in.Context, in.AdditionalInstructions)
	text, err := c.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	return PostProcess(text), nil
}

// ReviseInput is existing text plus a revision instruction.
type ReviseInput struct {
	Current     string
	Instruction string
	Context     PromptContext
}

// Revise applies an instruction to existing text.
func (c *Client) Revise(ctx context.Context, in ReviseInput) (string, error) {
	prompt := BuildRevisePrompt(in.Current, in.Instruction, in.Context)
	text, err := c.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	return PostProcess(text), nil
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generationConfig struct {
	Temperature float64 `json:"temperature"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// Complete sends a single user prompt and returns the raw text of the first
// candidate.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	model := c.resolveModel(ctx)

	body, err := json.Marshal(generateRequest{
		Contents:         []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{Temperature: 0.7},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, model, url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apiError(resp)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode gemini response: %w", err)
	}
	if len(out.Candidates) == 0 {
		return "", errors.New("gemini returned no candidates")
	}

	var b strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	c.logger.Debug().
		Str("model", model).
		Int("prompt_tokens", out.UsageMetadata.PromptTokenCount).
		Int("output_tokens", out.UsageMetadata.CandidatesTokenCount).
		Dur("duration", time.Since(started)).
		Msg("generation complete")
	return strings.TrimSpace(b.String()), nil
}

func apiError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error.Message != "" {
		return fmt.Errorf("gemini API error (%d): %s", resp.StatusCode, payload.Error.Message)
	}
	return fmt.Errorf("gemini API error (%d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
}

// ModelInfo is one entry of the models listing.
type ModelInfo struct {
	Name                       string   `json:"name"`
	DisplayName                string   `json:"displayName"`
	SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
}

// Models lists models that support generateContent.
func (c *Client) Models(ctx context.Context) ([]ModelInfo, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	endpoint := fmt.Sprintf("%s/models?key=%s", c.baseURL, url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var out struct {
		Models []ModelInfo `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}
	usable := make([]ModelInfo, 0, len(out.Models))
	for _, m := range out.Models {
		if slices.Contains(m.SupportedGenerationMethods, "generateContent") {
			usable = append(usable, m)
		}
	}
	return usable, nil
}

// Model returns the model in use, resolving it if needed.
func (c *Client) Model(ctx context.Context) string {
	return c.resolveModel(ctx)
}

func (c *Client) resolveModel(ctx context.Context) string {
	c.modelOnce.Do(func() {
		if c.model != "" {
			return
		}
		// Cached for the life of the client, so detached from the caller.
		listCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), modelListTimeout)
		defer cancel()
		models, err := c.Models(listCtx)
		if err != nil {
			c.logger.Warn().Err(err).Str("fallback", PreferredModels[0]).Msg("could not list models")
			c.model = PreferredModels[0]
			return
		}
		c.model = SelectModel(models)
		c.logger.Info().Str("model", c.model).Msg("selected gemini model")
	})
	return c.model
}

// SelectModel picks the first preferred model present in available, then the
// first available one, then the top preference.
func SelectModel(available []ModelInfo) string {
	names := make([]string, len(available))
	for i, m := range available {
		names[i] = strings.TrimPrefix(m.Name, "models/")
	}
	for _, preferred := range PreferredModels {
		if slices.Contains(names, preferred) {
			return preferred
		}
	}
	if len(names) > 0 {
		return names[0]
	}
	return PreferredModels[0]
}
