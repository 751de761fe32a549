// Package generate calls the synthetic image-generation service used when no
// reference image can be found for a number.
package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nwhited/characterimg/internal/naming"
	"github.com/nwhited/characterimg/internal/policy/scrapeworth"
)

// ErrRateLimited indicates the generation service rejected the request for
// quota reasons; callers surface a "retry later" message instead of a
// generic failure.
var ErrRateLimited = errors.New("generation service rate limited")

// Config captures the generation service connection parameters. The API key
// is passed explicitly; nothing here reads the environment.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client implements character.ImageGenerator over the service's HTTP API.
type Client struct {
	cfg    Config
	client *http.Client
}

// New builds a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("generation base url is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("generation api key is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type generateRequest struct {
	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt"`
	Count  int    `json:"n"`
	Size   string `json:"size"`
}

type generateResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate requests one synthetic character image and returns the URL the
// bytes can be downloaded from.
func (c *Client) Generate(ctx context.Context, number uint64) (string, error) {
	payload, err := json.Marshal(generateRequest{
		Model:  c.cfg.Model,
		Prompt: Prompt(number),
		Count:  1,
		Size:   "1024x1024",
	})
	if err != nil {
		return "", fmt.Errorf("marshal generation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/v1/images/generations", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build generation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call generation service: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // body fully consumed below

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil && resp.StatusCode == http.StatusOK {
		return "", fmt.Errorf("decode generation response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		if decoded.Error.Message != "" {
			return "", fmt.Errorf("generation failed: %s", decoded.Error.Message)
		}
		return "", fmt.Errorf("generation failed: status %d", resp.StatusCode)
	case len(decoded.Data) == 0 || decoded.Data[0].URL == "":
		return "", fmt.Errorf("generation returned no image")
	}
	return decoded.Data[0].URL, nil
}

// Prompt renders the generation prompt for a number, bounded by the scale
// guide so huge numbers do not produce unbounded prompt text.
func Prompt(number uint64) string {
	return fmt.Sprintf(
		"A colorful educational block character named %s, depicted as %s, "+
			"flat vector style on a plain background",
		naming.Name(number), scrapeworth.ScaleGuide(number))
}
