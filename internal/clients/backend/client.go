package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fablearn/fablearn-backend/internal/httpx"
	"github.com/fablearn/fablearn-backend/internal/logger"
	"github.com/fablearn/fablearn-backend/internal/types"
)

const (
	endpointProcess         = "/process"
	endpointGenerateStory   = "/generate_story"
	endpointGenerateLecture = "/generate_lecture"
	endpointGenerateImage   = "/generate_image"

	// Generation is a slow synchronous backend operation, not a short RPC.
	defaultRequestTimeout  = 600 * time.Second
	defaultResourceTimeout = 1800 * time.Second
)

// Client is the generation API client. One call, one classified outcome;
// retry policy lives with the caller.
type Client interface {
	Process(ctx context.Context, req types.GenerationRequest) (types.Artifact, error)
	GenerateStory(ctx context.Context, req types.GenerationRequest) (types.Artifact, error)
	GenerateLecture(ctx context.Context, req types.GenerationRequest) (types.Artifact, error)
	// GenerateImage returns the remote URL of the generated image. The
	// bytes live behind a second hop the enrichment pipeline downloads.
	GenerateImage(ctx context.Context, prompt string, style types.ImageStyle, size string) (string, error)

	// EndpointForTier exposes the endpoint path the bridge schedules its
	// durable upload against.
	EndpointForTier(tier types.Tier) string
	// PayloadForRequest builds the same flat body a foreground call sends,
	// so background and foreground runs are observably equivalent.
	PayloadForRequest(req types.GenerationRequest) map[string]any
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	imageSize  string
	httpClient *http.Client
}

func NewClient(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(os.Getenv("GENERATION_API_URL")), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("missing GENERATION_API_URL")
	}
	apiKey := strings.TrimSpace(os.Getenv("GENERATION_API_KEY"))

	imageSize := strings.TrimSpace(os.Getenv("GENERATION_IMAGE_SIZE"))
	if imageSize == "" {
		imageSize = "1024x1024"
	}

	return &client{
		log:       log.With("service", "BackendClient"),
		baseURL:   baseURL,
		apiKey:    apiKey,
		imageSize: imageSize,
		httpClient: &http.Client{
			Timeout: defaultResourceTimeout,
			Transport: &http.Transport{
				ResponseHeaderTimeout: defaultRequestTimeout,
			},
		},
	}, nil
}

func (c *client) EndpointForTier(tier types.Tier) string {
	switch tier {
	case types.TierStory:
		return endpointGenerateStory
	case types.TierLecture:
		return endpointGenerateLecture
	default:
		return endpointProcess
	}
}

// PayloadForRequest serializes the request as a flat key/value document.
// The only nested object is the profile sub-document on /process.
func (c *client) PayloadForRequest(req types.GenerationRequest) map[string]any {
	switch req.Tier {
	case types.TierStory:
		return map[string]any{
			"text":        storyPrompt(req),
			"level":       string(req.Level),
			"genre":       string(req.Genre),
			"image_style": string(req.ImageStyle),
		}
	case types.TierLecture:
		return map[string]any{
			"text":        req.Text,
			"level":       string(req.Level),
			"image_style": string(req.ImageStyle),
		}
	default:
		return map[string]any{
			"input_text":         req.Text,
			"level":              string(req.Level),
			"summarization_tier": string(req.Tier),
			"profile": map[string]any{
				"studentLevel":     req.StudentLevel,
				"topicsOfInterest": req.TopicsOfInterest,
			},
		}
	}
}

func storyPrompt(req types.GenerationRequest) string {
	var b strings.Builder
	b.WriteString("Write an illustrated story for a ")
	b.WriteString(string(req.Level))
	b.WriteString(" reader in the ")
	b.WriteString(string(req.Genre))
	b.WriteString(" genre")
	if ch := strings.TrimSpace(req.MainCharacter); ch != "" {
		b.WriteString(" featuring ")
		b.WriteString(ch)
	}
	b.WriteString(", based on the following text:\n\n")
	b.WriteString(req.Text)
	return b.String()
}

func (c *client) Process(ctx context.Context, req types.GenerationRequest) (types.Artifact, error) {
	raw, err := c.postJSON(ctx, endpointProcess, c.PayloadForRequest(req))
	if err != nil {
		return nil, err
	}
	return DecodeArtifact(raw)
}

func (c *client) GenerateStory(ctx context.Context, req types.GenerationRequest) (types.Artifact, error) {
	raw, err := c.postJSON(ctx, endpointGenerateStory, c.PayloadForRequest(req))
	if err != nil {
		return nil, err
	}
	return DecodeArtifact(raw)
}

func (c *client) GenerateLecture(ctx context.Context, req types.GenerationRequest) (types.Artifact, error) {
	raw, err := c.postJSON(ctx, endpointGenerateLecture, c.PayloadForRequest(req))
	if err != nil {
		return nil, err
	}
	return DecodeArtifact(raw)
}

type imageResponse struct {
	ImageURL string `json:"image_url"`
	URL      string `json:"url"`
	Error    string `json:"error"`
}

func (c *client) GenerateImage(ctx context.Context, prompt string, style types.ImageStyle, size string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", &types.ValidationError{Reason: "image prompt is empty"}
	}
	if strings.TrimSpace(size) == "" {
		size = c.imageSize
	}
	raw, err := c.postJSON(ctx, endpointGenerateImage, map[string]any{
		"prompt": prompt,
		"style":  string(style),
		"size":   size,
	})
	if err != nil {
		return "", err
	}
	var resp imageResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", &types.DecodeError{Reason: fmt.Sprintf("image response: %v", err)}
	}
	if resp.Error != "" {
		return "", &types.ServerError{StatusCode: http.StatusOK, Message: resp.Error}
	}
	url := strings.TrimSpace(resp.ImageURL)
	if url == "" {
		url = strings.TrimSpace(resp.URL)
	}
	if url == "" {
		return "", &types.DecodeError{Reason: "image response missing image_url"}
	}
	return url, nil
}

func (c *client) postJSON(ctx context.Context, path string, payload map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, classifyTransport(readErr)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &types.ServerError{StatusCode: resp.StatusCode, Message: serverMessage(raw)}
	}
	return raw, nil
}

// serverMessage decodes an error body on a best-effort basis.
func serverMessage(raw []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return ""
}

func classifyTransport(err error) *types.TransportError {
	switch {
	case httpx.IsTimeout(err):
		return &types.TransportError{Failure: types.TransportTimeout, Err: err}
	case httpx.IsOffline(err):
		return &types.TransportError{Failure: types.TransportOffline, Err: err}
	case httpx.IsConnectionDropped(err):
		return &types.TransportError{Failure: types.TransportNetworkLost, Err: err}
	default:
		return &types.TransportError{Failure: types.TransportOther, Err: err}
	}
}
