package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fablearn/fablearn-backend/internal/logger"
)

// httpUploadScheduler is the default UploadScheduler: it streams the
// file-backed payload to the backend and feeds the response back to the
// sink chunk by chunk. Each scheduled task runs on its own goroutine, so
// completion callbacks can arrive concurrently.
type httpUploadScheduler struct {
	log     *logger.Logger
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPUploadScheduler(log *logger.Logger) (UploadScheduler, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(os.Getenv("GENERATION_API_URL")), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("missing GENERATION_API_URL")
	}
	return &httpUploadScheduler{
		log:     log.With("service", "HTTPUploadScheduler"),
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(os.Getenv("GENERATION_API_KEY")),
		client: &http.Client{
			Timeout: defaultBackgroundTimeout,
		},
	}, nil
}

const defaultBackgroundTimeout = 1800 * time.Second

func (s *httpUploadScheduler) Schedule(ctx context.Context, taskID uuid.UUID, endpoint string, payloadPath string, sink CompletionSink) error {
	if sink == nil {
		return fmt.Errorf("completion sink required")
	}
	// The payload file must be openable before the task is considered
	// scheduled.
	f, err := os.Open(payloadPath)
	if err != nil {
		return fmt.Errorf("open payload file: %w", err)
	}

	go func() {
		defer f.Close()

		// The upload deliberately detaches from the submitting context:
		// a background run outlives its session.
		req, err := http.NewRequest(http.MethodPost, s.baseURL+endpoint, f)
		if err != nil {
			sink.HandleCompletion(taskID, 0, err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		if s.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+s.apiKey)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			sink.HandleCompletion(taskID, 0, err)
			return
		}
		defer resp.Body.Close()

		buf := make([]byte, 32*1024)
		for {
			n, readErr := resp.Body.Read(buf)
			if n > 0 {
				sink.HandleChunk(taskID, buf[:n])
			}
			if readErr == io.EOF {
				break
			}
			if readErr != nil {
				sink.HandleCompletion(taskID, 0, readErr)
				return
			}
		}
		sink.HandleCompletion(taskID, resp.StatusCode, nil)
	}()

	return nil
}
