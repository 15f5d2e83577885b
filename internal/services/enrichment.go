package services

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"strings"
	"time"

	// decode support for the formats the image backend serves
	_ "image/gif"
	_ "image/png"

	"github.com/google/uuid"

	"github.com/fablearn/fablearn-backend/internal/clients/backend"
	"github.com/fablearn/fablearn-backend/internal/clients/gcp"
	"github.com/fablearn/fablearn-backend/internal/logger"
	"github.com/fablearn/fablearn-backend/internal/types"
)

const (
	enrichMaxAttempts = 3
	enrichBackoffUnit = 2 * time.Second
	jpegQuality       = 80
)

// EnrichmentPipeline attaches per-item media to an already-generated
// artifact, mutating it in place. Items are processed strictly in declared
// order, one at a time, to bound load on the backend; a failed item is
// left without media and never aborts the rest.
type EnrichmentPipeline interface {
	Enrich(ctx context.Context, ownerID uuid.UUID, art types.Artifact)
}

type enrichmentPipeline struct {
	log     *logger.Logger
	backend backend.Client
	bucket  gcp.BucketService

	// seams for tests
	download func(ctx context.Context, url string) ([]byte, error)
	sleep    func(d time.Duration)
}

func NewEnrichmentPipeline(log *logger.Logger, backendClient backend.Client, bucket gcp.BucketService) EnrichmentPipeline {
	p := &enrichmentPipeline{
		log:     log.With("service", "EnrichmentPipeline"),
		backend: backendClient,
		bucket:  bucket,
		sleep:   time.Sleep,
	}
	p.download = p.httpDownload
	return p
}

type enrichItem struct {
	ID     uuid.UUID
	Title  string
	Prompt string
	Style  types.ImageStyle
	apply  func(uploadedURL string)
}

func (p *enrichmentPipeline) Enrich(ctx context.Context, ownerID uuid.UUID, art types.Artifact) {
	var (
		kind  string
		artID uuid.UUID
		items []enrichItem
	)

	switch v := art.(type) {
	case *types.Story:
		kind = "stories"
		artID = v.ID
		for _, ch := range v.Chapters {
			ch := ch
			prompt := strings.TrimSpace(ch.Content)
			if prompt == "" {
				prompt = strings.TrimSpace(ch.Title)
			}
			style := ch.ImageStyle
			if style == "" {
				style = v.ImageStyle
			}
			items = append(items, enrichItem{
				ID:     ch.ID,
				Title:  ch.Title,
				Prompt: prompt,
				Style:  style,
				apply:  func(url string) { ch.UploadedImageURL = url },
			})
		}
	case *types.BlockSequence:
		kind = "notes"
		artID = uuid.New()
		for _, b := range v.Blocks {
			if b.Type != types.BlockTypeImage {
				continue
			}
			b := b
			prompt := strings.TrimSpace(b.Content)
			if prompt == "" {
				prompt = strings.TrimSpace(b.AltText)
			}
			items = append(items, enrichItem{
				ID:     b.ID,
				Title:  b.AltText,
				Prompt: prompt,
				apply:  func(url string) { b.UploadedImageURL = url },
			})
		}
	default:
		return
	}

	for _, item := range items {
		if ctx.Err() != nil {
			// Cancelled mid-pipeline: uploads already confirmed stay
			// committed, the rest are skipped.
			return
		}
		if item.Prompt == "" {
			p.log.Debug("skipping item with no usable prompt", "item_id", item.ID)
			continue
		}
		url, err := p.enrichOne(ctx, ownerID, kind, artID, item)
		if err != nil {
			p.log.Warn("item enrichment exhausted retries",
				"artifact_id", artID,
				"item_id", item.ID,
				"error", err,
			)
			continue
		}
		// Reflected into the live artifact immediately, so a partially
		// enriched artifact is observable mid-pipeline.
		item.apply(url)
	}
}

// enrichOne runs the full generate/download/encode/upload sequence for one
// item, retrying the whole sequence with a linearly increasing backoff.
func (p *enrichmentPipeline) enrichOne(ctx context.Context, ownerID uuid.UUID, kind string, artID uuid.UUID, item enrichItem) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= enrichMaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		url, err := p.attemptOne(ctx, ownerID, kind, artID, item)
		if err == nil {
			return url, nil
		}
		lastErr = err
		if attempt < enrichMaxAttempts {
			p.sleep(time.Duration(attempt) * enrichBackoffUnit)
		}
	}
	return "", lastErr
}

func (p *enrichmentPipeline) attemptOne(ctx context.Context, ownerID uuid.UUID, kind string, artID uuid.UUID, item enrichItem) (string, error) {
	remoteURL, err := p.backend.GenerateImage(ctx, item.Prompt, item.Style, "")
	if err != nil {
		return "", fmt.Errorf("generate image: %w", err)
	}

	raw, err := p.download(ctx, remoteURL)
	if err != nil {
		return "", fmt.Errorf("download image: %w", err)
	}

	encoded, err := reencodeJPEG(raw)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("users/%s/%s/%s/%s.jpg", ownerID, kind, artID, item.ID)
	uploadedURL, err := p.bucket.UploadBytes(ctx, key, encoded, map[string]string{
		"artifact_id": artID.String(),
		"item_id":     item.ID.String(),
		"item_title":  item.Title,
		"uploaded_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	return uploadedURL, nil
}

func reencodeJPEG(raw []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("encode jpeg: empty output")
	}
	return buf.Bytes(), nil
}

func (p *enrichmentPipeline) httpDownload(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("image download status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
