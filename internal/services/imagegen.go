package services

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

// ---------------------------------------------------------------------------
// Imagen background generator
// Fallback visual source: when stock footage search comes up empty, generate
// a still background image instead. The renderer loops stills for the full
// segment duration, so a single image satisfies any minDuration.
// ---------------------------------------------------------------------------

const defaultImagenModel = "imagen-3.0-generate-002"

type ImagenService struct {
	apiKey string
	model  string
	dir    string
}

// NewImagenService creates an image generation service backed by the Google
// Gen AI SDK. An empty model uses the default Imagen model.
func NewImagenService(apiKey, model, dir string) *ImagenService {
	if model == "" {
		model = defaultImagenModel
	}
	return &ImagenService{apiKey: apiKey, model: model, dir: dir}
}

// Fetch generates one portrait background image for the query and returns its
// local path. minDuration is irrelevant for stills.
func (s *ImagenService) Fetch(ctx context.Context, query string, minDuration float64) ([]string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  s.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	prompt := fmt.Sprintf(
		"Cinematic vertical background for a short narrated video about: %s. "+
			"Atmospheric, high detail, no text, no watermarks, no people looking at camera.",
		query,
	)

	config := &genai.GenerateImagesConfig{
		NumberOfImages: 1,
		AspectRatio:    "9:16",
	}

	log.Printf("[Imagen] Generating background for %q", query)
	resp, err := client.Models.GenerateImages(ctx, s.model, prompt, config)
	if err != nil {
		return nil, fmt.Errorf("imagen request failed: %w", err)
	}
	if len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil {
		return nil, fmt.Errorf("imagen returned no images")
	}

	path := filepath.Join(s.dir, fmt.Sprintf("genbg_%s.png", uuid.New().String()[:8]))
	if err := os.WriteFile(path, resp.GeneratedImages[0].Image.ImageBytes, 0644); err != nil {
		return nil, fmt.Errorf("write generated image: %w", err)
	}
	return []string{path}, nil
}
