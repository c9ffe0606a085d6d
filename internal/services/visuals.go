package services

import (
	"context"
	"fmt"
	"log"
)

// VisualSource resolves a text query into local media file paths.
type VisualSource interface {
	Fetch(ctx context.Context, query string, minDuration float64) ([]string, error)
}

// VisualChain tries each source in order and returns the first non-empty
// result. A source error is logged and the next source is tried; only when
// every source fails is an error returned.
type VisualChain struct {
	sources []VisualSource
}

func NewVisualChain(sources ...VisualSource) *VisualChain {
	return &VisualChain{sources: sources}
}

func (c *VisualChain) Fetch(ctx context.Context, query string, minDuration float64) ([]string, error) {
	if len(c.sources) == 0 {
		return nil, fmt.Errorf("no visual sources configured")
	}

	var lastErr error
	for i, src := range c.sources {
		paths, err := src.Fetch(ctx, query, minDuration)
		if err != nil {
			lastErr = err
			if i < len(c.sources)-1 {
				log.Printf("[Visuals] Source %d failed for %q, trying next: %v", i, query, err)
			}
			continue
		}
		if len(paths) > 0 {
			return paths, nil
		}
	}
	return nil, fmt.Errorf("all visual sources failed for %q: %w", query, lastErr)
}
