package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Pexels stock footage source
// Searches the Pexels video API and downloads matching clips to local files.
// The pipeline only ever sees local paths.
// ---------------------------------------------------------------------------

const (
	pexelsBaseURL  = "https://api.pexels.com"
	pexelsPerPage  = 5
	pexelsMaxWidth = 1440 // portrait output is 1080 wide; no need for 4K downloads
)

type PexelsService struct {
	apiKey string
	dir    string
	client *http.Client
}

func NewPexelsService(apiKey, dir string) *PexelsService {
	return &PexelsService{
		apiKey: apiKey,
		dir:    dir,
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

type pexelsSearchResponse struct {
	Videos []pexelsVideo `json:"videos"`
}

type pexelsVideo struct {
	ID         int               `json:"id"`
	Duration   int               `json:"duration"`
	VideoFiles []pexelsVideoFile `json:"video_files"`
}

type pexelsVideoFile struct {
	Link   string `json:"link"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Fetch searches stock footage for the query and returns local file paths of
// clips at least minDuration seconds long (shorter clips are still returned
// last — the renderer loops them when nothing better exists).
func (s *PexelsService) Fetch(ctx context.Context, query string, minDuration float64) ([]string, error) {
	searchURL := fmt.Sprintf("%s/videos/search?query=%s&per_page=%d&orientation=portrait",
		pexelsBaseURL, url.QueryEscape(query), pexelsPerPage)

	req, err := http.NewRequestWithContext(ctx, "GET", searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create pexels request: %w", err)
	}
	req.Header.Set("Authorization", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pexels search failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("pexels returned status %d: %s", resp.StatusCode, string(body))
	}

	var search pexelsSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&search); err != nil {
		return nil, fmt.Errorf("failed to decode pexels response: %w", err)
	}
	if len(search.Videos) == 0 {
		return nil, fmt.Errorf("no pexels results for %q", query)
	}

	// Long-enough clips first so looping is the exception, not the rule.
	ordered := make([]pexelsVideo, 0, len(search.Videos))
	var short []pexelsVideo
	for _, v := range search.Videos {
		if float64(v.Duration) >= minDuration {
			ordered = append(ordered, v)
		} else {
			short = append(short, v)
		}
	}
	ordered = append(ordered, short...)

	var paths []string
	for _, v := range ordered {
		link := bestFileLink(v)
		if link == "" {
			continue
		}
		path, err := s.download(ctx, link, v.ID)
		if err != nil {
			log.Printf("[Pexels] Download failed for video %d: %v", v.ID, err)
			continue
		}
		paths = append(paths, path)
		if len(paths) >= 1 {
			// One background per segment; stop after the first good download.
			break
		}
	}

	if len(paths) == 0 {
		return nil, fmt.Errorf("no downloadable pexels video for %q", query)
	}
	return paths, nil
}

// bestFileLink picks the largest rendition that stays under the width cap.
func bestFileLink(v pexelsVideo) string {
	best := ""
	bestWidth := 0
	for _, f := range v.VideoFiles {
		if f.Width > pexelsMaxWidth {
			continue
		}
		if f.Width > bestWidth {
			bestWidth = f.Width
			best = f.Link
		}
	}
	if best == "" && len(v.VideoFiles) > 0 {
		best = v.VideoFiles[0].Link
	}
	return best
}

func (s *PexelsService) download(ctx context.Context, link string, id int) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", link, nil)
	if err != nil {
		return "", err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download returned status %d", resp.StatusCode)
	}

	path := filepath.Join(s.dir, fmt.Sprintf("stock_%d_%s.mp4", id, uuid.New().String()[:8]))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}
