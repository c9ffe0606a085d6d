package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/reelworks/shortgen/internal/models"
)

// The task index is embedded in each output filename at encode time so the
// original order survives the unordered-completion pool without auxiliary
// bookkeeping.
var segmentIndexRe = regexp.MustCompile(`segment_(\d+)_\d+\.mp4$`)

// SegmentOutputPath builds the unique per-task output path: the index plus a
// timestamp, under the pipeline-owned temp directory.
func SegmentOutputPath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("segment_%d_%d.mp4", index, time.Now().UnixNano()))
}

// RecoverIndex parses the original task index back out of a segment output
// filename.
func RecoverIndex(path string) (int, error) {
	m := segmentIndexRe.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return 0, fmt.Errorf("no index in segment filename %q", filepath.Base(path))
	}
	return strconv.Atoi(m[1])
}

// Concatenator reassembles per-segment files into one output in original
// section order, independent of which worker finished first.
type Concatenator struct {
	enc Encoder
}

func NewConcatenator(enc Encoder) *Concatenator {
	return &Concatenator{enc: enc}
}

// Concatenate filters out failed and undecodable results, sorts the
// survivors by the index recovered from their filenames, and invokes the
// external multiplexer via a manifest file. A nonzero exit from the
// multiplexer is a hard failure with its error output attached; it is never
// retried silently.
func (c *Concatenator) Concatenate(ctx context.Context, results []models.RenderResult, outputPath string) error {
	paths := c.orderedPaths(ctx, results)
	if len(paths) == 0 {
		return fmt.Errorf("no valid segments to concatenate")
	}

	manifest, err := writeManifest(filepath.Dir(paths[0]), paths)
	if err != nil {
		return fmt.Errorf("write concat manifest: %w", err)
	}
	defer os.Remove(manifest)

	if err := c.enc.Concat(ctx, manifest, outputPath); err != nil {
		return fmt.Errorf("concatenate %d segments: %w", len(paths), err)
	}
	return nil
}

// orderedPaths drops empty results and files that no longer probe to a
// nonzero duration, then sorts by recovered index.
func (c *Concatenator) orderedPaths(ctx context.Context, results []models.RenderResult) []string {
	type entry struct {
		index int
		path  string
	}

	entries := make([]entry, 0, len(results))
	for _, res := range results {
		if !res.OK() {
			continue
		}
		dur, err := c.enc.ProbeDuration(ctx, res.OutputPath)
		if err != nil || dur <= 0 {
			log.Printf("[Concat] Dropping %s: not decodable (duration=%.3f, err=%v)", filepath.Base(res.OutputPath), dur, err)
			continue
		}
		index, err := RecoverIndex(res.OutputPath)
		if err != nil {
			log.Printf("[Concat] Dropping %s: %v", filepath.Base(res.OutputPath), err)
			continue
		}
		entries = append(entries, entry{index: index, path: res.OutputPath})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].index < entries[j].index })

	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.path
	}
	return paths
}

// writeManifest writes the multiplexer manifest: one `file '<abs path>'`
// line per segment, in the given order.
func writeManifest(dir string, paths []string) (string, error) {
	f, err := os.CreateTemp(dir, "concat_manifest_*.txt")
	if err != nil {
		return "", err
	}
	defer f.Close()

	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			os.Remove(f.Name())
			return "", fmt.Errorf("absolute path for %s: %w", path, err)
		}
		// Single quotes inside the path would break the concat demuxer line.
		escaped := strings.ReplaceAll(abs, "'", `'\''`)
		if _, err := fmt.Fprintf(f, "file '%s'\n", escaped); err != nil {
			os.Remove(f.Name())
			return "", err
		}
	}
	return f.Name(), nil
}
