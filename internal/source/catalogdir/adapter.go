package catalogdir

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/timmy/fitfinder/internal/source"
)

const (
	// ManifestFileName is the optional JSONL manifest at the catalog root.
	ManifestFileName = "manifest.jsonl"
	// ImagesDir holds the images referenced by the manifest.
	ImagesDir = "images"
)

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true}

// ManifestItem is one line of manifest.jsonl.
type ManifestItem struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Filename    string `json:"filename"`
}

// Adapter reads a local catalog directory. With a manifest, items come from
// it; otherwise every <code>/<image> pair below the root is one product.
type Adapter struct {
	root   string
	items  []source.ProductItem
	loaded bool
}

// NewAdapter creates a catalog directory adapter.
// Parameters:
//   - root: catalog directory.
// Returns:
//   - *Adapter: adapter over root.
func NewAdapter(root string) *Adapter {
	return &Adapter{root: root}
}

// GetSourceID returns "catalogdir:<root>".
func (a *Adapter) GetSourceID() string {
	return "catalogdir:" + a.root
}

// FetchBatch returns up to limit items after cursor.
func (a *Adapter) FetchBatch(ctx context.Context, cursor string, limit int) ([]source.ProductItem, string, error) {
	if !a.loaded {
		if err := a.load(); err != nil {
			return nil, "", fmt.Errorf("failed to load catalog: %w", err)
		}
		a.loaded = true
	}

	start := 0
	if cursor != "" {
		var err error
		start, err = strconv.Atoi(cursor)
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor: %w", err)
		}
	}
	if start >= len(a.items) {
		return []source.ProductItem{}, "", nil
	}

	end := start + limit
	if end > len(a.items) {
		end = len(a.items)
	}
	next := ""
	if end < len(a.items) {
		next = strconv.Itoa(end)
	}
	return a.items[start:end], next, nil
}

func (a *Adapter) load() error {
	manifest := filepath.Join(a.root, ManifestFileName)
	if _, err := os.Stat(manifest); err == nil {
		return a.loadManifest(manifest)
	}
	return a.scan()
}

func (a *Adapter) loadManifest(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open manifest: %w", err)
	}
	defer file.Close()

	images := filepath.Join(a.root, ImagesDir)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var item ManifestItem
		if err := json.Unmarshal([]byte(line), &item); err != nil || item.Code == "" || item.Filename == "" {
			continue
		}
		local := filepath.Join(images, item.Filename)
		if _, err := os.Stat(local); err != nil {
			continue
		}
		name := item.Name
		if name == "" {
			name = item.Code
		}
		a.items = append(a.items, source.ProductItem{
			Code:        item.Code,
			Name:        name,
			Description: item.Description,
			Category:    item.Category,
			Filename:    filepath.Base(item.Filename),
			LocalPath:   local,
		})
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading manifest: %w", err)
	}

	sort.SliceStable(a.items, func(i, j int) bool { return a.items[i].Code < a.items[j].Code })
	return nil
}

// scan treats each first-level directory as a product code and uses its
// first image, by name, as the product image.
func (a *Adapter) scan() error {
	entries, err := os.ReadDir(a.root)
	if err != nil {
		return fmt.Errorf("failed to read catalog dir: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(a.root, e.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", dir, err)
		}
		for _, f := range files {
			if f.IsDir() || !imageExts[strings.ToLower(filepath.Ext(f.Name()))] {
				continue
			}
			a.items = append(a.items, source.ProductItem{
				Code:      e.Name(),
				Name:      e.Name(),
				Filename:  f.Name(),
				LocalPath: filepath.Join(dir, f.Name()),
			})
			break
		}
	}
	return nil
}
