package catalogdir

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestAdapter_Manifest(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ImagesDir, "b.jpg"), "b")
	writeFile(t, filepath.Join(root, ImagesDir, "a.jpg"), "a")
	writeFile(t, filepath.Join(root, ManifestFileName), `
{"code":"B2","name":"Jeans","category":"bottom","filename":"b.jpg"}
not json
{"code":"A1","category":"top","filename":"a.jpg"}
{"code":"C3","filename":"missing.jpg"}
`)

	a := NewAdapter(root)
	items, next, err := a.FetchBatch(context.Background(), "", 1)
	if err != nil {
		t.Fatalf("FetchBatch: %v", err)
	}
	if len(items) != 1 || items[0].Code != "A1" || items[0].Name != "A1" || next != "1" {
		t.Fatalf("first batch = %+v, next %q", items, next)
	}

	items, next, err = a.FetchBatch(context.Background(), next, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Code != "B2" || items[0].Category != "bottom" || next != "" {
		t.Fatalf("second batch = %+v, next %q", items, next)
	}
}

func TestAdapter_DirectoryScan(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "P100", "notes.txt"), "x")
	writeFile(t, filepath.Join(root, "P100", "front.JPG"), "x")
	writeFile(t, filepath.Join(root, "P200", "side.webp"), "x")
	writeFile(t, filepath.Join(root, "empty", "readme.md"), "x")

	items, _, err := NewAdapter(root).FetchBatch(context.Background(), "", 10)
	if err != nil {
		t.Fatalf("FetchBatch: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %+v", items)
	}
	if items[0].Code != "P100" || items[0].Filename != "front.JPG" || items[1].Code != "P200" {
		t.Errorf("items = %+v", items)
	}
}

func TestAdapter_BadCursor(t *testing.T) {
	if _, _, err := NewAdapter(t.TempDir()).FetchBatch(context.Background(), "x", 1); err == nil {
		t.Fatal("expected cursor error")
	}
}
