package vision

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/timmy/fitfinder/internal/domain"
	"github.com/timmy/fitfinder/internal/repository"
)

func fastClient(url string, retries int) ClientConfig {
	return ClientConfig{
		BaseURL:    url,
		Timeout:    100 * time.Millisecond,
		RetryCount: retries,
		RetryWait:  5 * time.Millisecond,
	}
}

// stallingHandler sleeps past the client timeout for the first stalls
// attempts, then delegates to next.
func stallingHandler(stalls int32, calls *int32, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(calls, 1)
		if n <= stalls {
			select {
			case <-time.After(time.Second):
			case <-r.Context().Done():
			}
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestDetect_ParsesRegions(t *testing.T) {
	var got predictRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/predict" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, map[string]interface{}{
			"boxes":             [][]float64{{10, 20, 110, 220}, {5, 5, 6, 6}, {50, 60, 40, 80}, {0, 0, 8, 8}},
			"phrases":           []string{"shirt", "noise", "jeans", "dress"},
			"scores":            []float64{0.91, 0.05, 1.2, 0.5},
			"mask_image_output": []string{"s3://bkt/masks/s1/0.png", "s3://bkt/masks/s1/1.png", "", "s3://other/masks/s1/3.png"},
		})
	}))
	defer srv.Close()

	c := NewDetectionClient(&DetectorConfig{ClientConfig: fastClient(srv.URL, 0), MinConfidence: 0.1})
	regions, err := c.Detect(context.Background(), DetectRequest{ImageURI: "s3://bkt/uploads/a.jpg", MaskDirURI: "s3://bkt/masks/s1"})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	if got.InputImage != "s3://bkt/uploads/a.jpg" || got.OutputMaskImageDir != "s3://bkt/masks/s1" || got.Prompt != DefaultPrompt {
		t.Errorf("request body = %+v", got)
	}
	if len(regions) != 3 {
		t.Fatalf("regions = %+v, want 3 after confidence filter", regions)
	}
	if r := regions[0]; r.Box != (domain.BoundingBox{X: 10, Y: 20, Width: 100, Height: 200}) || r.CropKey != "masks/s1/0.png" || r.Label != "shirt" {
		t.Errorf("region[0] = %+v", r)
	}
	if r := regions[1]; r.Box != (domain.BoundingBox{X: 40, Y: 60, Width: 10, Height: 20}) || r.CropKey != "" || r.Confidence != 1 {
		t.Errorf("region[1] = %+v", r)
	}
	if r := regions[2]; r.Label != "dress" || r.CropKey != "" {
		t.Errorf("crop from a foreign bucket kept: %+v", r)
	}
}

func TestDetect_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retries   int
		want      error
		wantCalls int32
	}{
		{name: "4xx not retried", status: http.StatusUnprocessableEntity, body: `{"detail":"bad image"}`, retries: 2, want: domain.ErrDetectionInvalidInput, wantCalls: 1},
		{name: "5xx retried", status: http.StatusBadGateway, body: `{}`, retries: 2, want: domain.ErrDetectionUnavailable, wantCalls: 3},
		{name: "mismatched arrays", status: http.StatusOK, body: `{"boxes":[[1,2,3,4]],"phrases":[],"scores":[]}`, retries: 2, want: domain.ErrDetectionUnavailable, wantCalls: 1},
		{name: "error message", status: http.StatusOK, body: `{"error_message":"model not loaded"}`, retries: 0, want: domain.ErrDetectionUnavailable, wantCalls: 1},
		{name: "malformed 2xx body not retried", status: http.StatusOK, body: `{"boxes": not-json`, retries: 2, want: domain.ErrDetectionUnavailable, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewDetectionClient(&DetectorConfig{ClientConfig: fastClient(srv.URL, tt.retries)})
			_, err := c.Detect(context.Background(), DetectRequest{ImageURI: "s3://b/k"})
			if !errors.Is(err, tt.want) {
				t.Fatalf("Detect error = %v, want %v", err, tt.want)
			}
			if got := atomic.LoadInt32(&calls); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func dinoOK(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"result_content": []map[string]interface{}{
			{"s3_url": "s3://cat/products/p1/a.jpg", "score": 0.9},
			{"s3_url": "s3://cat/products/p2/a.jpg", "score": 0.9},
			{"s3_url": "s3://cat/products/p3/a.jpg", "score": 0.7},
		},
	})
}

func TestDINOSearch_RetriesTimeoutsWithinBudget(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(stallingHandler(2, &calls, dinoOK))
	defer srv.Close()

	c := NewDINOClient(&DINOConfig{ClientConfig: fastClient(srv.URL, 2)})
	matches, err := c.Search(context.Background(), Query{SourceURI: "s3://b/uploads/a.jpg"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(matches) != 3 || matches[0].ProductID != "p1" || matches[1].ProductID != "p2" || matches[2].ProductID != "p3" {
		t.Errorf("matches = %+v", matches)
	}
}

func TestDINOSearch_AlwaysTimingOut(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(stallingHandler(100, &calls, dinoOK))
	defer srv.Close()

	c := NewDINOClient(&DINOConfig{ClientConfig: fastClient(srv.URL, 2)})
	_, err := c.Search(context.Background(), Query{SourceURI: "s3://b/k.jpg"})
	if !errors.Is(err, domain.ErrSearchUnavailable) {
		t.Fatalf("Search error = %v, want search_unavailable", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestDINOSearch_QueryParams(t *testing.T) {
	var query map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		query = map[string]string{}
		for k := range r.URL.Query() {
			query[k] = r.URL.Query().Get(k)
		}
		writeJSON(w, map[string]interface{}{"result_content": []interface{}{}})
	}))
	defer srv.Close()

	c := NewDINOClient(&DINOConfig{ClientConfig: fastClient(srv.URL, 0), Index: "idx", TopK: 7, Scale: 3})
	_, err := c.Search(context.Background(), Query{
		SourceURI: "s3://b/masks/s1/0.png",
		Context:   &SearchContext{TargetItem: "jeans", Confidence: 0.8, Box: domain.BoundingBox{X: 1, Y: 2, Width: 10, Height: 20}},
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if path != "/vis-search/search/idx" {
		t.Errorf("path = %q", path)
	}
	want := map[string]string{
		"s3_url":           "s3://b/masks/s1/0.png",
		"k":                "7",
		"scale":            "3",
		"target_item":      "jeans",
		"confidence":       "0.8",
		"bounding_box":     "1,2,11,22",
		"detection_method": "yolo_object_detection",
	}
	for k, v := range want {
		if query[k] != v {
			t.Errorf("param %s = %q, want %q", k, query[k], v)
		}
	}
}

func TestDINOSearch_MissingURI(t *testing.T) {
	c := NewDINOClient(&DINOConfig{ClientConfig: fastClient("http://127.0.0.1:1", 0)})
	if _, err := c.Search(context.Background(), Query{}); !errors.Is(err, domain.ErrSearchInvalidInput) {
		t.Fatalf("error = %v", err)
	}
}

func TestToMatch(t *testing.T) {
	tests := []struct {
		name   string
		item   map[string]interface{}
		wantID string
		wantOK bool
	}{
		{name: "explicit id", item: map[string]interface{}{"product_id": "X1", "s3_url": "s3://b/p/Y/a.jpg"}, wantID: "X1", wantOK: true},
		{name: "code", item: map[string]interface{}{"product_code": "C9"}, wantID: "C9", wantOK: true},
		{name: "from key", item: map[string]interface{}{"s3_url": "s3://b/catalog/A100/front.jpg", "score": "0.5"}, wantID: "A100", wantOK: true},
		{name: "nothing", item: map[string]interface{}{"score": 0.5}, wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := toMatch(tt.item)
			if ok != tt.wantOK || m.ProductID != tt.wantID {
				t.Errorf("toMatch = %+v, %v", m, ok)
			}
		})
	}
}

func TestRankMatches(t *testing.T) {
	in := []Match{{ProductID: "a", Score: 0.2}, {ProductID: "b", Score: 1.5}, {ProductID: "c", Score: 0.2}, {ProductID: "d", Score: -1}}
	out := RankMatches(in)
	order := []string{"b", "a", "c", "d"}
	for i, id := range order {
		if out[i].ProductID != id {
			t.Fatalf("order = %+v", out)
		}
	}
	if out[0].Score != 1 || out[3].Score != 0 {
		t.Errorf("scores not clamped: %+v", out)
	}
	if in[1].Score != 1.5 {
		t.Error("input mutated")
	}

	// Out-of-range scores tie once clamped and keep input order.
	over := RankMatches([]Match{{ProductID: "x", Score: 1.1}, {ProductID: "y", Score: 1.3}})
	if over[0].ProductID != "x" || over[1].ProductID != "y" || over[1].Score != 1 {
		t.Errorf("clamped order = %+v", over)
	}
}

func TestProductIDFromKey(t *testing.T) {
	tests := map[string]string{
		"catalog/A100/front.jpg": "A100",
		"A100/front.jpg":         "A100",
		"front.jpg":              "",
		"":                       "",
	}
	for key, want := range tests {
		if got := ProductIDFromKey(key); got != want {
			t.Errorf("ProductIDFromKey(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestEmbedImage(t *testing.T) {
	var body jinaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("auth header = %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeJSON(w, map[string]interface{}{"data": []map[string]interface{}{{"embedding": []float32{0.1, 0.2}, "index": 0}}})
	}))
	defer srv.Close()

	cfg := fastClient(srv.URL, 0)
	cfg.APIKey = "k"
	c := NewEmbeddingClient(&EmbeddingConfig{ClientConfig: cfg, Model: "jina-clip-v2", Dimensions: 2})
	vec, err := c.EmbedImage(context.Background(), []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("EmbedImage: %v", err)
	}
	if len(vec) != 2 || body.Model != "jina-clip-v2" || body.Input[0].Image != "AQID" {
		t.Errorf("vec = %v, body = %+v", vec, body)
	}

	if _, err := c.EmbedImage(context.Background(), nil); !errors.Is(err, domain.ErrSearchInvalidInput) {
		t.Errorf("empty image error = %v", err)
	}
}

type fakeEmbedder struct{ err error }

func (f fakeEmbedder) EmbedImage(ctx context.Context, image []byte) ([]float32, error) {
	return []float32{1, 0}, f.err
}

type fakeVectors struct {
	hits     []repository.ProductHit
	category string
}

func (f *fakeVectors) Search(ctx context.Context, vector []float32, topK int, category string) ([]repository.ProductHit, error) {
	f.category = category
	return f.hits, nil
}

func TestQdrantSearcher(t *testing.T) {
	vectors := &fakeVectors{hits: []repository.ProductHit{
		{PointID: "1", Score: 0.5, Payload: repository.ProductPayload{ProductID: "id-1", StorageKey: "products/A/1.jpg"}},
		{PointID: "2", Score: 0.8, Payload: repository.ProductPayload{StorageKey: "products/B/1.jpg"}},
		{PointID: "3", Score: 0.9},
	}}
	s := NewQdrantSearcher(fakeEmbedder{}, vectors, QdrantConfig{TopK: 5})

	matches, err := s.Search(context.Background(), Query{Image: []byte{1}, Category: domain.CategoryBottom})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if vectors.category != "bottom" {
		t.Errorf("category filter = %q", vectors.category)
	}
	if len(matches) != 2 || matches[0].ProductID != "B" || matches[1].ProductID != "id-1" {
		t.Errorf("matches = %+v", matches)
	}

	s.Search(context.Background(), Query{Image: []byte{1}, Category: domain.CategoryUnknown})
	if vectors.category != "" {
		t.Errorf("unknown category should not filter, got %q", vectors.category)
	}
}

// scriptedVectors fails with errs in order, then returns hits. A nil entry
// blocks until the attempt deadline.
type scriptedVectors struct {
	errs  []error
	hits  []repository.ProductHit
	calls int32
}

func (f *scriptedVectors) Search(ctx context.Context, vector []float32, topK int, category string) ([]repository.ProductHit, error) {
	n := int(atomic.AddInt32(&f.calls, 1))
	if n > len(f.errs) {
		return f.hits, nil
	}
	if err := f.errs[n-1]; err != nil {
		return nil, err
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestQdrantSearcher_Retries(t *testing.T) {
	hits := []repository.ProductHit{{PointID: "1", Score: 0.7, Payload: repository.ProductPayload{ProductID: "p1"}}}
	tests := []struct {
		name      string
		errs      []error
		wantErr   error
		wantCalls int32
	}{
		{name: "stalls on every attempt", errs: []error{nil, nil, nil}, wantErr: domain.ErrSearchUnavailable, wantCalls: 3},
		{name: "unavailable then ok", errs: []error{status.Error(codes.Unavailable, "down"), nil}, wantCalls: 3},
		{name: "invalid argument not retried", errs: []error{status.Error(codes.InvalidArgument, "bad vector")}, wantErr: domain.ErrSearchUnavailable, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vectors := &scriptedVectors{errs: tt.errs, hits: hits}
			s := NewQdrantSearcher(fakeEmbedder{}, vectors, QdrantConfig{
				Timeout:    20 * time.Millisecond,
				RetryCount: 2,
				RetryWait:  time.Millisecond,
			})

			start := time.Now()
			matches, err := s.Search(context.Background(), Query{Image: []byte{1}})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Search error = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil || len(matches) != 1 || matches[0].ProductID != "p1" {
				t.Fatalf("Search = %+v, %v", matches, err)
			}
			if got := atomic.LoadInt32(&vectors.calls); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
			if elapsed := time.Since(start); elapsed > time.Second {
				t.Errorf("search took %v", elapsed)
			}
		})
	}
}

func TestDINOSearch_MalformedBodyNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result_content": [`))
	}))
	defer srv.Close()

	c := NewDINOClient(&DINOConfig{ClientConfig: fastClient(srv.URL, 2)})
	_, err := c.Search(context.Background(), Query{SourceURI: "s3://b/k.jpg"})
	if !errors.Is(err, domain.ErrSearchUnavailable) {
		t.Fatalf("Search error = %v, want search_unavailable", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestHealthChecks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			_, _ = w.Write([]byte("ok"))
		case "/vis-search/index/list":
			writeJSON(w, []string{"mall_search_image_250604"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	if err := NewDetectionClient(&DetectorConfig{ClientConfig: fastClient(srv.URL, 0)}).Health(context.Background()); err != nil {
		t.Errorf("detector health: %v", err)
	}
	dino := NewDINOClient(&DINOConfig{ClientConfig: fastClient(srv.URL, 0)})
	raw, err := dino.ListIndexes(context.Background())
	if err != nil {
		t.Fatalf("ListIndexes: %v", err)
	}
	var names []string
	if err := json.Unmarshal(raw, &names); err != nil || len(names) != 1 {
		t.Errorf("index list = %s", raw)
	}
}
