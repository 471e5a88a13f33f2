package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/fitfinder/internal/api/middleware"
	"github.com/timmy/fitfinder/internal/domain"
	"github.com/timmy/fitfinder/internal/repository"
	"github.com/timmy/fitfinder/internal/service"
	"github.com/timmy/fitfinder/internal/source"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeOrchestrator struct {
	sessionID string
	upload    service.Upload
	selection service.Selection
	view      *service.SessionStateView
	err       error
	resetErr  error
}

func (f *fakeOrchestrator) Begin(ctx context.Context, sessionID string, up service.Upload) (*service.SessionStateView, error) {
	f.sessionID, f.upload = sessionID, up
	return f.view, f.err
}

func (f *fakeOrchestrator) Select(ctx context.Context, sessionID string, sel service.Selection) (*service.SessionStateView, error) {
	f.sessionID, f.selection = sessionID, sel
	return f.view, f.err
}

func (f *fakeOrchestrator) SearchWholeImage(ctx context.Context, sessionID string) (*service.SessionStateView, error) {
	f.sessionID = sessionID
	return f.view, f.err
}

func (f *fakeOrchestrator) Status(ctx context.Context, sessionID string) (*service.SessionStateView, error) {
	f.sessionID = sessionID
	return f.view, f.err
}

func (f *fakeOrchestrator) Reset(ctx context.Context, sessionID string) error {
	f.sessionID = sessionID
	return f.resetErr
}

func newSearchEngine(orch Orchestrator, maxBytes int64) *gin.Engine {
	r := gin.New()
	h := NewSearchHandler(orch, maxBytes)
	g := r.Group("/api/v1/search", middleware.Session(middleware.SessionConfig{CookieName: "sid", MaxAge: time.Hour}))
	g.POST("", h.Upload)
	g.GET("", h.Status)
	g.DELETE("", h.Reset)
	g.POST("/selection", h.Select)
	g.POST("/whole-image", h.WholeImage)
	return r
}

func multipartBody(t *testing.T, field, filename string, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if field != "" {
		part, err := w.CreateFormFile(field, filename)
		if err != nil {
			t.Fatal(err)
		}
		part.Write(data)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, w.FormDataContentType()
}

func TestStatusForReason(t *testing.T) {
	tests := []struct {
		reason domain.Reason
		want   int
	}{
		{domain.ReasonInvalidSelection, http.StatusBadRequest},
		{domain.ReasonDetectionInvalidInput, http.StatusBadRequest},
		{domain.ReasonSearchInvalidInput, http.StatusUnprocessableEntity},
		{domain.ReasonSessionNotFound, http.StatusNotFound},
		{domain.ReasonSessionExpired, http.StatusGone},
		{domain.ReasonSessionConflict, http.StatusConflict},
		{domain.ReasonDetectionUnavailable, http.StatusBadGateway},
		{domain.ReasonSearchUnavailable, http.StatusBadGateway},
		{domain.ReasonStorageUnavailable, http.StatusServiceUnavailable},
		{"", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			if got := StatusForReason(tt.reason); got != tt.want {
				t.Errorf("StatusForReason(%q) = %d, want %d", tt.reason, got, tt.want)
			}
		})
	}
}

func TestSearchHandler_UploadSetsSessionCookie(t *testing.T) {
	orch := &fakeOrchestrator{view: &service.SessionStateView{Stage: domain.StageDetected}}
	r := newSearchEngine(orch, 1024)

	body, ct := multipartBody(t, "image", "look.jpg", []byte("jpegdata"), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/search", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "sid" || cookies[0].Value != orch.sessionID || !cookies[0].HttpOnly {
		t.Fatalf("cookies = %+v, session %q", cookies, orch.sessionID)
	}
	if string(orch.upload.Data) != "jpegdata" || orch.upload.Filename != "look.jpg" {
		t.Errorf("upload = %+v", orch.upload)
	}

	// The same cookie maps to the same session.
	first := orch.sessionID
	req = httptest.NewRequest(http.MethodGet, "/api/v1/search", nil)
	req.AddCookie(cookies[0])
	r.ServeHTTP(httptest.NewRecorder(), req)
	if orch.sessionID != first {
		t.Errorf("session changed: %q != %q", orch.sessionID, first)
	}
}

func TestSearchHandler_UploadValidation(t *testing.T) {
	orch := &fakeOrchestrator{}
	r := newSearchEngine(orch, 4)

	tests := []struct {
		name  string
		field string
		data  []byte
	}{
		{"missing file", "", nil},
		{"too large", "image", []byte("123456789")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := multipartBody(t, tt.field, "x.png", tt.data, map[string]string{"note": "x"})
			req := httptest.NewRequest(http.MethodPost, "/api/v1/search", body)
			req.Header.Set("Content-Type", ct)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", w.Code)
			}
			var resp ErrorBody
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp.Reason != domain.ReasonDetectionInvalidInput {
				t.Errorf("reason = %q", resp.Reason)
			}
		})
	}
}

func TestSearchHandler_Select(t *testing.T) {
	orch := &fakeOrchestrator{view: &service.SessionStateView{Stage: domain.StageCompleted}}
	r := newSearchEngine(orch, 0)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/search/selection", strings.NewReader(`{"category":"bottom"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || orch.selection.Category != domain.CategoryBottom {
		t.Fatalf("status = %d, selection %+v", w.Code, orch.selection)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/search/selection", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !orch.selection.IsEmpty() {
		t.Errorf("empty body: status = %d, selection %+v", w.Code, orch.selection)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/search/selection", strings.NewReader(`{"category":`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed body: status = %d", w.Code)
	}
}

func TestSearchHandler_FailedPassReturnsState(t *testing.T) {
	derr := domain.NewError(domain.ReasonSearchUnavailable, "timeout")
	orch := &fakeOrchestrator{
		view: &service.SessionStateView{Stage: domain.StageFailed, ErrorReason: domain.ReasonSearchUnavailable},
		err:  derr,
	}
	r := newSearchEngine(orch, 0)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/search/whole-image", nil))
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", w.Code)
	}
	var resp failedResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Reason != domain.ReasonSearchUnavailable || resp.State == nil || resp.State.Stage != domain.StageFailed {
		t.Errorf("resp = %+v", resp)
	}
}

func TestSearchHandler_StatusErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", domain.NewError(domain.ReasonSessionNotFound, "x"), http.StatusNotFound},
		{"expired", domain.NewError(domain.ReasonSessionExpired, "x"), http.StatusGone},
		{"internal", errors.New("db gone"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newSearchEngine(&fakeOrchestrator{err: tt.err}, 0)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/search", nil))
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestSearchHandler_Reset(t *testing.T) {
	orch := &fakeOrchestrator{resetErr: domain.NewError(domain.ReasonSessionNotFound, "gone")}
	r := newSearchEngine(orch, 0)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/search", nil))
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d", w.Code)
	}
}

type fakeCatalog struct {
	products map[string]*domain.Product
	last     service.ProductInput
}

func (f *fakeCatalog) IndexProduct(ctx context.Context, in service.ProductInput) (*domain.Product, error) {
	f.last = in
	if in.Code == "" {
		return nil, service.ErrInvalidProduct
	}
	p := &domain.Product{ID: "id-" + in.Code, ProductCode: in.Code, Name: in.Name, StorageKey: "products/" + in.Code + "/" + in.Filename}
	f.products[p.ID] = p
	return p, nil
}

func (f *fakeCatalog) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return nil, repository.ErrProductNotFound
	}
	return p, nil
}

func (f *fakeCatalog) ListProducts(ctx context.Context, category string, limit, offset int) ([]domain.Product, int64, error) {
	var out []domain.Product
	for _, p := range f.products {
		out = append(out, *p)
	}
	return out, int64(len(out)), nil
}

func (f *fakeCatalog) URL(key string) string {
	return "http://cdn.test/" + key
}

func TestProductHandler(t *testing.T) {
	cat := &fakeCatalog{products: map[string]*domain.Product{}}
	h := NewProductHandler(cat, 1024)
	r := gin.New()
	r.POST("/products", h.Create)
	r.GET("/products", h.List)
	r.GET("/products/:id", h.Get)

	body, ct := multipartBody(t, "image", "front.jpg", []byte("img"), map[string]string{"product_code": "SKU1", "name": "Shirt"})
	req := httptest.NewRequest(http.MethodPost, "/products", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", w.Code, w.Body.String())
	}
	var created ProductResponse
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.ImageURL != "http://cdn.test/products/SKU1/front.jpg" || cat.last.Name != "Shirt" {
		t.Errorf("created = %+v", created)
	}

	body, ct = multipartBody(t, "image", "front.jpg", []byte("img"), nil)
	req = httptest.NewRequest(http.MethodPost, "/products", body)
	req.Header.Set("Content-Type", ct)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing code status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/products/id-SKU1", nil))
	if w.Code != http.StatusOK {
		t.Errorf("get status = %d", w.Code)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/products/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("get missing status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/products?limit=5", nil))
	var list ProductListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if list.Total != 1 || list.Limit != 5 || len(list.Results) != 1 {
		t.Errorf("list = %+v", list)
	}
}

func TestHealthHandler_Upstreams(t *testing.T) {
	tests := []struct {
		name   string
		probes map[string]Probe
		want   int
	}{
		{
			name: "all ok",
			probes: map[string]Probe{
				"detector": func(ctx context.Context) error { return nil },
				"storage":  func(ctx context.Context) error { return nil },
			},
			want: http.StatusOK,
		},
		{
			name: "one failing",
			probes: map[string]Probe{
				"detector": func(ctx context.Context) error { return errors.New("refused") },
				"storage":  func(ctx context.Context) error { return nil },
			},
			want: http.StatusServiceUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.probes, time.Second)
			r := gin.New()
			r.GET("/up", h.Upstreams)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/up", nil))
			if w.Code != tt.want {
				t.Fatalf("status = %d", w.Code)
			}
			var resp struct {
				Upstreams map[string]UpstreamStatus `json:"upstreams"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if len(resp.Upstreams) != len(tt.probes) {
				t.Errorf("upstreams = %+v", resp.Upstreams)
			}
		})
	}
}

type fakeIndexer struct {
	calls int
}

func (f *fakeIndexer) IndexFromSource(ctx context.Context, src source.Source, limit int, opts *service.IndexOptions) (*service.IndexStats, error) {
	f.calls++
	return &service.IndexStats{TotalItems: 2, ProcessedItems: 2}, nil
}

type nopSource struct{}

func (nopSource) GetSourceID() string { return "nop" }

func (nopSource) FetchBatch(ctx context.Context, cursor string, limit int) ([]source.ProductItem, string, error) {
	return nil, "", nil
}

func TestAdminHandler_TriggerIndex(t *testing.T) {
	idx := &fakeIndexer{}
	h := NewAdminHandler(idx, map[string]source.Source{"catalog": nopSource{}})
	r := gin.New()
	r.POST("/index", h.TriggerIndex)
	r.GET("/index/status", h.GetIndexStatus)

	req := httptest.NewRequest(http.MethodPost, "/index", strings.NewReader(`{"source":"other"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown source status = %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/index", strings.NewReader(`{"source":"catalog","limit":10}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || idx.calls != 1 {
		t.Fatalf("status = %d, calls %d", w.Code, idx.calls)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/index/status", nil))
	var status IndexStatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.IsRunning || status.LastRunStatus != "success" || status.CurrentStats.TotalItems != 2 {
		t.Errorf("status = %+v", status)
	}
}
