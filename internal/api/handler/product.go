package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/fitfinder/internal/domain"
	"github.com/timmy/fitfinder/internal/repository"
	"github.com/timmy/fitfinder/internal/service"
)

// Catalog is the product catalog used by ProductHandler.
type Catalog interface {
	IndexProduct(ctx context.Context, in service.ProductInput) (*domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context, category string, limit, offset int) ([]domain.Product, int64, error)
	URL(key string) string
}

// ProductHandler handles catalog endpoints.
type ProductHandler struct {
	catalog        Catalog
	maxUploadBytes int64
}

// NewProductHandler creates a new product handler.
func NewProductHandler(catalog Catalog, maxUploadBytes int64) *ProductHandler {
	return &ProductHandler{catalog: catalog, maxUploadBytes: maxUploadBytes}
}

// ProductResponse is a product with its image URL.
type ProductResponse struct {
	domain.Product
	ImageURL string `json:"image_url,omitempty"`
}

// ProductListResponse is one page of products.
type ProductListResponse struct {
	Results []ProductResponse `json:"results"`
	Total   int64             `json:"total"`
	Limit   int               `json:"limit"`
	Offset  int               `json:"offset"`
}

func (h *ProductHandler) toResponse(p *domain.Product) ProductResponse {
	resp := ProductResponse{Product: *p}
	if p.StorageKey != "" {
		resp.ImageURL = h.catalog.URL(p.StorageKey)
	}
	return resp
}

// Create handles POST /api/v1/products.
// Parameters:
//   - c: Gin request context with multipart fields product_code, name,
//     description, category and file "image".
// Returns: none (writes JSON response).
func (h *ProductHandler) Create(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+1<<20)
	}
	fh, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorBody{Error: "multipart field \"image\" is required"})
		return
	}
	if h.maxUploadBytes > 0 && fh.Size > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorBody{Error: "image too large"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorBody{Error: err.Error()})
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorBody{Error: err.Error()})
		return
	}

	p, err := h.catalog.IndexProduct(c.Request.Context(), service.ProductInput{
		Code:        c.PostForm("product_code"),
		Name:        c.PostForm("name"),
		Description: c.PostForm("description"),
		Category:    c.PostForm("category"),
		Filename:    fh.Filename,
		Data:        data,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidProduct) {
			c.JSON(http.StatusBadRequest, ErrorBody{Error: err.Error()})
			return
		}
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, h.toResponse(p))
}

// List handles GET /api/v1/products.
func (h *ProductHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	products, total, err := h.catalog.ListProducts(c.Request.Context(), c.Query("category"), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := ProductListResponse{
		Results: make([]ProductResponse, 0, len(products)),
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	}
	for i := range products {
		resp.Results = append(resp.Results, h.toResponse(&products[i]))
	}
	c.JSON(http.StatusOK, resp)
}

// Get handles GET /api/v1/products/:id.
func (h *ProductHandler) Get(c *gin.Context) {
	p, err := h.catalog.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			c.JSON(http.StatusNotFound, ErrorBody{Error: "product not found"})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.toResponse(p))
}
