package catalog

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/joao-fontenele/storefront-otel-demo/internal/domain"
)

const PageSize = 12

type ProductStore interface {
	GetBySlug(ctx context.Context, slug string) (*domain.Product, error)
	ListActive(ctx context.Context, limit, offset int) ([]domain.Product, int, error)
}

type ProductCache interface {
	Get(ctx context.Context, slug string) (*domain.Product, error)
	Set(ctx context.Context, p *domain.Product) error
}

type Handler struct {
	store  ProductStore
	cache  ProductCache
	logger *slog.Logger
}

// NewHandler builds the catalog handler. cache may be nil.
func NewHandler(store ProductStore, cache ProductCache, logger *slog.Logger) *Handler {
	return &Handler{
		store:  store,
		cache:  cache,
		logger: logger,
	}
}

type productPage struct {
	Data     []domain.Product `json:"data"`
	Page     int              `json:"page"`
	PerPage  int              `json:"per_page"`
	Total    int              `json:"total"`
	LastPage int              `json:"last_page"`
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}

	products, total, err := h.store.ListActive(r.Context(), PageSize, (page-1)*PageSize)
	if err != nil {
		h.logger.Error("failed to list products", "error", err, "page", page)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	lastPage := (total + PageSize - 1) / PageSize
	if lastPage == 0 {
		lastPage = 1
	}

	h.logger.Info("products listed", "page", page, "count", len(products))
	h.writeJSON(w, http.StatusOK, productPage{
		Data:     products,
		Page:     page,
		PerPage:  PageSize,
		Total:    total,
		LastPage: lastPage,
	})
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	if slug == "" {
		h.writeError(w, http.StatusBadRequest, "missing product slug")
		return
	}

	if h.cache != nil {
		cached, err := h.cache.Get(r.Context(), slug)
		if err != nil {
			h.logger.Warn("product cache read failed", "error", err, "slug", slug)
		} else if cached != nil {
			h.writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	product, err := h.store.GetBySlug(r.Context(), slug)
	if err != nil {
		h.logger.Error("failed to get product", "error", err, "slug", slug)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if product == nil || !product.IsActive {
		h.writeError(w, http.StatusNotFound, "product not found")
		return
	}

	if h.cache != nil {
		if err := h.cache.Set(r.Context(), product); err != nil {
			h.logger.Warn("product cache write failed", "error", err, "slug", slug)
		}
	}

	h.logger.Info("product retrieved", "product_id", product.ID, "slug", slug)
	h.writeJSON(w, http.StatusOK, product)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
