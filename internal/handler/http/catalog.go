package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/windfall/langodyssey/internal/errors"
	"github.com/windfall/langodyssey/internal/repository"
	"github.com/windfall/langodyssey/internal/service"
	"github.com/windfall/langodyssey/pkg/response"
)

// Catalog reads the prompt catalog. *service.CatalogService satisfies it.
type Catalog interface {
	List(ctx context.Context, limit, offset int) (*service.CatalogPage, error)
	Get(ctx context.Context, id int) (*repository.Prompt, error)
	Search(ctx context.Context, query string, k int) ([]repository.PromptMatch, error)
}

// Translator translates free text. *service.SpeechService satisfies it.
type Translator interface {
	Translate(ctx context.Context, text, targetLanguage string) (string, error)
}

// CatalogHandler handles prompt catalog and translation endpoints.
type CatalogHandler struct {
	log        zerolog.Logger
	catalog    Catalog
	translator Translator
}

// NewCatalogHandler creates a new CatalogHandler.
func NewCatalogHandler(log zerolog.Logger, catalog Catalog, translator Translator) *CatalogHandler {
	return &CatalogHandler{
		log:        log,
		catalog:    catalog,
		translator: translator,
	}
}

// List handles GET /api/v1/prompts?limit=&offset=
func (h *CatalogHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.handleError(w, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		h.handleError(w, err)
		return
	}

	page, err := h.catalog.List(r.Context(), limit, offset)
	if err != nil {
		h.handleError(w, err)
		return
	}
	response.JSONWithMeta(w, http.StatusOK, page.Prompts, &response.Meta{
		Limit:  page.Limit,
		Offset: page.Offset,
		Total:  page.Total,
	})
}

// Get handles GET /api/v1/prompts/{id}
func (h *CatalogHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, errors.Validation("prompt id must be an integer"))
		return
	}

	p, err := h.catalog.Get(r.Context(), id)
	if err != nil {
		h.handleError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, p)
}

// Search handles GET /api/v1/prompts/search?q=&k=
func (h *CatalogHandler) Search(w http.ResponseWriter, r *http.Request) {
	k, err := queryInt(r, "k")
	if err != nil {
		h.handleError(w, err)
		return
	}

	matches, err := h.catalog.Search(r.Context(), r.URL.Query().Get("q"), k)
	if err != nil {
		h.handleError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, matches)
}

// TranslateRequest represents the request body for translation.
type TranslateRequest struct {
	Text           string `json:"text"`
	TargetLanguage string `json:"target_language"`
}

// Translate handles POST /api/v1/translate
func (h *CatalogHandler) Translate(w http.ResponseWriter, r *http.Request) {
	var req TranslateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, errors.Validation("invalid request body"))
		return
	}

	out, err := h.translator.Translate(r.Context(), req.Text, req.TargetLanguage)
	if err != nil {
		h.handleError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]string{"translated_text": out})
}

func (h *CatalogHandler) handleError(w http.ResponseWriter, err error) {
	writeError(h.log, w, err)
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Validation(name + " must be an integer")
	}
	return n, nil
}
