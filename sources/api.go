package sources

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// APIServer exposes source CRUD over HTTP. Every mutation reloads the
// registry so the fetchers observe the change without a restart.
type APIServer struct {
	store    *Store
	registry *Registry
}

// NewAPIServer creates a new source API server.
func NewAPIServer(store *Store, registry *Registry) *APIServer {
	return &APIServer{
		store:    store,
		registry: registry,
	}
}

// RegisterRoutes mounts the source routes on the given router group.
func (s *APIServer) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/sources", s.HandleListSources)
	api.GET("/sources/:id", s.HandleGetSource)
	api.POST("/sources", s.HandleCreateSource)
	api.PUT("/sources/:id", s.HandleUpdateSource)
	api.DELETE("/sources/:id", s.HandleDeleteSource)
}

// ListSourcesResponse represents the response for GET /api/sources.
type ListSourcesResponse struct {
	Sources []Source `json:"sources"`
	Total   int      `json:"total"`
}

// CreateSourceRequest represents the request for POST /api/sources.
type CreateSourceRequest struct {
	Kind   string `json:"kind" binding:"required"`
	Name   string `json:"name" binding:"required"`
	URL    string `json:"url,omitempty"`
	Handle string `json:"handle,omitempty"`
}

// UpdateSourceRequest represents the request for PUT /api/sources/{id}.
type UpdateSourceRequest struct {
	Name   *string `json:"name,omitempty"`
	URL    *string `json:"url,omitempty"`
	Handle *string `json:"handle,omitempty"`
	Active *bool   `json:"active,omitempty"`
}

// errorResponse creates a standardized error response.
func errorResponse(code, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

// handleError maps domain errors to HTTP responses.
func (s *APIServer) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrSourceNotFound):
		c.JSON(http.StatusNotFound, errorResponse("not_found", err.Error()))
	case errors.Is(err, ErrDuplicateSource):
		c.JSON(http.StatusConflict, errorResponse("conflict", err.Error()))
	case errors.Is(err, ErrInvalidSourceKind):
		c.JSON(http.StatusBadRequest, errorResponse("validation_error", err.Error()))
	default:
		c.JSON(http.StatusInternalServerError, errorResponse("internal_error", "Failed to process request"))
	}
}

// HandleListSources handles GET /api/sources.
func (s *APIServer) HandleListSources(c *gin.Context) {
	filter := SourceFilter{}

	if kindParam := c.Query("kind"); kindParam != "" {
		filter.Kind = &kindParam
	}
	if activeParam := c.Query("active"); activeParam != "" {
		active := activeParam == "true"
		filter.Active = &active
	}

	result, err := s.store.List(filter)
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, ListSourcesResponse{
		Sources: result,
		Total:   len(result),
	})
}

// HandleGetSource handles GET /api/sources/{id}.
func (s *APIServer) HandleGetSource(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("bad_request", "Invalid source ID"))
		return
	}

	source, err := s.store.Get(id)
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, source)
}

// HandleCreateSource handles POST /api/sources.
func (s *APIServer) HandleCreateSource(c *gin.Context) {
	var req CreateSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("validation_error", err.Error()))
		return
	}

	locator := req.URL
	if req.Kind == KindTwitter {
		locator = req.Handle
	}
	if locator == "" {
		c.JSON(http.StatusBadRequest, errorResponse("validation_error", "url (rss) or handle (twitter) is required"))
		return
	}

	source, err := s.store.Create(req.Kind, req.Name, locator)
	if err != nil {
		s.handleError(c, err)
		return
	}

	s.registry.Reload()
	c.JSON(http.StatusCreated, source)
}

// HandleUpdateSource handles PUT /api/sources/{id}.
func (s *APIServer) HandleUpdateSource(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("bad_request", "Invalid source ID"))
		return
	}

	var req UpdateSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("bad_request", err.Error()))
		return
	}

	update := SourceUpdate{
		Name:   req.Name,
		URL:    req.URL,
		Handle: req.Handle,
		Active: req.Active,
	}

	if err := s.store.Update(id, update); err != nil {
		s.handleError(c, err)
		return
	}

	s.registry.Reload()

	source, err := s.store.Get(id)
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, source)
}

// HandleDeleteSource handles DELETE /api/sources/{id}.
func (s *APIServer) HandleDeleteSource(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("bad_request", "Invalid source ID"))
		return
	}

	if err := s.store.Delete(id); err != nil {
		s.handleError(c, err)
		return
	}

	s.registry.Reload()
	c.Status(http.StatusNoContent)
}
