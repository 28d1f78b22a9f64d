package viewer

import (
	"errors"
	"io"
	"net/http"
	"time"

	"medisync/internal/pkg/reference"
	"medisync/internal/pkg/response"
	"medisync/internal/repository"
	"medisync/internal/store"

	"github.com/gin-gonic/gin"
)

const defaultReferenceTTL = 15 * time.Minute

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/collections/:uid/artifacts", h.ListArtifacts)
	rg.GET("/artifacts/:uid/reference", h.Reference)
	rg.GET("/blob", h.Blob)
}

func (h *Handler) ListArtifacts(c *gin.Context) {
	listing, err := h.service.ListArtifacts(c.Request.Context(), c.Param("uid"))
	if err != nil {
		if errors.Is(err, repository.ErrCollectionNotFound) {
			response.NotFound(c, "Unknown collection")
			return
		}
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list artifacts")
		return
	}
	response.Success(c, http.StatusOK, listing)
}

func (h *Handler) Reference(c *gin.Context) {
	ttl := defaultReferenceTTL
	if raw := c.Query("ttl"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid ttl")
			return
		}
		ttl = parsed
	}

	ref, err := h.service.Reference(c.Request.Context(), c.Param("uid"), ttl)
	if err != nil {
		if errors.Is(err, repository.ErrArtifactNotFound) {
			response.NotFound(c, "Unknown artifact")
			return
		}
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to issue reference")
		return
	}
	response.Success(c, http.StatusOK, ref)
}

// Blob redeems a reference token and streams the payload. Only used with the
// filesystem backend; object storage serves presigned URLs directly.
func (h *Handler) Blob(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Missing token")
		return
	}

	claims, rc, err := h.service.Open(c.Request.Context(), token)
	if err != nil {
		switch {
		case errors.Is(err, reference.ErrInvalidReference):
			response.Error(c, http.StatusForbidden, "AUTH_INVALID", "Invalid or expired reference")
		case errors.Is(err, store.ErrNotFound):
			response.NotFound(c, "Payload not found")
		default:
			response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read payload")
		}
		return
	}
	defer rc.Close()

	c.Header("Content-Disposition", `attachment; filename="`+claims.ArtifactUID+`"`)
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, rc)
}
