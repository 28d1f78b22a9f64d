package sync

import (
	"errors"
	"net/http"
	"strconv"

	"medisync/internal/pkg/response"
	"medisync/internal/repository"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/sync/metadata", h.SubmitMetadata)
	rg.PUT("/sync/sessions/:id/binary", h.SubmitBinary)
	rg.POST("/sync/sessions/:id/ack", h.RequestAck)
}

func (h *Handler) SubmitMetadata(c *gin.Context) {
	var req MetadataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}

	result, err := h.service.SubmitMetadata(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, ErrValidation) {
			response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Malformed artifact metadata")
			return
		}
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to register upload session")
		return
	}

	response.Success(c, http.StatusOK, result)
}

func (h *Handler) SubmitBinary(c *gin.Context) {
	sessionID := c.Param("id")

	offset := int64(0)
	if raw := c.Query("offset"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid offset")
			return
		}
		offset = parsed
	}

	result, err := h.service.AppendBinary(c.Request.Context(), sessionID, offset, c.Request.Body)
	if err != nil {
		var mismatch *OffsetMismatchError
		switch {
		case errors.Is(err, repository.ErrSessionNotFound):
			response.NotFound(c, "Unknown upload session")
		case errors.As(err, &mismatch):
			response.ErrorWithDetails(c, http.StatusConflict, "OFFSET_MISMATCH", "Chunk offset disagrees with server state", gin.H{"expected_offset": mismatch.Expected})
		case errors.Is(err, ErrChecksumMismatch):
			response.Error(c, http.StatusUnprocessableEntity, "CHECKSUM_MISMATCH", "Payload does not match declared checksum")
		case errors.Is(err, ErrSizeMismatch):
			response.Error(c, http.StatusUnprocessableEntity, "SIZE_MISMATCH", "Payload does not match declared size")
		case errors.Is(err, ErrStorageUnavailable):
			response.Error(c, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Blob backend write failed")
		case errors.Is(err, ErrValidation):
			response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to process binary chunk")
		}
		return
	}

	response.Success(c, http.StatusOK, result)
}

func (h *Handler) RequestAck(c *gin.Context) {
	sessionID := c.Param("id")

	result, err := h.service.Acknowledge(c.Request.Context(), sessionID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrSessionNotFound):
			response.NotFound(c, "Unknown upload session")
		case errors.Is(err, ErrNotSynced):
			response.Error(c, http.StatusConflict, "NOT_SYNCED", "Session has not completed the binary phase")
		default:
			response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to acknowledge session")
		}
		return
	}

	response.Success(c, http.StatusOK, result)
}
