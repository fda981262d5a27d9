package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/reelforge-backend/internal/platform/storage"
)

// ArtifactHandler streams generated artifacts out of storage
type ArtifactHandler struct {
	store  storage.ArtifactStore
	logger *slog.Logger
}

func NewArtifactHandler(logger *slog.Logger, store storage.ArtifactStore) *ArtifactHandler {
	return &ArtifactHandler{
		store:  store,
		logger: logger,
	}
}

// Download streams the artifact body, 404 if it was never stored
func (h *ArtifactHandler) Download(c *gin.Context) {
	id := c.Param("id")

	artifact, err := h.store.Open(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrArtifactNotFound) {
			RespondNotFound(c, "Artifact not found")
			return
		}
		h.logger.Error("Failed to open artifact", "artifact_id", id, "error", err)
		RespondInternalError(c)
		return
	}
	defer artifact.Content.Close()

	c.Header("Content-Type", "application/octet-stream")
	c.Header("Content-Disposition", `attachment; filename="`+artifact.Name+`"`)
	if artifact.Length > 0 {
		c.Header("Content-Length", strconv.FormatInt(artifact.Length, 10))
	}
	c.Status(http.StatusOK)

	if _, err := io.Copy(c.Writer, artifact.Content); err != nil {
		h.logger.Warn("Artifact stream interrupted", "artifact_id", id, "error", err)
	}
}
