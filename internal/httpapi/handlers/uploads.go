package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const maxUploadBytes = 8 << 20

// Upload accepts one image as multipart form field "file" and returns
// the public URL of the stored object.
func (h *Handler) Upload(c *gin.Context) {
	if h.Uploader == nil {
		fail(c, http.StatusServiceUnavailable, 50301, "object storage not configured")
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		fail(c, http.StatusBadRequest, 10003, "missing file")
		return
	}
	if fileHeader.Size > maxUploadBytes {
		fail(c, http.StatusRequestEntityTooLarge, 10004, "file too large")
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, 10005, "unreadable file")
		return
	}
	defer f.Close()

	url, err := h.Uploader.Upload(c.Request.Context(), fileHeader.Filename, fileHeader.Header.Get("Content-Type"), f)
	if err != nil {
		log.Error().Err(err).Str("name", fileHeader.Filename).Msg("[api] upload")
		fail(c, http.StatusBadGateway, 50005, "upload failed")
		return
	}

	ok(c, gin.H{"url": url})
}
