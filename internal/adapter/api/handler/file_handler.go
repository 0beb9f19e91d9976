package handler

import (
	"fmt"

	"github.com/labstack/echo/v4"

	"habita/internal/infrastructure/storage"
	"habita/internal/usecase"
	"habita/pkg/errors"
	"habita/pkg/logger"
	"habita/pkg/response"
)

type FileHandler struct {
	storageClient *storage.CloudStorageClient
	chatUseCase   *usecase.ChatUseCase
	maxFileSize   int64
}

func NewFileHandler(storageClient *storage.CloudStorageClient, chatUseCase *usecase.ChatUseCase) *FileHandler {
	return &FileHandler{
		storageClient: storageClient,
		chatUseCase:   chatUseCase,
		maxFileSize:   10 * 1024 * 1024,
	}
}

func isAllowedAttachmentType(contentType string) bool {
	switch contentType {
	case "image/jpeg", "image/jpg", "image/png", "image/gif", "image/webp",
		"video/mp4", "video/quicktime":
		return true
	}
	return false
}

// UploadAttachment stores a media file for a session the caller belongs to
// and returns the reference to embed in a message.
func (h *FileHandler) UploadAttachment(c echo.Context) error {
	uid := c.Get("uid").(string)
	sessionID := c.Param("id")

	// Membership check doubles as an existence check.
	if _, err := h.chatUseCase.GetSession(c.Request().Context(), uid, sessionID); err != nil {
		return response.Error(c, err)
	}

	file, err := c.FormFile("file")
	if err != nil {
		logger.Error("Error getting file from form: %v", err)
		return response.Error(c, errors.BadRequest("Missing or invalid file", err))
	}

	if file.Size > h.maxFileSize {
		logger.Warn("Attachment too large: %d bytes (max: %d)", file.Size, h.maxFileSize)
		return response.Error(c, errors.BadRequest(fmt.Sprintf("File size exceeds maximum allowed (%dMB)", h.maxFileSize/(1024*1024)), nil))
	}

	contentType := file.Header.Get("Content-Type")
	if !isAllowedAttachmentType(contentType) {
		logger.Warn("Invalid attachment type: %s", contentType)
		return response.Error(c, errors.BadRequest("File type not supported", nil))
	}

	src, err := file.Open()
	if err != nil {
		return response.Error(c, errors.Internal("Failed to read uploaded file", err))
	}
	defer src.Close()

	uploaded, err := h.storageClient.UploadAttachment(c.Request().Context(), src, contentType, sessionID)
	if err != nil {
		logger.Error("Failed to upload attachment for session %s: %v", sessionID, err)
		return response.Error(c, errors.Internal("Failed to store attachment", err))
	}

	return response.Created(c, map[string]string{
		"url":  uploaded.URL,
		"path": uploaded.Path,
	})
}
