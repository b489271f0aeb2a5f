package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"dialoque/server/internal/service"

	"github.com/gin-gonic/gin"
)

var errFileTooLarge = errors.New("uploaded file is too large")

// formFile reads the multipart file field. A missing field yields nil with
// no error.
func formFile(c *gin.Context, field string, maxBytes int64) (*service.FileUpload, error) {
	header, err := c.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		return nil, err
	}
	return readUpload(header, maxBytes)
}

func readUpload(header *multipart.FileHeader, maxBytes int64) (*service.FileUpload, error) {
	if maxBytes > 0 && header.Size > maxBytes {
		return nil, errFileTooLarge
	}
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return &service.FileUpload{
		Filename: header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		Content:  content,
	}, nil
}

// limitBody caps the request body before multipart parsing.
func limitBody(c *gin.Context, maxBytes int64) {
	if maxBytes > 0 {
		// Four documents plus form overhead
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 4*maxBytes+1<<20)
	}
}

// sendFile streams a stored object as an attachment.
func sendFile(c *gin.Context, dl *service.FileDownload) {
	defer dl.Body.Close()
	mime := dl.MimeType
	if mime == "" {
		mime = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, dl.Size, mime, dl.Body, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%s", strconv.Quote(dl.Filename)),
	})
}

func uploadError(c *gin.Context, err error) {
	var maxErr *http.MaxBytesError
	if errors.Is(err, errFileTooLarge) || errors.As(err, &maxErr) {
		abortWithError(c, http.StatusRequestEntityTooLarge, errFileTooLarge.Error())
		return
	}
	abortWithError(c, http.StatusBadRequest, "Invalid upload: "+err.Error())
}
