package web

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/JonMunkholm/shopcsv/internal/ingest"
	"github.com/JonMunkholm/shopcsv/internal/logging"
)

const (
	// multipartOverhead is allowed on top of the file size limit for the
	// multipart envelope and the other form fields.
	multipartOverhead = 1 << 20

	// maxFormMemory is held in memory before file parts spill to disk.
	maxFormMemory = 32 << 20
)

// handleUploadProducts imports a product CSV. Either every row is created
// or, on the first invalid row, none is.
func (s *Server) handleUploadProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Upload.Timeout)
	defer cancel()

	if err := s.limiter.Acquire(ctx); err != nil {
		s.metrics.ObserveProducts(nil, err)
		s.respondError(w, r, err)
		return
	}
	defer s.limiter.Release()

	file, encoding, err := s.openUpload(w, r)
	if err != nil {
		s.metrics.ObserveProducts(nil, err)
		s.respondError(w, r, err)
		return
	}
	defer file.Close()

	res, err := s.importer.ImportProducts(ctx, file, encoding)
	s.metrics.ObserveProducts(res, err)
	if err != nil {
		s.respondImportError(w, r, err, res.Failure, nil)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// handleUploadOrders imports an order CSV row by row. When a row fails the
// response still reports the orders created before it.
func (s *Server) handleUploadOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Upload.Timeout)
	defer cancel()

	if err := s.limiter.Acquire(ctx); err != nil {
		s.metrics.ObserveOrders(nil, err)
		s.respondError(w, r, err)
		return
	}
	defer s.limiter.Release()

	file, encoding, err := s.openUpload(w, r)
	if err != nil {
		s.metrics.ObserveOrders(nil, err)
		s.respondError(w, r, err)
		return
	}
	defer file.Close()

	res, err := s.importer.ImportOrders(ctx, file, encoding)
	s.metrics.ObserveOrders(res, err)
	if err != nil {
		s.respondImportError(w, r, err, res.Failure, res)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// openUpload extracts the "file" part of a multipart request and the text
// encoding it was declared in.
func (s *Server) openUpload(w http.ResponseWriter, r *http.Request) (multipart.File, string, error) {
	limit := s.cfg.Upload.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)

	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, "", fmt.Errorf("%w: upload exceeds %d bytes", ingest.ErrSizeLimitExceeded, limit)
		}
		return nil, "", fmt.Errorf("%w: %v", errNoFile, err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", errNoFile
	}
	if header.Size > limit {
		file.Close()
		return nil, "", fmt.Errorf("%w: %d bytes, limit %d", ingest.ErrSizeLimitExceeded, header.Size, limit)
	}

	encoding := s.uploadEncoding(r, header)
	logging.FromContext(r.Context()).Info("upload received",
		"path", r.URL.Path,
		"file", header.Filename,
		"size", header.Size,
		"encoding", encoding,
	)
	return file, encoding, nil
}

// uploadEncoding picks the encoding from the "encoding" form field, then the
// charset of the file part, then the charset of the request, then the
// configured default.
func (s *Server) uploadEncoding(r *http.Request, header *multipart.FileHeader) string {
	if enc := strings.TrimSpace(r.FormValue("encoding")); enc != "" {
		return enc
	}
	if cs := charset(header.Header.Get("Content-Type")); cs != "" {
		return cs
	}
	if cs := charset(r.Header.Get("Content-Type")); cs != "" {
		return cs
	}
	return s.cfg.Upload.DefaultEncoding
}

func charset(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return params["charset"]
}
