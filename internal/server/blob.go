package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/tomasbasham/planroom/internal/storage"
)

// handleBlobPut stores the body of a signed PUT. The Content-Type header must
// equal the one the URL was signed for.
func (s *Server) handleBlobPut(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	contentType := r.Header.Get("Content-Type")

	if !s.verifyBlobRequest(w, r, key, contentType) {
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds "+strconv.FormatInt(tooLarge.Limit, 10)+" bytes")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read upload: "+err.Error())
		return
	}

	if err := s.blobs.Put(r.Context(), key, data, contentType); err != nil {
		s.logger.Error("blob upload failed", zap.String("key", key), zap.Error(err))
		writeError(w, http.StatusBadGateway, "upload failed: "+err.Error())
		return
	}

	s.logger.Info("blob stored", zap.String("key", key), zap.Int("bytes", len(data)))
	w.WriteHeader(http.StatusOK)
}

// handleBlobGet serves the object behind a signed GET. Backends served this
// way do not all keep a content type, so it is sniffed from the payload.
func (s *Server) handleBlobGet(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	if !s.verifyBlobRequest(w, r, key, "") {
		return
	}

	data, err := s.blobs.Get(r.Context(), key)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "object not found")
		return
	}
	if err != nil {
		s.logger.Error("blob download failed", zap.String("key", key), zap.Error(err))
		writeError(w, http.StatusBadGateway, "download failed: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", mimetype.Detect(data).String())
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) verifyBlobRequest(w http.ResponseWriter, r *http.Request, key, contentType string) bool {
	if err := storage.ValidateKey(key); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}

	err := s.verifier.Verify(r.Method, key, contentType, r.URL.Query())
	if err == nil {
		return true
	}

	msg := "signature does not match"
	switch {
	case errors.Is(err, storage.ErrSignatureExpired):
		msg = "signed URL has expired, request a new one"
	case errors.Is(err, storage.ErrContentTypeMismatch):
		msg = err.Error() + ", request a new URL for this content type"
	}
	s.logger.Info("blob request denied", zap.String("key", key), zap.String("method", r.Method), zap.Error(err))
	writeError(w, http.StatusForbidden, msg)
	return false
}
