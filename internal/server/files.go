package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tomasbasham/planroom/internal/index"
	"github.com/tomasbasham/planroom/internal/plan"
	"github.com/tomasbasham/planroom/internal/storage"
)

// uploadURLRequest is the JSON body for POST /api/files/upload-url.
type uploadURLRequest struct {
	Folder      string `json:"folder"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
}

// signedURLResponse is returned by both URL-issuing endpoints. Key and
// ContentType are omitted for downloads.
type signedURLResponse struct {
	URL         string    `json:"url"`
	Key         string    `json:"key,omitempty"`
	ContentType string    `json:"contentType,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

func (s *Server) handleUploadURL(w http.ResponseWriter, r *http.Request) {
	var req uploadURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Filename == "" {
		writeError(w, http.StatusBadRequest, "filename is required")
		return
	}

	key, err := storage.ObjectKey(req.Folder, req.Filename)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = DefaultContentType
	}
	if _, _, err := mime.ParseMediaType(contentType); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid contentType %q: %s", contentType, err))
		return
	}

	signed, err := s.signer.SignUpload(r.Context(), key, contentType, s.signTTL)
	if err != nil {
		s.logger.Error("failed to sign upload URL", zap.String("key", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to sign upload URL: "+err.Error())
		return
	}

	s.logger.Info("issued upload URL",
		zap.String("key", key),
		zap.String("content_type", contentType),
		zap.String("email", callerFrom(r.Context())),
	)
	writeJSON(w, http.StatusOK, signedURLResponse{
		URL:         signed.URL,
		Key:         signed.Key,
		ContentType: signed.ContentType,
		ExpiresAt:   signed.ExpiresAt,
	})
}

// registerResponse is returned from POST /api/files/register.
type registerResponse struct {
	OK    bool `json:"ok"`
	Count int  `json:"count"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var rec plan.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	rec.Normalize()
	if err := rec.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	doc, err := s.index.Upsert(r.Context(), rec)
	switch {
	case errors.Is(err, plan.ErrInvalidRecord):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, index.ErrStorageRead):
		s.logger.Error("index read failed during register", zap.String("id", rec.ID), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "registration not applied, index could not be read: "+err.Error())
		return
	case err != nil:
		s.logger.Error("index write failed during register", zap.String("id", rec.ID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "registration not applied, index could not be written: "+err.Error())
		return
	}

	s.logger.Info("registered plan set",
		zap.String("id", rec.ID),
		zap.String("storage_key", rec.StorageKey),
		zap.String("email", callerFrom(r.Context())),
	)
	writeJSON(w, http.StatusOK, registerResponse{OK: true, Count: len(doc)})
}

// listResponse is returned from GET /api/files/list.
type listResponse struct {
	Items     []plan.Record `json:"items"`
	Districts []string      `json:"districts"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	order, err := plan.ParseSortOrder(q.Get("sort"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := s.index.List(r.Context())
	if err != nil {
		// The document repository never fails here; a keyed store can.
		s.logger.Error("index list failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "index unavailable: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, listResponse{
		Items: plan.Filter(records, plan.Query{
			Text:     q.Get("q"),
			District: q.Get("district"),
			Sort:     order,
		}),
		Districts: plan.Districts(records),
	})
}

// downloadURLRequest is the JSON body for POST /api/files/download-url.
type downloadURLRequest struct {
	Key string `json:"key"`
}

func (s *Server) handleDownloadURL(w http.ResponseWriter, r *http.Request) {
	var req downloadURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}
	if err := storage.ValidateKey(req.Key); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	signed, err := s.signer.SignDownload(r.Context(), req.Key, s.signTTL)
	if err != nil {
		s.logger.Error("failed to sign download URL", zap.String("key", req.Key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to sign download URL: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, signedURLResponse{URL: signed.URL, ExpiresAt: signed.ExpiresAt})
}

// sessionResponse is returned from POST /api/session.
type sessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	email := r.Header.Get(HeaderEmail)
	if err := s.gate.Check(email, r.Header.Get(HeaderSecret)); err != nil {
		s.logger.Info("session denied", zap.String("email", email), zap.Error(err))
		writeError(w, http.StatusForbidden, err.Error())
		return
	}

	token, expiresAt, err := s.tokens.Issue(email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Token: token, ExpiresAt: expiresAt})
}

func (s *Server) handleDebug(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"ok": true}
	if s.debugInfo != nil {
		body["env"] = s.debugInfo
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
