package contentserver

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"lessonsync/internal/contentapi"
	"lessonsync/internal/logging"
	"lessonsync/internal/snapshot"
)

// Error messages returned to clients.
const (
	errMissingPath    = "parâmetro path obrigatório"
	errNotFound       = "documento não encontrado"
	errUnauthorized   = "token de professor inválido"
	errBadBody        = "corpo da requisição inválido"
	errTooLarge       = "conteúdo excede o tamanho máximo"
	errMissingContent = "campo content obrigatório"
	errStorage        = "falha ao gravar o documento"
	errRead           = "falha ao ler o documento"
	errRateLimited    = "muitas gravações em sequência, tente novamente em instantes"
	errLockedOut      = "muitas tentativas com token inválido, tente novamente mais tarde"
)

type document struct {
	Path    string `json:"path"`
	Content any    `json:"content"`
}

type saveRequest struct {
	Path    string          `json:"path"`
	Content json.RawMessage `json:"content"`
}

type saveResponse struct {
	Path    string `json:"path"`
	Content any    `json:"content"`
	SavedAt string `json:"savedAt"`
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(contentapi.HeaderRequestID)
		if id == "" {
			id = logging.NewRequestID()
		}
		w.Header().Set(contentapi.HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(logging.ContextWithRequestID(r.Context(), id)))
	})
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		log := s.logger.WithContext(r.Context())
		client := clientKey(r)

		if s.lockout != nil {
			if left := s.lockout.Locked(client); left > 0 {
				s.metrics.Rejected.Inc()
				w.Header().Set("Retry-After", strconv.Itoa(int(left.Round(time.Second)/time.Second)))
				writeError(w, http.StatusTooManyRequests, errLockedOut)
				return
			}
		}

		got := r.Header.Get(contentapi.HeaderToken)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			s.metrics.Rejected.Inc()
			if s.lockout != nil && s.lockout.Failure(client) {
				log.Warn("client locked out", "client", client)
			}
			log.Warn("rejected request", "reason", "token", "method", r.Method)
			writeError(w, http.StatusUnauthorized, errUnauthorized)
			return
		}
		if s.lockout != nil {
			s.lockout.Success(client)
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey identifies the caller for rate limiting.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleGet(w, r)
	case http.MethodPut:
		s.handlePut(w, r)
	default:
		w.Header().Set("Allow", "GET, PUT")
		writeError(w, http.StatusMethodNotAllowed, fmt.Sprintf("método %s não suportado", r.Method))
	}
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	log := s.logger.WithContext(r.Context())
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, errMissingPath)
		return
	}

	content, err := s.Read(path)
	switch {
	case errors.Is(err, ErrInvalidPath):
		s.metrics.Rejected.Inc()
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, os.ErrNotExist):
		s.metrics.ReadMisses.Inc()
		writeError(w, http.StatusNotFound, errNotFound)
		return
	case err != nil:
		log.Error("read document", "path", path, "error", err)
		writeError(w, http.StatusInternalServerError, errRead)
		return
	}

	s.metrics.Reads.Inc()
	log.Debug("document served", "path", path)
	writeJSON(w, http.StatusOK, document{Path: path, Content: content})
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	log := s.logger.WithContext(r.Context())

	if s.saves != nil && !s.saves.Allow(clientKey(r)) {
		s.metrics.Rejected.Inc()
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, errRateLimited)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, errTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, errBadBody)
		return
	}

	var req saveRequest
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errBadBody)
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, errMissingPath)
		return
	}
	if len(req.Content) == 0 || string(req.Content) == "null" {
		writeError(w, http.StatusBadRequest, errMissingContent)
		return
	}
	content, err := snapshot.Decode(req.Content)
	if err != nil {
		writeError(w, http.StatusBadRequest, errBadBody)
		return
	}

	start := time.Now()
	savedAt, err := s.Write(req.Path, content)
	switch {
	case errors.Is(err, ErrInvalidPath), errors.Is(err, ErrInvalidContent):
		s.metrics.Rejected.Inc()
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		s.metrics.SaveFailures.Inc()
		log.Error("write document", "path", req.Path, "error", err)
		writeError(w, http.StatusInternalServerError, errStorage)
		return
	}

	s.metrics.ObserveSave(time.Since(start), len(req.Content))
	log.Info("document saved", "path", req.Path, "bytes", len(req.Content))
	writeJSON(w, http.StatusOK, saveResponse{
		Path:    req.Path,
		Content: content,
		SavedAt: savedAt.UTC().Format(time.RFC3339Nano),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
