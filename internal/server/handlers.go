package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/koustreak/pgtable/internal/errs"
)

const statusError = "error"

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

type TableResponse struct {
	Name       string   `json:"name"`
	Columns    []string `json:"columns"`
	PrimaryKey string   `json:"primary_key,omitempty"`
}

type CountResponse struct {
	Count int64 `json:"count"`
}

type GraphResponse struct {
	Root any              `json:"root"`
	Rows []map[string]any `json:"rows"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTable(w http.ResponseWriter, r *http.Request) {
	s.writeJSONResponse(w, http.StatusOK, TableResponse{
		Name:       s.rows.Name(),
		Columns:    s.rows.Columns(),
		PrimaryKey: s.rows.PrimaryKey(),
	})
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	n, err := s.rows.RowCount(r.Context())
	if err != nil {
		s.handleError(w, err, "Failed to count rows")
		return
	}
	s.writeJSONResponse(w, http.StatusOK, CountResponse{Count: n})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if s.rows.PrimaryKey() == "" {
		s.writeErrorResponse(w, http.StatusNotImplemented, "table has no primary key", "")
		return
	}
	rec, err := s.rows.Get(r.Context(), parseKey(chi.URLParam(r, "pk")))
	if err != nil {
		s.handleError(w, err, "Failed to get row")
		return
	}
	s.writeJSONResponse(w, http.StatusOK, rec)
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	if s.rows.PrimaryKey() == "" {
		s.writeErrorResponse(w, http.StatusNotImplemented, "table has no primary key", "")
		return
	}
	root := parseKey(chi.URLParam(r, "pk"))
	rs, err := s.rows.Graph(r.Context(), root)
	if err != nil {
		s.handleError(w, err, "Failed to walk graph")
		return
	}
	if len(rs.Rows) == 0 {
		s.writeErrorResponse(w, http.StatusNotFound, "no row with that key", "")
		return
	}
	s.writeJSONResponse(w, http.StatusOK, GraphResponse{Root: root, Rows: s.rows.Records(rs)})
}

// parseKey treats path keys that parse as integers as integers.
func parseKey(raw string) any {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	return raw
}

func statusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.ErrKindNotFound:
		return http.StatusNotFound
	case errs.ErrKindInvalidInput:
		return http.StatusBadRequest
	case errs.ErrKindPermissionDenied:
		return http.StatusForbidden
	case errs.ErrKindAlreadyExists, errs.ErrKindIntegrity:
		return http.StatusConflict
	case errs.ErrKindTimeout:
		return http.StatusGatewayTimeout
	case errs.ErrKindConnectionFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleError(w http.ResponseWriter, err error, defaultMessage string) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.log.ErrorWith(defaultMessage, err, nil)
	}
	s.writeErrorResponse(w, code, defaultMessage, err.Error())
}

func (s *Server) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("Failed to encode JSON response: %v", err)
	}
}

func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, message, error string) {
	s.writeJSONResponse(w, statusCode, ErrorResponse{
		Error:   error,
		Message: message,
		Status:  statusError,
	})
}
