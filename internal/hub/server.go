package hub

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/emuforge/emuforge/internal/artifact"
	"github.com/emuforge/emuforge/internal/fingerprint"
	"github.com/emuforge/emuforge/internal/ratelimit"
)

// maxUploadBytes bounds a pushed artifact. Weights for the model
// families in use are far below this.
const maxUploadBytes = 256 << 20

// Push rate per client. Uploads cost a full archive read plus a digest
// derivation, so writes are limited where reads are not.
const (
	pushRatePerSec = 2.0
	pushBurst      = 10
)

// DigestHeader optionally carries the digest a client expects the
// server to derive from pushed bytes.
const DigestHeader = "X-Emuforge-Digest"

// Server exposes a Store over HTTP.
type Server struct {
	store       *Store
	logger      *slog.Logger
	router      *mux.Router
	pushLimiter *ratelimit.Limiter
}

// NewServer wires the hub routes onto a fresh router.
func NewServer(store *Store, logger *slog.Logger) *Server {
	s := &Server{
		store:       store,
		logger:      logger,
		router:      mux.NewRouter(),
		pushLimiter: ratelimit.NewLimiter(pushRatePerSec, pushBurst),
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/emulators", s.handleList).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/emulators/{name}", s.handleResolve).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/artifacts/{digest}", s.handleFetch).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/artifacts", s.handlePush).Methods(http.MethodPost)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.List(r.Context())
	if err != nil {
		s.serverError(w, "list emulators", err)
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	entry, err := s.store.Resolve(r.Context(), name)
	if err != nil {
		s.serverError(w, "resolve emulator", err)
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no emulator named %q", name))
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	digest := fingerprint.Digest(mux.Vars(r)["digest"])
	a, err := s.store.GetByDigest(r.Context(), digest)
	if err != nil {
		s.serverError(w, "fetch artifact", err)
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no artifact %s", digest.Short()))
		return
	}
	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set(DigestHeader, string(a.Digest))
	w.WriteHeader(http.StatusOK)
	w.Write(a.Bytes())
}

// handlePush accepts archive bytes plus a ?name= to index them under.
// The digest is re-derived server-side; a client-supplied digest
// header only has to match, it is never trusted as the identity.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	if !s.pushLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, "push rate limit exceeded, try again shortly")
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "missing name parameter")
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(data) > maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "artifact too large")
		return
	}

	a, err := artifact.Parse(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid artifact: %v", err))
		return
	}
	if want := r.Header.Get(DigestHeader); want != "" && want != string(a.Digest) {
		writeError(w, http.StatusConflict,
			fmt.Sprintf("digest mismatch: body hashes to %s, header says %s", a.Digest.Short(), want))
		return
	}

	if err := s.store.Put(r.Context(), name, a); err != nil {
		s.serverError(w, "store artifact", err)
		return
	}
	if s.logger != nil {
		s.logger.Info("artifact pushed", "name", name, "digest", a.Digest.Short())
	}
	writeJSON(w, http.StatusCreated, Entry{
		Name:        name,
		Digest:      a.Digest,
		SpecFP:      a.Report.SpecFP,
		MaxRelError: a.Report.MaxRelError,
	})
}

// clientKey buckets requests by client host. Ports churn per
// connection and would defeat the limiter.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) serverError(w http.ResponseWriter, op string, err error) {
	if s.logger != nil {
		s.logger.Error("hub request failed", "op", op, "error", err)
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
