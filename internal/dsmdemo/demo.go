package dsmdemo

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/dreamware/torua-dsm/internal/dsm"
	"github.com/dreamware/torua-dsm/internal/dsmerr"
	"github.com/dreamware/torua-dsm/internal/dsmlog"
)

// Server adapts a *dsm.DSM instance to HTTP, letting an out-of-process
// driver exercise the coherence engine's Application API. One Server is
// created per node process and registered on that node's demonstration
// listener (cmd/manager and cmd/node each bind their own, on a port
// distinct from both the data-plane transport and, for the manager, the
// control-plane registration/allocator endpoints).
type Server struct {
	app *dsm.DSM
	log *dsmlog.Logger
}

// New returns a Server driving app, logging through log.
func New(app *dsm.DSM, log *dsmlog.Logger) *Server {
	return &Server{app: app, log: log}
}

// Register wires every demonstration endpoint onto mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/demo/alloc", s.handleAlloc)
	mux.HandleFunc("/demo/free", s.handleFree)
	mux.HandleFunc("/demo/write", s.handleWrite)
	mux.HandleFunc("/demo/read", s.handleRead)
	mux.HandleFunc("/demo/barrier", s.handleBarrier)
	mux.HandleFunc("/demo/lock", s.handleLock)
	mux.HandleFunc("/demo/unlock", s.handleUnlock)
	mux.HandleFunc("/demo/stats", s.handleStats)
}

type allocRequest struct {
	Bytes int `json:"bytes"`
}

type addrResponse struct {
	Base     uint64 `json:"base"`
	NumPages uint64 `json:"num_pages"`
}

// handleAlloc services POST /demo/alloc, collectively reserving bytes
// worth of pages (spec §6 alloc) and returning the resulting Addr so a
// driver can address individual pages in later write/read calls.
func (s *Server) handleAlloc(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req allocRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	addr, err := s.app.Alloc(r.Context(), req.Bytes)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, addrResponse{Base: addr.Base, NumPages: addr.NumPages})
}

// handleFree services POST /demo/free, the collective release from spec
// §6's free(addr).
func (s *Server) handleFree(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req addrResponse
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.app.Free(r.Context(), dsm.Addr{Base: req.Base, NumPages: req.NumPages}); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type writeRequest struct {
	Base     uint64 `json:"base"`
	NumPages uint64 `json:"num_pages"`
	Page     uint64 `json:"page"`
	Data     string `json:"data"` // base64
}

// handleWrite services POST /demo/write, driving dsm.Store and so the
// write-fault path of spec §4.3.
func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		http.Error(w, "bad base64 data: "+err.Error(), http.StatusBadRequest)
		return
	}
	a := dsm.Addr{Base: req.Base, NumPages: req.NumPages}
	if err := s.app.Store(r.Context(), a, req.Page, data); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type readResponse struct {
	Data string `json:"data"`
}

// handleRead services GET /demo/read, driving dsm.Load and so the
// read-fault path of spec §4.3.
func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	base, err1 := parseUint(q.Get("base"))
	numPages, err2 := parseUint(q.Get("num_pages"))
	page, err3 := parseUint(q.Get("page"))
	if err1 != nil || err2 != nil || err3 != nil {
		http.Error(w, "bad request: base/num_pages/page must be integers", http.StatusBadRequest)
		return
	}
	a := dsm.Addr{Base: base, NumPages: numPages}
	data, err := s.app.Load(r.Context(), a, page)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, readResponse{Data: base64.StdEncoding.EncodeToString(data)})
}

// handleBarrier services POST /demo/barrier, the collective
// release-consistency synchronization point of spec §4.5.
func (s *Server) handleBarrier(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.app.Barrier(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type lockRequest struct {
	ID uint32 `json:"id"`
}

// handleLock services POST /demo/lock, blocking until the named lock is
// granted (spec §4.5).
func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req lockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.app.LockAcquire(r.Context(), req.ID); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUnlock services POST /demo/unlock.
func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req lockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.app.LockRelease(r.Context(), req.ID); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStats services GET /demo/stats, exposing spec §6's observable
// counters for a driver (or a human) to inspect without a pprof client.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.app.Stats())
}

// writeErr maps a dsmerr.Kind onto the HTTP status a driver should react
// to: a Shutdown is a 503 worth retrying elsewhere, a NotDSM, Alloc or
// Config error is the caller's mistake (400), anything else indicates the
// coherence engine itself failed and is a 500.
func writeErr(w http.ResponseWriter, err error) {
	var derr *dsmerr.Error
	if errors.As(err, &derr) {
		switch derr.Kind {
		case dsmerr.KindShutdown:
			http.Error(w, derr.Error(), http.StatusServiceUnavailable)
			return
		case dsmerr.KindNotDSM, dsmerr.KindAlloc, dsmerr.KindConfig:
			http.Error(w, derr.Error(), http.StatusBadRequest)
			return
		}
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseUint(s string) (uint64, error) {
	if s == "" {
		return 0, errNoValue
	}
	return strconv.ParseUint(s, 10, 64)
}

var errNoValue = errors.New("missing value")
