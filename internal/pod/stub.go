package pod

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Stub is an in-memory pod. It backs tests and the local `memri pod`
// command with the same wire contract as a real pod, including version
// bumping on sync.
type Stub struct {
	mu    sync.Mutex
	items map[int64]ItemPayload
	edges map[string]EdgePayload
	runs  []RunResponse
}

// NewStub creates an empty in-memory pod.
func NewStub() *Stub {
	return &Stub{
		items: map[int64]ItemPayload{},
		edges: map[string]EdgePayload{},
	}
}

// Seed installs an item directly, bypassing the sync path.
func (s *Stub) Seed(p ItemPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[p.UID] = p
}

// Item returns the stored payload for a uid.
func (s *Stub) Item(uid int64) (ItemPayload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items[uid]
	return p, ok
}

// Handler returns the stub's HTTP surface.
func (s *Stub) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/v2/query", s.handleQuery)
	r.Get("/v2/item/{uid}", s.handleGet)
	r.Post("/v2/sync", s.handleSync)
	r.Post("/v2/run_importer/{uid}", s.handleRun)
	r.Post("/v2/run_indexer/{uid}", s.handleRun)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func (s *Stub) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid query request")
		return
	}
	head, _, _ := strings.Cut(strings.TrimSpace(req.Query), " ")
	head = strings.TrimSuffix(head, "[]")

	s.mu.Lock()
	defer s.mu.Unlock()
	resp := QueryResponse{Items: []ItemPayload{}}
	for _, p := range s.items {
		if head != "" && head != "*" && p.Type != head {
			continue
		}
		resp.Items = append(resp.Items, p)
	}
	if req.WithEdges {
		for _, e := range s.edges {
			resp.Edges = append(resp.Edges, e)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Stub) handleGet(w http.ResponseWriter, r *http.Request) {
	uid, err := strconv.ParseInt(chi.URLParam(r, "uid"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid uid")
		return
	}
	s.mu.Lock()
	p, ok := s.items[uid]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Stub) handleSync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid sync request")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range req.CreateItems {
		p.Version = 1
		s.items[p.UID] = p
	}
	for _, p := range req.UpdateItems {
		if cur, ok := s.items[p.UID]; ok {
			p.Version = cur.Version + 1
		} else {
			p.Version = 1
		}
		s.items[p.UID] = p
	}
	for _, uid := range req.DeleteItems {
		if cur, ok := s.items[uid]; ok {
			cur.Deleted = true
			cur.Version++
			s.items[uid] = cur
		}
	}
	for _, e := range req.CreateEdges {
		e.Version = 1
		s.edges[edgeKey(e)] = e
	}
	for _, e := range req.UpdateEdges {
		if cur, ok := s.edges[edgeKey(e)]; ok {
			e.Version = cur.Version + 1
		} else {
			e.Version = 1
		}
		s.edges[edgeKey(e)] = e
	}
	for _, e := range req.DeleteEdges {
		if cur, ok := s.edges[edgeKey(e)]; ok {
			cur.Deleted = true
			cur.Version++
			s.edges[edgeKey(e)] = cur
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Stub) handleRun(w http.ResponseWriter, r *http.Request) {
	uid, err := strconv.ParseInt(chi.URLParam(r, "uid"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid uid")
		return
	}
	resp := RunResponse{UID: uid, Started: true}
	s.mu.Lock()
	s.runs = append(s.runs, resp)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

// Runs returns every importer/indexer run the stub accepted.
func (s *Stub) Runs() []RunResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RunResponse, len(s.runs))
	copy(out, s.runs)
	return out
}

func edgeKey(e EdgePayload) string {
	return strconv.FormatInt(e.SourceUID, 10) + "|" + strconv.FormatInt(e.TargetUID, 10) + "|" + e.Type
}
