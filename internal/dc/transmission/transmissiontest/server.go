// Package transmissiontest provides an in-process Transmission daemon speaking the
// subset of the RPC protocol the client uses.
package transmissiontest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/mediamanager/internal/metainfo"
)

const sessionID = "transmissiontest-session"

// Daemon status codes.
const (
	StatusStopped = iota
	StatusCheckWait
	StatusCheck
	StatusDownloadWait
	StatusDownload
	StatusSeedWait
	StatusSeed
)

// Torrent is the daemon-side view of one torrent.
type Torrent struct {
	ID          int64   `json:"id"`
	HashString  string  `json:"hashString"`
	Name        string  `json:"name"`
	DownloadDir string  `json:"downloadDir"`
	Status      int     `json:"status"`
	Error       int     `json:"error"`
	ErrorString string  `json:"errorString"`
	PercentDone float64 `json:"percentDone"`
}

// Call records one RPC invocation.
type Call struct {
	Method          string
	IDs             []string
	DeleteLocalData bool
}

type request struct {
	Method    string `json:"method"`
	Arguments struct {
		Fields          []string `json:"fields"`
		IDs             []string `json:"ids"`
		FileName        string   `json:"filename"`
		MetaInfo        string   `json:"metainfo"`
		DownloadDir     string   `json:"download-dir"`
		Paused          bool     `json:"paused"`
		DeleteLocalData bool     `json:"delete-local-data"`
	} `json:"arguments"`
}

type response struct {
	Result    string      `json:"result"`
	Arguments interface{} `json:"arguments,omitempty"`
}

// Server is a fake daemon. Torrents are keyed by lowercase hash.
type Server struct {
	*httptest.Server

	username string
	password string

	mu       sync.Mutex
	nextID   int64
	torrents map[string]*Torrent
	calls    []Call

	session     string
	rotations   int
	conflicts   int
	latency     time.Duration
	inFlight    int
	maxInFlight int
}

// NewServer starts a daemon requiring the given credentials. Empty credentials
// disable authentication.
func NewServer(username, password string) *Server {
	s := &Server{
		username: username,
		password: password,
		torrents: make(map[string]*Torrent),
		session:  sessionID,
	}

	s.Server = httptest.NewServer(s.routes())

	return s
}

// Host and Port split the server address for client configuration.
func (s *Server) Host() string {
	u, _ := url.Parse(s.URL)

	return u.Hostname()
}

func (s *Server) Port() int {
	u, _ := url.Parse(s.URL)
	p, _ := strconv.Atoi(u.Port())

	return p
}

// Set updates the state of a known torrent.
func (s *Server) Set(hash string, status, errCode int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.torrents[strings.ToLower(hash)]; ok {
		t.Status = status
		t.Error = errCode

		if errCode != 0 {
			t.ErrorString = fmt.Sprintf("error %d", errCode)
		}
	}
}

// Torrent returns a copy of the torrent stored under hash.
func (s *Server) Torrent(hash string) (Torrent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.torrents[strings.ToLower(hash)]
	if !ok {
		return Torrent{}, false
	}

	return *t, true
}

// RotateSession invalidates the current session id, as the daemon does on restart.
// The next request from any client is answered with 409.
func (s *Server) RotateSession() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rotations++
	s.session = fmt.Sprintf("%s-%d", sessionID, s.rotations)
}

// SetLatency delays every RPC by d, widening the window in which overlapping
// requests from one client would be observed.
func (s *Server) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latency = d
}

// Conflicts returns how many requests were answered with 409.
func (s *Server) Conflicts() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.conflicts
}

// MaxInFlight returns the highest number of requests handled at the same time.
func (s *Server) MaxInFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.maxInFlight
}

// Calls returns every RPC received so far, excluding session negotiation.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Call, len(s.calls))
	copy(out, s.calls)

	return out
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.basicAuth)

	r.Post("/transmission/rpc", s.handleRPC)

	return r
}

func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.username == "" && s.password == "" {
			next.ServeHTTP(w, r)

			return
		}

		username, password, ok := r.BasicAuth()
		if !ok || username != s.username || password != s.password {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.inFlight++
	s.maxInFlight = max(s.maxInFlight, s.inFlight)
	session, latency := s.session, s.latency
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	if latency > 0 {
		time.Sleep(latency)
	}

	if r.Header.Get("X-Transmission-Session-Id") != session {
		s.mu.Lock()
		s.conflicts++
		s.mu.Unlock()

		w.Header().Set("X-Transmission-Session-Id", session)
		w.WriteHeader(http.StatusConflict)

		return
	}

	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, Call{
		Method:          req.Method,
		IDs:             req.Arguments.IDs,
		DeleteLocalData: req.Arguments.DeleteLocalData,
	})

	var resp response

	switch req.Method {
	case "session-stats":
		resp = response{Result: "success", Arguments: map[string]int{"torrentCount": len(s.torrents)}}
	case "session-get":
		resp = response{Result: "success", Arguments: map[string]string{"version": "4.0.5", "rpc-version": "17"}}
	case "torrent-add":
		resp = s.add(&req)
	case "torrent-get":
		resp = response{Result: "success", Arguments: map[string][]Torrent{"torrents": s.lookup(req.Arguments.IDs)}}
	case "torrent-remove":
		for _, id := range req.Arguments.IDs {
			delete(s.torrents, strings.ToLower(id))
		}

		resp = response{Result: "success"}
	case "torrent-stop", "torrent-start":
		status := StatusStopped
		if req.Method == "torrent-start" {
			status = StatusDownload
		}

		for _, t := range s.lookup(req.Arguments.IDs) {
			s.torrents[t.HashString].Status = status
		}

		resp = response{Result: "success"}
	default:
		resp = response{Result: "method name not recognized"}
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

// add must be called with s.mu held.
func (s *Server) add(req *request) response {
	var hash, title string

	switch {
	case req.Arguments.MetaInfo != "":
		raw, err := base64.StdEncoding.DecodeString(req.Arguments.MetaInfo)
		if err != nil {
			return response{Result: "invalid or corrupt torrent file"}
		}

		info, err := metainfo.Parse(raw)
		if err != nil {
			return response{Result: "invalid or corrupt torrent file"}
		}

		hash, title = info.InfoHash, info.Name
	case req.Arguments.FileName != "":
		m, err := metainfo.ParseMagnet(req.Arguments.FileName)
		if err != nil {
			return response{Result: "invalid or corrupt torrent file"}
		}

		hash, title = m.InfoHash, m.Name
	default:
		return response{Result: "no filename or metainfo specified"}
	}

	if existing, ok := s.torrents[hash]; ok {
		return response{Result: "success", Arguments: map[string]Torrent{"torrent-duplicate": *existing}}
	}

	s.nextID++

	status := StatusDownload
	if req.Arguments.Paused {
		status = StatusStopped
	}

	t := &Torrent{
		ID:          s.nextID,
		HashString:  hash,
		Name:        title,
		DownloadDir: req.Arguments.DownloadDir,
		Status:      status,
	}
	s.torrents[hash] = t

	return response{Result: "success", Arguments: map[string]Torrent{"torrent-added": *t}}
}

// lookup must be called with s.mu held. An empty id list selects every torrent.
func (s *Server) lookup(ids []string) []Torrent {
	out := []Torrent{}

	if len(ids) == 0 {
		for _, t := range s.torrents {
			out = append(out, *t)
		}

		return out
	}

	for _, id := range ids {
		if t, ok := s.torrents[strings.ToLower(id)]; ok {
			out = append(out, *t)
		}
	}

	return out
}
