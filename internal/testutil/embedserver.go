package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"unicode"
)

// EmbedServer speaks the OpenAI /embeddings protocol and returns RuneVector
// embeddings, so texts sharing characters end up close to each other.
type EmbedServer struct {
	*httptest.Server
	Dim int

	calls atomic.Int64

	mu          sync.Mutex
	failStatus  int
	failTimes   int
	retryAfter  string
	dimOverride int
	inputs      [][]string
}

func NewEmbedServer(t testing.TB, dim int) *EmbedServer {
	t.Helper()
	s := &EmbedServer{Dim: dim}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// FailWith makes the next times requests answer with status. times < 0 fails forever.
func (s *EmbedServer) FailWith(status, times int, retryAfter string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStatus = status
	s.failTimes = times
	s.retryAfter = retryAfter
}

// ReturnDim makes the server answer with vectors of dim instead of s.Dim.
func (s *EmbedServer) ReturnDim(dim int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dimOverride = dim
}

func (s *EmbedServer) Calls() int {
	return int(s.calls.Load())
}

// Inputs returns the input lists of every successful request, in arrival order.
func (s *EmbedServer) Inputs() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.inputs...)
}

func (s *EmbedServer) handle(w http.ResponseWriter, r *http.Request) {
	s.calls.Add(1)
	if r.URL.Path != "/embeddings" || r.Header.Get("Authorization") == "" {
		http.Error(w, `{"error":{"message":"bad request"}}`, http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	if s.failTimes != 0 {
		if s.failTimes > 0 {
			s.failTimes--
		}
		status, retryAfter := s.failStatus, s.retryAfter
		s.mu.Unlock()
		if retryAfter != "" {
			w.Header().Set("Retry-After", retryAfter)
		}
		http.Error(w, `{"error":{"message":"injected failure"}}`, status)
		return
	}
	dim := s.Dim
	if s.dimOverride > 0 {
		dim = s.dimOverride
	}
	s.mu.Unlock()

	var req struct {
		Model string   `json:"model"`
		Input []string `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.inputs = append(s.inputs, req.Input)
	s.mu.Unlock()

	type item struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	}
	data := make([]item, 0, len(req.Input))
	// reversed on purpose: clients must reorder by index
	for i := len(req.Input) - 1; i >= 0; i-- {
		data = append(data, item{Embedding: RuneVector(req.Input[i], dim), Index: i})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
}

// RuneVector counts the characters of text into dim buckets by code point.
func RuneVector(text string, dim int) []float32 {
	v := make([]float32, dim)
	for _, r := range text {
		if unicode.IsSpace(r) || unicode.IsPunct(r) {
			continue
		}
		v[int(r)%dim]++
	}
	return v
}
