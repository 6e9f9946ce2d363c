package testing

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/desertthunder/vidpub/internal/models"
	"github.com/gorilla/mux"
)

// FakeTeam is the server-side state for one API key.
type FakeTeam struct {
	ID        string
	Connected map[models.Platform]bool
	Accounts  []models.Account
	Posts     []map[string]any
	Media     map[string]int
}

// FakeAPI is an in-process stand-in for the publishing API.
type FakeAPI struct {
	*httptest.Server

	mu    sync.Mutex
	teams map[string]*FakeTeam
	calls []string
	seq   int

	// MediaPolls is how many status checks report "processing" before media turns ready.
	MediaPolls int
	// FailMedia makes every media status check report "failed".
	FailMedia bool
	// FailPosts makes post creation return 500.
	FailPosts bool
}

// NewFakeAPI starts a fake API that accepts the given keys. Team ids are "team-<key>".
func NewFakeAPI(t *testing.T, keys ...string) *FakeAPI {
	t.Helper()

	f := &FakeAPI{teams: make(map[string]*FakeTeam)}
	for _, k := range keys {
		f.teams[k] = &FakeTeam{ID: "team-" + k, Connected: map[models.Platform]bool{}, Media: map[string]int{}}
	}

	r := mux.NewRouter()
	r.HandleFunc("/v1/me", f.handleMe).Methods(http.MethodGet)
	r.HandleFunc("/v1/teams/{team}/connections/{platform}", f.handleConnect).Methods(http.MethodPost)
	r.HandleFunc("/v1/teams/{team}/connections/{platform}", f.handleDisconnect).Methods(http.MethodDelete)
	r.HandleFunc("/v1/teams/{team}/accounts", f.handleAccounts).Methods(http.MethodGet)
	r.HandleFunc("/v1/teams/{team}/media", f.handleUpload).Methods(http.MethodPost)
	r.HandleFunc("/v1/teams/{team}/media/{id}", f.handleMedia).Methods(http.MethodGet)
	r.HandleFunc("/v1/teams/{team}/posts", f.handlePost).Methods(http.MethodPost)
	r.Use(f.authorize)

	f.Server = httptest.NewServer(r)
	t.Cleanup(f.Close)
	return f
}

// Team returns the state behind key.
func (f *FakeAPI) Team(key string) *FakeTeam {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.teams[key]
}

// Link simulates a finished OAuth flow: the account is connected to key's team.
func (f *FakeAPI) Link(key string, account models.Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	team := f.teams[key]
	team.Connected[account.Platform] = true
	team.Accounts = append(team.Accounts, account)
}

// Calls returns how many requests matched method and a path containing fragment.
func (f *FakeAPI) Calls(method, fragment string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		m, p, _ := strings.Cut(c, " ")
		if m == method && strings.Contains(p, fragment) {
			n++
		}
	}
	return n
}

func (f *FakeAPI) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

		f.mu.Lock()
		f.calls = append(f.calls, r.Method+" "+r.URL.Path)
		team, ok := f.teams[key]
		f.mu.Unlock()

		if !ok {
			writeFakeError(w, http.StatusUnauthorized, "unauthorized", "unknown api key")
			return
		}
		if id := mux.Vars(r)["team"]; id != "" && id != team.ID {
			writeFakeError(w, http.StatusForbidden, "forbidden", "wrong team")
			return
		}
		next.ServeHTTP(w, r.WithContext(withTeam(r.Context(), team)))
	})
}

func (f *FakeAPI) handleMe(w http.ResponseWriter, r *http.Request) {
	writeFakeJSON(w, http.StatusOK, map[string]string{"team_id": teamFrom(r).ID})
}

func (f *FakeAPI) handleConnect(w http.ResponseWriter, r *http.Request) {
	team := teamFrom(r)
	platform := models.Platform(mux.Vars(r)["platform"])

	var body struct {
		RedirectURL string `json:"redirect_url"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	connected := team.Connected[platform]
	f.mu.Unlock()

	if connected {
		writeFakeError(w, http.StatusConflict, "already_connected", string(platform)+" is already connected")
		return
	}
	writeFakeJSON(w, http.StatusOK, map[string]string{
		"url": fmt.Sprintf("https://connect.test/%s/%s?redirect=%s", team.ID, platform, body.RedirectURL),
	})
}

func (f *FakeAPI) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	team := teamFrom(r)
	platform := models.Platform(mux.Vars(r)["platform"])

	f.mu.Lock()
	team.Connected[platform] = false
	kept := team.Accounts[:0]
	for _, a := range team.Accounts {
		if a.Platform != platform {
			kept = append(kept, a)
		}
	}
	team.Accounts = kept
	f.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (f *FakeAPI) handleAccounts(w http.ResponseWriter, r *http.Request) {
	team := teamFrom(r)
	f.mu.Lock()
	accounts := append([]models.Account{}, team.Accounts...)
	f.mu.Unlock()
	writeFakeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

func (f *FakeAPI) handleUpload(w http.ResponseWriter, r *http.Request) {
	team := teamFrom(r)

	file, _, err := r.FormFile("file")
	if err != nil {
		writeFakeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	defer file.Close()
	if _, err := io.Copy(io.Discard, file); err != nil {
		writeFakeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	f.mu.Lock()
	f.seq++
	id := fmt.Sprintf("media-%d", f.seq)
	team.Media[id] = f.MediaPolls
	status := "processing"
	if f.MediaPolls == 0 && !f.FailMedia {
		status = "ready"
	}
	f.mu.Unlock()

	writeFakeJSON(w, http.StatusCreated, map[string]string{"id": id, "status": status})
}

func (f *FakeAPI) handleMedia(w http.ResponseWriter, r *http.Request) {
	team := teamFrom(r)
	id := mux.Vars(r)["id"]

	f.mu.Lock()
	remaining, ok := team.Media[id]
	status := "ready"
	switch {
	case f.FailMedia:
		status = "failed"
	case remaining > 0:
		status = "processing"
		team.Media[id] = remaining - 1
	}
	f.mu.Unlock()

	if !ok {
		writeFakeError(w, http.StatusNotFound, "not_found", "no such media")
		return
	}
	writeFakeJSON(w, http.StatusOK, map[string]string{"id": id, "status": status, "error": ""})
}

func (f *FakeAPI) handlePost(w http.ResponseWriter, r *http.Request) {
	team := teamFrom(r)

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeFakeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	f.mu.Lock()
	fail := f.FailPosts
	if !fail {
		team.Posts = append(team.Posts, body)
	}
	f.seq++
	id := fmt.Sprintf("post-%d", f.seq)
	f.mu.Unlock()

	if fail {
		writeFakeError(w, http.StatusInternalServerError, "internal", "post failed")
		return
	}
	writeFakeJSON(w, http.StatusCreated, map[string]string{"id": id, "url": "https://social.test/" + id})
}

// PostCount returns how many posts key's team has created.
func (f *FakeAPI) PostCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.teams[key].Posts)
}

// IsConnected reports the server-side connection flag.
func (f *FakeAPI) IsConnected(key string, p models.Platform) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.teams[key].Connected[p]
}

func writeFakeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeFakeError(w http.ResponseWriter, status int, code, message string) {
	writeFakeJSON(w, status, map[string]string{"code": code, "message": message})
}
