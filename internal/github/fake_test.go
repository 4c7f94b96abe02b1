package github

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

type fakeIssue struct {
	Number      int    `json:"number"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	State       string `json:"state"`
	PullRequest *struct {
		URL string `json:"url"`
	} `json:"pull_request,omitempty"`
}

type fakePull struct {
	Number    int    `json:"number"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	State     string `json:"state"`
	Mergeable *bool  `json:"mergeable"`
	Merged    bool   `json:"merged"`
	Head      struct {
		Ref string `json:"ref"`
	} `json:"head"`
	Base struct {
		Ref string `json:"ref"`
	} `json:"base"`
}

// fakeGitHub is an in-memory slice of the GitHub REST API.
type fakeGitHub struct {
	t *testing.T

	mu         sync.Mutex
	issues     []*fakeIssue
	pulls      []*fakePull
	refs       map[string]string            // branch -> sha
	files      map[string]map[string]string // branch -> path -> content
	calls      map[string]int
	failNext   map[string]int // route -> number of 500s to return
	dispatched []string
	dispatchOK bool
}

func newFakeGitHub(t *testing.T) (*fakeGitHub, *httptest.Server) {
	f := &fakeGitHub{
		t:          t,
		refs:       map[string]string{"main": "basesha"},
		files:      map[string]map[string]string{},
		calls:      map[string]int{},
		failNext:   map[string]int{},
		dispatchOK: true,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/{owner}/{repo}", f.handle("get_repo", f.getRepo))
	mux.HandleFunc("GET /repos/{owner}/{repo}/issues", f.handle("list_issues", f.listIssues))
	mux.HandleFunc("POST /repos/{owner}/{repo}/issues", f.handle("create_issue", f.createIssue))
	mux.HandleFunc("GET /repos/{owner}/{repo}/git/ref/{ref...}", f.handle("get_ref", f.getRef))
	mux.HandleFunc("POST /repos/{owner}/{repo}/git/refs", f.handle("create_ref", f.createRef))
	mux.HandleFunc("GET /repos/{owner}/{repo}/contents/{path...}", f.handle("get_contents", f.getContents))
	mux.HandleFunc("PUT /repos/{owner}/{repo}/contents/{path...}", f.handle("put_contents", f.putContents))
	mux.HandleFunc("GET /repos/{owner}/{repo}/pulls", f.handle("list_pulls", f.listPulls))
	mux.HandleFunc("POST /repos/{owner}/{repo}/pulls", f.handle("create_pull", f.createPull))
	mux.HandleFunc("GET /repos/{owner}/{repo}/pulls/{number}", f.handle("get_pull", f.getPull))
	mux.HandleFunc("PUT /repos/{owner}/{repo}/pulls/{number}/merge", f.handle("merge_pull", f.mergePull))
	mux.HandleFunc("POST /repos/{owner}/{repo}/actions/workflows/{workflow}/dispatches", f.handle("dispatch", f.dispatch))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeGitHub) handle(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls[route]++
		fail := f.failNext[route] > 0
		if fail {
			f.failNext[route]--
		}
		f.mu.Unlock()

		if fail {
			http.Error(w, `{"message":"boom"}`, http.StatusInternalServerError)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		h(w, r)
	}
}

func (f *fakeGitHub) count(route string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[route]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func notFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
}

func (f *fakeGitHub) getRepo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"name": "repo", "default_branch": "main"})
}

func (f *fakeGitHub) listIssues(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page == 0 {
		page = 1
	}
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage == 0 {
		perPage = 30
	}

	var open []*fakeIssue
	for _, i := range f.issues {
		if i.State == "open" {
			open = append(open, i)
		}
	}
	start := (page - 1) * perPage
	if start > len(open) {
		start = len(open)
	}
	end := start + perPage
	if end > len(open) {
		end = len(open)
	}
	if end < len(open) {
		w.Header().Set("Link", fmt.Sprintf(`<http://%s%s?page=%d&per_page=%d&state=open>; rel="next"`, r.Host, r.URL.Path, page+1, perPage))
	}
	writeJSON(w, http.StatusOK, open[start:end])
}

func (f *fakeGitHub) createIssue(w http.ResponseWriter, r *http.Request) {
	var req struct{ Title, Body string }
	_ = json.NewDecoder(r.Body).Decode(&req)
	issue := &fakeIssue{Number: len(f.issues) + len(f.pulls) + 1, Title: req.Title, Body: req.Body, State: "open"}
	f.issues = append(f.issues, issue)
	writeJSON(w, http.StatusCreated, issue)
}

func (f *fakeGitHub) getRef(w http.ResponseWriter, r *http.Request) {
	branch := strings.TrimPrefix(r.PathValue("ref"), "heads/")
	sha, ok := f.refs[branch]
	if !ok {
		notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ref":    "refs/heads/" + branch,
		"object": map[string]string{"sha": sha, "type": "commit"},
	})
}

func (f *fakeGitHub) createRef(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	branch := strings.TrimPrefix(req.Ref, "refs/heads/")
	if _, ok := f.refs[branch]; ok {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "Reference already exists"})
		return
	}
	f.refs[branch] = req.SHA
	writeJSON(w, http.StatusCreated, map[string]any{"ref": req.Ref, "object": map[string]string{"sha": req.SHA}})
}

func (f *fakeGitHub) getContents(w http.ResponseWriter, r *http.Request) {
	branch := r.URL.Query().Get("ref")
	content, ok := f.files[branch][r.PathValue("path")]
	if !ok {
		notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"type":     "file",
		"path":     r.PathValue("path"),
		"sha":      "sha-" + r.PathValue("path"),
		"encoding": "base64",
		"content":  base64.StdEncoding.EncodeToString([]byte(content)),
	})
}

func (f *fakeGitHub) putContents(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
		Content []byte `json:"content"`
		Branch  string `json:"branch"`
		SHA     string `json:"sha"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if _, ok := f.refs[req.Branch]; !ok {
		notFound(w)
		return
	}
	path := r.PathValue("path")
	_, exists := f.files[req.Branch][path]
	if exists && req.SHA == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "sha wasn't supplied"})
		return
	}
	if f.files[req.Branch] == nil {
		f.files[req.Branch] = map[string]string{}
	}
	f.files[req.Branch][path] = string(req.Content)
	status := http.StatusCreated
	if exists {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{"content": map[string]string{"path": path}})
}

func (f *fakeGitHub) listPulls(w http.ResponseWriter, r *http.Request) {
	head := r.URL.Query().Get("head")
	_, branch, _ := strings.Cut(head, ":")
	base := r.URL.Query().Get("base")

	out := []*fakePull{}
	for _, p := range f.pulls {
		if p.State == "open" && p.Head.Ref == branch && (base == "" || p.Base.Ref == base) {
			out = append(out, p)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (f *fakeGitHub) createPull(w http.ResponseWriter, r *http.Request) {
	var req struct{ Title, Head, Base, Body string }
	_ = json.NewDecoder(r.Body).Decode(&req)
	mergeable := true
	p := &fakePull{Number: len(f.issues) + len(f.pulls) + 1, Title: req.Title, Body: req.Body, State: "open", Mergeable: &mergeable}
	p.Head.Ref = req.Head
	p.Base.Ref = req.Base
	f.pulls = append(f.pulls, p)
	writeJSON(w, http.StatusCreated, p)
}

func (f *fakeGitHub) pull(r *http.Request) *fakePull {
	n, _ := strconv.Atoi(r.PathValue("number"))
	for _, p := range f.pulls {
		if p.Number == n {
			return p
		}
	}
	return nil
}

func (f *fakeGitHub) getPull(w http.ResponseWriter, r *http.Request) {
	p := f.pull(r)
	if p == nil {
		notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (f *fakeGitHub) mergePull(w http.ResponseWriter, r *http.Request) {
	p := f.pull(r)
	if p == nil {
		notFound(w)
		return
	}
	p.Merged = true
	p.State = "closed"
	writeJSON(w, http.StatusOK, map[string]any{"merged": true, "message": "Pull Request successfully merged"})
}

func (f *fakeGitHub) dispatch(w http.ResponseWriter, r *http.Request) {
	if !f.dispatchOK {
		writeJSON(w, http.StatusOK, map[string]string{})
		return
	}
	f.dispatched = append(f.dispatched, r.PathValue("workflow"))
	w.WriteHeader(http.StatusNoContent)
}
