package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/PumpeDie/teamup/internal/domain"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	cli, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return cli
}

func TestNewNormalisesBaseURL(t *testing.T) {
	cli, err := New("localhost:9000/")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if cli.baseURL != "http://localhost:9000" {
		t.Fatalf("unexpected base url %q", cli.baseURL)
	}
}

func TestCreateTeamSendsTokenAndBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /teams", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(domain.Team{ID: "t1", Name: body["name"], CreatorID: "U1"})
	})
	cli := newTestClient(t, mux)

	team, err := cli.CreateTeam(context.Background(), "tok", "Alpha")
	if err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
	if team.ID != "t1" || team.Name != "Alpha" {
		t.Fatalf("unexpected team %+v", team)
	}
}

func TestErrorsCarryCode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /teams/{teamID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"error":"caller is not a member of this team","code":"not_authorized"}`)
	})
	cli := newTestClient(t, mux)

	_, err := cli.Team(context.Background(), "tok", "t1")
	var apiErr APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusForbidden || apiErr.Code != domain.CodeNotAuthorized {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestUploadDocumentSendsRawBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /teams/{teamID}/documents", func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(domain.Document{ID: "d1", OriginalName: r.URL.Query().Get("name"), URL: string(data)})
	})
	cli := newTestClient(t, mux)

	doc, err := cli.UploadDocument(context.Background(), "tok", "t1", "my notes.txt", []byte("raw"))
	if err != nil {
		t.Fatalf("UploadDocument: %v", err)
	}
	if doc.OriginalName != "my notes.txt" || doc.URL != "raw" {
		t.Fatalf("unexpected document %+v", doc)
	}
}

func TestWatchDeliversFramesUntilError(t *testing.T) {
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /teams/{teamID}/tasks/watch", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(map[string]any{"type": "snapshot", "seq": 1, "data": []domain.Task{{ID: "a", Title: "Ship"}}})
		_ = conn.WriteJSON(map[string]any{"type": "error", "seq": 2, "code": "remote_failure", "error": "store down"})
	})
	cli := newTestClient(t, mux)

	var got []domain.Task
	err := cli.Watch(context.Background(), "tok", "/teams/t1/tasks/watch", func(f Frame) error {
		return json.Unmarshal(f.Data, &got)
	})
	var apiErr APIError
	if !errors.As(err, &apiErr) || apiErr.Code != domain.CodeRemoteFailure {
		t.Fatalf("expected remote_failure, got %v", err)
	}
	if len(got) != 1 || got[0].Title != "Ship" {
		t.Fatalf("unexpected snapshot %+v", got)
	}
}

func TestWatchReportsHandshakeFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /teams/{teamID}/watch", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":"authentication failed"}`)
	})
	cli := newTestClient(t, mux)

	err := cli.Watch(context.Background(), "bad", "/teams/t1/watch", func(Frame) error { return nil })
	var apiErr APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}
