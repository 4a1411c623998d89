package oracle_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/evetabi/betledger/internal/domain"
	"github.com/evetabi/betledger/internal/oracle"
)

func newClient(t *testing.T, url string, retries int) *oracle.Client {
	t.Helper()
	c, err := oracle.NewClient(oracle.Options{
		BaseURL: url, APIKey: "k", Timeout: time.Second, Retries: retries, Backoff: time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestClient_SubmitAndPoll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/jobs":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if !strings.Contains(body["prompt"], "who wins") {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`{"id":"job-1"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/jobs/job-1":
			_, _ = w.Write([]byte(`{"id":"job-1","status":"done","result":"{\"decision\":\"X\"}"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, 0)
	id, err := c.SubmitJob(context.Background(), "who wins?")
	if err != nil || id != "job-1" {
		t.Fatalf("SubmitJob = %q, %v", id, err)
	}
	st, err := c.JobStatus(context.Background(), id)
	if err != nil {
		t.Fatalf("JobStatus: %v", err)
	}
	if st.State != oracle.JobDone || !strings.Contains(st.Result, `"X"`) {
		t.Errorf("status = %+v", st)
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"id":"job-2"}`))
	}))
	defer srv.Close()

	id, err := newClient(t, srv.URL, 3).SubmitJob(context.Background(), "q")
	if err != nil || id != "job-2" {
		t.Fatalf("SubmitJob = %q, %v", id, err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestClient_ExhaustedRetriesSurfaceExternalError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newClient(t, srv.URL, 2).SubmitJob(context.Background(), "q")
	if !errors.Is(err, domain.ErrExternalService) {
		t.Fatalf("err = %v, want ErrExternalService", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestClient_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newClient(t, srv.URL, 3).JobStatus(context.Background(), "x")
	if !errors.Is(err, domain.ErrExternalService) || calls.Load() != 1 {
		t.Errorf("err = %v calls = %d", err, calls.Load())
	}
}

func TestNewClient_RejectsBadURL(t *testing.T) {
	if _, err := oracle.NewClient(oracle.Options{BaseURL: "not a url"}); err == nil {
		t.Error("expected error")
	}
}
