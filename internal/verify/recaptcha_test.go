package verify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newChecker(url string) *Checker {
	return &Checker{Secret: "s3cret", URL: url, MinScore: 0.5, Timeout: time.Second}
}

func TestCheckPassesAboveThreshold(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.PostForm.Get("secret") != "s3cret" || r.PostForm.Get("response") != "tok" {
			t.Fatalf("unexpected form: %v", r.PostForm)
		}
		w.Write([]byte(`{"success":true,"score":0.9}`))
	}))
	defer srv.Close()

	res := newChecker(srv.URL).Check(context.Background(), "tok", "203.0.113.9")
	if !res.Passed || res.Open || res.Score != 0.9 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestCheckFailsBelowThreshold(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"score":0.3}`))
	}))
	defer srv.Close()

	res := newChecker(srv.URL).Check(context.Background(), "tok", "")
	if res.Passed {
		t.Fatalf("score 0.3 should fail against threshold 0.5: %+v", res)
	}
	if res.Score != 0.3 {
		t.Fatalf("score = %v, want 0.3", res.Score)
	}
}

func TestCheckScoreAtThresholdPasses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"score":0.5}`))
	}))
	defer srv.Close()

	if res := newChecker(srv.URL).Check(context.Background(), "tok", ""); !res.Passed {
		t.Fatalf("score equal to threshold must pass: %+v", res)
	}
}

func TestCheckProviderRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"error-codes":["invalid-input-response"]}`))
	}))
	defer srv.Close()

	if res := newChecker(srv.URL).Check(context.Background(), "bad", ""); res.Passed {
		t.Fatalf("provider rejection must fail closed: %+v", res)
	}
}

func TestCheckFailsOpenWithoutSecret(t *testing.T) {
	c := &Checker{Secret: "  ", URL: "http://unused.invalid", MinScore: 0.5, Timeout: time.Second}
	res := c.Check(context.Background(), "tok", "")
	if !res.Passed || !res.Open {
		t.Fatalf("missing secret should fail open: %+v", res)
	}
}

func TestCheckFailsOpenOnProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	res := newChecker(srv.URL).Check(context.Background(), "tok", "")
	if !res.Passed || !res.Open {
		t.Fatalf("5xx from provider should fail open: %+v", res)
	}
}

func TestCheckFailsOpenOnUnreachableProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	res := newChecker(srv.URL).Check(context.Background(), "tok", "")
	if !res.Passed || !res.Open {
		t.Fatalf("unreachable provider should fail open: %+v", res)
	}
}
