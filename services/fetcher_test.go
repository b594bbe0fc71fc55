package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestFetcher_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.pdf":
			_, _ = w.Write([]byte("%PDF-1.4 body"))
		case "/empty.pdf":
			w.WriteHeader(http.StatusOK)
		case "/big.pdf":
			_, _ = w.Write([]byte(strings.Repeat("x", 2048)))
		default:
			http.Error(w, "no such object", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	f := NewFetcher(5*time.Second, 1024)
	ctx := context.Background()

	data, err := f.Fetch(ctx, srv.URL+"/ok.pdf")
	if err != nil || string(data) != "%PDF-1.4 body" {
		t.Fatalf("Fetch(ok) = %q, %v", data, err)
	}
	if _, err := f.Fetch(ctx, srv.URL+"/empty.pdf"); !errors.Is(err, ErrEmptySource) {
		t.Errorf("Fetch(empty) error = %v, want ErrEmptySource", err)
	}
	if _, err := f.Fetch(ctx, srv.URL+"/big.pdf"); !errors.Is(err, ErrSourceTooLarge) {
		t.Errorf("Fetch(big) error = %v, want ErrSourceTooLarge", err)
	}
	_, err = f.Fetch(ctx, srv.URL+"/missing.pdf")
	if err == nil || !strings.Contains(err.Error(), "status 404") {
		t.Errorf("Fetch(missing) error = %v, want status 404", err)
	}
}

func TestFetcher_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := NewFetcher(0, 0).Fetch(ctx, srv.URL); err == nil {
		t.Fatal("expected error for a cancelled download")
	}
}
