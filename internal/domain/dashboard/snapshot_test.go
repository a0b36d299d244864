package dashboard

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPFetcher_FetchStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/dashboard/stats" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"success":false,"message":"invalid token"}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"data":{"totalPatients":12,"pendingInvoices":3}}`))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL+"/api/v1/", "tok")
	st, err := f.FetchStats(context.Background())
	if err != nil {
		t.Fatalf("FetchStats: %v", err)
	}
	if st.TotalPatients != 12 || st.PendingInvoices != 3 {
		t.Fatalf("unexpected stats %+v", st)
	}

	f.Token = "wrong"
	_, err = f.FetchStats(context.Background())
	if err == nil || !strings.Contains(err.Error(), "invalid token") {
		t.Fatalf("expected envelope message in error, got %v", err)
	}
}

func TestHTTPFetcher_BadBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	}))
	defer srv.Close()

	if _, err := NewHTTPFetcher(srv.URL, "").FetchStats(context.Background()); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestHTTPFetcher_EmptyData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	if _, err := NewHTTPFetcher(srv.URL, "").FetchStats(context.Background()); err == nil {
		t.Fatal("expected error for missing data")
	}
}
