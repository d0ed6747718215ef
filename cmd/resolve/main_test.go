package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/@ada.json":
			_, _ = w.Write([]byte(`{"id":"1","agent_name":"ada","label":"Ada","certification":{"issuer":"NANDA"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	raw, err := fetch(context.Background(), srv.Client(), srv.URL+"/", "ADA")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if err := check(raw); err != nil {
		t.Fatalf("check: %v", err)
	}

	if _, err := fetch(context.Background(), srv.Client(), srv.URL, "nobody"); !errors.Is(err, errNotFound) {
		t.Fatalf("expected errNotFound, got %v", err)
	}
}

func TestCheckReportsMissingFields(t *testing.T) {
	err := check([]byte(`{"id":"1","agent_name":"ada"}`))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, field := range []string{"label", "certification.issuer"} {
		if !strings.Contains(err.Error(), field) {
			t.Fatalf("expected %s in %v", field, err)
		}
	}
	if check([]byte(`not json`)) == nil {
		t.Fatal("expected decode error")
	}
}
