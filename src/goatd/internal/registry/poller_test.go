package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPollExtractsQuotedVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pkgbase=linux-zen\npkgver='6.9.1'\npkgrel='2'\n"))
	}))
	defer srv.Close()

	p := NewPoller()
	info, err := p.Poll(context.Background(), "linux-zen", srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.PkgVer != "6.9.1" || info.PkgRel != "2" {
		t.Errorf("got %+v", info)
	}
}

func TestPollExtractsUnquotedVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pkgver=6.9.1\npkgrel=2\n"))
	}))
	defer srv.Close()

	p := NewPoller()
	info, err := p.Poll(context.Background(), "linux", srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.PkgVer != "6.9.1" || info.PkgRel != "2" {
		t.Errorf("got %+v", info)
	}
}

func TestPollExtractsDoubleQuotedVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`pkgver="6.9.1"` + "\n" + `pkgrel="2"` + "\n"))
	}))
	defer srv.Close()

	p := NewPoller()
	info, err := p.Poll(context.Background(), "linux", srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.PkgVer != "6.9.1" || info.PkgRel != "2" {
		t.Errorf("got %+v", info)
	}
}

func TestPollNonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewPoller()
	if _, err := p.Poll(context.Background(), "linux", srv.URL); err == nil {
		t.Fatal("expected error on 404 response")
	}
}

func TestPollMissingFieldsLeaveZeroValues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pkgbase=linux\n"))
	}))
	defer srv.Close()

	p := NewPoller()
	info, err := p.Poll(context.Background(), "linux", srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.PkgVer != "" || info.PkgRel != "" {
		t.Errorf("expected zero values when fields absent, got %+v", info)
	}
}
