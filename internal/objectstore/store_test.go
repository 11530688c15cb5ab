package objectstore

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutPDFSignsAndSetsACL(t *testing.T) {
	var gotACL, gotAuth, gotContentType string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotACL = r.Header.Get("x-amz-acl")
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		gotBody = body
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := New("fia.ort.dev", "access-key", "secret-key")

	err := s.PutPDF(context.Background(), srv.URL+"/mirror/2026/bahrain/entry-list.pdf", []byte("%PDF-1.4 fake"))
	require.NoError(t, err)

	require.Equal(t, "public-read", gotACL)
	require.NotEmpty(t, gotAuth)
	require.Equal(t, "application/pdf", gotContentType)
	require.Equal(t, []byte("%PDF-1.4 fake"), gotBody)
}

func TestPutImageReturnsErrorOnBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	s := New("fia.ort.dev", "access-key", "secret-key")
	err := s.PutImage(context.Background(), srv.URL+"/2026/bahrain/1-0.jpg", []byte("jpeg-bytes"))
	require.Error(t, err)
}

func TestMirrorAndImageURLs(t *testing.T) {
	s := New("fia.ort.dev", "k", "s")

	require.Equal(t, "https://fia.ort.dev/mirror/2026/Bahrain%20Grand%20Prix/Entry%20List.pdf",
		s.MirrorURL(2026, "Bahrain Grand Prix", "Entry List"))

	require.Equal(t, "https://fia.ort.dev/img/2026/Bahrain%20Grand%20Prix/42-0.jpg",
		s.ImageURL(2026, "Bahrain Grand Prix", 42, 0))
}
