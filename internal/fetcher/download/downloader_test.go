package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDownloadReturnsBytesAndContentType(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte{0x89, 0x50, 0x4E, 0x47})
	}))
	defer srv.Close()

	d := New(Config{})
	data, contentType, err := d.Download(context.Background(), srv.URL+"/Fifty.png")
	require.NoError(t, err)
	require.Equal(t, []byte{0x89, 0x50, 0x4E, 0x47}, data)
	require.Equal(t, "image/png", contentType)
}

func TestDownloadRejectsDeclaredOversize(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", "1000")
		_, _ = w.Write([]byte(strings.Repeat("x", 1000)))
	}))
	defer srv.Close()

	d := New(Config{MaxBytes: 100})
	_, _, err := d.Download(context.Background(), srv.URL)
	require.Error(t, err)
	require.Contains(t, err.Error(), "too large")
}

func TestDownloadRejectsActualOversize(t *testing.T) {
	t.Parallel()

	// Chunked response: no declared length, must fail after reading past cap.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 20; i++ {
			_, _ = w.Write([]byte(strings.Repeat("x", 10)))
			flusher.Flush()
		}
	}))
	defer srv.Close()

	d := New(Config{MaxBytes: 100})
	_, _, err := d.Download(context.Background(), srv.URL)
	require.Error(t, err)
	require.Contains(t, err.Error(), "too large")
}

func TestDownloadNonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	d := New(Config{})
	_, _, err := d.Download(context.Background(), srv.URL)
	require.Error(t, err)
}

func TestDownloadTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(time.Second)
		_, _ = w.Write([]byte("late"))
	}))
	defer srv.Close()

	d := New(Config{Timeout: 50 * time.Millisecond})
	_, _, err := d.Download(context.Background(), srv.URL)
	require.Error(t, err)
}

func TestDownloadPolitenessThrottles(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	// 10 RPS, burst 1: second request must wait ~100ms.
	d := New(Config{HostRPS: 10})
	ctx := context.Background()

	_, _, err := d.Download(ctx, srv.URL)
	require.NoError(t, err)

	start := time.Now()
	_, _, err = d.Download(ctx, srv.URL)
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}
