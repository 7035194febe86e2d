package report

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/quotedesk/internal/platform/httpx"
)

func TestRenderHTMLPostsMultipartForm(t *testing.T) {
	var got struct {
		path, paperWidth, html, css string
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		require.NoError(t, r.ParseMultipartForm(1<<20))
		got.paperWidth = r.FormValue("paperWidth")
		for _, fh := range r.MultipartForm.File["files"] {
			f, err := fh.Open()
			require.NoError(t, err)
			data, _ := io.ReadAll(f)
			_ = f.Close()
			switch fh.Filename {
			case "index.html":
				got.html = string(data)
			case "invoice.css":
				got.css = string(data)
			}
		}
		_, _ = w.Write([]byte("%PDF-1.7"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", time.Second)
	pdf, err := client.RenderHTML(context.Background(), "<p>hi</p>", map[string][]byte{"invoice.css": []byte("p{}")}, A4)
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.7", string(pdf))
	require.Equal(t, "/forms/chromium/convert/html", got.path)
	require.Equal(t, "8.27", got.paperWidth)
	require.Equal(t, "<p>hi</p>", got.html)
	require.Equal(t, "p{}", got.css)
}

func TestRenderHTMLReportsUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "chromium crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).RenderHTML(context.Background(), "<p/>", nil, A4)
	require.ErrorIs(t, err, ErrRender)
	require.ErrorIs(t, err, httpx.ErrUnavailable)
	require.Contains(t, err.Error(), "chromium crashed")
}

func TestPing(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(status)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	require.NoError(t, client.Ping(context.Background()))
	status = http.StatusServiceUnavailable
	require.ErrorIs(t, client.Ping(context.Background()), ErrRender)
}
