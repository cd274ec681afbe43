package samples

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestFetcher_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/one.png":
			_, _ = w.Write([]byte("image-one"))
		case "/two.png":
			_, _ = w.Write([]byte("image-two"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	f := NewFetcher([]string{
		server.URL + "/one.png",
		server.URL + "/missing.png",
		server.URL + "/two.png",
	}, zap.NewNop())

	assets := f.Fetch(context.Background())
	assert.Equal(t, [][]byte{[]byte("image-one"), []byte("image-two")}, assets,
		"a failing sample is skipped, siblings still load")
}

func TestFetcher_Empty(t *testing.T) {
	f := NewFetcher(nil, zap.NewNop())
	assert.Empty(t, f.Fetch(context.Background()))
}
