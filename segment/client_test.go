package segment

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHTTPRemover_Initialize(t *testing.T) {
	var gotModel string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/models/load", r.URL.Path)
		require.Equal(t, "POST", r.Method)

		var req loadModelReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotModel = req.Model

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	r := NewHTTPRemover(server.URL, time.Second, zap.NewNop())
	err := r.Initialize(context.Background(), "u2net")
	require.NoError(t, err)
	assert.Equal(t, "u2net", gotModel)
}

func TestHTTPRemover_Initialize_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("model weights missing"))
	}))
	defer server.Close()

	r := NewHTTPRemover(server.URL, time.Second, zap.NewNop())
	err := r.Initialize(context.Background(), "birefnet-general")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load model birefnet-general")
	assert.Contains(t, err.Error(), "model weights missing")
}

func TestHTTPRemover_Infer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/remove", r.URL.Path)

		var req removeReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "u2net", req.Model)
		assert.Contains(t, req.Image, "data:image/png;base64,")

		// Echo the input back as the matte.
		resp := removeResp{Image: req.Image}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	r := NewHTTPRemover(server.URL, time.Second, zap.NewNop())

	in := image.NewNRGBA(image.Rect(0, 0, 6, 3))
	out, err := r.Infer(context.Background(), "u2net", in)
	require.NoError(t, err)
	assert.Equal(t, 6, out.Bounds().Dx())
	assert.Equal(t, 3, out.Bounds().Dy())
}

func TestHTTPRemover_Infer_BadResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"image": "garbage"}`))
	}))
	defer server.Close()

	r := NewHTTPRemover(server.URL, time.Second, zap.NewNop())
	_, err := r.Infer(context.Background(), "u2net", image.NewNRGBA(image.Rect(0, 0, 1, 1)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode matte")
}

func TestHTTPRemover_AcceleratedBackendAvailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/capabilities", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"gpu": true}`))
	}))
	defer server.Close()

	r := NewHTTPRemover(server.URL, time.Second, zap.NewNop())
	assert.True(t, r.AcceleratedBackendAvailable(context.Background()))
}

func TestHTTPRemover_AcceleratedBackendAvailable_DegradesToFalse(t *testing.T) {
	// An unreachable backend answers the conservative "unsupported".
	r := NewHTTPRemover("http://127.0.0.1:1", 100*time.Millisecond, zap.NewNop())
	assert.False(t, r.AcceleratedBackendAvailable(context.Background()))
}
