package segment

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chaos-io/cutout/util"
	uhttp "github.com/chaos-io/cutout/util/http"
)

// Client is the external segmentation capability: given an image, produce an
// alpha-matted cutout. The model's internals are a black box behind this
// boundary.
type Client interface {
	// Initialize loads the given model on the backend.
	Initialize(ctx context.Context, modelID string) error
	// Infer runs the given model over img and returns the matted result.
	Infer(ctx context.Context, modelID string, img image.Image) (image.Image, error)
	// AcceleratedBackendAvailable reports whether the backend runs GPU
	// inference. Any failure to answer degrades to false.
	AcceleratedBackendAvailable(ctx context.Context) bool
}

// HTTPRemover talks to a rembg-style inference server.
type HTTPRemover struct {
	baseURL string
	timeout time.Duration
	cli     uhttp.IClient
	logger  *zap.Logger
}

func NewHTTPRemover(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPRemover {
	return &HTTPRemover{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		cli:     uhttp.NewHTTPClient(),
		logger:  logger.Named("segment_client"),
	}
}

type loadModelReq struct {
	Model string `json:"model"`
}

func (r *HTTPRemover) Initialize(ctx context.Context, modelID string) error {
	reqParam := &uhttp.RequestParam{
		RequestURI: r.baseURL + "/api/models/load",
		Method:     "POST",
		Header:     map[string]string{"Content-Type": "application/json"},
		Body:       &loadModelReq{Model: modelID},
		Timeout:    r.timeout,
	}
	if err := r.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return fmt.Errorf("load model %s: %w", modelID, err)
	}

	r.logger.Info("model loaded", zap.String("model", modelID))
	return nil
}

type removeReq struct {
	Model string `json:"model"`
	Image string `json:"image"`
}

type removeResp struct {
	Image string `json:"image"`
}

func (r *HTTPRemover) Infer(ctx context.Context, modelID string, img image.Image) (image.Image, error) {
	dataURL, err := encodeDataURL(img)
	if err != nil {
		return nil, fmt.Errorf("encode input image: %w", err)
	}

	resp := &removeResp{}
	reqParam := &uhttp.RequestParam{
		RequestURI: r.baseURL + "/api/remove",
		Method:     "POST",
		Header:     map[string]string{"Content-Type": "application/json"},
		Body:       &removeReq{Model: modelID, Image: dataURL},
		Response:   resp,
		Timeout:    r.timeout,
	}
	if err := r.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, fmt.Errorf("remove background: %w", err)
	}

	out, err := decodeDataURL(resp.Image)
	if err != nil {
		return nil, fmt.Errorf("decode matte: %w", err)
	}
	return out, nil
}

type capabilitiesResp struct {
	GPU bool `json:"gpu"`
}

func (r *HTTPRemover) AcceleratedBackendAvailable(ctx context.Context) bool {
	resp := &capabilitiesResp{}
	reqParam := &uhttp.RequestParam{
		RequestURI: r.baseURL + "/api/capabilities",
		Method:     "GET",
		Response:   resp,
		Timeout:    r.timeout,
	}
	if err := r.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		r.logger.Warn("capability probe failed, assuming CPU backend", zap.Error(err))
		return false
	}
	return resp.GPU
}

func encodeDataURL(img image.Image) (string, error) {
	data, err := util.EncodePNG(img)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data), nil
}

func decodeDataURL(dataURL string) (image.Image, error) {
	parts := strings.SplitN(dataURL, ",", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid data URL")
	}
	raw, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	return img, err
}
