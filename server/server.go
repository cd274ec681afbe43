package server

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chaos-io/cutout/composite"
	"github.com/chaos-io/cutout/model"
	"github.com/chaos-io/cutout/samples"
	"github.com/chaos-io/cutout/segment"
	"github.com/chaos-io/cutout/store"
	"github.com/chaos-io/cutout/util"
)

// Server exposes the ingestion, editing and export surfaces over HTTP. Every
// ingestion entry point funnels into the same store.Add path.
type Server struct {
	store        *store.Store
	manager      *model.Manager
	orchestrator *segment.Orchestrator
	engine       *composite.Engine
	samples      *samples.Fetcher
	exporter     *Exporter
	logger       *zap.Logger
}

func New(
	st *store.Store,
	manager *model.Manager,
	orchestrator *segment.Orchestrator,
	engine *composite.Engine,
	fetcher *samples.Fetcher,
	exporter *Exporter,
	logger *zap.Logger,
) *Server {
	return &Server{
		store:        st,
		manager:      manager,
		orchestrator: orchestrator,
		engine:       engine,
		samples:      fetcher,
		exporter:     exporter,
		logger:       logger.Named("server"),
	}
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		api.GET("/images", s.listImages)
		api.POST("/images", s.addImages)
		api.POST("/images/samples", s.addSamples)
		api.DELETE("/images/:id", s.deleteImage)
		api.POST("/images/:id/edit", s.editImage)
		api.GET("/images/:id/export", s.exportImage)

		api.GET("/model", s.modelStatus)
		api.POST("/model/initialize", s.modelInitialize)
		api.POST("/model/switch", s.modelSwitch)
	}
}

type imageView struct {
	ID      string    `json:"id"`
	Status  string    `json:"status"`
	Error   string    `json:"error,omitempty"`
	AddedAt time.Time `json:"addedAt"`
	Edited  bool      `json:"edited"`
}

func (s *Server) listImages(c *gin.Context) {
	records := s.store.List()
	views := make([]imageView, 0, len(records))
	for _, rec := range records {
		views = append(views, imageView{
			ID:      rec.ID,
			Status:  string(rec.Status),
			Error:   rec.FailReason,
			AddedAt: rec.AddedAt,
			Edited:  rec.Edited != nil,
		})
	}
	c.JSON(http.StatusOK, gin.H{"images": views})
}

func (s *Server) addImages(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form required"})
		return
	}
	files := form.File["images"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one image file is required"})
		return
	}

	assets := make([][]byte, 0, len(files))
	for _, file := range files {
		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unable to open %s", file.Filename)})
			return
		}
		data, err := io.ReadAll(src)
		_ = src.Close()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to read %s", file.Filename)})
			return
		}
		assets = append(assets, data)
	}

	s.ingest(c, assets)
}

func (s *Server) addSamples(c *gin.Context) {
	assets := s.samples.Fetch(c.Request.Context())
	if len(assets) == 0 {
		c.JSON(http.StatusBadGateway, gin.H{"error": "no samples could be fetched"})
		return
	}
	s.ingest(c, assets)
}

// ingest adds the assets and kicks off sequential background segmentation.
// Completions are attributed by id, so deletions during processing are safe.
func (s *Server) ingest(c *gin.Context, assets [][]byte) {
	ids := s.store.Add(assets)

	items := make([]segment.BatchItem, len(ids))
	for i, id := range ids {
		items[i] = segment.BatchItem{ID: id, Data: assets[i]}
	}

	go s.processBatch(items)

	c.JSON(http.StatusAccepted, gin.H{"ids": ids})
}

func (s *Server) processBatch(items []segment.BatchItem) {
	// Detached from the request: segmentation outlives the ingest response,
	// and there is no mid-flight cancellation of a started inference.
	results := s.orchestrator.SegmentBatch(context.Background(), items)
	for _, res := range results {
		if res.Err != nil {
			s.store.MarkFailed(res.ID, res.Err.Error())
			continue
		}
		s.store.MarkSegmented(res.ID, res.Data)
	}
}

func (s *Server) deleteImage(c *gin.Context) {
	s.store.Remove(c.Param("id"))
	c.Status(http.StatusNoContent)
}

type backgroundPayload struct {
	Kind  string `json:"kind"`
	Color string `json:"color"` // "#rrggbb" or "#rrggbbaa"
	Image []byte `json:"image"` // base64 in JSON
}

type effectPayload struct {
	Kind      string `json:"kind"`
	Intensity *int   `json:"intensity"`
}

type editRequest struct {
	Background *backgroundPayload `json:"background"`
	Effect     *effectPayload     `json:"effect"`
}

func (s *Server) editImage(c *gin.Context) {
	id := c.Param("id")

	var req editRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid edit request"})
		return
	}

	rec, ok := s.store.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "image not found"})
		return
	}
	if rec.Segmented == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "image is not segmented yet"})
		return
	}

	if req.Background != nil {
		bg, err := parseBackground(req.Background)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.store.SetBackground(id, bg)
	}
	if req.Effect != nil {
		kind, err := parseEffectKind(req.Effect.Kind)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.store.SetEffect(id, kind, req.Effect.Intensity)
	}

	cfg, _ := s.store.EditConfig(id)

	segmented, err := util.DecodeImage(rec.Segmented)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stored matte is unreadable"})
		return
	}

	out, err := s.engine.RenderPNG(segmented, cfg)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.store.MarkEdited(id, out)
	c.Data(http.StatusOK, "image/png", out)
}

func (s *Server) exportImage(c *gin.Context) {
	id := c.Param("id")

	rec, ok := s.store.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "image not found"})
		return
	}

	// The latest edit wins; an unedited image exports its plain cutout.
	data := rec.Edited
	if data == nil {
		data = rec.Segmented
	}
	if data == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "nothing to export yet"})
		return
	}

	path, err := s.exporter.Write(id, data)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to write export"})
		return
	}

	c.FileAttachment(path, id+".png")
}

func (s *Server) modelStatus(c *gin.Context) {
	snap := s.manager.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"state": snap.State.String(),
		"model": snap.ActiveModel,
		"capabilities": gin.H{
			"constrainedDevice":  snap.Capabilities.ConstrainedDevice,
			"acceleratedBackend": snap.Capabilities.AcceleratedBackend,
		},
	})
}

type modelRequest struct {
	Model string `json:"model"`
}

func (s *Server) modelInitialize(c *gin.Context) {
	var req modelRequest
	_ = c.ShouldBindJSON(&req)

	res, err := s.manager.Initialize(c.Request.Context(), req.Model)
	if err != nil {
		s.modelError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) modelSwitch(c *gin.Context) {
	var req modelRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Model == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "model is required"})
		return
	}

	res, err := s.manager.SwitchTo(c.Request.Context(), req.Model)
	if err != nil {
		s.modelError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) modelError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrBusy), errors.Is(err, model.ErrAlreadyInitialized):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrConstrained):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrUnknownModel):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrNotReady):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func parseBackground(p *backgroundPayload) (composite.Background, error) {
	switch composite.BackgroundKind(p.Kind) {
	case composite.BackgroundSolid:
		col, err := parseHexColor(p.Color)
		if err != nil {
			return composite.Background{}, err
		}
		return composite.Background{Kind: composite.BackgroundSolid, Color: col}, nil
	case composite.BackgroundImage:
		if len(p.Image) == 0 {
			return composite.Background{}, errors.New("background image data is required")
		}
		return composite.Background{Kind: composite.BackgroundImage, Image: p.Image}, nil
	default:
		return composite.Background{}, fmt.Errorf("unknown background kind %q", p.Kind)
	}
}

func parseEffectKind(kind string) (composite.EffectKind, error) {
	switch k := composite.EffectKind(kind); k {
	case composite.EffectNone, composite.EffectBlur, composite.EffectBrightness, composite.EffectContrast:
		return k, nil
	default:
		return "", fmt.Errorf("unknown effect kind %q", kind)
	}
}

func parseHexColor(s string) (color.NRGBA, error) {
	if len(s) == 0 || s[0] != '#' {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}

	var c color.NRGBA
	c.A = 255
	var err error
	switch len(s) {
	case 7:
		_, err = fmt.Sscanf(s, "#%02x%02x%02x", &c.R, &c.G, &c.B)
	case 9:
		_, err = fmt.Sscanf(s, "#%02x%02x%02x%02x", &c.R, &c.G, &c.B, &c.A)
	default:
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}
	return c, nil
}
