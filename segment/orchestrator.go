package segment

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/chaos-io/cutout/util"
)

// ModelSource reports the model ready for new work. In-flight segmentations
// keep the model id they captured at submission; a concurrent switch never
// rebinds them.
type ModelSource interface {
	Active() (string, error)
}

// BatchItem is one image submitted for segmentation, attributed by id.
type BatchItem struct {
	ID   string
	Data []byte
}

// BatchResult is the per-item outcome. Err is set for items whose inference
// failed; sibling items are unaffected.
type BatchResult struct {
	ID   string
	Data []byte
	Err  error
}

// ItemError attributes a batch failure to the image that caused it.
type ItemError struct {
	ID  string
	Err error
}

func (e *ItemError) Error() string { return fmt.Sprintf("image %s: %v", e.ID, e.Err) }

func (e *ItemError) Unwrap() error { return e.Err }

// Orchestrator drives images through decode → infer → encode, one at a time.
// It never mutates model lifecycle state.
type Orchestrator struct {
	models  ModelSource
	client  Client
	maxSize int // longest side sent to the backend; 0 disables downscaling
	logger  *zap.Logger
}

func NewOrchestrator(models ModelSource, client Client, maxSize int, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		models:  models,
		client:  client,
		maxSize: maxSize,
		logger:  logger.Named("orchestrator"),
	}
}

// Segment produces the alpha-matted PNG for one source asset. The model
// manager must be Ready; the orchestrator neither initializes models nor
// retries on its own.
func (o *Orchestrator) Segment(ctx context.Context, src []byte) ([]byte, error) {
	modelID, err := o.models.Active()
	if err != nil {
		return nil, err
	}

	img, err := util.DecodeImage(src)
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}
	if o.maxSize > 0 {
		img = util.ResizeWithinMax(img, o.maxSize)
	}

	matte, err := o.client.Infer(ctx, modelID, img)
	if err != nil {
		return nil, fmt.Errorf("infer with model %s: %w", modelID, err)
	}

	out, err := util.EncodePNG(matte)
	if err != nil {
		return nil, fmt.Errorf("encode matte: %w", err)
	}
	return out, nil
}

// SegmentBatch processes items sequentially in submission order. Each item
// succeeds or fails independently; a failure never aborts the remainder.
func (o *Orchestrator) SegmentBatch(ctx context.Context, items []BatchItem) []BatchResult {
	defer util.Trace("segment batch")()

	results := make([]BatchResult, 0, len(items))
	for _, item := range items {
		data, err := o.Segment(ctx, item.Data)
		if err != nil {
			o.logger.Warn("segmentation failed",
				zap.String("id", item.ID),
				zap.Error(err))
			err = &ItemError{ID: item.ID, Err: err}
		}
		results = append(results, BatchResult{ID: item.ID, Data: data, Err: err})
	}
	return results
}
