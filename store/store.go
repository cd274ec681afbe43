package store

import (
	"image/color"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/chaos-io/cutout/composite"
)

// Status is the processing state of one image record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSegmented Status = "segmented"
	StatusEdited    Status = "edited"
	StatusFailed    Status = "failed"
)

// Record tracks one image through its session lifetime. Source is immutable
// after creation; Segmented is set at most once; Edited is replaced wholesale
// on every edit, no history kept.
type Record struct {
	ID         string
	Source     []byte
	Segmented  []byte
	Edited     []byte
	Status     Status
	FailReason string
	AddedAt    time.Time
}

// editState is the per-image editing configuration. Each effect kind
// remembers its last intensity so toggling kinds restores the prior value.
type editState struct {
	background  composite.Background
	effectKind  composite.EffectKind
	intensities map[composite.EffectKind]int
}

func defaultEditState() editState {
	return editState{
		background: composite.Background{
			Kind:  composite.BackgroundSolid,
			Color: color.NRGBA{R: 255, G: 255, B: 255, A: 255},
		},
		effectKind:  composite.EffectNone,
		intensities: map[composite.EffectKind]int{},
	}
}

type entry struct {
	record Record
	edit   editState
}

// Store owns every image record of the session and is the sole authority for
// their lifetime. All state lives in memory; nothing survives the process.
type Store struct {
	mu      sync.Mutex
	records map[string]*entry
	order   []string
	logger  *zap.Logger
}

func New(logger *zap.Logger) *Store {
	return &Store{
		records: make(map[string]*entry),
		logger:  logger.Named("store"),
	}
}

// Add ingests raw source assets and returns their newly assigned ids, in
// input order. Every ingestion surface funnels through here.
func (s *Store) Add(assets [][]byte) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(assets))
	now := time.Now()
	for _, asset := range assets {
		id := ksuid.New().String()
		s.records[id] = &entry{
			record: Record{
				ID:      id,
				Source:  asset,
				Status:  StatusPending,
				AddedAt: now,
			},
			edit: defaultEditState(),
		}
		s.order = append(s.order, id)
		ids = append(ids, id)
	}

	s.logger.Info("added images", zap.Int("count", len(ids)))
	return ids
}

// Get returns a copy of the record.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	return e.record, true
}

// List returns all records in insertion order.
func (s *Store) List() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0, len(s.order))
	for _, id := range s.order {
		if e, ok := s.records[id]; ok {
			out = append(out, e.record)
		}
	}
	return out
}

// MarkSegmented attaches the matte result. It is a no-op for removed ids
// (late async completions of deleted images are discarded, not resurrected)
// and for records already segmented.
func (s *Store) MarkSegmented(id string, segmented []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.records[id]
	if !ok {
		s.logger.Debug("discarding segmentation result for removed image", zap.String("id", id))
		return false
	}
	if e.record.Segmented != nil {
		return false
	}
	e.record.Segmented = segmented
	e.record.Status = StatusSegmented
	e.record.FailReason = ""
	return true
}

// MarkFailed records a per-item segmentation failure. No-op for removed ids.
func (s *Store) MarkFailed(id string, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.records[id]
	if !ok || e.record.Status != StatusPending {
		return false
	}
	e.record.Status = StatusFailed
	e.record.FailReason = reason
	return true
}

// MarkEdited replaces the edited output wholesale. No-op for removed ids.
func (s *Store) MarkEdited(id string, edited []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.records[id]
	if !ok {
		return false
	}
	e.record.Edited = edited
	e.record.Status = StatusEdited
	return true
}

// Remove deletes a record and releases its asset handles. Idempotent:
// removing an absent id is a no-op.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.records[id]
	if !ok {
		return
	}
	e.record.Source = nil
	e.record.Segmented = nil
	e.record.Edited = nil
	delete(s.records, id)

	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.logger.Info("removed image", zap.String("id", id))
}

// Len reports the number of live records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// SetBackground updates the background layer for an image.
func (s *Store) SetBackground(id string, bg composite.Background) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.records[id]
	if !ok {
		return false
	}
	e.edit.background = bg
	return true
}

// SetEffect selects the active effect kind. A nil intensity restores the
// kind's last stored value; a set intensity is remembered for that kind so
// toggling between kinds keeps each one's slider position.
func (s *Store) SetEffect(id string, kind composite.EffectKind, intensity *int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.records[id]
	if !ok {
		return false
	}
	e.edit.effectKind = kind
	if intensity != nil {
		e.edit.intensities[kind] = *intensity
	}
	return true
}

// EditConfig materializes the engine configuration for an image.
func (s *Store) EditConfig(id string) (composite.EditConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.records[id]
	if !ok {
		return composite.EditConfig{}, false
	}
	return composite.EditConfig{
		Background: e.edit.background,
		Effect: composite.Effect{
			Kind:      e.edit.effectKind,
			Intensity: e.edit.intensities[e.edit.effectKind],
		},
	}, true
}
