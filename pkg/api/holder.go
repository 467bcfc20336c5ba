package api

import (
	"context"
	"errors"
	"sync"

	"github.com/hazyhaar/fiscalflow/pkg/pipeline"
)

// ErrNotLoaded is returned by queries before a dataset was loaded.
var ErrNotLoaded = errors.New("dataset not loaded")

// Loader produces a fresh dataset, typically pipeline.Load with the current
// config.
type Loader func(ctx context.Context) (*pipeline.Dataset, error)

// Holder serves one immutable dataset to concurrent queries and swaps it
// wholesale on Reload.
type Holder struct {
	mu   sync.RWMutex
	ds   *pipeline.Dataset
	load Loader
}

func NewHolder(load Loader) *Holder {
	return &Holder{load: load}
}

// Reload loads a new dataset. On failure the current one stays in place.
func (h *Holder) Reload(ctx context.Context) error {
	ds, err := h.load(ctx)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.ds = ds
	h.mu.Unlock()
	return nil
}

// Dataset returns the current dataset.
func (h *Holder) Dataset() (*pipeline.Dataset, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.ds == nil {
		return nil, ErrNotLoaded
	}
	return h.ds, nil
}
