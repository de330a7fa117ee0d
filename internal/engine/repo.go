package engine

import (
	"context"
	"fmt"
	"os"

	"visiond/internal/slot"

	"visiond/pkg/types"
)

// diskHandle references loaded weights on disk.
type diskHandle struct {
	id   string
	path string
	// sizeMB is an estimate used for status reporting.
	sizeMB int64
}

func (h diskHandle) ResourceID() string { return h.id }
func (h diskHandle) Path() string       { return h.path }
func (h diskHandle) SizeMB() int64      { return h.sizeMB }

// DiskRepository resolves registry model ids to weight files and stands
// in for the runtime's load/unload of those weights. Load validates the
// file is present and readable; Unload lets the handle drop.
type DiskRepository struct {
	models map[string]types.Model
}

func NewDiskRepository(models []types.Model) *DiskRepository {
	m := make(map[string]types.Model, len(models))
	for _, mdl := range models {
		m[mdl.ID] = mdl
	}
	return &DiskRepository{models: m}
}

var _ slot.ModelRepository = (*DiskRepository)(nil)

func (r *DiskRepository) Load(ctx context.Context, resourceID string) (slot.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mdl, ok := r.models[resourceID]
	if !ok {
		return nil, fmt.Errorf("model %q not in registry", resourceID)
	}
	fi, err := os.Stat(mdl.Path)
	if err != nil {
		return nil, fmt.Errorf("stat weights: %w", err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("weights path %q is a directory", mdl.Path)
	}
	return diskHandle{id: resourceID, path: mdl.Path, sizeMB: fi.Size() / (1 << 20)}, nil
}

func (r *DiskRepository) Unload(slot.Handle) error { return nil }
