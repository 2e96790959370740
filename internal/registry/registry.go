// Package registry maps procedure IDs to extraction procedures. The routing
// engine validates model output against it and the dispatch coordinator
// resolves assignments through it.
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/clearspan/lcaflow/internal/model"
)

// Well-known procedure IDs.
const (
	ProcTabular    = "tabular"
	ProcPDFText    = "pdf_text"
	ProcPDFHybrid  = "pdf_hybrid"
	ProcPDFScanned = "pdf_scanned"
	ProcVision     = "vision"
	ProcMindmap    = "mindmap"
	ProcGeneric    = "generic"
)

// Procedure extracts content from one file's raw bytes.
type Procedure interface {
	ID() string
	Extract(ctx context.Context, meta *model.FileMetadata, data []byte) (*model.NormalizedOutput, error)
}

// Registry holds the registered procedures.
type Registry struct {
	mu    sync.RWMutex
	procs map[string]Procedure
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{procs: make(map[string]Procedure)}
}

// Register adds a procedure. Registering a duplicate ID is a programming
// error and returns one.
func (r *Registry) Register(p Procedure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.procs[p.ID()]; exists {
		return eris.Errorf("registry: duplicate procedure %q", p.ID())
	}
	r.procs[p.ID()] = p
	return nil
}

// Get returns the procedure for id.
func (r *Registry) Get(id string) (Procedure, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.procs[id]
	return p, ok
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// IDs returns the registered procedure IDs, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.procs))
	for id := range r.procs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
