package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-esri/pkg/maplibre"
)

type addCall struct {
	id  string
	src *maplibre.Source
}

// recordingMap is a MemoryMap that records AddSource and RemoveSource calls.
type recordingMap struct {
	*maplibre.MemoryMap

	mu      sync.Mutex
	adds    []addCall
	removes []string
}

func newRecordingMap() *recordingMap {
	return &recordingMap{MemoryMap: maplibre.NewMemoryMap(orb.Point{-120, 38}, 4, 512, 512)}
}

func (r *recordingMap) AddSource(id string, src *maplibre.Source) error {
	r.mu.Lock()
	r.adds = append(r.adds, addCall{id: id, src: src.Clone()})
	r.mu.Unlock()
	return r.MemoryMap.AddSource(id, src)
}

func (r *recordingMap) RemoveSource(id string) error {
	r.mu.Lock()
	r.removes = append(r.removes, id)
	r.mu.Unlock()
	return r.MemoryMap.RemoveSource(id)
}

func (r *recordingMap) counts() (adds, removes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.adds), len(r.removes)
}

func (r *recordingMap) source(t *testing.T, id string) *maplibre.Source {
	t.Helper()
	src, ok := r.GetStyle().Sources[id]
	if !ok {
		t.Fatalf("source %q not on the map", id)
	}
	return src
}

// plainHandle is a source without in-place setters.
type plainHandle struct{ spec *maplibre.Source }

func (h plainHandle) Spec() *maplibre.Source { return h.spec }

type fakeCache struct {
	mu      sync.Mutex
	cleared int
	updated int
}

func (c *fakeCache) ClearTiles() {
	c.mu.Lock()
	c.cleared++
	c.mu.Unlock()
}

func (c *fakeCache) Update(maplibre.Transform) {
	c.mu.Lock()
	c.updated++
	c.mu.Unlock()
}

// compatMap hands out sources without setters, so updates have to fall
// back to source caches or remove and re-add.
type compatMap struct {
	*recordingMap
	specs map[string]*maplibre.Source
	cache *fakeCache
}

func newCompatMap() *compatMap {
	return &compatMap{recordingMap: newRecordingMap(), specs: map[string]*maplibre.Source{}, cache: &fakeCache{}}
}

func (c *compatMap) AddSource(id string, src *maplibre.Source) error {
	if err := c.recordingMap.AddSource(id, src); err != nil {
		return err
	}
	c.specs[id] = src.Clone()
	return nil
}

func (c *compatMap) RemoveSource(id string) error {
	if err := c.recordingMap.RemoveSource(id); err != nil {
		return err
	}
	delete(c.specs, id)
	return nil
}

func (c *compatMap) GetSource(id string) (maplibre.SourceHandle, bool) {
	spec, ok := c.specs[id]
	if !ok {
		return nil, false
	}
	return plainHandle{spec: spec}, true
}

func (c *compatMap) Transform() maplibre.Transform {
	center, zoom := c.View()
	w, h := c.CanvasSize()
	return maplibre.Transform{Center: center, Zoom: zoom, Width: w, Height: h}
}

// legacyMap exposes style.sourceCaches.
type legacyMap struct{ *compatMap }

func (l legacyMap) SourceCache(id string) (maplibre.SourceCache, bool) {
	_, ok := l.specs[id]
	return l.cache, ok
}

// otherCacheMap exposes style._otherSourceCaches.
type otherCacheMap struct{ *compatMap }

func (o otherCacheMap) OtherSourceCache(id string) (maplibre.SourceCache, bool) {
	_, ok := o.specs[id]
	return o.cache, ok
}

func readyCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}
