package assets

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/anima-core/engine/core"
)

type AssetType uint8

const (
	AssetTypeNone AssetType = iota
	AssetTypeTexture
	AssetTypeShader
	AssetTypeScene
)

func (t AssetType) String() string {
	switch t {
	case AssetTypeTexture:
		return "texture"
	case AssetTypeShader:
		return "shader"
	case AssetTypeScene:
		return "scene"
	}
	return "none"
}

// DefaultDebounce collapses the burst of write events editors produce on save.
const DefaultDebounce = 250 * time.Millisecond

type AssetInfo struct {
	// Path relative to the asset root, slash separated.
	Path     string
	Type     AssetType
	Modified time.Time
}

/**
 * @brief Indexes the asset directory and, when watching, fires
 * EVENT_CODE_ASSETS_CHANGED with the relative path in Data.C[0] once a
 * burst of changes to a known asset has settled.
 */
type AssetManager struct {
	Root     string
	Debounce time.Duration

	mu     sync.RWMutex
	assets map[string]AssetInfo

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

func NewAssetManager(debounce time.Duration) *AssetManager {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &AssetManager{
		Debounce: debounce,
		assets:   make(map[string]AssetInfo),
	}
}

// Initialize indexes root and optionally starts watching it and every sub-directory.
func (am *AssetManager) Initialize(root string, watch bool) error {
	info, err := os.Stat(root)
	if err != nil {
		return errors.Wrapf(err, "asset directory %s", root)
	}
	if !info.IsDir() {
		return errors.Newf("asset path %s is not a directory", root)
	}
	am.Root = root

	if watch {
		if am.watcher, err = fsnotify.NewWatcher(); err != nil {
			return errors.Wrap(err, "creating asset watcher")
		}
	}
	if err := am.walk(root); err != nil {
		am.closeWatcher()
		return err
	}
	core.LogInfo("assets indexed", "root", root, "count", am.Count(), "watch", watch)

	if watch {
		am.done = make(chan struct{})
		am.wg.Add(1)
		go am.run()
	}
	return nil
}

func (am *AssetManager) Shutdown() error {
	if am.done != nil {
		close(am.done)
		am.wg.Wait()
		am.done = nil
	}
	return am.closeWatcher()
}

func (am *AssetManager) closeWatcher() error {
	if am.watcher == nil {
		return nil
	}
	err := am.watcher.Close()
	am.watcher = nil
	return err
}

func (am *AssetManager) Count() int {
	am.mu.RLock()
	defer am.mu.RUnlock()
	return len(am.assets)
}

// Lookup finds an indexed asset by its path relative to the root.
func (am *AssetManager) Lookup(path string) (AssetInfo, bool) {
	am.mu.RLock()
	defer am.mu.RUnlock()
	a, ok := am.assets[filepath.ToSlash(path)]
	return a, ok
}

// Assets lists the indexed assets of a type ordered by path.
func (am *AssetManager) Assets(t AssetType) []AssetInfo {
	am.mu.RLock()
	out := make([]AssetInfo, 0, len(am.assets))
	for _, a := range am.assets {
		if a.Type == t {
			out = append(out, a)
		}
	}
	am.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Abs resolves a root-relative asset path.
func (am *AssetManager) Abs(path string) string {
	return filepath.Join(am.Root, filepath.FromSlash(path))
}

func (am *AssetManager) walk(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if am.watcher != nil {
				if err := am.watcher.Add(p); err != nil {
					return errors.Wrapf(err, "watching %s", p)
				}
			}
			return nil
		}
		am.index(p)
		return nil
	})
}

func (am *AssetManager) relative(p string) (string, bool) {
	rel, err := filepath.Rel(am.Root, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// index records p and reports whether it is a known asset type.
func (am *AssetManager) index(p string) (string, bool) {
	rel, ok := am.relative(p)
	if !ok {
		return "", false
	}
	t := DetermineAssetType(p)
	if t == AssetTypeNone {
		return rel, false
	}
	modified := time.Now()
	if info, err := os.Stat(p); err == nil {
		modified = info.ModTime()
	}
	am.mu.Lock()
	am.assets[rel] = AssetInfo{Path: rel, Type: t, Modified: modified}
	am.mu.Unlock()
	return rel, true
}

func (am *AssetManager) forget(p string) (string, bool) {
	rel, ok := am.relative(p)
	if !ok {
		return "", false
	}
	am.mu.Lock()
	defer am.mu.Unlock()
	if _, ok := am.assets[rel]; !ok {
		return rel, false
	}
	delete(am.assets, rel)
	return rel, true
}

func (am *AssetManager) run() {
	defer am.wg.Done()

	pending := make(map[string]struct{})
	timer := time.NewTimer(am.Debounce)
	timer.Stop()

	for {
		select {
		case e, ok := <-am.watcher.Events:
			if !ok {
				return
			}
			if rel, changed := am.handle(e); changed {
				pending[rel] = struct{}{}
				timer.Reset(am.Debounce)
			}

		case err, ok := <-am.watcher.Errors:
			if !ok {
				return
			}
			core.LogError("asset watcher error", "err", err)

		case <-timer.C:
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			clear(pending)
			for _, p := range paths {
				core.LogDebug("asset changed", "path", p)
				ctx := core.EventContext{}
				ctx.Data.C[0] = p
				core.EventFire(core.EVENT_CODE_ASSETS_CHANGED, am, ctx)
			}

		case <-am.done:
			timer.Stop()
			return
		}
	}
}

// handle updates the index for one watcher event and reports whether a known asset changed.
func (am *AssetManager) handle(e fsnotify.Event) (string, bool) {
	if e.Has(fsnotify.Create) {
		if s, err := os.Stat(e.Name); err == nil && s.IsDir() {
			if err := am.walk(e.Name); err != nil {
				core.LogWarn("unable to watch new directory", "path", e.Name, "err", err)
			}
			return "", false
		}
	}
	switch {
	case e.Has(fsnotify.Create), e.Has(fsnotify.Write):
		return am.index(e.Name)
	case e.Has(fsnotify.Remove), e.Has(fsnotify.Rename):
		// fsnotify drops watches on removed directories by itself.
		return am.forget(e.Name)
	}
	return "", false
}

func DetermineAssetType(path string) AssetType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff", ".webp":
		return AssetTypeTexture
	case ".spv":
		return AssetTypeShader
	case ".gltf", ".glb":
		return AssetTypeScene
	}
	return AssetTypeNone
}
