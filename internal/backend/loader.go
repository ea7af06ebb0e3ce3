package backend

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Config carries everything a loader needs to materialize a model.
type Config struct {
	ModelPath  string
	NCtx       int
	NBatch     int
	NGPULayers int
	NThreads   int
	UseMmap    bool
	UseMlock   bool
}

// Loader opens a model file and returns a live handle.
type Loader func(cfg Config) (Model, error)

var (
	loadersMu sync.Mutex
	loaders   = map[string]Loader{}
)

// Register associates a loader with a model-file extension (".toy",
// ".gguf", ...). Later registrations for the same extension win.
func Register(ext string, l Loader) {
	loadersMu.Lock()
	defer loadersMu.Unlock()
	loaders[strings.ToLower(ext)] = l
}

// Open loads the model named by cfg.ModelPath using the loader registered
// for its extension.
func Open(cfg Config) (Model, error) {
	ext := strings.ToLower(filepath.Ext(cfg.ModelPath))

	loadersMu.Lock()
	l, ok := loaders[ext]
	loadersMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no backend registered for %q (have %s)", ext, registeredExts())
	}
	return l(cfg)
}

func registeredExts() string {
	loadersMu.Lock()
	defer loadersMu.Unlock()
	exts := make([]string, 0, len(loaders))
	for ext := range loaders {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return strings.Join(exts, ", ")
}
