package inference

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/calebodell/ember/internal/kvcache"
)

// SaveSession persists the token history: a little-endian u64 count
// followed by int32 token ids. The write goes through a temp file and a
// rename so a crash never leaves a partial session behind. KV tensors
// are not persisted; a later LoadSession re-prefills.
func (e *Engine) SaveSession(path string) error {
	blob := e.cache.Serialize()

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionIO, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(blob); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrSessionIO, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrSessionIO, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrSessionIO, err)
	}
	return nil
}

// LoadSession restores a token history written by SaveSession. The
// backend KV is cleared, so the next generate re-prefills from the
// restored history. On any failure the engine state is untouched.
func (e *Engine) LoadSession(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionIO, err)
	}
	tokens, err := kvcache.DecodeTokens(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionIO, err)
	}
	if len(tokens) > e.cfg.NCtx {
		return fmt.Errorf("%w: session holds %d tokens, context holds %d", ErrSessionIO, len(tokens), e.cfg.NCtx)
	}

	e.model.KVClear()
	e.nPast = 0
	e.cache.Update(tokens)
	return nil
}
