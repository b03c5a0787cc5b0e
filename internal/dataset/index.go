// Package dataset tracks one open folder of scan files and caches what
// has been parsed from them, so that repeated reads never hit the disk
// twice for an unchanged file.
package dataset

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"sxmcli/internal/config"
	"sxmcli/internal/errs"
	"sxmcli/internal/infrastructure"
	"sxmcli/internal/sxmfile"
	"sxmcli/pkg/contracts/domain"
)

// FrameEntry is one row of a folder listing. Meta is nil exactly when
// Err is set; a file that fails to parse never hides the rest of the
// folder.
type FrameEntry struct {
	Path string            `json:"path"`
	Meta *domain.FrameMeta `json:"meta,omitempty"`
	Err  error             `json:"-"`
}

// fileState is everything the index knows about one tracked file. A
// refresh that detects a change installs a fresh value, so a loader
// still holding the old pointer cannot write stale results into the
// new entry.
type fileState struct {
	modTime time.Time
	size    int64

	meta    *domain.FrameMeta
	metaErr error

	frame    *domain.ScanFrame
	frameErr error
	loading  chan struct{} // non-nil while a full parse is in flight
}

func (st *fileState) metaLoaded() bool {
	return st.meta != nil || st.metaErr != nil
}

func (st *fileState) frameLoaded() bool {
	return st.frame != nil || st.frameErr != nil
}

// Index is the process-scoped cache for one open folder. All mutation
// goes through the mutex; parses run outside it so a slow file never
// blocks lookups of other paths.
type Index struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *infrastructure.Metrics
	parser  *sxmfile.Parser

	mu     sync.RWMutex
	folder string
	files  map[string]*fileState
}

// New creates an index around cfg's format settings. A nil logger falls
// back to slog.Default; nil metrics get a private registry.
func New(cfg *config.Config, logger *slog.Logger, metrics *infrastructure.Metrics) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = infrastructure.NewMetrics()
	}
	return &Index{
		cfg:     cfg,
		logger:  infrastructure.WithComponent(logger, "dataset"),
		metrics: metrics,
		parser:  sxmfile.NewParser(logger, cfg.Format.MaxHeaderBytes),
	}
}

// Open scopes the index to folder, superseding any previously open one.
// Files matching the configured scan extensions are recorded with their
// current mtime and size; nothing is parsed until asked for.
func (ix *Index) Open(folder string) error {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return errs.IOFailure(fmt.Sprintf("scan folder %s", folder), err)
	}

	files := make(map[string]*fileState)
	for _, entry := range entries {
		if entry.IsDir() || !ix.cfg.IsScanFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue // removed between the listing and the stat
		}
		path := filepath.Join(folder, entry.Name())
		files[path] = &fileState{modTime: info.ModTime(), size: info.Size()}
	}

	ix.mu.Lock()
	ix.folder = folder
	ix.files = files
	ix.mu.Unlock()

	ix.metrics.SetTrackedFiles(len(files))
	ix.logger.Info("folder opened", "folder", folder, "files", len(files))
	return nil
}

// Folder returns the currently open folder, or "" when none is open.
func (ix *Index) Folder() string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.folder
}

// ListFrames returns one entry per tracked file, sorted by path. The
// header-only metadata is parsed on first listing and cached; a
// per-path failure becomes that entry's Err and the listing goes on.
func (ix *Index) ListFrames() []FrameEntry {
	ix.mu.RLock()
	paths := make([]string, 0, len(ix.files))
	for path := range ix.files {
		paths = append(paths, path)
	}
	ix.mu.RUnlock()
	sort.Strings(paths)

	entries := make([]FrameEntry, 0, len(paths))
	for _, path := range paths {
		entries = append(entries, ix.frameEntry(path))
	}
	return entries
}

func (ix *Index) frameEntry(path string) FrameEntry {
	ix.mu.RLock()
	st, ok := ix.files[path]
	if !ok {
		ix.mu.RUnlock()
		return FrameEntry{Path: path, Err: errs.FileVanished(path)}
	}
	if st.metaLoaded() {
		meta, err := st.meta, st.metaErr
		ix.mu.RUnlock()
		return FrameEntry{Path: path, Meta: meta, Err: err}
	}
	ix.mu.RUnlock()

	meta, err := ix.parser.ParseMeta(path)
	if err != nil {
		ix.metrics.RecordParseError(errs.Label(err))
		ix.logger.Warn("header parse failed", "path", path, "error", err)
	}

	ix.mu.Lock()
	if cur, tracked := ix.files[path]; tracked && cur == st {
		cur.meta, cur.metaErr = meta, err
	}
	ix.mu.Unlock()

	return FrameEntry{Path: path, Meta: meta, Err: err}
}

// Meta returns the header-only metadata for one tracked path, parsing
// and caching it on first access. Untracked paths report FileVanished.
func (ix *Index) Meta(path string) (*domain.FrameMeta, error) {
	entry := ix.frameEntry(path)
	return entry.Meta, entry.Err
}

// GetFrame returns the fully parsed and classified frame for path,
// loading it on first access. Concurrent callers for the same path
// share one load; for an unchanged file the parse happens at most once,
// and a parse failure is cached just like a success until a refresh
// evicts the entry. Paths outside the tracked set report FileVanished.
func (ix *Index) GetFrame(path string) (*domain.ScanFrame, error) {
	for {
		ix.mu.Lock()
		st, ok := ix.files[path]
		if !ok {
			ix.mu.Unlock()
			return nil, errs.FileVanished(path)
		}
		if st.frameLoaded() {
			frame, err := st.frame, st.frameErr
			ix.mu.Unlock()
			ix.metrics.RecordCacheHit()
			return frame, err
		}
		if st.loading != nil {
			done := st.loading
			ix.mu.Unlock()
			<-done
			continue // the loader finished or the entry was evicted
		}
		done := make(chan struct{})
		st.loading = done
		ix.mu.Unlock()

		ix.metrics.RecordCacheMiss()
		frame, err := ix.parser.Parse(path)
		if err != nil {
			ix.metrics.RecordParseError(errs.Label(err))
			ix.logger.Warn("frame parse failed", "path", path, "error", err)
		} else {
			ix.metrics.RecordParse()
		}

		ix.mu.Lock()
		if cur, tracked := ix.files[path]; tracked && cur == st {
			st.frame, st.frameErr = frame, err
		}
		st.loading = nil
		ix.mu.Unlock()
		close(done)

		return frame, err
	}
}

// Refresh re-stats every tracked file and rescans the folder. Entries
// whose mtime or size changed are evicted along with vanished ones; new
// files join the tracked set unparsed. The returned paths, sorted, are
// everything that changed. Refresh itself never parses.
func (ix *Index) Refresh() []string {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.folder == "" {
		return nil
	}

	var changed []string
	evicted := 0

	for path, st := range ix.files {
		info, err := os.Stat(path)
		if err != nil {
			if st.metaLoaded() || st.frameLoaded() {
				evicted++
			}
			delete(ix.files, path)
			changed = append(changed, path)
			continue
		}
		if !info.ModTime().Equal(st.modTime) || info.Size() != st.size {
			if st.metaLoaded() || st.frameLoaded() {
				evicted++
			}
			ix.files[path] = &fileState{modTime: info.ModTime(), size: info.Size()}
			changed = append(changed, path)
		}
	}

	if entries, err := os.ReadDir(ix.folder); err == nil {
		for _, entry := range entries {
			if entry.IsDir() || !ix.cfg.IsScanFile(entry.Name()) {
				continue
			}
			path := filepath.Join(ix.folder, entry.Name())
			if _, tracked := ix.files[path]; tracked {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			ix.files[path] = &fileState{modTime: info.ModTime(), size: info.Size()}
			changed = append(changed, path)
		}
	} else {
		ix.logger.Warn("folder rescan failed", "folder", ix.folder, "error", err)
	}

	sort.Strings(changed)
	if evicted > 0 {
		ix.metrics.RecordEvictions(evicted)
	}
	ix.metrics.SetTrackedFiles(len(ix.files))
	if len(changed) > 0 {
		ix.logger.Info("refresh found changes", "folder", ix.folder, "changed", len(changed))
	}
	return changed
}

// Close drops the cache and the tracked set. The index can be reused by
// opening another folder.
func (ix *Index) Close() {
	ix.mu.Lock()
	ix.folder = ""
	ix.files = nil
	ix.mu.Unlock()
	ix.metrics.SetTrackedFiles(0)
}
