package script

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"github.com/pelletier/go-toml/v2"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/stratawm/strata/scripting/internal/limits"
	"github.com/stratawm/strata/scripting/internal/monitoring"
)

// Manifest is the optional manifest.toml in a script directory. With
// an entry list, files load in exactly that order. Without one, every
// .lua file under the directory loads in sorted path order, filtered
// by the include/exclude globs. A load_timeout_ms bounds each file's
// top-level load in place of the configured load limit.
type Manifest struct {
	Name          string   `toml:"name"`
	Entry         []string `toml:"entry"`
	Include       []string `toml:"include"`
	Exclude       []string `toml:"exclude"`
	LoadTimeoutMS int      `toml:"load_timeout_ms"`
}

const manifestName = "manifest.toml"

// LoadDir loads the script directory on the executor. A missing
// directory is not an error; the runtime just starts empty. A broken
// script stops the load and reports which file failed.
func (r *Runtime) LoadDir(dir string) error {
	if dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		r.logger.Info("script dir missing, nothing loaded", zap.String("dir", dir))
		return nil
	}

	man, err := readManifest(dir)
	if err != nil {
		return err
	}

	var files []string
	if len(man.Entry) > 0 {
		for _, rel := range man.Entry {
			files = append(files, filepath.Join(dir, rel))
		}
	} else {
		if files, err = collectScripts(dir, man); err != nil {
			return err
		}
	}

	if man.Name != "" {
		r.logger.Info("loading scripts",
			zap.String("name", man.Name), zap.Int("files", len(files)))
	} else {
		r.logger.Info("loading scripts",
			zap.String("dir", dir), zap.Int("files", len(files)))
	}

	lim := r.loadLimit
	if man.LoadTimeoutMS > 0 {
		lim = limits.Limits{Timeout: time.Duration(man.LoadTimeoutMS) * time.Millisecond}
	}
	for _, path := range files {
		if err := r.loadFile(path, lim); err != nil {
			return err
		}
	}
	return nil
}

func readManifest(dir string) (*Manifest, error) {
	man := &Manifest{}
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if os.IsNotExist(err) {
		return man, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	if err := toml.Unmarshal(data, man); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return man, nil
}

// collectScripts walks dir for .lua files matching the manifest
// globs. The walk callback runs concurrently, hence the lock.
func collectScripts(dir string, man *Manifest) ([]string, error) {
	var mu sync.Mutex
	var files []string

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(p, ".lua") {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return nil
		}
		if !man.selects(rel) {
			return nil
		}
		mu.Lock()
		files = append(files, p)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}

	sort.Strings(files)
	return files, nil
}

// selects applies include then exclude globs to a dir-relative path.
// No include globs means everything is included.
func (m *Manifest) selects(rel string) bool {
	rel = filepath.ToSlash(rel)
	if len(m.Include) > 0 {
		found := false
		for _, g := range m.Include {
			if ok, err := doublestar.Match(g, rel); err == nil && ok {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, g := range m.Exclude {
		if ok, err := doublestar.Match(g, rel); err == nil && ok {
			return false
		}
	}
	return true
}

// LoadFile runs one script file on the executor under the load limit.
// Loads run outside any event context, so state queries take the
// live path.
func (r *Runtime) LoadFile(path string) error {
	return r.loadFile(path, r.loadLimit)
}

func (r *Runtime) loadFile(path string, lim limits.Limits) error {
	return r.Do(func(L *lua.LState) error {
		err := r.runLoad(L, lim, func() error { return L.DoFile(path) })
		if err != nil {
			return fmt.Errorf("load %s: %w", filepath.Base(path), err)
		}
		return nil
	})
}

// LoadString runs source text on the executor under the load limit.
func (r *Runtime) LoadString(src string) error {
	return r.Do(func(L *lua.LState) error {
		return r.runLoad(L, r.loadLimit, func() error { return L.DoString(src) })
	})
}

func (r *Runtime) runLoad(L *lua.LState, lim limits.Limits, fn func() error) error {
	prev := r.qctx
	r.qctx = nil
	defer func() { r.qctx = prev }()

	tm := monitoring.StartInvocation(r.metrics, monitoring.KindLoad)
	err := limits.Run(L, lim, fn)
	tm.Stop(limits.IsTimeout(err), limits.IsScriptError(err))
	if err != nil {
		r.logger.Error("script load failed", zap.String("error", limits.ErrorMessage(err)))
	}
	return err
}
