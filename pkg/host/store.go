// SPDX-License-Identifier: MPL-2.0

package host

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/pelletier/go-toml/v2"

	"github.com/orbisgis/framework/pkg/module"
)

const (
	stateFileName    = "state.toml"
	artifactFileName = "artifact.zip"
)

type (
	// store persists the runtime state of a Local runtime. A nil store
	// disables persistence.
	store struct {
		dir string
	}

	stateDoc struct {
		NextID  int64         `toml:"next_id"`
		Modules []stateModule `toml:"module"`
	}

	stateModule struct {
		ID       int64  `toml:"id"`
		Location string `toml:"location"`
		State    string `toml:"state"`
	}
)

func (s *store) moduleDir(id ID) string {
	return filepath.Join(s.dir, "module-"+id.String())
}

func (s *store) saveArtifact(e *entry) error {
	if s == nil {
		return nil
	}
	dir := s.moduleDir(e.id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create module storage: %w", err)
	}
	return writeFileAtomic(filepath.Join(dir, artifactFileName), e.data)
}

func (s *store) removeArtifact(id ID) error {
	if s == nil {
		return nil
	}
	return os.RemoveAll(s.moduleDir(id))
}

// persistLocked writes the state file. Starting and stopping modules are
// recorded with the state they settle in if the process dies mid-transition.
func (l *Local) persistLocked() error {
	if l.store == nil {
		return nil
	}
	doc := stateDoc{NextID: int64(l.nextID)}
	for _, m := range l.sortedLocked() {
		st := m.state
		switch st {
		case StateStarting:
			st = StateResolved
		case StateStopping:
			st = StateActive
		}
		doc.Modules = append(doc.Modules, stateModule{ID: int64(m.id), Location: m.location, State: st.String()})
	}
	data, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode runtime state: %w", err)
	}
	if err := os.MkdirAll(l.store.dir, 0o755); err != nil {
		return fmt.Errorf("create runtime storage: %w", err)
	}
	return writeFileAtomic(filepath.Join(l.store.dir, stateFileName), data)
}

// load restores modules from the state file. Modules whose stored artifact
// can no longer be read are dropped with a warning.
func (l *Local) load() error {
	data, err := os.ReadFile(filepath.Join(l.store.dir, stateFileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read runtime state: %w", err)
	}

	var doc stateDoc
	if err := toml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode runtime state %s: %w", filepath.Join(l.store.dir, stateFileName), err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID = ID(doc.NextID)
	for _, sm := range doc.Modules {
		id := ID(sm.ID)
		artifact := filepath.Join(l.store.moduleDir(id), artifactFileName)
		raw, readErr := os.ReadFile(artifact)
		if readErr != nil {
			l.logger.Warn("dropping module with missing storage", "id", id, "location", sm.Location, "err", readErr)
			continue
		}
		desc, parseErr := module.ReadArtifactBytes(raw)
		if parseErr != nil {
			l.logger.Warn("dropping module with corrupt storage", "id", id, "location", sm.Location, "err", parseErr)
			continue
		}
		desc.Location = sm.Location

		st, stErr := ParseState(sm.State)
		if stErr != nil || st != StateActive {
			st = StateInstalled
		}
		l.modules[id] = &entry{id: id, location: sm.Location, desc: desc, state: st, data: raw}
		if id > l.nextID {
			l.nextID = id
		}
	}
	l.resolveLocked()
	return nil
}

func (l *Local) sortedLocked() []*entry {
	out := make([]*entry, 0, len(l.modules))
	for _, e := range l.modules {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b *entry) int { return cmp.Compare(a.id, b.id) })
	return out
}

func writeFileAtomic(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
