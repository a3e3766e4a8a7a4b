/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package schemamigrator

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
	"github.com/tryfix/errors"
	"gopkg.in/yaml.v3"
)

// IDMap maps schema ids of a source registry to the ids of the same schemas on the target
type IDMap struct {
	mu  sync.RWMutex
	ids map[int]int
}

type idMapFile struct {
	IDs map[int]int `yaml:"ids"`
}

func NewIDMap() *IDMap {
	return &IDMap{ids: make(map[int]int)}
}

func (m *IDMap) Set(source, target int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ids[source] = target
}

func (m *IDMap) Get(source int) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.ids[source]
	return id, ok
}

func (m *IDMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.ids)
}

// Merge copies every mapping of other into m, mappings of other win
func (m *IDMap) Merge(other *IDMap) {
	if other == nil || other == m {
		return
	}

	other.mu.RLock()
	defer other.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	for k, v := range other.ids {
		m.ids[k] = v
	}
}

// Save writes the map as YAML to path
func (m *IDMap) Save(fs afero.Fs, path string) error {
	m.mu.RLock()
	byt, err := yaml.Marshal(idMapFile{IDs: m.ids})
	m.mu.RUnlock()
	if err != nil {
		return errors.WithPrevious(err, `cannot encode id map`)
	}

	if dir := filepath.Dir(path); dir != `.` {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return errors.WithPrevious(err, fmt.Sprintf(`cannot create directory %s`, dir))
		}
	}

	if err := afero.WriteFile(fs, path, byt, 0o644); err != nil {
		return errors.WithPrevious(err, fmt.Sprintf(`cannot write id map %s`, path))
	}

	return nil
}

// LoadIDMap reads a map written by IDMap.Save. A missing file yields an empty map.
func LoadIDMap(fs afero.Fs, path string) (*IDMap, error) {
	byt, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewIDMap(), nil
		}
		return nil, errors.WithPrevious(err, fmt.Sprintf(`cannot read id map %s`, path))
	}

	file := idMapFile{}
	if err := yaml.Unmarshal(byt, &file); err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`cannot decode id map %s`, path))
	}

	m := NewIDMap()
	for k, v := range file.IDs {
		m.ids[k] = v
	}

	return m, nil
}
