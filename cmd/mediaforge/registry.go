// Copyright 2020-2021 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; version 2.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"fmt"
	"io/ioutil"
	"time"

	"gopkg.in/yaml.v2"

	"mediaforge/pkg/storage"
	"mediaforge/pkg/videoref"
)

// libraryEntry is one item in videos.yaml: a video this instance
// should generate and serve artifacts for. Resolving real media
// libraries is outside this repository's scope; this is a thin
// stand-in so cmd/mediaforge has something concrete to drive
// pkg/mediacore and pkg/httpapi with.
type libraryEntry struct {
	ID        string `yaml:"id"`
	Path      string `yaml:"path"`
	Width     int    `yaml:"width"`
	Height    int    `yaml:"height"`
	DurationS int    `yaml:"durationSeconds"`
}

type registry struct {
	entries map[string]libraryEntry
	opts    *storage.ConfigLibrary
}

func loadRegistry(path string, libraryDir string) (*registry, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read library manifest: %w", err)
	}

	var list []libraryEntry
	if err := yaml.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("could not unmarshal library manifest: %w", err)
	}

	opts, err := storage.NewConfigLibrary(libraryDir)
	if err != nil {
		return nil, fmt.Errorf("could not load library options: %w", err)
	}

	entries := make(map[string]libraryEntry, len(list))
	for _, e := range list {
		entries[e.ID] = e
	}
	return &registry{entries: entries, opts: opts}, nil
}

// Lookup implements httpapi.VideoLookup.
func (r *registry) Lookup(itemID string) (video videoref.VideoRef, saveWithMedia bool, ok bool) {
	e, ok := r.entries[itemID]
	if !ok {
		return videoref.VideoRef{}, false, false
	}
	return e.toVideoRef(), r.opts.Get().SaveWithMedia, true
}

// videos returns every registered video, for the startup refresh sweep.
func (r *registry) videos() []videoref.VideoRef {
	out := make([]videoref.VideoRef, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.toVideoRef())
	}
	return out
}

func (e libraryEntry) toVideoRef() videoref.VideoRef {
	return videoref.VideoRef{
		ID:             e.ID,
		Path:           e.Path,
		Width:          e.Width,
		Height:         e.Height,
		Duration:       time.Duration(e.DurationS) * time.Second,
		HasVideoStream: true,
	}
}
