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

package httpapi

import (
	"sync"

	"mediaforge/pkg/mediacore"
	"mediaforge/pkg/videoref"
)

// ProgressEvent is one refresh-progress notification.
type ProgressEvent struct {
	Width string `json:"width,omitempty"`
	Phase string `json:"phase"`
	Done  bool   `json:"done"`
}

var stagePhase = map[mediacore.Stage]string{
	mediacore.StageStarted:       "started",
	mediacore.StageRootMoved:     "rootMoved",
	mediacore.StageWidthDone:     "widthDone",
	mediacore.StageTrickplayDone: "trickplayDone",
	mediacore.StageIFrameDone:    "iframeDone",
	mediacore.StageFinished:      "finished",
}

// ProgressHub fans out mediacore refresh-progress events to any number
// of per-item websocket subscribers.
type ProgressHub struct {
	mu   sync.Mutex
	subs map[string][]chan ProgressEvent
}

// NewProgressHub returns an empty hub.
func NewProgressHub() *ProgressHub {
	return &ProgressHub{subs: make(map[string][]chan ProgressEvent)}
}

// Hook returns a mediacore.RefreshHook that publishes to this hub.
func (h *ProgressHub) Hook() mediacore.RefreshHook {
	return func(video videoref.VideoRef, stage mediacore.Stage, detail string) {
		h.publish(video.ID, ProgressEvent{
			Width: detail,
			Phase: stagePhase[stage],
			Done:  stage == mediacore.StageFinished,
		})
	}
}

func (h *ProgressHub) publish(itemID string, event ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[itemID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe registers a buffered channel for itemID's events. The
// returned func unsubscribes and must be called when the caller is done.
func (h *ProgressHub) Subscribe(itemID string) (<-chan ProgressEvent, func()) {
	ch := make(chan ProgressEvent, 16)

	h.mu.Lock()
	h.subs[itemID] = append(h.subs[itemID], ch)
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		list := h.subs[itemID]
		for i, c := range list {
			if c == ch {
				h.subs[itemID] = append(list[:i], list[i+1:]...)
				break
			}
		}
		close(ch)
	}
	return ch, cancel
}
