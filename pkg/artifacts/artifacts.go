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

// Package artifacts is the durable record store for trickplay and I-frame
// playlist metadata, backed by a single bbolt database file.
package artifacts

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	trickplayBucket = []byte("trickplay_infos")
	iframeBucket    = []byte("iframe_playlist_infos")
)

// TrickplayInfo is one persisted trickplay tile set, keyed by (ItemID, Width).
type TrickplayInfo struct {
	ItemID         string
	Width          int
	Height         int
	TileWidth      int
	TileHeight     int
	IntervalMs     int
	ThumbnailCount int
	Bandwidth      int
	UpdatedAt      time.Time
}

// IFramePlaylistInfo is one persisted I-frame HLS playlist, keyed by ItemID.
type IFramePlaylistInfo struct {
	ItemID       string
	Width        int
	Height       int
	SegmentCount int
	Bandwidth    int
	UpdatedAt    time.Time
}

// Store is a durable record store for trickplay and I-frame playlist rows.
// Operations are atomic at the single-record level and durable by the time
// they return.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the bbolt database at path and ensures
// both buckets exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("could not open artifact database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(trickplayBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(iframeBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func trickplayKey(itemID string, width int) []byte {
	key := make([]byte, len(itemID)+1+4)
	copy(key, itemID)
	key[len(itemID)] = 0
	binary.BigEndian.PutUint32(key[len(itemID)+1:], uint32(width))
	return key
}

// GetTrickplay returns the row for (itemID, width), or ok=false if absent.
func (s *Store) GetTrickplay(itemID string, width int) (TrickplayInfo, bool, error) {
	var info TrickplayInfo
	var found bool

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(trickplayBucket).Get(trickplayKey(itemID, width))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &info)
	})
	if err != nil {
		return TrickplayInfo{}, false, fmt.Errorf("could not get trickplay info: %w", err)
	}
	return info, found, nil
}

// ListTrickplayByItem returns every trickplay row for itemID, ordered by width.
func (s *Store) ListTrickplayByItem(itemID string) ([]TrickplayInfo, error) {
	var out []TrickplayInfo

	prefix := append([]byte(itemID), 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(trickplayBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			// an item id that itself starts with itemID+NUL shares the
			// prefix; only keys of exactly itemID+NUL+width belong here.
			if len(k) != len(prefix)+4 {
				continue
			}
			var info TrickplayInfo
			if err := json.Unmarshal(v, &info); err != nil {
				return err
			}
			out = append(out, info)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("could not list trickplay infos: %w", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Width < out[j].Width })
	return out, nil
}

// UpsertTrickplay replaces (or creates) the row for its (ItemID, Width) key.
func (s *Store) UpsertTrickplay(info TrickplayInfo) error {
	value, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("could not marshal trickplay info: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(trickplayBucket).Put(trickplayKey(info.ItemID, info.Width), value)
	})
	if err != nil {
		return fmt.Errorf("could not upsert trickplay info: %w", err)
	}
	return nil
}

// DeleteTrickplayByItem deletes every trickplay row for itemID.
func (s *Store) DeleteTrickplayByItem(itemID string) error {
	prefix := append([]byte(itemID), 0)
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(trickplayBucket)
		c := b.Cursor()

		var keys [][]byte
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			if len(k) != len(prefix)+4 {
				continue
			}
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("could not delete trickplay infos: %w", err)
	}
	return nil
}

// ListTrickplay lists up to limit trickplay rows starting at offset, ordered
// by ItemID then Width.
func (s *Store) ListTrickplay(limit, offset int) ([]TrickplayInfo, error) {
	var all []TrickplayInfo

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(trickplayBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var info TrickplayInfo
			if err := json.Unmarshal(v, &info); err != nil {
				return err
			}
			all = append(all, info)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("could not list trickplay infos: %w", err)
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].ItemID != all[j].ItemID {
			return all[i].ItemID < all[j].ItemID
		}
		return all[i].Width < all[j].Width
	})

	return paginate(all, limit, offset), nil
}

// GetIFramePlaylist returns the row for itemID, or ok=false if absent.
func (s *Store) GetIFramePlaylist(itemID string) (IFramePlaylistInfo, bool, error) {
	var info IFramePlaylistInfo
	var found bool

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(iframeBucket).Get([]byte(itemID))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &info)
	})
	if err != nil {
		return IFramePlaylistInfo{}, false, fmt.Errorf("could not get iframe playlist info: %w", err)
	}
	return info, found, nil
}

// UpsertIFramePlaylist replaces (or creates) the row for its ItemID key.
func (s *Store) UpsertIFramePlaylist(info IFramePlaylistInfo) error {
	value, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("could not marshal iframe playlist info: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(iframeBucket).Put([]byte(info.ItemID), value)
	})
	if err != nil {
		return fmt.Errorf("could not upsert iframe playlist info: %w", err)
	}
	return nil
}

// DeleteIFramePlaylistByItem deletes the row for itemID, if any.
func (s *Store) DeleteIFramePlaylistByItem(itemID string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(iframeBucket).Delete([]byte(itemID))
	})
	if err != nil {
		return fmt.Errorf("could not delete iframe playlist info: %w", err)
	}
	return nil
}

// ListIFramePlaylists lists up to limit rows starting at offset, ordered by ItemID.
func (s *Store) ListIFramePlaylists(limit, offset int) ([]IFramePlaylistInfo, error) {
	var all []IFramePlaylistInfo

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(iframeBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var info IFramePlaylistInfo
			if err := json.Unmarshal(v, &info); err != nil {
				return err
			}
			all = append(all, info)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("could not list iframe playlist infos: %w", err)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].ItemID < all[j].ItemID })
	return paginate(all, limit, offset), nil
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i, b := range prefix {
		if k[i] != b {
			return false
		}
	}
	return true
}

func paginate[T any](all []T, limit, offset int) []T {
	if offset >= len(all) {
		return nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all
}
