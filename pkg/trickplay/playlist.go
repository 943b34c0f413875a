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

package trickplay

import (
	"fmt"
	"strconv"
	"strings"

	"mediaforge/pkg/artifacts"
)

// Playlist renders the "images only" HLS tile playlist for one persisted
// TrickplayInfo row. mediaSourceID should already have dashes stripped.
func Playlist(info artifacts.TrickplayInfo, mediaSourceID, apiKey string) string {
	intervalS := float64(info.IntervalMs) / 1000
	perTile := info.TileWidth * info.TileHeight
	tileCount := ceilDiv(info.ThumbnailCount, perTile)

	var b strings.Builder
	fmt.Fprintf(&b, "#EXTM3U\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", tileCount)
	fmt.Fprintf(&b, "#EXT-X-VERSION:7\n")
	fmt.Fprintf(&b, "#EXT-X-MEDIA-SEQUENCE:1\n")
	fmt.Fprintf(&b, "#EXT-X-PLAYLIST-TYPE:VOD\n")
	fmt.Fprintf(&b, "#EXT-X-IMAGES-ONLY\n")

	for k := 0; k < tileCount; k++ {
		thumbsInTile := perTile
		if k == tileCount-1 {
			thumbsInTile = info.ThumbnailCount - k*perTile
		}
		extinf := float64(thumbsInTile) * intervalS

		fmt.Fprintf(&b, "#EXTINF:%s,\n", trimTrailingZeros(extinf))
		fmt.Fprintf(&b, "#EXT-X-TILES:RESOLUTION=%dx%d,LAYOUT=%dx%d,DURATION=%s\n",
			info.Width, info.Height, info.TileWidth, info.TileHeight, trimTrailingZeros(intervalS))
		fmt.Fprintf(&b, "%d.jpg?MediaSourceId=%s&ApiKey=%s\n", k, mediaSourceID, apiKey)
	}

	fmt.Fprintf(&b, "#EXT-X-ENDLIST\n")
	return b.String()
}

func trimTrailingZeros(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	return s
}
