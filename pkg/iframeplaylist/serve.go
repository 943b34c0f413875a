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

package iframeplaylist

import (
	"strings"
)

// RewriteForServing appends "?MediaSourceId=<mediaSourceID>&ApiKey=<apiKey>"
// to every segment reference in manifest: plain URI lines (*.m4s, init.mp4)
// and the URI attribute inside #EXT-X-MAP. The rewrite is textual and
// line-based; unrecognised directives pass through unchanged.
func RewriteForServing(manifest, mediaSourceID, apiKey string) string {
	suffix := "?MediaSourceId=" + mediaSourceID + "&ApiKey=" + apiKey

	lines := strings.Split(manifest, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(trimmed, "#EXT-X-MAP:"):
			lines[i] = rewriteMapURI(line, suffix)
		case trimmed == "" || strings.HasPrefix(trimmed, "#"):
			// comment, tag or blank line: left as-is.
		default:
			lines[i] = line + suffix
		}
	}
	return strings.Join(lines, "\n")
}

// rewriteMapURI rewrites the URI="..." attribute of an #EXT-X-MAP line.
func rewriteMapURI(line, suffix string) string {
	const attr = `URI="`
	start := strings.Index(line, attr)
	if start == -1 {
		return line
	}
	start += len(attr)
	end := strings.Index(line[start:], `"`)
	if end == -1 {
		return line
	}
	end += start

	return line[:end] + suffix + line[end:]
}
