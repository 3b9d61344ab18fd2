// ABOUTME: Decoded track metadata mapping
// ABOUTME: Convenience accessors over the human-readable keys
package dmap

import (
	"maps"
	"strconv"
)

// Metadata maps human-readable keys to decoded values
type Metadata map[string]string

// Title returns the track title
func (m Metadata) Title() string { return m[KeyTitle] }

// Artist returns the track artist
func (m Metadata) Artist() string { return m[KeyArtist] }

// Album returns the album name
func (m Metadata) Album() string { return m[KeyAlbum] }

// Track returns the track number and total; zero when absent
func (m Metadata) Track() (current, total int) {
	return m.pair(KeyTrackNumber, KeyTrackCount)
}

// Disc returns the disc number and total; zero when absent
func (m Metadata) Disc() (current, total int) {
	return m.pair(KeyDiscNumber, KeyDiscCount)
}

func (m Metadata) pair(curKey, totalKey string) (int, int) {
	cur, _ := strconv.Atoi(m[curKey])
	total, _ := strconv.Atoi(m[totalKey])
	return cur, total
}

// Clone returns an independent copy
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}

// Equal reports whether both mappings hold the same keys and values
func (m Metadata) Equal(other Metadata) bool {
	return maps.Equal(m, other)
}
