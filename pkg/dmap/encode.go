// ABOUTME: DMAP chunk encoder
// ABOUTME: Builds tagged chunks for tests and the simulated sender
package dmap

import (
	"encoding/binary"
	"maps"
	"slices"
	"strconv"
)

// Chunk is a single tagged DMAP item ready for encoding
type Chunk struct {
	Tag     string
	Payload []byte
}

// String builds a string chunk
func String(tag, value string) Chunk {
	return Chunk{Tag: tag, Payload: []byte(value)}
}

// Uint builds an unsigned integer chunk of the given width (1, 2, 4 or 8 bytes)
func Uint(tag string, value uint64, width int) Chunk {
	p := make([]byte, width)
	switch width {
	case 1:
		p[0] = byte(value)
	case 2:
		binary.BigEndian.PutUint16(p, uint16(value))
	case 4:
		binary.BigEndian.PutUint32(p, uint32(value))
	case 8:
		binary.BigEndian.PutUint64(p, value)
	}
	return Chunk{Tag: tag, Payload: p}
}

// Container builds a chunk whose payload is the encoding of children
func Container(tag string, children ...Chunk) Chunk {
	return Chunk{Tag: tag, Payload: Encode(children...)}
}

// Encode serializes chunks back to back. Tags are padded or cut to four bytes.
func Encode(chunks ...Chunk) []byte {
	size := 0
	for _, c := range chunks {
		size += HeaderSize + len(c.Payload)
	}

	out := make([]byte, 0, size)
	for _, c := range chunks {
		var tag [TagSize]byte
		copy(tag[:], c.Tag)
		out = append(out, tag[:]...)
		out = binary.BigEndian.AppendUint32(out, uint32(len(c.Payload)))
		out = append(out, c.Payload...)
	}
	return out
}

// EncodeMetadata encodes the recognized keys of md as an mlit container
func EncodeMetadata(md Metadata) []byte {
	var items []Chunk
	for _, tag := range slices.Sorted(maps.Keys(tags)) {
		info := tags[tag]
		v, ok := md[info.key]
		if !ok || info.kind == kindContainer {
			continue
		}
		switch info.kind {
		case kindString:
			items = append(items, String(tag, v))
		case kindUint:
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				continue
			}
			items = append(items, Uint(tag, n, uintWidth(tag)))
		}
	}
	return Encode(Container("mlit", items...))
}

func uintWidth(tag string) int {
	switch tag {
	case "caps":
		return 1
	case "asyr", "asbr", "asbt", "astn", "astc", "asdn", "asdc":
		return 2
	case "mper", "asai":
		return 8
	default:
		return 4
	}
}
