// ABOUTME: DMAP chunk walker and tag table
// ABOUTME: Decodes nested tag/length/payload chunks into Metadata
package dmap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"
)

// Chunk header layout: [Tag:4][Length:4 big-endian][Payload:Length]
const (
	TagSize    = 4
	LengthSize = 4
	HeaderSize = TagSize + LengthSize
)

var (
	// ErrTruncated is returned when a chunk header or payload runs past the end
	// of the buffer. The next chunk boundary cannot be located after it.
	ErrTruncated = errors.New("dmap: truncated chunk")

	// ErrBadPayload is returned for a chunk whose payload does not fit its type
	ErrBadPayload = errors.New("dmap: malformed payload")
)

// Human-readable metadata keys
const (
	KeyTitle       = "song title"
	KeyArtist      = "song artist"
	KeyAlbum       = "song album"
	KeyAlbumArtist = "song album artist"
	KeyGenre       = "song genre"
	KeyComposer    = "song composer"
	KeyComment     = "song comment"
	KeyDescription = "song description"
	KeyFormat      = "song format"
	KeyYear        = "song year"
	KeyTime        = "song time"
	KeyBitrate     = "song bitrate"
	KeySampleRate  = "song sample rate"
	KeyBPM         = "song bpm"
	KeyTrackNumber = "song track number"
	KeyTrackCount  = "song track count"
	KeyDiscNumber  = "song disc number"
	KeyDiscCount   = "song disc count"
	KeyPersistent  = "persistent id"
	KeyAlbumID     = "album id"
	KeyPlayStatus  = "play status"
)

type kind int

const (
	kindString kind = iota
	kindUint
	kindContainer
)

type tagInfo struct {
	key  string
	kind kind
}

var tags = map[string]tagInfo{
	"mlit": {kind: kindContainer},
	"mlcl": {kind: kindContainer},
	"mdcl": {kind: kindContainer},
	"msrv": {kind: kindContainer},
	"cmst": {kind: kindContainer},

	"minm": {KeyTitle, kindString},
	"asar": {KeyArtist, kindString},
	"asal": {KeyAlbum, kindString},
	"asaa": {KeyAlbumArtist, kindString},
	"asgn": {KeyGenre, kindString},
	"ascp": {KeyComposer, kindString},
	"ascm": {KeyComment, kindString},
	"asdt": {KeyDescription, kindString},
	"asfm": {KeyFormat, kindString},

	"asyr": {KeyYear, kindUint},
	"astm": {KeyTime, kindUint},
	"asbr": {KeyBitrate, kindUint},
	"assr": {KeySampleRate, kindUint},
	"asbt": {KeyBPM, kindUint},
	"astn": {KeyTrackNumber, kindUint},
	"astc": {KeyTrackCount, kindUint},
	"asdn": {KeyDiscNumber, kindUint},
	"asdc": {KeyDiscCount, kindUint},
	"mper": {KeyPersistent, kindUint},
	"asai": {KeyAlbumID, kindUint},
	"caps": {KeyPlayStatus, kindUint},
}

// KeyForTag returns the metadata key for a four-character tag
func KeyForTag(tag string) (string, bool) {
	info, ok := tags[tag]
	if !ok || info.kind == kindContainer {
		return "", false
	}
	return info.key, true
}

// Decode walks a buffer of DMAP chunks and collects every recognized tag.
//
// Unknown tags are skipped. A chunk with a malformed payload is dropped and
// decoding resumes at the next chunk. A truncated header or a length running
// past the end of the buffer stops the walk. The returned Metadata always
// holds whatever decoded cleanly; err joins the per-chunk failures.
func Decode(data []byte) (Metadata, error) {
	md := Metadata{}
	var errs []error
	walk(data, md, &errs)
	return md, errors.Join(errs...)
}

func walk(data []byte, md Metadata, errs *[]error) {
	for offset := 0; offset < len(data); {
		if len(data)-offset < HeaderSize {
			*errs = append(*errs, fmt.Errorf("%w: %d trailing bytes at offset %d", ErrTruncated, len(data)-offset, offset))
			return
		}

		tag := string(data[offset : offset+TagSize])
		length := binary.BigEndian.Uint32(data[offset+TagSize : offset+HeaderSize])
		start := offset + HeaderSize

		if uint64(length) > uint64(len(data)-start) {
			*errs = append(*errs, fmt.Errorf("%w: %q declares %d bytes, %d remain", ErrTruncated, tag, length, len(data)-start))
			return
		}

		payload := data[start : start+int(length)]
		offset = start + int(length)

		info, ok := tags[tag]
		if !ok {
			continue
		}

		switch info.kind {
		case kindContainer:
			walk(payload, md, errs)
		case kindString:
			if !utf8.Valid(payload) {
				*errs = append(*errs, fmt.Errorf("%w: %q is not valid UTF-8", ErrBadPayload, tag))
				continue
			}
			md[info.key] = string(payload)
		case kindUint:
			v, err := decodeUint(payload)
			if err != nil {
				*errs = append(*errs, fmt.Errorf("%w: %q: %v", ErrBadPayload, tag, err))
				continue
			}
			md[info.key] = strconv.FormatUint(v, 10)
		}
	}
}

func decodeUint(p []byte) (uint64, error) {
	switch len(p) {
	case 1:
		return uint64(p[0]), nil
	case 2:
		return uint64(binary.BigEndian.Uint16(p)), nil
	case 4:
		return uint64(binary.BigEndian.Uint32(p)), nil
	case 8:
		return binary.BigEndian.Uint64(p), nil
	default:
		return 0, fmt.Errorf("unsupported integer width %d", len(p))
	}
}
