// ABOUTME: Tests for DMAP decoding
// ABOUTME: Covers unknown tags, malformed payloads, truncation and containers
package dmap

import (
	"encoding/binary"
	"errors"
	"testing"
)

func TestDecodeSingleTitle(t *testing.T) {
	data := Encode(String("minm", "Test Track"))

	md, err := Decode(data)
	if err != nil {
		t.Fatalf("Expected no error but got: %v", err)
	}

	if len(md) != 1 {
		t.Fatalf("Expected exactly one key, got %v", md)
	}
	if md[KeyTitle] != "Test Track" {
		t.Errorf("Expected %q = %q, got %q", KeyTitle, "Test Track", md[KeyTitle])
	}
}

func TestDecodeItemContainer(t *testing.T) {
	data := Encode(Container("mlit",
		String("minm", "Song"),
		String("asar", "Artist"),
		String("asal", "Album"),
		Uint("astn", 3, 2),
		Uint("astc", 12, 2),
		Uint("asdn", 1, 2),
		Uint("asdc", 2, 2),
		Uint("astm", 215000, 4),
		Uint("mper", 0x1122334455667788, 8),
		Uint("caps", 1, 1),
	))

	md, err := Decode(data)
	if err != nil {
		t.Fatalf("Expected no error but got: %v", err)
	}

	expected := Metadata{
		KeyTitle:       "Song",
		KeyArtist:      "Artist",
		KeyAlbum:       "Album",
		KeyTrackNumber: "3",
		KeyTrackCount:  "12",
		KeyDiscNumber:  "1",
		KeyDiscCount:   "2",
		KeyTime:        "215000",
		KeyPersistent:  "1234605616436508552",
		KeyPlayStatus:  "1",
	}
	if !md.Equal(expected) {
		t.Errorf("Expected %v, got %v", expected, md)
	}

	cur, total := md.Track()
	if cur != 3 || total != 12 {
		t.Errorf("Expected track 3/12, got %d/%d", cur, total)
	}
	cur, total = md.Disc()
	if cur != 1 || total != 2 {
		t.Errorf("Expected disc 1/2, got %d/%d", cur, total)
	}
}

func TestDecodeSkipsUnknownTags(t *testing.T) {
	data := Encode(
		String("zzzz", "ignored"),
		Container("abcd", String("minm", "hidden in unknown container")),
		String("asar", "Visible"),
	)

	md, err := Decode(data)
	if err != nil {
		t.Fatalf("Expected no error but got: %v", err)
	}
	if _, ok := md[KeyTitle]; ok {
		t.Error("Expected title inside an unknown container to be skipped")
	}
	if md.Artist() != "Visible" {
		t.Errorf("Expected artist after unknown tags, got %q", md.Artist())
	}
}

func TestDecodeMalformedChunks(t *testing.T) {
	truncatedTail := Encode(String("minm", "Kept"))
	truncatedTail = append(truncatedTail, 'a', 's', 'a')

	overlong := Encode(String("minm", "Kept"))
	overlong = append(overlong, []byte("asar")...)
	overlong = binary.BigEndian.AppendUint32(overlong, 500)
	overlong = append(overlong, []byte("short")...)

	tests := []struct {
		name     string
		data     []byte
		expected Metadata
		errIs    error
	}{
		{
			name: "bad integer width is skipped",
			data: Encode(
				Chunk{Tag: "astn", Payload: []byte{1, 2, 3}},
				String("minm", "After"),
			),
			expected: Metadata{KeyTitle: "After"},
			errIs:    ErrBadPayload,
		},
		{
			name: "invalid utf-8 is skipped",
			data: Encode(
				Chunk{Tag: "asar", Payload: []byte{0xff, 0xfe}},
				String("asal", "Album"),
			),
			expected: Metadata{KeyAlbum: "Album"},
			errIs:    ErrBadPayload,
		},
		{
			name:     "truncated header aborts",
			data:     truncatedTail,
			expected: Metadata{KeyTitle: "Kept"},
			errIs:    ErrTruncated,
		},
		{
			name:     "length past end aborts",
			data:     overlong,
			expected: Metadata{KeyTitle: "Kept"},
			errIs:    ErrTruncated,
		},
		{
			name: "bad chunk inside container keeps siblings",
			data: Encode(
				Container("mlit",
					String("minm", "Inner"),
					Chunk{Tag: "asyr", Payload: []byte{7, 7, 7}},
				),
				String("asar", "Outer"),
			),
			expected: Metadata{KeyTitle: "Inner", KeyArtist: "Outer"},
			errIs:    ErrBadPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md, err := Decode(tt.data)
			if err == nil {
				t.Fatal("Expected error but got none")
			}
			if !errors.Is(err, tt.errIs) {
				t.Errorf("Expected error wrapping %v, got %v", tt.errIs, err)
			}
			if !md.Equal(tt.expected) {
				t.Errorf("Expected partial result %v, got %v", tt.expected, md)
			}
		})
	}
}

func TestDecodeEmpty(t *testing.T) {
	md, err := Decode(nil)
	if err != nil {
		t.Fatalf("Expected no error but got: %v", err)
	}
	if len(md) != 0 {
		t.Errorf("Expected empty metadata, got %v", md)
	}
}

func TestDecodeDeterministic(t *testing.T) {
	inputs := [][]byte{
		Encode(String("minm", "A"), String("asar", "B")),
		Encode(Container("mlit", String("asgn", "Jazz"), Uint("asyr", 1959, 2))),
		Encode(String("minm", "x"), Chunk{Tag: "astc", Payload: []byte{1}}, String("minm", "y")),
	}

	for i, in := range inputs {
		first, err1 := Decode(in)
		second, err2 := Decode(in)
		if !first.Equal(second) {
			t.Errorf("input %d: decode not deterministic: %v vs %v", i, first, second)
		}
		if (err1 == nil) != (err2 == nil) {
			t.Errorf("input %d: error presence differs between runs", i)
		}
	}
}

func TestEncodeMetadataRoundTrip(t *testing.T) {
	md := Metadata{
		KeyTitle:       "Round",
		KeyArtist:      "Trip",
		KeyYear:        "2016",
		KeyTrackNumber: "4",
		"not a dmap key": "dropped",
	}

	decoded, err := Decode(EncodeMetadata(md))
	if err != nil {
		t.Fatalf("Expected no error but got: %v", err)
	}

	delete(md, "not a dmap key")
	if !decoded.Equal(md) {
		t.Errorf("Expected %v, got %v", md, decoded)
	}
}

func TestKeyForTag(t *testing.T) {
	if key, ok := KeyForTag("minm"); !ok || key != KeyTitle {
		t.Errorf("Expected minm -> %q, got %q (%v)", KeyTitle, key, ok)
	}
	if _, ok := KeyForTag("mlit"); ok {
		t.Error("Expected container tag to have no key")
	}
	if _, ok := KeyForTag("nope"); ok {
		t.Error("Expected unknown tag to have no key")
	}
}

func TestMetadataClone(t *testing.T) {
	md := Metadata{KeyTitle: "Original"}
	clone := md.Clone()
	clone[KeyTitle] = "Changed"

	if md.Title() != "Original" {
		t.Error("Expected clone to be independent of the original")
	}
	if Metadata(nil).Clone() != nil {
		t.Error("Expected nil clone of nil metadata")
	}
}
