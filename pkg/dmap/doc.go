// ABOUTME: DMAP metadata decoding for AirPlay track info
// ABOUTME: Turns tagged binary chunks into a key/value mapping
// Package dmap decodes the DMAP (Digital Media Access Protocol) chunk stream
// an AirPlay sender attaches to a session to describe the current track.
//
// Each chunk is a four-character tag, a big-endian 32-bit length and a
// payload. Container chunks such as mlit hold nested chunks. Recognized tags
// are exposed under human-readable keys:
//
//	md, err := dmap.Decode(body)
//	if err != nil {
//	    log.Printf("Partial metadata: %v", err)
//	}
//	fmt.Println(md.Title(), md.Artist())
package dmap
