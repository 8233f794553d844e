package source

import (
	"encoding/binary"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
)

const gpkgHeaderSize = 8

// gpkgEnvelopeSizes maps the envelope contents indicator (flags bits 1-3)
// to the envelope length in bytes.
var gpkgEnvelopeSizes = map[byte]int{0: 0, 1: 32, 2: 48, 3: 48, 4: 64}

// decodeGPKGBlob parses a GeoPackage geometry blob: the "GP" header, an
// optional envelope, then standard WKB. Empty geometries yield nil.
func decodeGPKGBlob(b []byte) (geom.T, int32, error) {
	if len(b) < gpkgHeaderSize || b[0] != 'G' || b[1] != 'P' {
		return nil, 0, eris.New("source: not a GeoPackage geometry blob")
	}
	flags := b[3]

	var order binary.ByteOrder = binary.BigEndian
	if flags&0x01 == 1 {
		order = binary.LittleEndian
	}
	srsID := int32(order.Uint32(b[4:8]))

	envSize, ok := gpkgEnvelopeSizes[(flags>>1)&0x07]
	if !ok {
		return nil, srsID, eris.Errorf("source: invalid GeoPackage envelope indicator %d", (flags>>1)&0x07)
	}
	if flags&0x10 != 0 {
		return nil, srsID, nil
	}

	start := gpkgHeaderSize + envSize
	if len(b) < start {
		return nil, srsID, eris.New("source: truncated GeoPackage geometry blob")
	}
	g, err := wkb.Unmarshal(b[start:])
	if err != nil {
		return nil, srsID, eris.Wrap(err, "source: decode GeoPackage wkb")
	}
	return g, srsID, nil
}
