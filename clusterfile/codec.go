package clusterfile

import (
	"github.com/fxamacker/cbor/v2"
)

// The directory is encoded with Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no indefinite-length
// items. The same logical archive always produces identical directory
// bytes, which keeps the file checksum stable across rebuilds.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("clusterfile: cbor encoder initialization failed: " + err.Error())
	}
	// Unknown fields are ignored for forward compatibility with newer
	// directory layouts.
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("clusterfile: cbor decoder initialization failed: " + err.Error())
	}
}

func encodeDirectory(d *directory) ([]byte, error) {
	return encMode.Marshal(d)
}

func decodeDirectory(data []byte, d *directory) error {
	return decMode.Unmarshal(data, d)
}
