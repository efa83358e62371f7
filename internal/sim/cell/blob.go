package cell

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding so equal inventories always yield
// identical bytes, which keeps Snapshot equality structural.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("cell: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("cell: CBOR decoder initialization failed: " + err.Error())
	}
}

// EncodeItems encodes an item map as an attached-data blob. Empty or
// non-positive entries are dropped; an empty map encodes to nil.
func EncodeItems(items map[string]int) ([]byte, error) {
	clean := make(map[string]int, len(items))
	for k, v := range items {
		if k == "" || v <= 0 {
			continue
		}
		clean[k] = v
	}
	if len(clean) == 0 {
		return nil, nil
	}
	b, err := encMode.Marshal(clean)
	if err != nil {
		return nil, fmt.Errorf("cell: encode items: %w", err)
	}
	return b, nil
}

func DecodeItems(b []byte) (map[string]int, error) {
	out := map[string]int{}
	if len(b) == 0 {
		return out, nil
	}
	if err := decMode.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("cell: decode items: %w", err)
	}
	for k, v := range out {
		if v <= 0 {
			delete(out, k)
		}
	}
	return out, nil
}
