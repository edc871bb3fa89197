package redisstore

import (
	"encoding/json"
	"fmt"

	"github.com/jonwraymond/callcache/cache"
)

// Codec converts entries to and from their stored blob.
type Codec interface {
	Encode(e *cache.Entry) ([]byte, error)
	Decode(b []byte) (*cache.Entry, error)
}

// JSONCodec stores entries as JSON objects.
type JSONCodec struct{}

// Encode implements Codec.
func (JSONCodec) Encode(e *cache.Entry) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return b, nil
}

// Decode implements Codec. A blob without a fingerprint is rejected.
func (JSONCodec) Decode(b []byte) (*cache.Entry, error) {
	var e cache.Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if e.Fingerprint == "" {
		return nil, fmt.Errorf("%w: missing fingerprint", ErrDecode)
	}
	return &e, nil
}
