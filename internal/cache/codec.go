package cache

import (
	"errors"

	"github.com/ugorji/go/codec"

	"github.com/axellelanca/shortlink/internal/models"
	"github.com/axellelanca/shortlink/internal/shortkey"
)

var errIncompleteEntry = errors.New("cache entry is missing id, salt or default fallback")

var msgpack = &codec.MsgpackHandle{WriteExt: true}

func init() {
	msgpack.RawToString = true
}

// encodeEntry serializes the projection in msgpack, keyed by the codec tags.
func encodeEntry(p *models.LinkProjection) ([]byte, error) {
	var b []byte
	if err := codec.NewEncoderBytes(&b, msgpack).Encode(p); err != nil {
		return nil, err
	}
	return b, nil
}

// decodeEntry rejects entries that decode but could never have been written
// by encodeEntry, such as msgpack nil or an empty map.
func decodeEntry(b []byte) (*models.LinkProjection, error) {
	var p models.LinkProjection
	if err := codec.NewDecoderBytes(b, msgpack).Decode(&p); err != nil {
		return nil, err
	}
	if p.ID == 0 || len(p.Salt) != shortkey.SaltLen || p.DefaultFallbackURL == "" {
		return nil, errIncompleteEntry
	}
	return &p, nil
}
