package encoding

import (
	"fmt"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Encoding is the identifier for the compression applied to objects in a block.
type Encoding string

const (
	EncNone   Encoding = "none"
	EncSnappy Encoding = "snappy"
	EncZstd   Encoding = "zstd"
)

// SupportedEncodings lists all encodings a block can be written with.
var SupportedEncodings = []Encoding{
	EncNone,
	EncSnappy,
	EncZstd,
}

func ParseEncoding(s string) (Encoding, error) {
	for _, e := range SupportedEncodings {
		if Encoding(s) == e {
			return e, nil
		}
	}
	return "", fmt.Errorf("unknown encoding %s", s)
}

// Codec compresses and decompresses object payloads.  Ids and framing are
// never compressed so offsets in the index always refer to file bytes.
type Codec interface {
	Encoding() Encoding
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte) ([]byte, error)
}

func CodecFor(e Encoding) (Codec, error) {
	switch e {
	case EncNone, Encoding(""):
		return noneCodec{}, nil
	case EncSnappy:
		return snappyCodec{}, nil
	case EncZstd:
		return newZstdCodec()
	}
	return nil, fmt.Errorf("unknown encoding %s", e)
}

type noneCodec struct{}

func (noneCodec) Encoding() Encoding                    { return EncNone }
func (noneCodec) Compress(src []byte) ([]byte, error)   { return src, nil }
func (noneCodec) Decompress(src []byte) ([]byte, error) { return src, nil }

type snappyCodec struct{}

func (snappyCodec) Encoding() Encoding                  { return EncSnappy }
func (snappyCodec) Compress(src []byte) ([]byte, error) { return snappy.Encode(nil, src), nil }
func (snappyCodec) Decompress(src []byte) ([]byte, error) {
	return snappy.Decode(nil, src)
}

type zstdCodec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newZstdCodec() (Codec, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &zstdCodec{encoder: encoder, decoder: decoder}, nil
}

func (c *zstdCodec) Encoding() Encoding { return EncZstd }
func (c *zstdCodec) Compress(src []byte) ([]byte, error) {
	return c.encoder.EncodeAll(src, nil), nil
}
func (c *zstdCodec) Decompress(src []byte) ([]byte, error) {
	return c.decoder.DecodeAll(src, nil)
}
