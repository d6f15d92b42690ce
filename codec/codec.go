// Package codec compresses blocks using workspaces reserved in mempools, so
// a block can always be compressed on a path that must not fail for lack of
// memory.
package codec

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/ozontech/mempool/consts"
	"github.com/ozontech/mempool/util"
)

const (
	CodecNo Codec = iota
	CodecLZ4
	CodecZSTD
)

type Codec byte

// ErrIncompressible is returned by CompressBlock when LZ4 output would not
// be smaller than its input. Callers store such blocks with CodecNo.
var ErrIncompressible = errors.New("codec: block is incompressible")

var decoder *zstd.Decoder

func init() {
	var err error
	decoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Errorf("BUG: failed to create ZSTD reader: %s", err))
	}
}

func (c Codec) String() string {
	switch c {
	case CodecNo:
		return "no"
	case CodecLZ4:
		return "lz4"
	case CodecZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("codec(%d)", byte(c))
	}
}

// ParseCodec is the inverse of Codec.String.
func ParseCodec(s string) (Codec, error) {
	for _, c := range []Codec{CodecNo, CodecLZ4, CodecZSTD} {
		if c.String() == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown codec %q", s)
}

// WorkspaceSize returns the number of bytes a workspace of codec c is
// charged for.
func (c Codec) WorkspaceSize() int64 {
	switch c {
	case CodecLZ4:
		return consts.LZ4WorkspaceSize
	case CodecZSTD:
		return consts.ZSTDWorkspaceSize
	default:
		return 0
	}
}

// DecompressBlock decodes src, which holds rawLen bytes compressed with
// codec, into dst and returns the result.
func DecompressBlock(codec Codec, rawLen int, src, dst []byte) ([]byte, error) {
	var err error
	dst = util.EnsureSliceSize(dst, rawLen)
	switch codec {
	case CodecNo:
		if len(src) != rawLen {
			return nil, fmt.Errorf("raw block length mismatch: %d != %d", len(src), rawLen)
		}
		copy(dst, src)
	case CodecLZ4:
		var n int
		n, err = lz4.UncompressBlock(src, dst)
		dst = dst[:n]
	case CodecZSTD:
		dst, err = decoder.DecodeAll(src, dst[:0])
	default:
		return nil, fmt.Errorf("unimplemented codec %d", codec)
	}

	return dst, err
}
