// Package codec converts embedding vectors to and from the blob stored in
// vector_chunks.vector_embedding.
//
// The blob uses the pgvector binary layout: a big-endian uint16 dimension,
// a reserved uint16 that must be zero, then dim big-endian float32 values.
package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/pgvector/pgvector-go"

	appErr "github.com/a921198345/studypartner007-sub000/internal/pkg/errors"
)

const (
	headerSize = 4
	maxDim     = math.MaxUint16
)

func Encode(vector []float32) ([]byte, error) {
	if len(vector) > maxDim {
		return nil, fmt.Errorf("encode vector: %d dims exceeds %d", len(vector), maxDim)
	}
	return pgvector.NewVector(vector).EncodeBinary(make([]byte, 0, headerSize+4*len(vector)))
}

func Decode(blob []byte) ([]float32, error) {
	if len(blob) < headerSize {
		return nil, fmt.Errorf("%w: blob too short (%d bytes)", appErr.ErrCodec, len(blob))
	}
	dim := int(binary.BigEndian.Uint16(blob[0:2]))
	if reserved := binary.BigEndian.Uint16(blob[2:4]); reserved != 0 {
		return nil, fmt.Errorf("%w: reserved header field is %d", appErr.ErrCodec, reserved)
	}
	if want := headerSize + 4*dim; len(blob) != want {
		return nil, fmt.Errorf("%w: expected %d bytes for %d dims, got %d", appErr.ErrCodec, want, dim, len(blob))
	}
	var v pgvector.Vector
	if err := v.DecodeBinary(blob); err != nil {
		return nil, fmt.Errorf("%w: %v", appErr.ErrCodec, err)
	}
	out := v.Slice()
	if out == nil {
		out = []float32{}
	}
	return out, nil
}
