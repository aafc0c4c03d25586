// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/antgroup/vega/modules/plumbing"
	"github.com/antgroup/vega/modules/streamio"
)

type CompressMethod uint16

const (
	BLOB_CURRENT_VERSION uint16         = 1
	STORE                CompressMethod = 0
	ZSTD                 CompressMethod = 1
)

// Payloads below this size are stored raw; compressing a few hundred
// bytes of JSON costs more than it saves.
const CompressThreshold = 4096

var (
	BLOB_MAGIC = [4]byte{'V', 'B', 0x00, 0x01}
)

var (
	ErrMismatchedMagic   = errors.New("mismatched magic")
	ErrMismatchedVersion = errors.New("mismatched version")
)

type Blob struct {
	Contents io.Reader
	Size     int64
	closeFn  func() error
}

func (b *Blob) Close() error {
	if b.closeFn == nil {
		return nil
	}
	return b.closeFn()
}

// Bytes drains the blob contents. The blob is single-use afterwards.
func (b *Blob) Bytes() ([]byte, error) {
	return streamio.ReadMax(b.Contents, b.Size)
}

func NewBlob(raw io.ReadCloser) (*Blob, error) {
	var hdr [16]byte
	if _, err := io.ReadFull(raw, hdr[:]); err != nil {
		return nil, err
	}
	if !bytes.Equal(BLOB_MAGIC[:], hdr[:4]) {
		return nil, ErrMismatchedMagic
	}
	if version := binary.BigEndian.Uint16(hdr[4:6]); version != BLOB_CURRENT_VERSION {
		return nil, ErrMismatchedVersion
	}
	method := CompressMethod(binary.BigEndian.Uint16(hdr[6:8]))
	uncompressedSize := int64(binary.BigEndian.Uint64(hdr[8:16]))
	switch method {
	case STORE:
		return &Blob{Contents: raw, Size: uncompressedSize, closeFn: func() error {
			return raw.Close()
		}}, nil
	case ZSTD:
		zr, err := streamio.GetZstdReader(raw)
		if err != nil {
			return nil, fmt.Errorf("unable new zstd decoder: %v", err)
		}
		return &Blob{Contents: zr, Size: uncompressedSize, closeFn: func() error {
			streamio.PutZstdReader(zr)
			return raw.Close()
		}}, nil
	}
	return nil, fmt.Errorf("unsupported method: '%d'", method)
}

// EncodeBlobHeader fills a 16 byte loose blob header.
func EncodeBlobHeader(method CompressMethod, size int64) (hdr [16]byte) {
	copy(hdr[:4], BLOB_MAGIC[:])
	binary.BigEndian.PutUint16(hdr[4:6], BLOB_CURRENT_VERSION)
	binary.BigEndian.PutUint16(hdr[6:8], uint16(method))
	binary.BigEndian.PutUint64(hdr[8:16], uint64(size))
	return hdr
}

// HashFrom hashes the decoded contents of an encoded blob stream.
func HashFrom(r io.Reader) (plumbing.Hash, error) {
	br, err := NewBlob(io.NopCloser(r))
	if err != nil {
		return plumbing.ZeroHash, err
	}
	defer br.Close() // nolint: errcheck
	hasher := plumbing.NewHasher()
	if _, err := io.Copy(hasher, br.Contents); err != nil {
		return plumbing.ZeroHash, err
	}
	return hasher.Sum(), nil
}
