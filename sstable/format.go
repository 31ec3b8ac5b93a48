// Package sstable implements the on-disk SSTable format and its reader.
// A table is four contiguous regions — Data (length-prefixed records),
// Filter (raw Bloom words), Index (one u64 data offset per record), and a
// fixed-size Footer — with the Footer at the tail of the file so a reader
// locates it via file_size - FooterSize without reading anything else
// first.
package sstable

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// FooterSize is the fixed byte length of the trailing Footer: five
// little-endian u64 fields.
const FooterSize = 5 * 8

// RecordHeaderSize is the fixed byte length of a Data record's
// {key_size, value_size} prefix.
const RecordHeaderSize = 8

// IndexEntrySize is the byte length of one Index region entry: a single
// little-endian u64 data-region offset.
const IndexEntrySize = 8

// Footer is the fixed-size trailer every SSTable file ends with.
type Footer struct {
	FilterOffset        uint64
	FilterBits          uint64
	FilterHashFuncCount uint64
	IndexOffset         uint64
	KVCount             uint64
}

// WriteFooter appends the footer's fixed little-endian encoding to w.
func WriteFooter(w io.Writer, f Footer) error {
	buf := make([]byte, FooterSize)
	binary.LittleEndian.PutUint64(buf[0:8], f.FilterOffset)
	binary.LittleEndian.PutUint64(buf[8:16], f.FilterBits)
	binary.LittleEndian.PutUint64(buf[16:24], f.FilterHashFuncCount)
	binary.LittleEndian.PutUint64(buf[24:32], f.IndexOffset)
	binary.LittleEndian.PutUint64(buf[32:40], f.KVCount)
	if _, err := w.Write(buf); err != nil {
		return errors.Wrap(err, "sstable: write footer")
	}
	return nil
}

// DecodeFooter parses a FooterSize-byte buffer into a Footer.
func DecodeFooter(buf []byte) (Footer, error) {
	if len(buf) != FooterSize {
		return Footer{}, errors.Errorf("sstable: footer must be %d bytes, got %d", FooterSize, len(buf))
	}
	return Footer{
		FilterOffset:        binary.LittleEndian.Uint64(buf[0:8]),
		FilterBits:          binary.LittleEndian.Uint64(buf[8:16]),
		FilterHashFuncCount: binary.LittleEndian.Uint64(buf[16:24]),
		IndexOffset:         binary.LittleEndian.Uint64(buf[24:32]),
		KVCount:             binary.LittleEndian.Uint64(buf[32:40]),
	}, nil
}

// DecodeRecordHeader parses a RecordHeaderSize-byte buffer into
// (key_size, value_size).
func DecodeRecordHeader(buf []byte) (keySize, valueSize uint32) {
	return binary.LittleEndian.Uint32(buf[0:4]), binary.LittleEndian.Uint32(buf[4:8])
}
