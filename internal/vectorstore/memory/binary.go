package memory

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
)

const (
	// magicNumber identifies index files (ASCII "BTX1").
	magicNumber = 0x42545831
	// formatVersion is bumped on any layout change.
	formatVersion = 1

	metricSquaredL2 = 1

	// maxDimension bounds allocations when reading untrusted headers.
	maxDimension = 1 << 16
)

var (
	ErrInvalidMagic   = errors.New("invalid magic number")
	ErrInvalidVersion = errors.New("unsupported index format version")
	ErrInvalidMetric  = errors.New("unsupported distance metric")
	ErrChecksum       = errors.New("index checksum mismatch")
	ErrInvalidHeader  = errors.New("invalid index header")
)

// Tag is an opaque caller value stored in the index header.
type Tag [32]byte

// fileHeader is the fixed-size header at the start of every index file.
type fileHeader struct {
	Magic     uint32
	Version   uint32
	Metric    uint8
	Padding   [3]byte
	Dimension uint32
	Count     uint64
	Tag       Tag
}

// Encode writes the index as header, little-endian float32 rows and a trailing CRC32
// over everything before it.
func (s *Storage) Encode(w io.Writer, tag Tag) error {
	crc := crc32.NewIEEE()
	bw := bufio.NewWriter(io.MultiWriter(w, crc))

	header := fileHeader{
		Magic:     magicNumber,
		Version:   formatVersion,
		Metric:    metricSquaredL2,
		Dimension: uint32(s.dimension),
		Count:     uint64(len(s.vectors)),
		Tag:       tag,
	}
	if err := binary.Write(bw, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	buf := make([]byte, 4*s.dimension)
	for _, row := range s.vectors {
		for j, f := range row {
			binary.LittleEndian.PutUint32(buf[j*4:], math.Float32bits(f))
		}
		if _, err := bw.Write(buf); err != nil {
			return fmt.Errorf("write rows: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush index: %w", err)
	}
	return binary.Write(w, binary.LittleEndian, crc.Sum32())
}

// Decode reads an index written by Encode and returns it with its tag.
// Any structural problem, including a checksum mismatch, is an error.
func Decode(r io.Reader) (*Storage, Tag, error) {
	crc := crc32.NewIEEE()
	br := io.TeeReader(bufio.NewReader(r), crc)

	var header fileHeader
	if err := binary.Read(br, binary.LittleEndian, &header); err != nil {
		return nil, Tag{}, fmt.Errorf("read header: %w", err)
	}
	switch {
	case header.Magic != magicNumber:
		return nil, Tag{}, fmt.Errorf("%w: got 0x%08x", ErrInvalidMagic, header.Magic)
	case header.Version != formatVersion:
		return nil, Tag{}, fmt.Errorf("%w: got %d", ErrInvalidVersion, header.Version)
	case header.Metric != metricSquaredL2:
		return nil, Tag{}, fmt.Errorf("%w: got %d", ErrInvalidMetric, header.Metric)
	case header.Dimension == 0 || header.Dimension > maxDimension || header.Count == 0:
		return nil, Tag{}, fmt.Errorf("%w: dimension=%d count=%d", ErrInvalidHeader, header.Dimension, header.Count)
	}

	dim := int(header.Dimension)
	buf := make([]byte, 4*dim)
	var vectors [][]float32
	for i := uint64(0); i < header.Count; i++ {
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, Tag{}, fmt.Errorf("read row %d: %w", i, err)
		}
		row := make([]float32, dim)
		for j := range row {
			row[j] = math.Float32frombits(binary.LittleEndian.Uint32(buf[j*4:]))
		}
		vectors = append(vectors, row)
	}

	expected := crc.Sum32()
	var stored uint32
	if err := binary.Read(br, binary.LittleEndian, &stored); err != nil {
		return nil, Tag{}, fmt.Errorf("read checksum: %w", err)
	}
	if stored != expected {
		return nil, Tag{}, fmt.Errorf("%w: expected 0x%08x, got 0x%08x", ErrChecksum, stored, expected)
	}
	return &Storage{dimension: dim, vectors: vectors}, header.Tag, nil
}
