package memory

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/hupe1980/vecgo/distance"
	"github.com/hupe1980/vecgo/persistence"
)

// Neighbor is one search hit from a FlatIndex.
type Neighbor struct {
	Ordinal  int
	Distance float32
}

// FlatIndex is an append-only exact nearest-neighbour index over float32
// vectors of one dimension. The ordinal of a vector is its insertion position.
//
// FlatIndex is not safe for concurrent use; stores guard it with their own lock.
type FlatIndex struct {
	dim  int
	data []float32
}

// NewFlatIndex returns an empty index for vectors of length dim.
func NewFlatIndex(dim int) *FlatIndex {
	return &FlatIndex{dim: dim}
}

// Dim returns the vector dimension.
func (ix *FlatIndex) Dim() int { return ix.dim }

// Len returns the number of stored vectors.
func (ix *FlatIndex) Len() int {
	if ix.dim == 0 {
		return 0
	}
	return len(ix.data) / ix.dim
}

// Add appends vec and returns its ordinal.
func (ix *FlatIndex) Add(vec []float32) (int, error) {
	if len(vec) != ix.dim {
		return 0, fmt.Errorf("%w: got %d components, want %d", ErrDimensionMismatch, len(vec), ix.dim)
	}
	ord := ix.Len()
	ix.data = append(ix.data, vec...)
	return ord, nil
}

// Vector returns a copy of the vector at ordinal i.
func (ix *FlatIndex) Vector(i int) ([]float32, bool) {
	if i < 0 || i >= ix.Len() {
		return nil, false
	}
	return append([]float32(nil), ix.at(i)...), true
}

func (ix *FlatIndex) at(i int) []float32 {
	return ix.data[i*ix.dim : (i+1)*ix.dim : (i+1)*ix.dim]
}

// Truncate drops every vector with ordinal >= n. It exists for rolling back
// a failed append and is a no-op when n >= Len().
func (ix *FlatIndex) Truncate(n int) {
	if n < 0 {
		n = 0
	}
	if n < ix.Len() {
		ix.data = ix.data[:n*ix.dim]
	}
}

// Search returns up to k neighbours of query ordered by ascending squared L2
// distance; equal distances are ordered by ascending ordinal. An empty index
// or k <= 0 yields an empty, non-nil result.
func (ix *FlatIndex) Search(query []float32, k int) ([]Neighbor, error) {
	if len(query) != ix.dim {
		return nil, fmt.Errorf("%w: query has %d components, want %d", ErrDimensionMismatch, len(query), ix.dim)
	}
	n := ix.Len()
	if k <= 0 || n == 0 {
		return []Neighbor{}, nil
	}
	if k > n {
		k = n
	}

	best := make([]Neighbor, 0, k)
	for i := 0; i < n; i++ {
		d := distance.SquaredL2(query, ix.at(i))
		if len(best) == k && d >= best[k-1].Distance {
			continue
		}
		// Scanning in ordinal order means an equal distance never displaces an
		// earlier ordinal, which keeps ties stable.
		pos := sort.Search(len(best), func(j int) bool { return d < best[j].Distance })
		if len(best) < k {
			best = append(best, Neighbor{})
		}
		copy(best[pos+1:], best[pos:len(best)-1])
		best[pos] = Neighbor{Ordinal: i, Distance: d}
	}
	return best, nil
}

// ── Binary codec ────────────────────────────────────────────────────────────

const (
	indexMagic   uint32 = 0x31495856 // "VXI1" little-endian
	indexVersion uint32 = 1

	// IndexHeaderSize is the encoded size of IndexHeader in bytes.
	IndexHeaderSize = 64
)

var (
	errIndexMagic   = errors.New("bad magic number")
	errIndexVersion = errors.New("unsupported format version")
	errIndexSize    = errors.New("payload size does not match header")
)

// IndexHeader is the fixed 64-byte little-endian header of an index file.
//
// Besides describing the vectors it records the size, entry count and CRC32
// of the turn log written alongside, so a load can prove both files came from
// the same persist.
type IndexHeader struct {
	Magic     uint32
	Version   uint32
	Dimension uint32
	Flags     uint32
	Count     uint64
	VectorCRC uint32
	LogCRC    uint32
	LogSize   uint64
	LogCount  uint64
	Reserved  [16]byte
}

// WriteTo encodes the index followed by the digest of its companion log.
func (ix *FlatIndex) WriteTo(w io.Writer, log LogDigest) error {
	sum := persistence.NewChecksumWriter(io.Discard)
	if err := persistence.NewBinaryIndexWriter(sum).WriteFloat32Slice(ix.data); err != nil {
		return fmt.Errorf("checksum vectors: %w", err)
	}

	hdr := IndexHeader{
		Magic:     indexMagic,
		Version:   indexVersion,
		Dimension: uint32(ix.dim),
		Count:     uint64(ix.Len()),
		VectorCRC: sum.Sum(),
		LogCRC:    log.CRC,
		LogSize:   log.Size,
		LogCount:  log.Count,
	}
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := persistence.NewBinaryIndexWriter(w).WriteFloat32Slice(ix.data); err != nil {
		return fmt.Errorf("write vectors: %w", err)
	}
	return nil
}

// ReadFlatIndex decodes an index of size bytes written by WriteTo.
//
// A non-zero dim must equal the header's dimension, otherwise the error wraps
// ErrDimensionMismatch; zero accepts any dimension. The header's vector count
// must account for exactly size bytes, so a damaged header is rejected before
// any vector is allocated. Truncated payloads, trailing bytes and checksum
// mismatches are reported as errors.
func ReadFlatIndex(r io.Reader, dim int, size int64) (*FlatIndex, IndexHeader, error) {
	var hdr IndexHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, hdr, fmt.Errorf("read header: %w", err)
	}
	if hdr.Magic != indexMagic {
		return nil, hdr, fmt.Errorf("%w: 0x%08x", errIndexMagic, hdr.Magic)
	}
	if hdr.Version != indexVersion {
		return nil, hdr, fmt.Errorf("%w: %d", errIndexVersion, hdr.Version)
	}
	if hdr.Dimension == 0 {
		return nil, hdr, fmt.Errorf("zero dimension")
	}
	if dim > 0 && uint64(hdr.Dimension) != uint64(dim) {
		return nil, hdr, fmt.Errorf("%w: index has dimension %d, want %d", ErrDimensionMismatch, hdr.Dimension, dim)
	}
	payload := size - IndexHeaderSize
	stride := 4 * uint64(hdr.Dimension)
	if payload < 0 || uint64(payload)%stride != 0 || uint64(payload)/stride != hdr.Count {
		return nil, hdr, fmt.Errorf("%w: %d vectors of dimension %d in %d bytes", errIndexSize, hdr.Count, hdr.Dimension, size)
	}

	ix := NewFlatIndex(int(hdr.Dimension))
	cr := persistence.NewChecksumReader(r)
	br := persistence.NewBinaryIndexReader(cr)
	for i := uint64(0); i < hdr.Count; i++ {
		vec, err := br.ReadFloat32Slice(ix.dim)
		if err != nil {
			return nil, hdr, fmt.Errorf("read vector %d of %d: %w", i, hdr.Count, err)
		}
		ix.data = append(ix.data, vec...)
	}
	if err := cr.Verify(hdr.VectorCRC); err != nil {
		return nil, hdr, fmt.Errorf("vectors: %w", err)
	}

	var extra [1]byte
	if n, _ := io.ReadFull(r, extra[:]); n != 0 {
		return nil, hdr, fmt.Errorf("trailing data after %d vectors", hdr.Count)
	}
	return ix, hdr, nil
}
