// Package sharing implements the (t, t+1) linear threshold scheme over
// GF(2). A blob is cut into t blocks and every share is the XOR of the
// blocks selected by one row of the extended generator matrix B⁺, so any
// t of the t+1 shares determine the blob.
package sharing

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/jonboulle/clockwork"

	"github.com/signalsfoundry/sensornet-simulator/internal/gf2"
	"github.com/signalsfoundry/sensornet-simulator/model"
)

var (
	// ErrEmptyPayload is returned when asked to split zero bytes.
	ErrEmptyPayload = errors.New("empty payload")
	// ErrDimensionMismatch is returned when the shares handed to
	// Reconstruct do not fit the threshold.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrInsufficientShares is returned when fewer than t verified shares
	// reached the sink.
	ErrInsufficientShares = errors.New("insufficient shares")
)

// Selected is one share chosen for reconstruction. Row is the 0-based row
// of B⁺ that produced it (share index minus one).
type Selected struct {
	Row     int
	Payload []byte
}

type splitConfig struct {
	hash      model.HashFunc
	origin    string
	payloadID string
	paths     [][]string
	clock     clockwork.Clock
}

// SplitOption customises Split.
type SplitOption func(*splitConfig)

// WithHash selects the hash H used for per-share integrity digests.
func WithHash(h model.HashFunc) SplitOption {
	return func(c *splitConfig) { c.hash = h }
}

// WithOrigin sets the node the shares start from. It becomes the first
// element of every share's traversed path.
func WithOrigin(id string) SplitOption {
	return func(c *splitConfig) { c.origin = id }
}

// WithPayloadID tags every share with the payload they belong to.
func WithPayloadID(id string) SplitOption {
	return func(c *splitConfig) { c.payloadID = id }
}

// WithSuggestedPaths assigns suggested paths round-robin across shares.
func WithSuggestedPaths(paths [][]string) SplitOption {
	return func(c *splitConfig) { c.paths = paths }
}

// WithClock sets the clock used to timestamp shares.
func WithClock(clk clockwork.Clock) SplitOption {
	return func(c *splitConfig) { c.clock = clk }
}

// Split cuts blob into t+1 shares, any t of which reconstruct it.
func Split(blob []byte, t int, opts ...SplitOption) ([]model.Share, error) {
	if len(blob) == 0 {
		return nil, ErrEmptyPayload
	}
	cfg := splitConfig{hash: model.HashSHA256, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	b, err := gf2.GeneratorMatrix(t)
	if err != nil {
		return nil, fmt.Errorf("generator matrix: %w", err)
	}
	ext := gf2.Extend(b)
	blocks := toBlocks(blob, t)
	blockLen := len(blocks[0])
	ts := cfg.clock.Now().UTC().Format(time.RFC3339Nano)

	shares := make([]model.Share, 0, t+1)
	for i := 0; i < ext.Rows(); i++ {
		payload := combineRow(ext.Row(i), blocks, blockLen)
		index := i + 1
		digest, err := Digest(cfg.hash, index, payload)
		if err != nil {
			return nil, err
		}
		share := model.Share{
			Index:     index,
			Payload:   payload,
			Hash:      digest,
			Timestamp: ts,
			BlockSize: blockLen,
			TotalLen:  len(blob),
			Threshold: t,
			PayloadID: cfg.payloadID,
		}
		if cfg.origin != "" {
			share.Traversed = []string{cfg.origin}
		}
		if len(cfg.paths) > 0 {
			p := cfg.paths[i%len(cfg.paths)]
			share.SuggestedPath = append([]string(nil), p...)
		}
		shares = append(shares, share)
	}
	return shares, nil
}

// Reconstruct recovers the blob from exactly t selected shares. totalLen
// is the original blob length used to strip the zero padding.
func Reconstruct(selected []Selected, t, totalLen int) ([]byte, error) {
	if t < 2 {
		return nil, fmt.Errorf("threshold %d: %w", t, gf2.ErrInvalidDimension)
	}
	if len(selected) != t {
		return nil, fmt.Errorf("%w: got %d shares, threshold %d", ErrDimensionMismatch, len(selected), t)
	}
	blockLen := len(selected[0].Payload)
	rows := make([]int, len(selected))
	seen := make(map[int]bool, len(selected))
	for i, s := range selected {
		if s.Row < 0 || s.Row > t {
			return nil, fmt.Errorf("%w: row %d outside [0,%d]", ErrDimensionMismatch, s.Row, t)
		}
		if seen[s.Row] {
			return nil, fmt.Errorf("%w: row %d selected twice", ErrDimensionMismatch, s.Row)
		}
		if len(s.Payload) != blockLen {
			return nil, fmt.Errorf("%w: share for row %d has %d bytes, want %d", ErrDimensionMismatch, s.Row, len(s.Payload), blockLen)
		}
		seen[s.Row] = true
		rows[i] = s.Row
	}
	if totalLen < 0 || totalLen > blockLen*t {
		return nil, fmt.Errorf("%w: total length %d exceeds %d blocks of %d bytes", ErrDimensionMismatch, totalLen, t, blockLen)
	}

	b, err := gf2.GeneratorMatrix(t)
	if err != nil {
		return nil, fmt.Errorf("generator matrix: %w", err)
	}
	sub, err := gf2.Extend(b).SubMatrix(rows)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDimensionMismatch, err)
	}
	inv, err := gf2.Invert(sub)
	if err != nil {
		return nil, fmt.Errorf("invert selection %v: %w", rows, err)
	}

	stacked := make([][]byte, len(selected))
	for i, s := range selected {
		stacked[i] = s.Payload
	}
	out := make([]byte, 0, blockLen*t)
	for j := 0; j < t; j++ {
		out = append(out, combineRow(inv.Row(j), stacked, blockLen)...)
	}
	return out[:totalLen], nil
}

// Combine is the sink-side collector: it verifies every share digest,
// drops corrupted and duplicate shares, and reconstructs from the first t
// valid shares by index.
func Combine(shares []model.Share, t int, h model.HashFunc) ([]byte, error) {
	byIndex := make(map[int]model.Share, len(shares))
	for _, s := range shares {
		if s.Index < 1 || s.Index > t+1 {
			continue
		}
		if _, dup := byIndex[s.Index]; dup {
			continue
		}
		if err := VerifyShare(s, h); err != nil {
			continue
		}
		byIndex[s.Index] = s
	}
	if len(byIndex) < t {
		return nil, fmt.Errorf("%w: %d valid of %d needed", ErrInsufficientShares, len(byIndex), t)
	}

	indices := make([]int, 0, len(byIndex))
	for idx := range byIndex {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	selected := make([]Selected, 0, t)
	totalLen := byIndex[indices[0]].TotalLen
	for _, idx := range indices[:t] {
		selected = append(selected, Selected{Row: idx - 1, Payload: byIndex[idx].Payload})
	}
	return Reconstruct(selected, t, totalLen)
}

// toBlocks splits blob into t blocks of ceil(len/t) bytes, zero padding
// the tail.
func toBlocks(blob []byte, t int) [][]byte {
	blockLen := (len(blob) + t - 1) / t
	padded := make([]byte, blockLen*t)
	copy(padded, blob)
	blocks := make([][]byte, t)
	for j := range blocks {
		blocks[j] = padded[j*blockLen : (j+1)*blockLen]
	}
	return blocks
}

// combineRow XORs together the blocks selected by the set bits of row.
func combineRow(row *bitset.BitSet, blocks [][]byte, blockLen int) []byte {
	out := make([]byte, blockLen)
	for j, ok := row.NextSet(0); ok && int(j) < len(blocks); j, ok = row.NextSet(j + 1) {
		blk := blocks[j]
		for k := range out {
			out[k] ^= blk[k]
		}
	}
	return out
}
