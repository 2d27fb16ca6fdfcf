package sharing

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/sensornet-simulator/model"
)

func selectAllBut(shares []model.Share, skip int) []Selected {
	out := make([]Selected, 0, len(shares)-1)
	for i, s := range shares {
		if i == skip {
			continue
		}
		out = append(out, Selected{Row: s.Index - 1, Payload: s.Payload})
	}
	return out
}

func TestSplitReconstructThreeOfFour(t *testing.T) {
	blob := []byte("0123456789abcdef")
	shares, err := Split(blob, 3)
	require.NoError(t, err)
	require.Len(t, shares, 4)

	for _, rows := range [][]int{{0, 1, 3}, {1, 2, 3}} {
		sel := make([]Selected, 0, 3)
		for _, r := range rows {
			sel = append(sel, Selected{Row: r, Payload: shares[r].Payload})
		}
		got, err := Reconstruct(sel, 3, len(blob))
		require.NoErrorf(t, err, "rows %v", rows)
		assert.Equalf(t, blob, got, "rows %v", rows)
	}
}

func TestSplitShareLayout(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	paths := [][]string{{"n1", "n2", model.SinkID}, {"n1", "n3", model.SinkID}}
	shares, err := Split([]byte("hello world"), 4,
		WithOrigin("n1"),
		WithPayloadID("p-1"),
		WithSuggestedPaths(paths),
		WithClock(clk),
	)
	require.NoError(t, err)
	require.Len(t, shares, 5)

	for i, s := range shares {
		assert.Equal(t, i+1, s.Index)
		assert.Equal(t, 3, s.BlockSize) // ceil(11/4)
		assert.Len(t, s.Payload, 3)
		assert.Equal(t, 11, s.TotalLen)
		assert.Equal(t, 4, s.Threshold)
		assert.Equal(t, "p-1", s.PayloadID)
		assert.Equal(t, "2024-03-01T12:00:00Z", s.Timestamp)
		if diff := cmp.Diff([]string{"n1"}, s.Traversed); diff != "" {
			t.Fatalf("share %d traversed mismatch (-want +got):\n%s", s.Index, diff)
		}
		if diff := cmp.Diff(paths[i%2], s.SuggestedPath); diff != "" {
			t.Fatalf("share %d suggested path mismatch (-want +got):\n%s", s.Index, diff)
		}
		assert.NoError(t, VerifyShare(s, model.HashSHA256))
	}
}

func TestThresholdCorrectnessAllSubsets(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for th := 2; th <= 12; th++ {
		for _, n := range []int{1, th - 1, th, th + 1, 3*th + 2, 97} {
			if n < 1 {
				continue
			}
			blob := make([]byte, n)
			for i := range blob {
				blob[i] = byte(rng.UintN(256))
			}
			shares, err := Split(blob, th)
			require.NoError(t, err)
			require.Len(t, shares, th+1)

			for skip := 0; skip <= th; skip++ {
				got, err := Reconstruct(selectAllBut(shares, skip), th, n)
				require.NoErrorf(t, err, "t=%d len=%d skip=%d", th, n, skip)
				if !bytes.Equal(blob, got) {
					t.Fatalf("t=%d len=%d skip=%d: reconstruct = %x, want %x", th, n, skip, got, blob)
				}
			}
		}
	}
}

func TestReconstructWrongShareCount(t *testing.T) {
	shares, err := Split([]byte("sixteen bytes!!!"), 3)
	require.NoError(t, err)

	_, err = Reconstruct(selectAllBut(shares, 0)[:2], 3, 16)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	all := make([]Selected, 0, 4)
	for _, s := range shares {
		all = append(all, Selected{Row: s.Index - 1, Payload: s.Payload})
	}
	_, err = Reconstruct(all, 3, 16)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	// Shares from t=3 fed to a t=4 reconstruction.
	_, err = Reconstruct(selectAllBut(shares, 0), 4, 16)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestReconstructRejectsDuplicateAndRaggedRows(t *testing.T) {
	shares, err := Split([]byte("abcdefghi"), 3)
	require.NoError(t, err)

	dup := []Selected{
		{Row: 0, Payload: shares[0].Payload},
		{Row: 0, Payload: shares[0].Payload},
		{Row: 1, Payload: shares[1].Payload},
	}
	_, err = Reconstruct(dup, 3, 9)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	ragged := []Selected{
		{Row: 0, Payload: shares[0].Payload},
		{Row: 1, Payload: shares[1].Payload[:2]},
		{Row: 2, Payload: shares[2].Payload},
	}
	_, err = Reconstruct(ragged, 3, 9)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = Reconstruct(selectAllBut(shares, 3), 3, 100)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestSplitEmptyPayload(t *testing.T) {
	_, err := Split(nil, 3)
	assert.ErrorIs(t, err, ErrEmptyPayload)
}

func TestCombineDropsTamperedShares(t *testing.T) {
	blob := []byte("payload that must survive one bad share")
	shares, err := Split(blob, 4, WithHash(model.HashBLAKE3))
	require.NoError(t, err)

	shares[1].Payload = append([]byte(nil), shares[1].Payload...)
	shares[1].Payload[0] ^= 0xff

	got, err := Combine(shares, 4, model.HashBLAKE3)
	require.NoError(t, err)
	assert.Equal(t, blob, got)
}

func TestCombineInsufficientShares(t *testing.T) {
	shares, err := Split([]byte("not enough shares arrive"), 3)
	require.NoError(t, err)

	_, err = Combine(shares[:2], 3, model.HashSHA256)
	if !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("Combine error = %v, want ErrInsufficientShares", err)
	}

	// A duplicate does not count twice.
	_, err = Combine([]model.Share{shares[0], shares[0], shares[2]}, 3, model.HashSHA256)
	assert.ErrorIs(t, err, ErrInsufficientShares)
}

func TestDigestUnknownHash(t *testing.T) {
	_, err := Digest("md5", 1, []byte("x"))
	assert.ErrorIs(t, err, ErrUnknownHash)
}

func TestDigestDependsOnIndex(t *testing.T) {
	a, err := Digest(model.HashSHA256, 1, []byte("same"))
	require.NoError(t, err)
	b, err := Digest(model.HashSHA256, 2, []byte("same"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 64)
}

func TestDigestIndexIsFixedWidth(t *testing.T) {
	for _, h := range []model.HashFunc{model.HashSHA256, model.HashBLAKE3} {
		a, err := Digest(h, 1, []byte("1x"))
		require.NoError(t, err)
		b, err := Digest(h, 11, []byte("x"))
		require.NoError(t, err)
		assert.NotEqual(t, a, b, "hash %s", h)
	}
}
