package sharing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/signalsfoundry/sensornet-simulator/model"
)

// ErrHashMismatch is returned when a share's payload no longer matches its
// digest.
var ErrHashMismatch = errors.New("share hash mismatch")

// ErrUnknownHash is returned for hash names the sink does not publish.
var ErrUnknownHash = errors.New("unknown hash function")

// Digest returns hex(H(index ‖ payload)), the index encoded as a fixed
// 4-byte big-endian prefix.
func Digest(h model.HashFunc, index int, payload []byte) (string, error) {
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(index))
	switch h {
	case model.HashSHA256, "":
		d := sha256.New()
		d.Write(prefix[:])
		d.Write(payload)
		return hex.EncodeToString(d.Sum(nil)), nil
	case model.HashBLAKE3:
		d := blake3.New()
		d.Write(prefix[:])
		d.Write(payload)
		return hex.EncodeToString(d.Sum(nil)), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownHash, h)
	}
}

// VerifyShare checks the share's digest against its payload.
func VerifyShare(s model.Share, h model.HashFunc) error {
	want, err := Digest(h, s.Index, s.Payload)
	if err != nil {
		return err
	}
	if s.Hash != want {
		return fmt.Errorf("%w: share %d", ErrHashMismatch, s.Index)
	}
	return nil
}
