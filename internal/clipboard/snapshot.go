package clipboard

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
)

// Snapshot is the hashed observation of a clipboard state, used solely for
// change detection and echo suppression.
type Snapshot struct {
	Kind Kind
	Hash string
}

// TakeSnapshot hashes content into a comparable snapshot. Text and images
// hash their bytes; file lists hash the sorted (path, size) tuples so the
// same selection hashes identically regardless of order.
func TakeSnapshot(c Content) Snapshot {
	switch c.Kind {
	case KindText:
		return Snapshot{Kind: KindText, Hash: hashBytes([]byte(c.Text))}
	case KindImage:
		return Snapshot{Kind: KindImage, Hash: hashBytes(c.Image)}
	case KindFiles:
		paths := append([]string{}, c.Files...)
		sort.Strings(paths)
		h := sha256.New()
		for _, p := range paths {
			var size int64
			if info, err := os.Stat(p); err == nil {
				size = info.Size()
			}
			fmt.Fprintf(h, "%s|%d\n", p, size)
		}
		return Snapshot{Kind: KindFiles, Hash: hex.EncodeToString(h.Sum(nil))}
	default:
		return Snapshot{Kind: KindNone}
	}
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Equal reports whether two snapshots describe the same content.
func (s Snapshot) Equal(other Snapshot) bool {
	return s.Kind == other.Kind && s.Hash == other.Hash
}
