package store

import (
	"crypto/sha256"
	"encoding/hex"
	"io"

	"github.com/pkg/errors"
)

// DefaultChunkSize is the fixed leaf width of the content tree.
const DefaultChunkSize = 256 * 1024

// Domain separation between leaf and interior hashes. Without it a
// crafted interior node could masquerade as payload bytes.
var (
	leafTag     = []byte{0x00}
	interiorTag = []byte{0x01}
)

// ContentAddresser derives the canonical root hash of a payload from its
// chunked hash tree. The same bytes always produce the same root, so
// re-uploading identical content is idempotent at the addressing level.
type ContentAddresser struct {
	chunkSize int
}

func NewContentAddresser(chunkSize int) *ContentAddresser {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &ContentAddresser{chunkSize: chunkSize}
}

// ComputeTree streams the payload, hashing fixed-size chunks into leaves
// and folding them pairwise to a single root. Returns the 64-hex root
// and the total byte count consumed.
func (c *ContentAddresser) ComputeTree(r io.Reader) (string, int64, error) {
	var (
		leaves [][]byte
		size   int64
		buf    = make([]byte, c.chunkSize)
	)

	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			size += int64(n)
			h := sha256.New()
			h.Write(leafTag)
			h.Write(buf[:n])
			leaves = append(leaves, h.Sum(nil))
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return "", 0, errors.Wrap(ErrTreeGeneration, err.Error())
		}
	}

	if size == 0 {
		return "", 0, errors.Wrap(ErrTreeGeneration, "payload is empty")
	}

	root := foldTree(leaves)
	return hex.EncodeToString(root), size, nil
}

// ComputeRoot is the in-memory convenience form of ComputeTree.
func (c *ContentAddresser) ComputeRoot(data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.Wrap(ErrTreeGeneration, "payload is empty")
	}
	var leaves [][]byte
	for off := 0; off < len(data); off += c.chunkSize {
		end := off + c.chunkSize
		if end > len(data) {
			end = len(data)
		}
		h := sha256.New()
		h.Write(leafTag)
		h.Write(data[off:end])
		leaves = append(leaves, h.Sum(nil))
	}
	return hex.EncodeToString(foldTree(leaves)), nil
}

// foldTree reduces the leaf level pairwise until one hash remains. An
// odd node at any level is promoted unchanged.
func foldTree(level [][]byte) []byte {
	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			h := sha256.New()
			h.Write(interiorTag)
			h.Write(level[i])
			h.Write(level[i+1])
			next = append(next, h.Sum(nil))
		}
		level = next
	}
	return level[0]
}
