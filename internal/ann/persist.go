package ann

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Binary snapshot format (little-endian):
//
//	magic     8 bytes  "CARDANN1"
//	version   int32
//	dims      int32
//	nodeCount int32
//	entry     int32
//	maxLevel  int32
//	M         int32
//	Mmax0     int32
//	efConstr  int32
//	efSearch  int32
//	nodes     nodeCount times:
//	  idLen   int32
//	  id      idLen bytes
//	  level   int32
//	  live    byte
//	  vector  dims * float32
//	  layers  (level+1) times: friendCount int32, friends int32 each
//
// The format is self-delimiting, so callers can append their own
// sections after the graph and Load leaves the reader positioned at
// the first byte past it.

const magic = "CARDANN1"

const persistVersion = 1

// Save writes a snapshot of the graph. When a quarter or more of the
// nodes are tombstoned it compacts first, so snapshots shed dead
// weight without an explicit rebuild.
func (g *Graph) Save(w io.Writer) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if dead := len(g.nodes) - g.liveCount; dead > 0 && dead*4 >= len(g.nodes) {
		g.compactLocked()
	}

	if _, err := io.WriteString(w, magic); err != nil {
		return fmt.Errorf("writing magic: %w", err)
	}

	header := []int32{
		persistVersion,
		int32(g.dims),
		int32(len(g.nodes)),
		int32(g.entryPoint),
		int32(g.maxLevel),
		int32(g.M),
		int32(g.Mmax0),
		int32(g.EfConstruction),
		int32(g.EfSearch),
	}
	for _, v := range header {
		if err := writeInt32(w, v); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}

	for i := range g.nodes {
		n := &g.nodes[i]
		if err := writeString(w, n.id); err != nil {
			return fmt.Errorf("writing node %d id: %w", i, err)
		}
		if err := writeInt32(w, int32(n.level)); err != nil {
			return fmt.Errorf("writing node %d level: %w", i, err)
		}
		live := byte(0)
		if n.live {
			live = 1
		}
		if _, err := w.Write([]byte{live}); err != nil {
			return fmt.Errorf("writing node %d live flag: %w", i, err)
		}
		for _, v := range n.vector {
			if err := writeFloat32(w, v); err != nil {
				return fmt.Errorf("writing node %d vector: %w", i, err)
			}
		}
		for l := 0; l <= n.level; l++ {
			friends := n.friends[l]
			if err := writeInt32(w, int32(len(friends))); err != nil {
				return fmt.Errorf("writing node %d layer %d friend count: %w", i, l, err)
			}
			for _, f := range friends {
				if err := writeInt32(w, int32(f)); err != nil {
					return fmt.Errorf("writing node %d layer %d friend: %w", i, l, err)
				}
			}
		}
	}

	return nil
}

// Load restores a graph from a snapshot written by Save.
func Load(r io.Reader) (*Graph, error) {
	magicBuf := make([]byte, 8)
	if _, err := io.ReadFull(r, magicBuf); err != nil {
		return nil, fmt.Errorf("reading magic: %w", err)
	}
	if string(magicBuf) != magic {
		return nil, fmt.Errorf("invalid magic: %q (expected %q)", string(magicBuf), magic)
	}

	version, err := readInt32(r)
	if err != nil {
		return nil, fmt.Errorf("reading version: %w", err)
	}
	if version != persistVersion {
		return nil, fmt.Errorf("unsupported version: %d", version)
	}

	dims, err := readInt32(r)
	if err != nil {
		return nil, err
	}
	nodeCount, err := readInt32(r)
	if err != nil {
		return nil, err
	}
	entryPoint, err := readInt32(r)
	if err != nil {
		return nil, err
	}
	maxLevel, err := readInt32(r)
	if err != nil {
		return nil, err
	}
	m, err := readInt32(r)
	if err != nil {
		return nil, err
	}
	mmax0, err := readInt32(r)
	if err != nil {
		return nil, err
	}
	efConst, err := readInt32(r)
	if err != nil {
		return nil, err
	}
	efSearch, err := readInt32(r)
	if err != nil {
		return nil, err
	}

	if dims <= 0 || nodeCount < 0 {
		return nil, fmt.Errorf("corrupt header (dims=%d, nodes=%d)", dims, nodeCount)
	}
	if entryPoint < -1 || entryPoint >= nodeCount {
		return nil, fmt.Errorf("corrupt header (entry point %d of %d nodes)", entryPoint, nodeCount)
	}

	g := NewWithParams(int(dims), int(m), int(efConst), int(efSearch))
	g.Mmax0 = int(mmax0)
	g.entryPoint = int(entryPoint)
	g.maxLevel = int(maxLevel)
	g.nodes = make([]node, 0, nodeCount)

	for i := int32(0); i < nodeCount; i++ {
		id, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("reading node %d id: %w", i, err)
		}
		level, err := readInt32(r)
		if err != nil {
			return nil, fmt.Errorf("reading node %d level: %w", i, err)
		}
		if level < 0 {
			return nil, fmt.Errorf("corrupt node %d (level=%d)", i, level)
		}

		liveBuf := make([]byte, 1)
		if _, err := io.ReadFull(r, liveBuf); err != nil {
			return nil, fmt.Errorf("reading node %d live flag: %w", i, err)
		}

		vector := make([]float32, dims)
		for d := int32(0); d < dims; d++ {
			v, err := readFloat32(r)
			if err != nil {
				return nil, fmt.Errorf("reading node %d vector[%d]: %w", i, d, err)
			}
			vector[d] = v
		}

		friends := make([][]int, level+1)
		for l := int32(0); l <= level; l++ {
			friendCount, err := readInt32(r)
			if err != nil {
				return nil, fmt.Errorf("reading node %d layer %d friend count: %w", i, l, err)
			}
			if friendCount < 0 || friendCount > nodeCount {
				return nil, fmt.Errorf("corrupt node %d layer %d (friend count %d)", i, l, friendCount)
			}
			friends[l] = make([]int, friendCount)
			for j := int32(0); j < friendCount; j++ {
				fIdx, err := readInt32(r)
				if err != nil {
					return nil, fmt.Errorf("reading node %d layer %d friend %d: %w", i, l, j, err)
				}
				if fIdx < 0 || fIdx >= nodeCount {
					return nil, fmt.Errorf("corrupt node %d layer %d friend index %d", i, l, fIdx)
				}
				friends[l][j] = int(fIdx)
			}
		}

		n := node{
			id:      id,
			vector:  vector,
			friends: friends,
			level:   int(level),
			live:    liveBuf[0] == 1,
		}
		g.nodes = append(g.nodes, n)
		g.idToIdx[id] = int(i)
		if n.live {
			g.liveCount++
		}
	}

	return g, nil
}

// Binary helpers

func writeInt32(w io.Writer, v int32) error {
	return binary.Write(w, binary.LittleEndian, v)
}

func writeFloat32(w io.Writer, v float32) error {
	return binary.Write(w, binary.LittleEndian, v)
}

func writeString(w io.Writer, s string) error {
	if err := writeInt32(w, int32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readInt32(r io.Reader) (int32, error) {
	var v int32
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}

func readFloat32(r io.Reader) (float32, error) {
	var v float32
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}

func readString(r io.Reader) (string, error) {
	n, err := readInt32(r)
	if err != nil {
		return "", err
	}
	if n < 0 || n > 1<<20 {
		return "", fmt.Errorf("corrupt string length %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
