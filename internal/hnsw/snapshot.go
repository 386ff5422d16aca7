package hnsw

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dreamware/vectorgraph/internal/vecstore"
	"github.com/dreamware/vectorgraph/internal/vgerr"
)

// noEntrySentinel marks an absent entry point in the encoded segment.
const noEntrySentinel uint32 = 0xFFFFFFFF

// EncodeSegment writes the HNSW segment described in spec §6: per-node
// top level and tombstone bit, then per-level neighbor arrays as a
// length-prefixed handle list. The collection snapshot writer wraps this
// between its own header and trailer sections.
func (g *Graph) EncodeSegment(w io.Writer) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(g.nodes))); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(g.maxLevel)); err != nil {
		return err
	}
	entry := noEntrySentinel
	if g.hasEntry {
		entry = uint32(g.entryPoint)
	}
	if err := binary.Write(bw, binary.LittleEndian, entry); err != nil {
		return err
	}

	for h, n := range g.nodes {
		if n == nil {
			if err := binary.Write(bw, binary.LittleEndian, int32(-1)); err != nil {
				return err
			}
			continue
		}
		if err := binary.Write(bw, binary.LittleEndian, int32(n.topLevel)); err != nil {
			return err
		}
		tomb := byte(0)
		if n.tombstoned.Load() {
			tomb = 1
		}
		if err := bw.WriteByte(tomb); err != nil {
			return err
		}
		for l := 0; l <= n.topLevel; l++ {
			handles := g.Neighbors(vecstore.Handle(h), l)
			if err := binary.Write(bw, binary.LittleEndian, uint32(len(handles))); err != nil {
				return err
			}
			for _, nb := range handles {
				if err := binary.Write(bw, binary.LittleEndian, uint32(nb)); err != nil {
					return err
				}
			}
		}
	}
	return bw.Flush()
}

// DecodeSegment rebuilds a Graph from a segment written by EncodeSegment.
// store must already hold the vectors referenced by the encoded handles
// (the collection restores the vector segment first).
func DecodeSegment(r io.Reader, cfg Config, store *vecstore.Store) (*Graph, error) {
	br := bufio.NewReader(r)
	var nodeCount, maxLevel, entry uint32
	if err := binary.Read(br, binary.LittleEndian, &nodeCount); err != nil {
		return nil, fmt.Errorf("reading node count: %w", err)
	}
	if err := binary.Read(br, binary.LittleEndian, &maxLevel); err != nil {
		return nil, fmt.Errorf("reading max level: %w", err)
	}
	if err := binary.Read(br, binary.LittleEndian, &entry); err != nil {
		return nil, fmt.Errorf("reading entry point: %w", err)
	}

	g := New(cfg, store)
	g.maxLevel = int(maxLevel)
	if entry != noEntrySentinel {
		g.entryPoint = vecstore.Handle(entry)
		g.hasEntry = true
	}

	g.nodes = make([]*nodeState, nodeCount)
	g.layers = make([][]*neighbors, maxLevel+1)
	for l := range g.layers {
		g.layers[l] = make([]*neighbors, nodeCount)
	}

	for h := uint32(0); h < nodeCount; h++ {
		var topLevel int32
		if err := binary.Read(br, binary.LittleEndian, &topLevel); err != nil {
			return nil, fmt.Errorf("reading node %d top level: %w", h, err)
		}
		if topLevel < 0 {
			continue
		}
		tomb, err := br.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("reading node %d tombstone: %w", h, err)
		}
		ns := &nodeState{topLevel: int(topLevel)}
		ns.tombstoned.Store(tomb == 1)
		g.nodes[h] = ns

		for l := int32(0); l <= topLevel; l++ {
			var count uint32
			if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
				return nil, fmt.Errorf("reading node %d level %d neighbor count: %w", h, l, err)
			}
			handles := make([]vecstore.Handle, count)
			for i := range handles {
				var nb uint32
				if err := binary.Read(br, binary.LittleEndian, &nb); err != nil {
					return nil, fmt.Errorf("reading node %d level %d neighbor %d: %w", h, l, i, err)
				}
				handles[i] = vecstore.Handle(nb)
			}
			if int(l) >= len(g.layers) || int(h) >= len(g.layers[l]) {
				return nil, vgerr.New(vgerr.GraphCorruption, "neighbor segment references an out-of-range level or handle")
			}
			n := newNeighbors()
			n.store(handles)
			g.layers[l][h] = n
		}
	}

	// Validate every decoded neighbor reference before handing the graph
	// back: spec §4.5 requires restore to treat a dangling reference as
	// FATAL rather than silently navigable garbage. Forward references
	// (a lower handle's neighbor list naming a higher handle decoded
	// later in the loop above) mean this check can only run once every
	// node is in place, hence the separate pass here.
	for l := range g.layers {
		for h, n := range g.layers[l] {
			if n == nil {
				continue
			}
			for _, nb := range n.load() {
				if int(nb) >= len(g.nodes) || g.nodes[nb] == nil {
					return nil, vgerr.New(vgerr.GraphCorruption, fmt.Sprintf("level %d handle %d references missing neighbor %d", l, h, nb))
				}
			}
		}
	}

	return g, nil
}
