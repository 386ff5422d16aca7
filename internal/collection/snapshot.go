package collection

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"

	"github.com/dreamware/vectorgraph/internal/hnsw"
	"github.com/dreamware/vectorgraph/internal/metric"
	"github.com/dreamware/vectorgraph/internal/payload"
	"github.com/dreamware/vectorgraph/internal/vecstore"
	"github.com/dreamware/vectorgraph/internal/vgerr"
)

// snapshotMagic and snapshotVersion identify the persisted format of
// spec §6. Restore across versions requires an explicit migration step;
// this codec only reads its own version.
var snapshotMagic = [4]byte{'V', 'G', 'S', 'N'}

const snapshotVersion uint32 = 1

var byteOrder = binary.LittleEndian

// snapshotHeader mirrors spec §6's header section. CRC is the CRC32 of
// the five body sections that follow the header (the trailer of section
// offsets is not included).
type snapshotHeader struct {
	Version    uint32
	Name       string
	Dim        uint32
	Metric     uint8
	Normalized bool
	M          uint32
	EfConstr   uint32
	EfSearch   uint32
	Seed       int64
	Quant      uint8
	CreatedAt  int64
}

// payloadRecord is the JSON-encodable form of one handle's payload,
// following the teacher's encoding/json convention for wire structures
// (internal/cluster uses the same library for its own wire types).
type payloadRecord struct {
	Handle  uint32         `json:"handle"`
	Payload map[string]any `json:"payload,omitempty"`
}

// SnapshotCreate writes the full persisted snapshot (spec §6) for the
// collection's current state to w. If compress is true, the vector and
// payload segments are zstd-compressed (spec's domain-stack note on
// klauspost/compress).
func (c *Collection) SnapshotCreate(w io.Writer, compress bool) error {
	store := c.store.Load()
	graph := c.graph.Load()
	n := uint32(store.HighWater())

	vectorSeg, err := encodeVectorSegment(store, n, c.cfg.Quant, compress)
	if err != nil {
		return err
	}
	extIDSeg := encodeExternalIDSegment(store, n)
	payloadSeg, err := encodePayloadSegment(store, n, compress)
	if err != nil {
		return err
	}
	var hnswSeg bytes.Buffer
	if err := graph.EncodeSegment(&hnswSeg); err != nil {
		return err
	}
	tombSeg := encodeTombstoneSegment(store, n)

	hdr := snapshotHeader{
		Version:    snapshotVersion,
		Name:       c.cfg.Name,
		Dim:        uint32(c.cfg.Dim),
		Metric:     uint8(c.cfg.Metric),
		Normalized: c.cfg.Normalized,
		M:          uint32(c.cfg.HNSW.M),
		EfConstr:   uint32(c.cfg.HNSW.EfConstruction),
		EfSearch:   uint32(c.cfg.HNSW.EfSearch),
		Seed:       c.cfg.HNSW.Seed,
		Quant:      uint8(c.cfg.Quant),
		CreatedAt:  time.Now().UnixNano(),
	}

	var body bytes.Buffer
	writeSection(&body, vectorSeg)
	writeSection(&body, extIDSeg)
	writeSection(&body, payloadSeg)
	writeSection(&body, hnswSeg.Bytes())
	writeSection(&body, tombSeg)

	crc := crc32.ChecksumIEEE(body.Bytes())

	var out bytes.Buffer
	out.Write(snapshotMagic[:])
	binary.Write(&out, byteOrder, hdr.Version)
	writeString(&out, hdr.Name)
	binary.Write(&out, byteOrder, hdr.Dim)
	out.WriteByte(hdr.Metric)
	if hdr.Normalized {
		out.WriteByte(1)
	} else {
		out.WriteByte(0)
	}
	binary.Write(&out, byteOrder, hdr.M)
	binary.Write(&out, byteOrder, hdr.EfConstr)
	binary.Write(&out, byteOrder, hdr.EfSearch)
	binary.Write(&out, byteOrder, hdr.Seed)
	out.WriteByte(hdr.Quant)
	binary.Write(&out, byteOrder, hdr.CreatedAt)
	binary.Write(&out, byteOrder, crc)

	headerEnd := uint64(out.Len())
	out.Write(body.Bytes())

	trailer := buildTrailer(headerEnd, vectorSeg, extIDSeg, payloadSeg, hnswSeg.Bytes(), tombSeg)
	finalCRC := crc32.ChecksumIEEE(out.Bytes())
	binary.Write(&trailer, byteOrder, finalCRC)
	out.Write(trailer.Bytes())

	_, err = w.Write(out.Bytes())
	return err
}

func writeSection(buf *bytes.Buffer, section []byte) {
	binary.Write(buf, byteOrder, uint64(len(section)))
	buf.Write(section)
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, byteOrder, uint32(len(s)))
	buf.WriteString(s)
}

func buildTrailer(headerEnd uint64, sections ...[]byte) bytes.Buffer {
	var trailer bytes.Buffer
	offset := headerEnd
	for _, s := range sections {
		binary.Write(&trailer, byteOrder, offset)
		offset += 8 + uint64(len(s))
	}
	return trailer
}

func encodeVectorSegment(store *vecstore.Store, n uint32, quant vecstore.QuantMode, compress bool) ([]byte, error) {
	var raw bytes.Buffer
	if quant == vecstore.QuantScalarInt8 {
		vectors := make([][]float32, 0, n)
		for h := uint32(0); h < n; h++ {
			vectors = append(vectors, store.GetVectorUnsafe(vecstore.Handle(h)))
		}
		q := vecstore.FitScalarQuantizer(vectors)
		binary.Write(&raw, byteOrder, q.Min)
		binary.Write(&raw, byteOrder, q.Max)
		enc := make([]int8, store.Dim())
		for _, v := range vectors {
			q.Encode(v, enc)
			for _, b := range enc {
				raw.WriteByte(byte(b))
			}
		}
	} else {
		for h := uint32(0); h < n; h++ {
			v := store.GetVectorUnsafe(vecstore.Handle(h))
			for _, x := range v {
				binary.Write(&raw, byteOrder, x)
			}
		}
	}
	if !compress {
		return raw.Bytes(), nil
	}
	return zstdCompress(raw.Bytes())
}

func encodeExternalIDSegment(store *vecstore.Store, n uint32) []byte {
	var buf bytes.Buffer
	for h := uint32(0); h < n; h++ {
		id, _ := store.ExternalID(vecstore.Handle(h))
		writeString(&buf, id)
	}
	return buf.Bytes()
}

func encodePayloadSegment(store *vecstore.Store, n uint32, compress bool) ([]byte, error) {
	records := make([]payloadRecord, 0, n)
	for h := uint32(0); h < n; h++ {
		if pl := store.PayloadUnsafe(vecstore.Handle(h)); pl != nil {
			records = append(records, payloadRecord{Handle: h, Payload: pl})
		}
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return nil, err
	}
	if !compress {
		return raw, nil
	}
	return zstdCompress(raw)
}

func encodeTombstoneSegment(store *vecstore.Store, n uint32) []byte {
	bits := make([]byte, (n+7)/8)
	for h := uint32(0); h < n; h++ {
		if store.IsTombstoned(vecstore.Handle(h)) {
			bits[h/8] |= 1 << (h % 8)
		}
	}
	return bits
}

func zstdCompress(raw []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil), nil
}

func zstdDecompress(compressed []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(compressed, nil)
}

// SnapshotRestore rebuilds a Collection's state from a snapshot written
// by SnapshotCreate. compress must match the value passed at creation
// time (the format does not self-describe per-segment compression).
func SnapshotRestore(r io.Reader, compress bool) (*Collection, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(raw) < len(snapshotMagic) || !bytes.Equal(raw[:4], snapshotMagic[:]) {
		return nil, vgerr.New(vgerr.ChecksumMismatch, "snapshot magic bytes do not match")
	}
	buf := bytes.NewReader(raw[4:])

	var hdr snapshotHeader
	binary.Read(buf, byteOrder, &hdr.Version)
	if hdr.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", hdr.Version)
	}
	hdr.Name = readString(buf)
	binary.Read(buf, byteOrder, &hdr.Dim)
	metricByte, _ := buf.ReadByte()
	hdr.Metric = metricByte
	normByte, _ := buf.ReadByte()
	hdr.Normalized = normByte == 1
	binary.Read(buf, byteOrder, &hdr.M)
	binary.Read(buf, byteOrder, &hdr.EfConstr)
	binary.Read(buf, byteOrder, &hdr.EfSearch)
	binary.Read(buf, byteOrder, &hdr.Seed)
	quantByte, _ := buf.ReadByte()
	hdr.Quant = quantByte
	binary.Read(buf, byteOrder, &hdr.CreatedAt)

	var storedCRC uint32
	binary.Read(buf, byteOrder, &storedCRC)

	bodyStart := len(raw) - buf.Len()
	trailerStart := len(raw) - 4 - 5*8
	body := raw[bodyStart:trailerStart]
	if crc32.ChecksumIEEE(body) != storedCRC {
		return nil, vgerr.New(vgerr.ChecksumMismatch, "snapshot body CRC mismatch")
	}

	cursor := bodyStart
	vectorSeg, cursor := readSection(raw, cursor)
	extIDSeg, cursor := readSection(raw, cursor)
	payloadSeg, cursor := readSection(raw, cursor)
	hnswSeg, cursor := readSection(raw, cursor)
	tombSeg, _ := readSection(raw, cursor)

	cfg := Config{
		Name:       hdr.Name,
		Dim:        int(hdr.Dim),
		Metric:     metric.Kind(hdr.Metric),
		Normalized: hdr.Normalized,
		HNSW: hnsw.Config{
			M:              int(hdr.M),
			EfConstruction: int(hdr.EfConstr),
			EfSearch:       int(hdr.EfSearch),
			Metric:         metric.Kind(hdr.Metric),
			Normalized:     hdr.Normalized,
			Seed:           hdr.Seed,
		},
		Quant:                     vecstore.QuantMode(hdr.Quant),
		TombstoneCompactThreshold: 0.2,
		SelectivityLow:            0.01,
		SelectivityHigh:           0.50,
		EfSearchGrowthAlpha:       0.5,
	}

	store := vecstore.New(cfg.Dim, 0)
	vectors, err := decodeVectorSegment(vectorSeg, cfg.Dim, cfg.Quant, compress)
	if err != nil {
		return nil, err
	}
	ids, err := decodeExternalIDSegment(extIDSeg, len(vectors))
	if err != nil {
		return nil, err
	}
	tombstoned := decodeTombstoneSegment(tombSeg, len(vectors))
	payloads, err := decodePayloadSegment(payloadSeg, compress)
	if err != nil {
		return nil, err
	}

	idx := payload.NewIndex(cfg.Schema)
	for i, v := range vectors {
		pl := payloads[uint32(i)]
		h, err := store.Insert(ids[i], v, pl)
		if err != nil {
			return nil, err
		}
		if pl != nil {
			idx.IndexPayload(h, pl)
		}
		if tombstoned[i] {
			store.Delete(ids[i])
		}
	}

	graph, err := hnsw.DecodeSegment(bytes.NewReader(hnswSeg), cfg.HNSW, store)
	if err != nil {
		return nil, err
	}

	c := &Collection{
		cfg:    cfg,
		state:  StateActive,
		logger: log.With().Str("component", "collection").Str("collection", cfg.Name).Logger(),
	}
	c.store.Store(store)
	c.graph.Store(graph)
	c.index.Store(idx)
	return c, nil
}

func readSection(raw []byte, cursor int) ([]byte, int) {
	length := int(byteOrder.Uint64(raw[cursor : cursor+8]))
	start := cursor + 8
	return raw[start : start+length], start + length
}

func readString(r *bytes.Reader) string {
	var length uint32
	binary.Read(r, byteOrder, &length)
	b := make([]byte, length)
	io.ReadFull(r, b)
	return string(b)
}

func decodeVectorSegment(seg []byte, dim int, quant vecstore.QuantMode, compress bool) ([][]float32, error) {
	if compress {
		var err error
		seg, err = zstdDecompress(seg)
		if err != nil {
			return nil, err
		}
	}
	r := bytes.NewReader(seg)
	var vectors [][]float32
	if quant == vecstore.QuantScalarInt8 {
		var q vecstore.ScalarQuantizer
		binary.Read(r, byteOrder, &q.Min)
		binary.Read(r, byteOrder, &q.Max)
		for r.Len() > 0 {
			raw := make([]byte, dim)
			if _, err := io.ReadFull(r, raw); err != nil {
				return nil, err
			}
			enc := make([]int8, dim)
			for i, b := range raw {
				enc[i] = int8(b)
			}
			v := make([]float32, dim)
			q.Decode(enc, v)
			vectors = append(vectors, v)
		}
		return vectors, nil
	}
	for r.Len() > 0 {
		v := make([]float32, dim)
		for i := range v {
			if err := binary.Read(r, byteOrder, &v[i]); err != nil {
				return nil, err
			}
		}
		vectors = append(vectors, v)
	}
	return vectors, nil
}

func decodeExternalIDSegment(seg []byte, n int) ([]string, error) {
	r := bytes.NewReader(seg)
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = readString(r)
	}
	return ids, nil
}

func decodePayloadSegment(seg []byte, compress bool) (map[uint32]map[string]any, error) {
	if compress {
		var err error
		seg, err = zstdDecompress(seg)
		if err != nil {
			return nil, err
		}
	}
	out := make(map[uint32]map[string]any)
	if len(seg) == 0 {
		return out, nil
	}
	var records []payloadRecord
	if err := json.Unmarshal(seg, &records); err != nil {
		return nil, err
	}
	for _, rec := range records {
		out[rec.Handle] = rec.Payload
	}
	return out, nil
}

func decodeTombstoneSegment(seg []byte, n int) []bool {
	out := make([]bool, n)
	for i := 0; i < n; i++ {
		out[i] = seg[i/8]&(1<<(i%8)) != 0
	}
	return out
}
