// Package storage implements the Storage Adapter (spec §4.6): a sparse
// 2D array keyed by (xi, yi) holding one variable-length column per raw
// attribute and one scalar column per (metric, attr) pair, with time-slot
// metadata recording run identity, MBR and termination status.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	tiledb "github.com/TileDB-Inc/TileDB-Go"
	stgpsr "github.com/yuin/stagparser"

	"github.com/meshforest/shatter/extent"
	"github.com/meshforest/shatter/metric"
)

var ErrSchema = errors.New("storage: schema error")
var ErrIO = errors.New("storage: io error")
var ErrMetadata = errors.New("storage: metadata error")

// Mode selects the open mode for a Handle.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
)

func (m Mode) tiledbType() tiledb.QueryType {
	if m == ModeWrite {
		return tiledb.TILEDB_WRITE
	}
	return tiledb.TILEDB_READ
}

// Column is one attribute's per-cell values for a single Write call.
// Exactly one of Values (fixed-length metric output, one float64 per cell)
// or Var (ragged raw-attribute vectors, one []float64 per cell) must be
// set — the spec's "ragged columnar write" workaround for stores without
// native list columns (spec §9). Dtype names the attribute's declared
// TileDB datatype (e.g. "int64", "float32") for a Values column and must
// match whatever Create registered that attribute as; Var columns are
// always float64 and ignore Dtype.
type Column struct {
	Values []float64
	Var    [][]float64
	Dtype  string
}

func (c Column) isVar() bool { return c.Var != nil }

// Handle is an open array ready for reads or writes. It records the time
// slot it was opened for; the array itself is opened at its current state,
// not at a time-slot timestamp, so reads and writes are not confined to
// that slot.
type Handle struct {
	array    *tiledb.Array
	ctx      *tiledb.Context
	mode     Mode
	timeSlot int64
}

// Close closes and frees the underlying TileDB array. The TileDB context
// belongs to the Store and is released by Store.Close.
func (h *Handle) Close() {
	if h.array != nil {
		h.array.Close()
		h.array.Free()
	}
}

// countTag mirrors the teacher's reflection-over-tagged-struct pattern
// (tiledb.go's CreateAttr / schema.go's schemaAttrs) for the fixed "count"
// dimension-adjacent attribute every schema carries regardless of the
// requested metric set.
type countTag struct {
	Count struct{} `tiledb:"dtype=int64,ftype=attr" filters:"zstd(level=16)"`
}

// Store is a TileDB-backed implementation of the Storage Adapter.
type Store struct {
	uri    string
	config *tiledb.Config
	ctx    *tiledb.Context
	vfs    *tiledb.VFS
}

// Open-mode-agnostic constructor. config may be nil, in which case a
// generic tiledb.Config is used (the empty config_uri fallback in the
// teacher's file.go/json.go).
func New(uri string, config *tiledb.Config) (*Store, error) {
	var err error
	if config == nil {
		config, err = tiledb.NewConfig()
		if err != nil {
			return nil, errors.Join(ErrSchema, err)
		}
	}

	ctx, err := tiledb.NewContext(config)
	if err != nil {
		return nil, errors.Join(ErrSchema, err)
	}

	vfs, err := tiledb.NewVFS(ctx, config)
	if err != nil {
		ctx.Free()
		return nil, errors.Join(ErrSchema, err)
	}

	return &Store{uri: uri, config: config, ctx: ctx, vfs: vfs}, nil
}

func (s *Store) Close() {
	s.vfs.Free()
	s.ctx.Free()
	s.config.Free()
}

// Create builds the sparse array schema for root's grid (spec §4.6
// "Schema creation"): dimensions X, Y over [0, xi_count) x [0, yi_count),
// one var-length column per raw attribute, one fixed int64 "Count" column,
// and one scalar column per (metric, attr) named "m_{attr}_{metric}".
func (s *Store) Create(ctx context.Context, root extent.Bounds, attrs []string, metrics []metric.Descriptor) error {
	domain, err := tiledb.NewDomain(s.ctx)
	if err != nil {
		return errors.Join(ErrSchema, err)
	}
	defer domain.Free()

	tileSz := uint64(math.Min(1000, float64(root.XCount)))
	if tileSz == 0 {
		tileSz = 1
	}

	xdim, err := tiledb.NewDimension(s.ctx, "X", tiledb.TILEDB_INT64, []int64{0, int64(root.XCount) - 1}, tileSz)
	if err != nil {
		return errors.Join(ErrSchema, err)
	}
	defer xdim.Free()

	ydim, err := tiledb.NewDimension(s.ctx, "Y", tiledb.TILEDB_INT64, []int64{0, int64(root.YCount) - 1}, tileSz)
	if err != nil {
		return errors.Join(ErrSchema, err)
	}
	defer ydim.Free()

	dimFilters, err := tiledb.NewFilterList(s.ctx)
	if err != nil {
		return errors.Join(ErrSchema, err)
	}
	defer dimFilters.Free()

	zf, err := zstdFilter(s.ctx, 16)
	if err != nil {
		return errors.Join(ErrSchema, err)
	}
	defer zf.Free()

	if err := dimFilters.AddFilter(zf); err != nil {
		return errors.Join(ErrSchema, err)
	}
	if err := xdim.SetFilterList(dimFilters); err != nil {
		return errors.Join(ErrSchema, err)
	}
	if err := ydim.SetFilterList(dimFilters); err != nil {
		return errors.Join(ErrSchema, err)
	}
	if err := domain.AddDimensions(xdim, ydim); err != nil {
		return errors.Join(ErrSchema, err)
	}

	schema, err := tiledb.NewArraySchema(s.ctx, tiledb.TILEDB_SPARSE)
	if err != nil {
		return errors.Join(ErrSchema, err)
	}

	if err := schema.SetDomain(domain); err != nil {
		return errors.Join(ErrSchema, err)
	}
	if err := schema.SetCapacity(100_000); err != nil {
		return errors.Join(ErrSchema, err)
	}
	if err := schema.SetCellOrder(tiledb.TILEDB_HILBERT); err != nil {
		return errors.Join(ErrSchema, err)
	}
	if err := schema.SetTileOrder(tiledb.TILEDB_ROW_MAJOR); err != nil {
		return errors.Join(ErrSchema, err)
	}
	if err := schema.SetAllowsDups(false); err != nil {
		return errors.Join(ErrSchema, err)
	}

	if err := attachTaggedAttr(s.ctx, schema, &countTag{}, "Count"); err != nil {
		return errors.Join(ErrSchema, err)
	}

	for _, attr := range attrs {
		if err := addVarAttr(s.ctx, schema, attr, "float64"); err != nil {
			return errors.Join(ErrSchema, err)
		}
	}

	for _, attr := range attrs {
		for _, m := range metrics {
			name := fmt.Sprintf("m_%s_%s", attr, m.Name)
			if err := addScalarAttr(s.ctx, schema, name, m.Dtype); err != nil {
				return errors.Join(ErrSchema, err)
			}
		}
	}

	if err := schema.Check(); err != nil {
		return errors.Join(ErrSchema, err)
	}

	array, err := tiledb.NewArray(s.ctx, s.uri)
	if err != nil {
		return errors.Join(ErrSchema, err)
	}
	defer array.Free()

	if err := array.Create(schema); err != nil {
		return errors.Join(ErrSchema, err)
	}

	md := map[string]any{
		"LAYER_EXTENT_MINX": root.MinX, "LAYER_EXTENT_MINY": root.MinY,
		"LAYER_EXTENT_MAXX": root.MaxX, "LAYER_EXTENT_MAXY": root.MaxY,
		"CRS": root.SRS,
	}
	if err := s.writeMetadataBlob(ctx, "layer", md, -1); err != nil {
		return errors.Join(ErrSchema, err)
	}

	return nil
}

// Open opens the array for the given mode. timeSlot is recorded on the
// Handle for callers that need to correlate writes/reads with a specific
// run's metadata; it does not change which state of the array is opened.
func (s *Store) Open(ctx context.Context, mode Mode, timeSlot int64) (*Handle, error) {
	array, err := tiledb.NewArray(s.ctx, s.uri)
	if err != nil {
		return nil, errors.Join(ErrIO, err)
	}

	if err := array.Open(mode.tiledbType()); err != nil {
		array.Free()
		return nil, errors.Join(ErrIO, err)
	}

	return &Handle{array: array, ctx: s.ctx, mode: mode, timeSlot: timeSlot}, nil
}

// Write persists columns for the cells named by the parallel xi/yi slices.
// Var-length columns are flattened with an explicit offsets buffer (the
// ragged columnar write workaround of spec §9), mirroring the teacher's
// sliceOffsets/lo.Flatten pattern in tiledb.go's setStructFieldBuffers.
func (s *Store) Write(ctx context.Context, h *Handle, xi, yi []int64, columns map[string]Column) error {
	if h.mode != ModeWrite {
		return errors.Join(ErrIO, errors.New("handle not opened for write"))
	}
	if len(xi) != len(yi) {
		return errors.Join(ErrIO, errors.New("xi/yi length mismatch"))
	}

	query, err := tiledb.NewQuery(s.ctx, h.array)
	if err != nil {
		return errors.Join(ErrIO, err)
	}
	defer query.Free()

	if err := query.SetLayout(tiledb.TILEDB_UNORDERED); err != nil {
		return errors.Join(ErrIO, err)
	}

	if _, err := query.SetDataBuffer("X", xi); err != nil {
		return errors.Join(ErrIO, err)
	}
	if _, err := query.SetDataBuffer("Y", yi); err != nil {
		return errors.Join(ErrIO, err)
	}

	for name, col := range columns {
		if col.isVar() {
			flat, offsets := flattenRagged(col.Var)
			if _, err := query.SetOffsetsBuffer(name, offsets); err != nil {
				return errors.Join(ErrIO, err, errors.New(name))
			}
			if _, err := query.SetDataBuffer(name, flat); err != nil {
				return errors.Join(ErrIO, err, errors.New(name))
			}
			continue
		}
		buf, err := scalarBuffer(col.Dtype, col.Values)
		if err != nil {
			return errors.Join(ErrIO, err, errors.New(name))
		}
		if _, err := query.SetDataBuffer(name, buf); err != nil {
			return errors.Join(ErrIO, err, errors.New(name))
		}
	}

	if err := query.Submit(); err != nil {
		return errors.Join(ErrIO, err)
	}
	if err := query.Finalize(); err != nil {
		return errors.Join(ErrIO, err)
	}

	return nil
}

// flattenRagged flattens a ragged [][]float64 into one contiguous slice
// plus byte offsets, the layout TileDB's var-length attributes require.
func flattenRagged(rows [][]float64) (flat []float64, offsets []uint64) {
	offsets = make([]uint64, len(rows))
	offset := uint64(0)
	const byteSize = 8
	total := 0
	for _, r := range rows {
		total += len(r)
	}
	flat = make([]float64, 0, total)
	for i, r := range rows {
		offsets[i] = offset
		flat = append(flat, r...)
		offset += uint64(len(r)) * byteSize
	}
	return flat, offsets
}

// SaveMetadata persists an arbitrary JSON blob under key, scoped to
// timeSlot when timeSlot >= 0 (negative means array-level, not per-slot).
func (s *Store) SaveMetadata(ctx context.Context, kind string, blob []byte, timeSlot int64) error {
	array, err := tiledb.NewArray(s.ctx, s.uri)
	if err != nil {
		return errors.Join(ErrMetadata, err)
	}
	defer array.Free()

	if err := array.Open(tiledb.TILEDB_WRITE); err != nil {
		return errors.Join(ErrMetadata, err)
	}
	defer array.Close()

	key := kind
	if timeSlot >= 0 {
		key = fmt.Sprintf("%s_%d", kind, timeSlot)
	}

	if err := array.PutMetadata(key, string(blob)); err != nil {
		return errors.Join(ErrMetadata, err)
	}

	return nil
}

func (s *Store) writeMetadataBlob(ctx context.Context, kind string, data any, timeSlot int64) error {
	jsn, err := json.Marshal(data)
	if err != nil {
		return errors.Join(ErrMetadata, err)
	}
	return s.SaveMetadata(ctx, kind, jsn, timeSlot)
}

// ReserveTimeSlot allocates the next free time-slot integer by reading the
// array's "next_time_slot" metadata counter and incrementing it, so
// concurrent runs against the same store never collide (spec §4.6).
func (s *Store) ReserveTimeSlot(ctx context.Context) (int64, error) {
	readArray, err := tiledb.NewArray(s.ctx, s.uri)
	if err != nil {
		return 0, errors.Join(ErrMetadata, err)
	}
	defer readArray.Free()

	var next int64
	if err := readArray.Open(tiledb.TILEDB_READ); err != nil {
		return 0, errors.Join(ErrMetadata, err)
	}
	_, _, v, err := readArray.GetMetadata("next_time_slot")
	readArray.Close()
	if err == nil && v != nil {
		if n, ok := v.(int64); ok {
			next = n
		}
	}

	writeArray, err := tiledb.NewArray(s.ctx, s.uri)
	if err != nil {
		return 0, errors.Join(ErrMetadata, err)
	}
	defer writeArray.Free()

	if err := writeArray.Open(tiledb.TILEDB_WRITE); err != nil {
		return 0, errors.Join(ErrMetadata, err)
	}
	defer writeArray.Close()

	if err := writeArray.PutMetadata("next_time_slot", next+1); err != nil {
		return 0, errors.Join(ErrMetadata, err)
	}

	return next, nil
}

// MBRs returns the minimum bounding rectangles recorded for timeSlot's
// writes, read back from the run config SaveMetadata persisted under kind
// "shatter" for that slot (the same blob coordinator.persistAndConsolidate
// writes), so a resumed run recovers exactly the tiles a prior run
// finished (spec §4.6, §8 resume-idempotence).
func (s *Store) MBRs(ctx context.Context, timeSlot int64) ([]extent.Rect, error) {
	array, err := tiledb.NewArray(s.ctx, s.uri)
	if err != nil {
		return nil, errors.Join(ErrMetadata, err)
	}
	defer array.Free()

	if err := array.Open(tiledb.TILEDB_READ); err != nil {
		return nil, errors.Join(ErrMetadata, err)
	}
	defer array.Close()

	key := fmt.Sprintf("shatter_%d", timeSlot)
	_, _, v, err := array.GetMetadata(key)
	if err != nil {
		return nil, nil
	}

	raw, ok := v.(string)
	if !ok {
		return nil, nil
	}

	var cfg struct {
		MBR []extent.Rect `json:"mbr"`
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, errors.Join(ErrMetadata, err)
	}

	return cfg.MBR, nil
}

// ConsolidateShatter runs one TileDB consolidation (in the mode the Store's
// config selects) plus vacuum over the whole array, the terminal step of a
// run; timeSlot does not narrow it to that slot's fragments.
func (s *Store) ConsolidateShatter(ctx context.Context, timeSlot int64) error {
	if err := tiledb.Consolidate(s.ctx, s.uri, s.config); err != nil {
		return errors.Join(ErrIO, err)
	}
	if err := tiledb.Vacuum(s.ctx, s.uri, s.config); err != nil {
		return errors.Join(ErrIO, err)
	}
	return nil
}

func zstdFilter(ctx *tiledb.Context, level int32) (*tiledb.Filter, error) {
	f, err := tiledb.NewFilter(ctx, tiledb.TILEDB_FILTER_ZSTD)
	if err != nil {
		return nil, err
	}
	if err := f.SetOption(tiledb.TILEDB_COMPRESSION_LEVEL, level); err != nil {
		f.Free()
		return nil, err
	}
	return f, nil
}

// attachTaggedAttr adapts the teacher's CreateAttr for a single named field
// on a tag-carrier struct, reusing the same stagparser tag grammar.
func attachTaggedAttr(ctx *tiledb.Context, schema *tiledb.ArraySchema, tagCarrier any, field string) error {
	filtDefs, err := stgpsr.ParseStruct(tagCarrier, "filters")
	if err != nil {
		return err
	}
	tdbDefs, err := stgpsr.ParseStruct(tagCarrier, "tiledb")
	if err != nil {
		return err
	}

	fieldTdb := make(map[string]stgpsr.Definition)
	for _, d := range tdbDefs[field] {
		fieldTdb[d.Name()] = d
	}

	dtypeDef, ok := fieldTdb["dtype"]
	if !ok {
		return fmt.Errorf("%w: dtype tag not found for %s", ErrSchema, field)
	}
	dtypeVal, _ := dtypeDef.Attribute("dtype")
	dtype, _ := dtypeVal.(string)

	return addAttrWithFilters(ctx, schema, field, dtype, filtDefs[field])
}

func addScalarAttr(ctx *tiledb.Context, schema *tiledb.ArraySchema, name, dtype string) error {
	return addAttrWithFilters(ctx, schema, name, dtype, nil)
}

func addVarAttr(ctx *tiledb.Context, schema *tiledb.ArraySchema, name, dtype string) error {
	tdbType, err := tiledbDatatype(dtype)
	if err != nil {
		return err
	}

	attr, err := tiledb.NewAttribute(ctx, name, tdbType)
	if err != nil {
		return err
	}
	defer attr.Free()

	if err := attr.SetCellValNum(tiledb.TILEDB_VAR_NUM); err != nil {
		return err
	}

	filts, err := tiledb.NewFilterList(ctx)
	if err != nil {
		return err
	}
	defer filts.Free()

	zf, err := zstdFilter(ctx, 16)
	if err != nil {
		return err
	}
	defer zf.Free()
	if err := filts.AddFilter(zf); err != nil {
		return err
	}
	if err := attr.SetFilterList(filts); err != nil {
		return err
	}

	if err := schema.AddAttributes(attr); err != nil {
		return err
	}

	offFilts, err := tiledb.NewFilterList(ctx)
	if err != nil {
		return err
	}
	ddf, err := tiledb.NewFilter(ctx, tiledb.TILEDB_FILTER_POSITIVE_DELTA)
	if err != nil {
		return err
	}
	zf2, err := zstdFilter(ctx, 16)
	if err != nil {
		return err
	}
	if err := offFilts.AddFilter(ddf); err != nil {
		return err
	}
	if err := offFilts.AddFilter(zf2); err != nil {
		return err
	}
	return schema.SetOffsetsFilterList(offFilts)
}

func addAttrWithFilters(ctx *tiledb.Context, schema *tiledb.ArraySchema, name, dtype string, filterDefs []stgpsr.Definition) error {
	tdbType, err := tiledbDatatype(dtype)
	if err != nil {
		return err
	}

	attr, err := tiledb.NewAttribute(ctx, name, tdbType)
	if err != nil {
		return err
	}
	defer attr.Free()

	filts, err := tiledb.NewFilterList(ctx)
	if err != nil {
		return err
	}
	defer filts.Free()

	if len(filterDefs) == 0 {
		zf, err := zstdFilter(ctx, 16)
		if err != nil {
			return err
		}
		defer zf.Free()
		if err := filts.AddFilter(zf); err != nil {
			return err
		}
	} else {
		for _, fd := range filterDefs {
			if fd.Name() != "zstd" {
				continue
			}
			level, _ := fd.Attribute("level")
			lvl, _ := level.(int64)
			zf, err := zstdFilter(ctx, int32(lvl))
			if err != nil {
				return err
			}
			defer zf.Free()
			if err := filts.AddFilter(zf); err != nil {
				return err
			}
		}
	}

	if err := attr.SetFilterList(filts); err != nil {
		return err
	}

	return schema.AddAttributes(attr)
}

// CountDtype is the declared datatype of the fixed "Count" attribute
// (countTag above) and of the "count" metric, the one entry in
// metric.NewDefaultRegistry whose output isn't float32 — callers building
// a Column for either must use this, not a hardcoded "float32".
const CountDtype = "int64"

// scalarBuffer converts vals into the concrete-typed slice TileDB expects
// for an attribute declared with the given dtype tag, mirroring
// tiledbDatatype's string-to-Datatype switch but producing a Go buffer
// instead of a schema type. Every metric.Descriptor.Dtype and the fixed
// "Count" attribute's dtype must round-trip through here unchanged, or
// query.Submit rejects the buffer with a datatype mismatch.
func scalarBuffer(dtype string, vals []float64) (any, error) {
	switch dtype {
	case "int8":
		out := make([]int8, len(vals))
		for i, v := range vals {
			out[i] = int8(v)
		}
		return out, nil
	case "uint8":
		out := make([]uint8, len(vals))
		for i, v := range vals {
			out[i] = uint8(v)
		}
		return out, nil
	case "int16":
		out := make([]int16, len(vals))
		for i, v := range vals {
			out[i] = int16(v)
		}
		return out, nil
	case "uint16":
		out := make([]uint16, len(vals))
		for i, v := range vals {
			out[i] = uint16(v)
		}
		return out, nil
	case "int32":
		out := make([]int32, len(vals))
		for i, v := range vals {
			out[i] = int32(v)
		}
		return out, nil
	case "uint32":
		out := make([]uint32, len(vals))
		for i, v := range vals {
			out[i] = uint32(v)
		}
		return out, nil
	case "int64":
		out := make([]int64, len(vals))
		for i, v := range vals {
			out[i] = int64(v)
		}
		return out, nil
	case "uint64":
		out := make([]uint64, len(vals))
		for i, v := range vals {
			out[i] = uint64(v)
		}
		return out, nil
	case "float32":
		out := make([]float32, len(vals))
		for i, v := range vals {
			out[i] = float32(v)
		}
		return out, nil
	case "float64":
		return vals, nil
	default:
		return nil, fmt.Errorf("%w: unsupported dtype %q", ErrSchema, dtype)
	}
}

func tiledbDatatype(dtype string) (tiledb.Datatype, error) {
	switch dtype {
	case "int8":
		return tiledb.TILEDB_INT8, nil
	case "uint8":
		return tiledb.TILEDB_UINT8, nil
	case "int16":
		return tiledb.TILEDB_INT16, nil
	case "uint16":
		return tiledb.TILEDB_UINT16, nil
	case "int32":
		return tiledb.TILEDB_INT32, nil
	case "uint32":
		return tiledb.TILEDB_UINT32, nil
	case "int64":
		return tiledb.TILEDB_INT64, nil
	case "uint64":
		return tiledb.TILEDB_UINT64, nil
	case "float32":
		return tiledb.TILEDB_FLOAT32, nil
	case "float64":
		return tiledb.TILEDB_FLOAT64, nil
	default:
		return 0, fmt.Errorf("%w: unsupported dtype %q", ErrSchema, dtype)
	}
}

