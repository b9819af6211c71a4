package sortedread

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tiledb-go/tiledb/array"
	terrors "github.com/tiledb-go/tiledb/errors"
	"github.com/tiledb-go/tiledb/expr"
	"github.com/tiledb-go/tiledb/internal/base"
	"github.com/tiledb-go/tiledb/internal/copyengine"
	"github.com/tiledb-go/tiledb/internal/domain"
	"github.com/tiledb-go/tiledb/internal/planner"
	"github.com/tiledb-go/tiledb/internal/reader"
	"github.com/tiledb-go/tiledb/internal/stats"
)

// sessionAPI is the non-generic surface Session forwards to. Session
// itself carries no type parameter so callers can hold a *Session
// without naming the coordinate type their array happens to use;
// NewSession is the one generic entry point that picks a concrete
// session[T] and hides it behind this interface, so the coordinate
// type is resolved once at construction rather than threaded through
// every subsequent call.
type sessionAPI interface {
	Read(buffers []Buffer) (Outcome, error)
	Overflow(attrID int) bool
	Done() bool
	Close() error
	Stats() stats.Snapshot
}

// Session is a sorted-read query over one subarray of one array.Store.
// Construct one with NewSession; a Session is safe for one caller to
// drive at a time (Read/Overflow/Done from one goroutine), but Close
// may be called concurrently with an in-flight Read to cancel it.
type Session struct {
	impl sessionAPI
}

// NewSession opens a sorted-read session over store restricted to
// subarray (inclusive lo/hi pairs per dimension, in the array's own
// coordinate type T) and the given attribute ids, reading cells out in
// layout order. It validates the schema and subarray,
// plans and posts the first tile slab's native-order read, and starts
// a background goroutine that keeps prefetching one slab ahead.
func NewSession[T base.Coord](store array.Store[T], attrIDs []int, subarray []T, layout base.Layout, opts ...Option) (*Session, error) {
	impl, err := newSession(store, attrIDs, subarray, layout, opts...)
	if err != nil {
		return nil, err
	}
	return &Session{impl: impl}, nil
}

func (s *Session) Read(buffers []Buffer) (Outcome, error) { return s.impl.Read(buffers) }
func (s *Session) Overflow(attrID int) bool               { return s.impl.Overflow(attrID) }
func (s *Session) Done() bool                             { return s.impl.Done() }
func (s *Session) Close() error                           { return s.impl.Close() }
func (s *Session) Stats() stats.Snapshot                  { return s.impl.Stats() }

type session[T base.Coord] struct {
	store     array.Store[T]
	schema    *array.Schema[T]
	attrIDs   []int
	layout    base.Layout
	logger    base.Logger
	stats     *stats.Stats
	nativeIdx []int
	computed  map[int]computedAttr

	pl *planner.Planner
	rd *reader.Reader[T]

	// fastPath and fastNative implement the dense passthrough: when the
	// requested layout already matches the array's native order for this
	// subarray, newSession fills fastNative with one synchronous
	// Array.ReadDefault call instead of starting the planner, the
	// double-buffered reader, and the prefetch goroutine. curSlab still
	// holds the (single, synthetic) slab so copyOne's call into the copy
	// engine is unchanged either way.
	fastPath   bool
	fastNative []*array.ReadBuffer

	mu          sync.Mutex
	cond        *sync.Cond
	curSlab     *planner.Slab
	curSlot     int
	nextSlab    *planner.Slab
	plannerDone bool
	attrState   map[int]*copyengine.AttrState
	overflowed  map[int]bool
	done        bool
	closed      bool
	fatal       error

	// copyReq/copyRes implement the handoff between Read's caller
	// goroutine and the dedicated copy worker goroutine: Read parks a
	// request and waits on s.cond until the worker (the only goroutine
	// that ever calls doCopy for the general pipeline) posts a result
	// back. Only one request is ever outstanding at a time, matching
	// this type's "one caller drives Read at a time" contract.
	copyReq      []Buffer
	copyReqReady bool
	copyRes      Outcome
	copyErr      error
	copyResReady bool

	cancel context.CancelFunc
	eg     *errgroup.Group
}

func newSession[T base.Coord](store array.Store[T], attrIDs []int, subarray []T, layout base.Layout, opts ...Option) (*session[T], error) {
	schema := store.Schema()
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if len(subarray) != 2*schema.DimNum {
		return nil, terrors.New(terrors.InvalidArgument, "subarray has %d entries, expected %d for dim_num=%d", len(subarray), 2*schema.DimNum, schema.DimNum)
	}
	if len(attrIDs) == 0 {
		return nil, terrors.New(terrors.InvalidArgument, "at least one attribute id must be requested")
	}
	for _, a := range attrIDs {
		if a < 0 || a >= len(schema.Attrs) {
			return nil, terrors.New(terrors.InvalidArgument, "attribute id %d out of range [0,%d)", a, len(schema.Attrs))
		}
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	for attrID, c := range o.computed {
		if c.source < 0 || c.source >= len(schema.Attrs) {
			return nil, terrors.New(terrors.InvalidArgument, "computed attribute %d: source %d out of range", attrID, c.source)
		}
		if schema.Attrs[c.source].Variable {
			return nil, terrors.New(terrors.InvalidArgument, "computed attribute %d: source %d must be a fixed attribute", attrID, c.source)
		}
	}

	box := domain.NormalizeVec(subarray, schema.DomainLo)
	for i := 0; i < schema.DimNum; i++ {
		if box[2*i] > box[2*i+1] {
			return nil, terrors.New(terrors.InvalidArgument, "subarray dimension %d: lo > hi", i)
		}
	}

	s := &session[T]{
		store:      store,
		schema:     schema,
		attrIDs:    attrIDs,
		layout:     layout,
		logger:     o.logger,
		stats:      stats.New(),
		nativeIdx:  array.NativeBufferIndex(schema.Attrs),
		computed:   o.computed,
		attrState:  map[int]*copyengine.AttrState{},
		overflowed: map[int]bool{},
	}
	s.cond = sync.NewCond(&s.mu)

	// Dense passthrough: the cell order matches layout and box spans a
	// single tile along every dimension other than layout's stacking
	// axis, so its tiles differ only along that axis and the array's
	// native storage order for this box (tile after tile, each tile's
	// overlap in cell order) coincides with the requested layout and the
	// whole box is one contiguous run end to end.
	stackAxis := 0
	if layout == base.ColMajor {
		stackAxis = schema.DimNum - 1
	}
	fast := schema.CellOrder == layout
	for i := 0; i < schema.DimNum && fast; i++ {
		if i != stackAxis && box[2*i]/schema.TileExtent[i] != box[2*i+1]/schema.TileExtent[i] {
			fast = false
		}
	}
	if fast {
		slab, native, err := buildFastPathSlab(store, schema, box, layout, o.varValueBudgetPerCell)
		if err != nil {
			return nil, err
		}
		s.fastPath = true
		s.fastNative = native
		s.curSlab = slab
		for _, a := range allAttrIDs(attrIDs, o.computed) {
			s.attrState[a] = copyengine.NewAttrState(schema.DimNum)
		}
		s.stats.SlabsPlanned.Add(1)
		s.logger.Infof("sortedread: session opened (dense passthrough), dim_num=%d layout=%v attrs=%v", schema.DimNum, layout, attrIDs)
		return s, nil
	}

	s.pl = planner.New[T](store, box, layout)
	pool := reader.NewBufferPool(4)
	s.rd = reader.New[T](store, pool, &s.mu, o.varValueBudgetPerCell)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	eg, egCtx := errgroup.WithContext(ctx)
	s.eg = eg

	first, err := s.pl.Next()
	if err != nil {
		cancel()
		return nil, err
	}
	if first == nil {
		s.done = true
		return s, nil
	}
	s.curSlab = first
	s.curSlot = 0
	for _, a := range allAttrIDs(attrIDs, o.computed) {
		s.attrState[a] = copyengine.NewAttrState(schema.DimNum)
	}
	s.rd.Post(0, first)
	s.stats.AIOReadsPosted.Add(1)
	s.stats.SlabsPlanned.Add(1)

	eg.Go(func() error { return s.prefetchLoop(egCtx) })
	eg.Go(func() error { return s.copyWorker() })

	s.logger.Infof("sortedread: session opened, dim_num=%d layout=%v attrs=%v", schema.DimNum, layout, attrIDs)
	return s, nil
}

// buildFastPathSlab fills one synchronous Array.ReadDefault call's worth
// of native-order buffers for the entire subarray box and wraps them in
// a single synthetic tile slab spanning the whole box: since native
// order matches the requested layout here, box's entire cell count is
// one maximal contiguous cell-slab run, so the copy engine's existing
// per-tile batching runs it in one pass regardless of how many caller
// Read calls it takes to drain.
func buildFastPathSlab[T base.Coord](store array.Store[T], schema *array.Schema[T], box []int64, layout base.Layout, varValueBudgetPerCell int64) (*planner.Slab, []*array.ReadBuffer, error) {
	d := schema.DimNum
	lo, hi, extent := make([]int64, d), make([]int64, d), make([]int64, d)
	totalCells := int64(1)
	for i := 0; i < d; i++ {
		lo[i], hi[i] = box[2*i], box[2*i+1]
		extent[i] = hi[i] - lo[i] + 1
		totalCells *= extent[i]
	}

	native := make([]*array.ReadBuffer, 0, 2*len(schema.Attrs))
	for _, attr := range schema.Attrs {
		if attr.Variable {
			native = append(native, &array.ReadBuffer{Bytes: make([]byte, totalCells*int64(attr.OffsetSize))})
			native = append(native, &array.ReadBuffer{Bytes: make([]byte, totalCells*varValueBudgetPerCell)})
		} else {
			native = append(native, &array.ReadBuffer{Bytes: make([]byte, totalCells*int64(attr.CellSize))})
		}
	}
	if err := store.ReadDefault(box, layout, native); err != nil {
		return nil, nil, err
	}

	stackAxis := 0
	if layout == base.ColMajor {
		stackAxis = d - 1
	}
	tile := planner.TileOverlap{
		Lo:          lo,
		Hi:          hi,
		Extent:      extent,
		CellSlabNum: totalCells,
		StartOffset: make([]int64, len(schema.Attrs)),
		NCells:      totalCells,
	}
	slab := &planner.Slab{
		Lo:         lo,
		Hi:         hi,
		Extent:     extent,
		StackAxis:  stackAxis,
		Tiles:      []planner.TileOverlap{tile},
		TotalCells: totalCells,
	}
	return slab, native, nil
}

// allAttrIDs returns attrIDs plus every computed attribute's source, so
// AttrState tracks progress for source attributes even when the caller
// did not explicitly request them back.
func allAttrIDs(attrIDs []int, computed map[int]computedAttr) []int {
	seen := map[int]bool{}
	out := make([]int, 0, len(attrIDs)+len(computed))
	for _, a := range attrIDs {
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	for _, c := range computed {
		if !seen[c.source] {
			seen[c.source] = true
			out = append(out, c.source)
		}
	}
	return out
}

func (s *session[T]) prefetchLoop(ctx context.Context) error {
	for {
		s.mu.Lock()
		for !s.closed && (s.nextSlab != nil || s.plannerDone) {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return nil
		}
		curSlot := s.curSlot
		s.mu.Unlock()

		if ctx.Err() != nil {
			return ctx.Err()
		}

		slab, err := s.pl.Next()
		if err != nil {
			s.setFatal(err)
			return err
		}

		s.mu.Lock()
		if slab == nil {
			s.plannerDone = true
			s.cond.Broadcast()
			s.mu.Unlock()
			continue
		}
		s.mu.Unlock()

		other := 1 - curSlot
		s.rd.Post(other, slab)
		s.stats.AIOReadsPosted.Add(1)
		s.stats.SlabsPlanned.Add(1)

		s.mu.Lock()
		s.nextSlab = slab
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}

func (s *session[T]) setFatal(err error) {
	s.mu.Lock()
	if s.fatal == nil {
		s.fatal = terrors.Wrap(terrors.IoError, err, "sorted-read session failed")
		s.logger.Errorf("sortedread: session failed: %v", s.fatal)
	}
	s.mu.Unlock()
}

func (s *session[T]) checkFatal() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}

// Read hands buffers to the copy worker and blocks until it reports a
// result, except in the dense-passthrough fast path (no copy worker
// runs there; see newSession), where it calls doCopy directly.
func (s *session[T]) Read(buffers []Buffer) (Outcome, error) {
	if err := s.checkFatal(); err != nil {
		return Outcome{}, err
	}

	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return Outcome{Done: true}, nil
	}
	fastPath := s.fastPath
	s.mu.Unlock()

	if fastPath {
		return s.doCopy(buffers)
	}

	s.mu.Lock()
	for s.copyReqReady && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		s.mu.Unlock()
		return Outcome{}, terrors.New(terrors.Shutdown, "sorted-read session closed")
	}
	s.copyReq = buffers
	s.copyReqReady = true
	s.copyResReady = false
	s.cond.Broadcast()
	for !s.copyResReady && !s.closed {
		s.cond.Wait()
	}
	if !s.copyResReady {
		s.mu.Unlock()
		return Outcome{}, terrors.New(terrors.Shutdown, "sorted-read session closed")
	}
	outcome, err := s.copyRes, s.copyErr
	s.copyResReady = false
	s.mu.Unlock()
	return outcome, err
}

// copyWorker is the pipeline's dedicated copy-worker goroutine: for the
// general pipeline it is the sole caller of doCopy, so it is the sole
// entity that ever runs the Reorder/Copy Engine or touches a slot's
// native-order buffers. It parks on s.cond waiting for Read to post a
// request, runs doCopy (which itself waits for the current slab's AIO
// buffers via Reader.WaitReady, the aio-ready handoff from the prefetch
// worker), and posts the result back — the copy-done handoff Read is
// waiting on.
func (s *session[T]) copyWorker() error {
	for {
		s.mu.Lock()
		for !s.closed && !s.copyReqReady {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return nil
		}
		buffers := s.copyReq
		s.copyReq = nil
		s.copyReqReady = false
		s.mu.Unlock()

		outcome, err := s.doCopy(buffers)

		s.mu.Lock()
		s.copyRes = outcome
		s.copyErr = err
		s.copyResReady = true
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}

// doCopy runs the reorder/copy step for one Read request against the
// session's current slab: fetching that slab's native buffers (a
// synchronous wait on the reader in the general pipeline, already in
// hand in the fast path), copying every requested non-computed
// attribute, evaluating computed attributes against their
// just-copied source cells, and advancing to the next slab once every
// attribute has drained this one. An Overflow from a computed
// attribute's destination buffer is recoverable bookkeeping, exactly
// like an ordinary attribute's overflow, and never latches the session;
// any other error does.
func (s *session[T]) doCopy(buffers []Buffer) (Outcome, error) {
	s.mu.Lock()
	slab := s.curSlab
	slot := s.curSlot
	fastPath := s.fastPath
	s.mu.Unlock()

	nativeBufs := s.fastNative
	if !fastPath {
		slotData, err := s.rd.WaitReady(slot)
		if err != nil {
			s.setFatal(err)
			return Outcome{}, err
		}
		nativeBufs = slotData.ReadBufs
	}

	sourceCells := map[int]*copyengine.Buffer{}
	anyOverflow := false
	for i := range buffers {
		b := &buffers[i]
		if _, isComputed := s.computed[b.AttrID]; isComputed {
			continue
		}
		overflow, dst, err := s.copyOne(slab, nativeBufs, b.AttrID, b.Data, b.Offsets)
		if err != nil {
			s.setFatal(err)
			return Outcome{}, err
		}
		b.Written = dst.DataPos
		b.OffsetsWritten = dst.OffsetsPos
		sourceCells[b.AttrID] = dst
		s.recordOverflow(b.AttrID, overflow)
		anyOverflow = anyOverflow || overflow
	}

	for i := range buffers {
		b := &buffers[i]
		c, isComputed := s.computed[b.AttrID]
		if !isComputed {
			continue
		}
		src, ok := sourceCells[c.source]
		if !ok {
			return Outcome{}, terrors.New(terrors.InvalidArgument,
				"computed attribute %d: its source attribute %d must also be included in this Read call's buffers", b.AttrID, c.source)
		}
		n, err := s.evalComputed(c, src.Data[:src.DataPos], b.Data)
		if err != nil {
			if terrors.Is(err, terrors.Overflow) {
				// The computed attribute's own destination buffer was
				// too small: benign, resumable bookkeeping, not a
				// reason to latch the session fatally shut.
				b.Written = 0
				s.recordOverflow(b.AttrID, true)
				anyOverflow = true
				continue
			}
			s.setFatal(err)
			return Outcome{}, err
		}
		b.Written = n
		s.recordOverflow(b.AttrID, false)
	}

	allDone := true
	for _, st := range s.attrState {
		if !st.Done {
			allDone = false
			break
		}
	}
	if !anyOverflow && allDone {
		s.advanceSlab()
	}

	s.mu.Lock()
	outcome := Outcome{Overflow: anyOverflow, Done: s.done}
	s.mu.Unlock()
	if anyOverflow {
		s.stats.Overflows.Add(1)
	}
	return outcome, nil
}

// copyOne runs the copy engine for one attribute against the current
// slab's native buffers, returning the destination state so a computed
// attribute riding on this attribute's cells can read it back.
func (s *session[T]) copyOne(slab *planner.Slab, native []*array.ReadBuffer, attrID int, data, offsets []byte) (bool, *copyengine.Buffer, error) {
	state := s.attrState[attrID]
	dst := &copyengine.Buffer{Data: data, Offsets: offsets}
	overflow, err := copyengine.CopyAttr(state, slab, attrID, s.schema.Attrs[attrID], native, s.nativeIdx[attrID], dst, s.schema.CellOrder, s.layout)
	if err != nil {
		return false, nil, err
	}
	attr := s.schema.Attrs[attrID]
	pos, unit := dst.DataPos, attr.CellSize
	if attr.Variable {
		pos, unit = dst.OffsetsPos, attr.OffsetSize
	}
	s.stats.CellsCopied.Add(int64(pos / unit))
	s.stats.BytesCopied.Add(int64(dst.DataPos + dst.OffsetsPos))
	return overflow, dst, nil
}

func (s *session[T]) evalComputed(c computedAttr, srcBytes []byte, dst []byte) (int, error) {
	col, err := decodeColumn(c.kind, srcBytes)
	if err != nil {
		return 0, err
	}
	out, err := c.graph.Eval(expr.Values{c.varName: col}, expr.Types{c.varName: c.kind})
	if err != nil {
		return 0, err
	}
	if err := encodeColumn(c.kind, out, dst); err != nil {
		return 0, err
	}
	return len(out) * kindSize(c.kind), nil
}

func (s *session[T]) recordOverflow(attrID int, overflow bool) {
	s.mu.Lock()
	if overflow {
		s.overflowed[attrID] = true
	} else {
		delete(s.overflowed, attrID)
	}
	s.mu.Unlock()
}

// advanceSlab retires the current slab's buffers and, once the prefetch
// worker has the next one ready, swaps it in. If the prefetch worker
// has not caught up yet it blocks briefly on the shared condition
// variable rather than busy-polling.
func (s *session[T]) advanceSlab() {
	if s.fastPath {
		// The one synthetic slab covers the whole subarray; once every
		// attribute's cursor is done there is nothing left to fetch.
		s.mu.Lock()
		s.done = true
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	oldSlot := s.curSlot
	consumed := s.curSlab
	for s.nextSlab == nil && !s.plannerDone && !s.closed {
		s.cond.Wait()
	}
	next := s.nextSlab
	closed := s.closed
	s.mu.Unlock()
	if closed {
		// Close releases the current slot itself once the workers exit.
		return
	}

	// Release must happen with s.mu unlocked: it locks the same mutex
	// internally (Reader shares Session's mutex, see this package's
	// doc comment), and sync.Mutex is not reentrant.
	s.rd.Release(oldSlot)
	s.stats.SlabsConsumed.Add(1)
	s.stats.TilesVisited.Add(int64(len(consumed.Tiles)))

	s.mu.Lock()
	defer s.mu.Unlock()
	if next == nil {
		s.done = true
		return
	}
	s.curSlab = next
	s.curSlot = 1 - oldSlot
	s.nextSlab = nil
	for a := range s.attrState {
		s.attrState[a] = copyengine.NewAttrState(s.schema.DimNum)
	}
	s.cond.Broadcast()
}

func (s *session[T]) Overflow(attrID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overflowed[attrID]
}

func (s *session[T]) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *session[T]) Stats() stats.Snapshot { return s.stats.Snapshot() }

func (s *session[T]) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cond.Broadcast()
	fastPath := s.fastPath
	curSlot, nextPosted := s.curSlot, s.nextSlab != nil
	s.mu.Unlock()

	if fastPath {
		// No planner, reader, or prefetch goroutine was ever started.
		return nil
	}

	s.cancel()
	s.rd.Close()
	err := s.eg.Wait()

	s.rd.Release(curSlot)
	if nextPosted {
		s.rd.Release(1 - curSlot)
	}

	if err != nil && !terrors.Is(err, terrors.Shutdown) && err != context.Canceled {
		return err
	}
	return nil
}
