package ecs

import (
	"iter"
	"slices"

	"github.com/kamstrup/intmap"
)

// relationHelper iterates the partner ids of a relation facet on its
// root variable's current row and answers membership queries. For
// transitive relations the reachable set is expanded eagerly, once per
// row change, with a visited set so cyclic graphs terminate.
type relationHelper struct {
	spec     *helperSpec
	col      column
	row      int
	relIndex int
	transVec []EntityID
	transSet *intmap.Map[uint32, struct{}]
}

func (h *relationHelper) setCol(col column) {
	h.col = col
}

func (h *relationHelper) setRow(bk *bookkeeping, row int) {
	if h.col == nil {
		return
	}
	h.row = row
	h.relIndex = -1
	if !h.spec.cid.isTransitive() {
		return
	}

	if h.transSet == nil {
		h.transSet = intmap.New[uint32, struct{}](16)
	}
	h.transSet.Clear()
	h.transVec = h.transVec[:0]

	vec := h.col.at(row).(*relationVec)
	var work []EntityID
	for _, id := range vec.slice() {
		work = append(work, id)
		h.transVec = append(h.transVec, id)
		h.transSet.Put(uint32(id), struct{}{})
	}
	for len(work) > 0 {
		current := work[len(work)-1]
		work = work[:len(work)-1]
		ptr, ok := bk.getComponentOpt(current, h.spec.cid)
		if !ok {
			continue
		}
		for _, id := range ptr.(*relationVec).slice() {
			if _, seen := h.transSet.Get(uint32(id)); seen {
				continue
			}
			work = append(work, id)
			h.transVec = append(h.transVec, id)
			h.transSet.Put(uint32(id), struct{}{})
		}
	}
}

func (h *relationHelper) next() (EntityID, bool) {
	h.relIndex++
	if h.spec.cid.isTransitive() {
		if h.relIndex >= len(h.transVec) {
			return 0, false
		}
		return h.transVec[h.relIndex], true
	}
	vec := h.col.at(h.row).(*relationVec)
	if h.relIndex >= vec.len() {
		return 0, false
	}
	return vec.slice()[h.relIndex], true
}

func (h *relationHelper) has(id EntityID) bool {
	if h.spec.cid.isTransitive() {
		_, ok := h.transSet.Get(uint32(id))
		return ok
	}
	return h.col.at(h.row).(*relationVec).contains(id)
}

// satisfied answers a negated edge: true when the facet is absent from
// the root's archetype or does not reference the other entity.
func (h *relationHelper) satisfied(id EntityID) bool {
	if h.col == nil {
		return true
	}
	return !h.has(id)
}

// Row is one query result. Component accessors return the borrows taken
// at yield time; they are released when the query is resumed or closed,
// so do not retain a Row past the next call.
type Row struct {
	outs    []any
	release []func()
}

func (r *Row) Len() int {
	return len(r.outs)
}

// Component returns the i-th yielded value as a *T (nil for an absent
// optional component). Positions count yield-producing terms only, in
// term order.
func (r *Row) Component(i int) any {
	return r.outs[i]
}

// Entity returns the i-th yielded value as an entity handle. Panics if
// the position was not produced by an OutEntity term.
func (r *Row) Entity(i int) Entity {
	return r.outs[i].(Entity)
}

// Query executes a compiled plan as a resumable state machine: each
// Next call searches forward from where the previous result left off
// and yields at most one row. Structural world mutation during
// iteration must go through the deferred queue.
type Query struct {
	w        *World
	p        *plan
	step     int
	arch     []*archetype
	rows     []int
	maxRows  []int
	nextArch []int
	cols     []int
	helpers  []relationHelper
	optCols  []column
	optHas   []bool
	current  *Row
}

func newQuery(w *World, p *plan) *Query {
	q := &Query{
		w:        w,
		p:        p,
		step:     1,
		arch:     make([]*archetype, len(p.vars)),
		rows:     make([]int, len(p.vars)),
		maxRows:  make([]int, len(p.vars)),
		nextArch: make([]int, len(p.vars)),
		cols:     make([]int, p.colSlots),
		helpers:  make([]relationHelper, len(p.helpers)),
		optCols:  make([]column, p.optCount),
		optHas:   make([]bool, p.optCount),
	}
	for i := range q.helpers {
		q.helpers[i].spec = &p.helpers[i]
	}
	for i := range q.nextArch {
		q.nextArch[i] = -1
	}
	return q
}

// Next resumes the query. It releases the previous row's borrows, then
// either yields the next result or reports the end of the sequence.
func (q *Query) Next() (*Row, bool) {
	q.releaseCurrent()
	for {
		st := &q.p.steps[q.step]
		switch st.kind {
		case stepHalt:
			return nil, false
		case stepInvarInit:
			if q.initInvars() && q.evalChecks(st.checks) {
				q.step += 2
			} else {
				q.step = 0
				return nil, false
			}
		case stepArchetype:
			vi := q.p.vars[st.v]
			q.nextArch[st.v]++
			if q.nextArch[st.v] >= len(vi.archetypes) {
				q.step = 0
				return nil, false
			}
			q.bindArchetype(st.v, vi.archetypes[q.nextArch[st.v]])
			q.rows[st.v] = -1
			q.step++
		case stepRow:
			q.rows[st.v]++
			if q.rows[st.v] >= q.maxRows[st.v] {
				q.step--
				continue
			}
			q.setRowState(st.v)
			if q.evalChecks(st.checks) {
				q.step++
			}
		case stepJoin:
			h := &q.helpers[st.helperNr]
			id, ok := h.next()
			if !ok {
				q.step--
				continue
			}
			aid, arow := q.w.bk.entities.archetypeOfID(id)
			if !slices.Contains(q.p.vars[st.v].archetypes, aid) {
				continue
			}
			q.bindArchetype(st.v, aid)
			q.rows[st.v] = int(arow)
			q.setRowState(st.v)
			if q.evalChecks(st.checks) {
				q.step++
			}
		case stepYield:
			q.current = q.buildRow()
			q.step--
			return q.current, true
		}
	}
}

// Rows iterates the remaining results. Breaking out of the loop closes
// the query and releases all borrows.
func (q *Query) Rows() iter.Seq[*Row] {
	return func(yield func(*Row) bool) {
		for {
			row, ok := q.Next()
			if !ok {
				return
			}
			if !yield(row) {
				q.Close()
				return
			}
		}
	}
}

// Close terminates the iteration and releases the last row's borrows.
// The world is left unchanged.
func (q *Query) Close() {
	q.releaseCurrent()
	q.step = 0
}

func (q *Query) releaseCurrent() {
	if q.current == nil {
		return
	}
	for _, release := range q.current.release {
		release()
	}
	q.current.release = nil
	q.current = nil
}

func (q *Query) curID(v int) EntityID {
	return q.arch[v].entities[q.rows[v]]
}

// bindArchetype points a variable at an archetype: resolves the column
// index of every shaping slot, the optional columns, and the facet
// columns of the helpers rooted at the variable.
func (q *Query) bindArchetype(v int, aid ArchetypeID) {
	vi := q.p.vars[v]
	a := q.w.bk.archetypes[aid]
	q.arch[v] = a
	for i, cid := range vi.cids {
		slot := vi.slotStart + i
		if !cid.isRelation() && q.w.bk.components[cid.index()].zeroSized() {
			q.cols[slot] = -1
			continue
		}
		q.cols[slot] = a.columnIndex(cid)
	}
	q.maxRows[v] = len(a.entities)
	for _, ob := range vi.optComps {
		if q.w.bk.components[ob.cid.index()].zeroSized() {
			q.optCols[ob.optIdx] = nil
			q.optHas[ob.optIdx] = q.w.bk.components[ob.cid.index()].hasArchetype(aid, ob.cid)
			continue
		}
		col := a.findColumnOpt(ob.cid)
		q.optCols[ob.optIdx] = col
		q.optHas[ob.optIdx] = col != nil
	}
	for _, nr := range vi.helperNrs {
		h := &q.helpers[nr]
		if h.spec.negated {
			h.setCol(a.findColumnOpt(h.spec.cid))
		} else {
			h.setCol(a.columns[q.cols[h.spec.colSlot]])
		}
	}
}

func (q *Query) setRowState(v int) {
	for _, nr := range q.p.vars[v].helperNrs {
		q.helpers[nr].setRow(&q.w.bk, q.rows[v])
	}
}

// initInvars resolves every bound-in variable against the live world:
// the entity must be alive, its archetype must carry all required
// components and facets and none of the negated ones. Any failure
// terminates the whole iteration.
func (q *Query) initInvars() bool {
	bk := &q.w.bk
	for _, v := range q.p.invarOrder {
		vi := q.p.vars[v]
		e := vi.invarEntity
		if !bk.isAlive(e) {
			return false
		}
		aid, arow := bk.entities.archetypeOf(e)
		a := bk.archetypes[aid]
		for i, cid := range vi.cids {
			slot := vi.slotStart + i
			info := bk.components[cid.index()]
			if !cid.isRelation() && info.zeroSized() {
				if !info.hasArchetype(aid, cid) {
					return false
				}
				q.cols[slot] = -1
				continue
			}
			idx := a.columnIndex(cid)
			if idx < 0 {
				return false
			}
			q.cols[slot] = idx
		}
		for _, cid := range vi.uncids {
			if bk.components[cid.index()].hasArchetype(aid, cid) {
				return false
			}
		}
		q.arch[v] = a
		q.rows[v] = int(arow)
		for _, ob := range vi.optComps {
			if bk.components[ob.cid.index()].zeroSized() {
				q.optCols[ob.optIdx] = nil
				q.optHas[ob.optIdx] = bk.components[ob.cid.index()].hasArchetype(aid, ob.cid)
				continue
			}
			col := a.findColumnOpt(ob.cid)
			q.optCols[ob.optIdx] = col
			q.optHas[ob.optIdx] = col != nil
		}
		for _, nr := range vi.helperNrs {
			h := &q.helpers[nr]
			if h.spec.negated {
				h.setCol(a.findColumnOpt(h.spec.cid))
			} else {
				h.setCol(a.columns[q.cols[h.spec.colSlot]])
			}
			h.setRow(bk, int(arow))
		}
	}
	return true
}

func (q *Query) evalChecks(checks []check) bool {
	for _, ck := range checks {
		switch ck.kind {
		case checkUnequal:
			if q.arch[ck.a] == q.arch[ck.b] && q.rows[ck.a] == q.rows[ck.b] {
				return false
			}
		case checkRel:
			if !q.helpers[ck.helperNr].has(q.curID(ck.checkedVar)) {
				return false
			}
		case checkUnrel:
			if !q.helpers[ck.helperNr].satisfied(q.curID(ck.checkedVar)) {
				return false
			}
		}
	}
	return true
}

func (q *Query) borrowAt(row *Row, c borrowCell, mut bool) {
	if mut {
		c.acquireWrite()
		row.release = append(row.release, c.releaseWrite)
	} else {
		c.acquireRead()
		row.release = append(row.release, c.releaseRead)
	}
	row.outs = append(row.outs, c.payload())
}

func (q *Query) buildRow() *Row {
	bk := &q.w.bk
	row := &Row{}
	for _, acc := range q.p.accessors {
		switch acc.kind {
		case accEntity:
			row.outs = append(row.outs, bk.entities.fromID(q.curID(acc.v)))
		case accComponent, accComponentMut:
			info := bk.components[acc.cid.index()]
			var c borrowCell
			if info.zeroSized() {
				c = info.shared.(borrowCell)
			} else {
				idx := q.cols[acc.colSlot]
				c = q.arch[acc.v].columns[idx].at(q.rows[acc.v]).(borrowCell)
			}
			q.borrowAt(row, c, acc.kind == accComponentMut)
		case accOpt, accOptMut:
			if !q.optHas[acc.optIdx] {
				row.outs = append(row.outs, nil)
				continue
			}
			var c borrowCell
			if col := q.optCols[acc.optIdx]; col != nil {
				c = col.at(q.rows[acc.v]).(borrowCell)
			} else {
				// zero-sized component, present by set membership
				c = bk.components[acc.cid.index()].shared.(borrowCell)
			}
			q.borrowAt(row, c, acc.kind == accOptMut)
		case accSingleton, accSingletonMut:
			info := bk.components[acc.cid.index()]
			var c borrowCell
			if info.zeroSized() {
				if !bk.hasComponent(q.w.singleton, acc.cid) {
					panic("ecs: singleton component " + info.name + " is missing")
				}
				c = info.shared.(borrowCell)
			} else {
				c = bk.getComponentPtr(q.w.singleton, acc.cid).(borrowCell)
			}
			q.borrowAt(row, c, acc.kind == accSingletonMut)
		}
	}
	return row
}
