package ecs

import (
	"reflect"
	"slices"

	"github.com/TheBitDrifter/bark"
	mapset "github.com/deckarep/golang-set/v2"
)

// The planner turns a term list into a join plan: per-variable shaping
// metadata plus a linear step sequence the runtime interprets. Planning
// is deterministic for a given term list and world state.

type relSlotKey struct {
	typ   reflect.Type
	other int
}

type optBinding struct {
	cid    ComponentID
	optIdx int
}

// helperSpec describes one relation helper: runtime state that walks
// the partner ids of a relation facet on its root variable. Positive
// helpers drive joins and membership checks; negated helpers back
// NotRel checks and may find no facet column at all.
type helperSpec struct {
	cid     ComponentID
	colSlot int // global column slot on the root variable; -1 for negated
	rootVar int
	negated bool
}

type varInfo struct {
	index       int
	name        string
	invar       bool
	invarEntity Entity
	// initRank is the step at which the variable becomes bound; checks
	// between two bound variables run against the newer one.
	initRank int
	// cids shape the variable's archetype: required components first,
	// then one relation facet per distinct (relation, partner) edge, in
	// edge order. slotStart is the global column-slot index of cids[0];
	// slots are contiguous per variable.
	cids      []ComponentID
	slotStart int
	compSlot  map[reflect.Type]int
	// relatedWith maps (relation type, partner variable) to the global
	// column slot carrying that edge's facet on this variable.
	relatedWith map[relSlotKey]int
	uncids      []ComponentID
	optComps    []optBinding
	// helperNrs lists the helpers rooted at this variable; they are
	// re-pointed whenever the variable binds a new archetype or row.
	helperNrs  []int
	joinHelper int
	archetypes []ArchetypeID
}

type checkKind int

const (
	checkUnequal checkKind = iota
	checkRel
	checkUnrel
)

type check struct {
	kind       checkKind
	a, b       int // unequal operands
	helperNr   int
	checkedVar int
}

type stepKind int

const (
	stepHalt stepKind = iota
	stepInvarInit
	stepArchetype
	stepRow
	stepJoin
	stepYield
)

type planStep struct {
	kind     stepKind
	v        int
	helperNr int
	checks   []check
}

type accKind int

const (
	accComponent accKind = iota
	accComponentMut
	accOpt
	accOptMut
	accEntity
	accSingleton
	accSingletonMut
)

type accessor struct {
	kind    accKind
	v       int
	colSlot int
	optIdx  int
	cid     ComponentID
}

type plan struct {
	vars      []*varInfo
	steps     []planStep
	accessors []accessor
	helpers   []helperSpec
	colSlots  int
	optCount  int
	// invarOrder lists invar variables in initialization order.
	invarOrder []int
}

type relEdge struct {
	typ      reflect.Type
	cid      ComponentID // origin facet
	from, to int         // variable index, -1 for Anyvar
	negated  bool
}

func compilePlan(w *World, terms []Term) *plan {
	p := &plan{}
	varIndex := make(map[string]int)

	internVar := func(name string) int {
		if name == Anyvar {
			return -1
		}
		if idx, ok := varIndex[name]; ok {
			return idx
		}
		idx := len(p.vars)
		varIndex[name] = idx
		p.vars = append(p.vars, &varInfo{
			index:       idx,
			name:        name,
			initRank:    -1,
			compSlot:    make(map[reflect.Type]int),
			relatedWith: make(map[relSlotKey]int),
			joinHelper:  -1,
		})
		return idx
	}

	// first pass: intern variables, collect edges, validate term shapes
	var edges []relEdge
	var unequals [][2]int
	constrained := false
	for _, t := range terms {
		switch t.kind {
		case termIn, termMut, termFilter, termOpt, termOptMut, termWithout:
			if t.a == Anyvar {
				panic("ecs: component terms cannot use the anonymous variable")
			}
			internVar(t.a)
			if t.kind != termOpt && t.kind != termOptMut {
				constrained = true
			}
		case termOutEntity:
			if t.a == Anyvar {
				panic("ecs: OutEntity cannot use the anonymous variable")
			}
			internVar(t.a)
		case termInVar:
			if t.a == Anyvar {
				panic("ecs: InVar cannot use the anonymous variable")
			}
			idx := internVar(t.a)
			p.vars[idx].invar = true
			p.vars[idx].invarEntity = t.entity
		case termRel, termNotRel:
			if t.a == Anyvar && t.b == Anyvar {
				panic("ecs: a relation edge needs at least one named variable")
			}
			cid, ok := relationID(&w.bk, t.typ)
			if !ok {
				panic("ecs: relation type " + t.typ.String() + " is not registered")
			}
			edges = append(edges, relEdge{
				typ:     t.typ,
				cid:     cid,
				from:    internVar(t.a),
				to:      internVar(t.b),
				negated: t.kind == termNotRel,
			})
			if t.kind == termRel {
				constrained = true
			}
		case termUnequal:
			if t.a == Anyvar || t.b == Anyvar {
				panic("ecs: Unequal needs two named variables")
			}
			unequals = append(unequals, [2]int{internVar(t.a), internVar(t.b)})
		case termSingleton, termSingletonMut:
		}
	}
	if !constrained && len(p.vars) > 0 {
		panic("ecs: a query needs at least one component or relation constraint")
	}

	// second pass: per-variable shaping lists; slots are local to the
	// variable until all of its cids are known
	addSlot := func(vi *varInfo, cid ComponentID) int {
		vi.cids = append(vi.cids, cid)
		return len(vi.cids) - 1
	}

	for _, t := range terms {
		switch t.kind {
		case termIn, termMut, termFilter:
			vi := p.vars[varIndex[t.a]]
			if _, ok := vi.compSlot[t.typ]; ok {
				continue
			}
			cid, ok := componentID(&w.bk, t.typ)
			if !ok {
				panic("ecs: component type " + t.typ.String() + " is not registered")
			}
			vi.compSlot[t.typ] = addSlot(vi, cid)
		case termWithout:
			vi := p.vars[varIndex[t.a]]
			cid, ok := componentID(&w.bk, t.typ)
			if !ok {
				panic("ecs: component type " + t.typ.String() + " is not registered")
			}
			vi.uncids = append(vi.uncids, cid)
		case termOpt, termOptMut:
			vi := p.vars[varIndex[t.a]]
			cid, ok := componentID(&w.bk, t.typ)
			if !ok {
				panic("ecs: component type " + t.typ.String() + " is not registered")
			}
			vi.optComps = append(vi.optComps, optBinding{cid: cid, optIdx: p.optCount})
			p.optCount++
		}
	}

	// relation facets: positive edges shape both endpoints; negated
	// anyvar edges go into the without-set of the named endpoint
	for _, e := range edges {
		if e.negated {
			if e.from >= 0 && e.to < 0 {
				p.vars[e.from].uncids = append(p.vars[e.from].uncids, e.cid)
			} else if e.to >= 0 && e.from < 0 {
				p.vars[e.to].uncids = append(p.vars[e.to].uncids, e.cid.flipTarget())
			}
			continue
		}
		if e.from >= 0 {
			vi := p.vars[e.from]
			key := relSlotKey{typ: e.typ, other: e.to}
			if _, ok := vi.relatedWith[key]; !ok {
				vi.relatedWith[key] = addSlot(vi, e.cid)
			}
		}
		if e.to >= 0 {
			vi := p.vars[e.to]
			key := relSlotKey{typ: e.typ, other: e.from}
			if _, ok := vi.relatedWith[key]; !ok {
				vi.relatedWith[key] = addSlot(vi, e.cid.flipTarget())
			}
		}
	}

	// give every variable one contiguous range of global slots
	for _, vi := range p.vars {
		vi.slotStart = p.colSlots
		p.colSlots += len(vi.cids)
		for typ, slot := range vi.compSlot {
			vi.compSlot[typ] = vi.slotStart + slot
		}
		for key, slot := range vi.relatedWith {
			vi.relatedWith[key] = vi.slotStart + slot
		}
	}

	// archetype candidate sets; invars are resolved at run time
	for _, vi := range p.vars {
		if vi.invar {
			continue
		}
		if len(vi.cids) == 0 && len(vi.uncids) == 0 {
			panic("ecs: variable " + vi.name + " needs at least one component or relation constraint")
		}
		vi.archetypes = w.bk.matchingArchetypes(vi.cids, vi.uncids)
	}

	p.buildAccessors(w, terms, varIndex)
	p.buildJoinOrder(edges, unequals)
	return p
}

func (p *plan) buildAccessors(w *World, terms []Term, varIndex map[string]int) {
	optIdx := 0
	for _, t := range terms {
		switch t.kind {
		case termIn, termMut:
			vi := p.vars[varIndex[t.a]]
			kind := accComponent
			if t.kind == termMut {
				kind = accComponentMut
			}
			cid, _ := componentID(&w.bk, t.typ)
			p.accessors = append(p.accessors, accessor{
				kind:    kind,
				v:       vi.index,
				colSlot: vi.compSlot[t.typ],
				cid:     cid,
			})
		case termOpt, termOptMut:
			vi := p.vars[varIndex[t.a]]
			kind := accOpt
			if t.kind == termOptMut {
				kind = accOptMut
			}
			cid, _ := componentID(&w.bk, t.typ)
			p.accessors = append(p.accessors, accessor{
				kind:   kind,
				v:      vi.index,
				optIdx: optIdx,
				cid:    cid,
			})
			optIdx++
		case termOutEntity:
			p.accessors = append(p.accessors, accessor{kind: accEntity, v: varIndex[t.a]})
		case termSingleton, termSingletonMut:
			kind := accSingleton
			if t.kind == termSingletonMut {
				kind = accSingletonMut
			}
			cid, ok := componentID(&w.bk, t.typ)
			if !ok {
				panic("ecs: component type " + t.typ.String() + " is not registered")
			}
			p.accessors = append(p.accessors, accessor{kind: kind, cid: cid})
		}
	}
}

// buildJoinOrder ports the join ordering of the query compiler: seed
// with the invars, or with the variable carrying the most required
// components; then repeatedly bind an unbound variable reachable over a
// relation edge, attaching every check as soon as all its operands are
// bound. A variable no edge can reach is a cross join and fails loudly.
func (p *plan) buildJoinOrder(edges []relEdge, unequals [][2]int) {
	available := mapset.NewSet[int]()
	var order []int // bound variables in rank order

	bind := func(v int) {
		p.vars[v].initRank = len(order)
		order = append(order, v)
		available.Add(v)
	}

	var workEdges, unrelEdges []relEdge
	for _, e := range edges {
		if e.from < 0 || e.to < 0 {
			continue // anyvar edges are shape constraints only
		}
		if e.negated {
			if p.vars[e.from].invar && p.vars[e.to].invar {
				panic(bark.AddTrace(errNotRelBothInvar))
			}
			unrelEdges = append(unrelEdges, e)
		} else {
			workEdges = append(workEdges, e)
		}
	}

	// seed
	hasInvars := false
	for _, vi := range p.vars {
		if vi.invar {
			hasInvars = true
		}
	}
	if hasInvars {
		for _, vi := range p.vars {
			if vi.invar {
				bind(vi.index)
				p.invarOrder = append(p.invarOrder, vi.index)
			}
		}
	} else if len(p.vars) > 0 {
		seed := 0
		for _, vi := range p.vars[1:] {
			if len(vi.cids) > len(p.vars[seed].cids) {
				seed = vi.index
			}
		}
		bind(seed)
	}

	newHelper := func(spec helperSpec) int {
		nr := len(p.helpers)
		p.helpers = append(p.helpers, spec)
		p.vars[spec.rootVar].helperNrs = append(p.vars[spec.rootVar].helperNrs, nr)
		return nr
	}

	// facet of an edge as seen from the given endpoint
	facetFor := func(e relEdge, root int) ComponentID {
		if root == e.from {
			return e.cid
		}
		return e.cid.flipTarget()
	}

	collectChecks := func() []check {
		var checks []check
		for i := 0; i < len(unequals); {
			a, b := unequals[i][0], unequals[i][1]
			if available.Contains(a) && available.Contains(b) {
				checks = append(checks, check{kind: checkUnequal, a: a, b: b})
				unequals = slices.Delete(unequals, i, i+1)
				continue
			}
			i++
		}
		for i := 0; i < len(workEdges); {
			e := workEdges[i]
			if available.Contains(e.from) && available.Contains(e.to) {
				old, new := e.from, e.to
				if p.vars[old].initRank > p.vars[new].initRank {
					old, new = new, old
				}
				vi := p.vars[old]
				slot := vi.relatedWith[relSlotKey{typ: e.typ, other: new}]
				nr := newHelper(helperSpec{cid: facetFor(e, old), colSlot: slot, rootVar: old})
				checks = append(checks, check{kind: checkRel, helperNr: nr, checkedVar: new})
				workEdges = slices.Delete(workEdges, i, i+1)
				continue
			}
			i++
		}
		for i := 0; i < len(unrelEdges); {
			e := unrelEdges[i]
			if available.Contains(e.from) && available.Contains(e.to) {
				old, new := e.from, e.to
				if p.vars[old].initRank > p.vars[new].initRank {
					old, new = new, old
				}
				nr := newHelper(helperSpec{cid: facetFor(e, old), colSlot: -1, rootVar: old, negated: true})
				checks = append(checks, check{kind: checkUnrel, helperNr: nr, checkedVar: new})
				unrelEdges = slices.Delete(unrelEdges, i, i+1)
				continue
			}
			i++
		}
		return checks
	}

	initialChecks := collectChecks()

	type joinStep struct {
		v        int
		helperNr int
		checks   []check
	}
	var joins []joinStep

	for len(workEdges) > 0 {
		pos := -1
		for i, e := range workEdges {
			if available.Contains(e.from) || available.Contains(e.to) {
				pos = i
				break
			}
		}
		if pos < 0 {
			panic(bark.AddTrace(errCrossJoin))
		}
		e := workEdges[pos]
		workEdges = slices.Delete(workEdges, pos, pos+1)

		old, new := e.from, e.to
		if available.Contains(e.to) {
			old, new = e.to, e.from
		}
		vi := p.vars[old]
		slot := vi.relatedWith[relSlotKey{typ: e.typ, other: new}]
		nr := newHelper(helperSpec{cid: facetFor(e, old), colSlot: slot, rootVar: old})
		p.vars[new].joinHelper = nr
		bind(new)
		joins = append(joins, joinStep{v: new, helperNr: nr, checks: collectChecks()})
	}

	for _, vi := range p.vars {
		if vi.initRank < 0 {
			panic(bark.AddTrace(errCrossJoin))
		}
	}
	if len(unequals) > 0 || len(unrelEdges) > 0 {
		panic(bark.AddTrace(errCrossJoin))
	}

	// assemble the step sequence; step 0 is the terminated state
	p.steps = append(p.steps, planStep{kind: stepHalt})
	if hasInvars {
		p.steps = append(p.steps,
			planStep{kind: stepInvarInit, checks: initialChecks},
			planStep{kind: stepHalt})
	} else if len(order) > 0 {
		seed := order[0]
		p.steps = append(p.steps,
			planStep{kind: stepArchetype, v: seed},
			planStep{kind: stepRow, v: seed, checks: initialChecks})
	}
	for _, j := range joins {
		p.steps = append(p.steps, planStep{kind: stepJoin, v: j.v, helperNr: j.helperNr, checks: j.checks})
	}
	p.steps = append(p.steps, planStep{kind: stepYield})
}
