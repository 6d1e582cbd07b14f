package ecs

// ArchetypeID indexes the world's archetype list. Id 0 is the empty
// archetype every entity starts in.
type ArchetypeID uint32

// ArchetypeRow is an entity's index within its archetype's columns.
type ArchetypeRow uint32

// archetype groups all entities that carry exactly the same component
// set. components holds the full set in sorted id order; columns is
// parallel to it, with a nil entry for every zero-sized component
// (those are set membership only). entities is the id column, sharing
// row indexes with every component column.
type archetype struct {
	components []ComponentID
	columns    []column
	entities   []EntityID
}

func newArchetypeStorage(components []ComponentID, columns []column) *archetype {
	return &archetype{
		components: components,
		columns:    columns,
	}
}

// moveRow transfers the entity at row from old to new, which must
// differ by exactly one component. Both component lists are sorted, so
// a two-pointer walk pairs up the shared columns. The caller fixes up
// the entity store for the moved entity and for the entity swapped
// into the vacated row, and handles the one column that exists on only
// one side (write for add, drop for remove).
func moveRow(old, new *archetype, row ArchetypeRow) {
	newBigger := len(new.components) > len(old.components)
	i, j := 0, 0
	for i < len(old.components) && j < len(new.components) {
		if old.components[i] != new.components[j] {
			if newBigger {
				j++
			} else {
				i++
			}
		}
		if old.columns[i] != nil {
			old.columns[i].moveEntry(new.columns[j], int(row))
		}
		i++
		j++
	}

	id := old.entities[row]
	last := len(old.entities) - 1
	old.entities[row] = old.entities[last]
	old.entities = old.entities[:last]
	new.entities = append(new.entities, id)
}

// deleteRow swap-removes a row from every column and from the entity
// column. Returns true if a tail entity was swapped into the hole, in
// which case the caller must repair that entity's store slot.
func (a *archetype) deleteRow(row ArchetypeRow) bool {
	last := len(a.entities) - 1
	a.entities[row] = a.entities[last]
	a.entities = a.entities[:last]
	for _, col := range a.columns {
		if col != nil {
			col.swapRemove(int(row))
		}
	}
	return int(row) != last
}

// findColumn panics if the component is not part of the archetype.
func (a *archetype) findColumn(cid ComponentID) column {
	for i, c := range a.components {
		if c == cid {
			return a.columns[i]
		}
	}
	panic("ecs: component column not present in archetype")
}

func (a *archetype) findColumnOpt(cid ComponentID) column {
	for i, c := range a.components {
		if c == cid {
			return a.columns[i]
		}
	}
	return nil
}

func (a *archetype) columnIndex(cid ComponentID) int {
	for i, c := range a.components {
		if c == cid {
			return i
		}
	}
	return -1
}
