package entity

// childPath returns the hierarchy path of a child of parent. A nil parent
// means the child is a root.
func childPath(parent *Entity) []string {
	if parent == nil {
		return []string{}
	}
	path := make([]string, 0, len(parent.Path)+1)
	path = append(path, parent.Path...)
	return append(path, parent.ID)
}

// wouldCycle reports whether attaching entityID under newParent would make
// the entity its own ancestor. Checked against the parent's precomputed path
// so no traversal is needed at write time.
func wouldCycle(entityID string, newParent *Entity) bool {
	if newParent == nil {
		return false
	}
	if newParent.ID == entityID {
		return true
	}
	for _, ancestorID := range newParent.Path {
		if ancestorID == entityID {
			return true
		}
	}
	return false
}

// recomputeSubtree reattaches moved under newParent (nil means root) and
// recomputes level and path for moved and every descendant in one
// breadth-first pass. Descendants may arrive in any order; they are indexed
// by parent and visited level by level from the moved entity outward.
//
// The returned slice contains every mutated entity, moved first, each with
// Level equal to len(Path).
func recomputeSubtree(moved *Entity, newParent *Entity, descendants []*Entity) []*Entity {
	moved.Path = childPath(newParent)
	moved.Level = len(moved.Path)
	if newParent == nil {
		moved.ParentID = nil
	} else {
		parentID := newParent.ID
		moved.ParentID = &parentID
	}

	byParent := make(map[string][]*Entity, len(descendants))
	for _, d := range descendants {
		if d.ParentID == nil {
			continue
		}
		byParent[*d.ParentID] = append(byParent[*d.ParentID], d)
	}

	updated := []*Entity{moved}
	queue := []*Entity{moved}
	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]
		for _, child := range byParent[parent.ID] {
			child.Path = childPath(parent)
			child.Level = len(child.Path)
			updated = append(updated, child)
			queue = append(queue, child)
		}
	}

	return updated
}
