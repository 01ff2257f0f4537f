package hierarchy

import (
	"errors"
	"fmt"

	"github.com/rpattn/hierflat/internal/domain"
)

// Annotations holds the level/top/bottom annotations of a graph together
// with the breadth-first visiting order.
type Annotations struct {
	info     map[string]domain.LevelInfo
	order    []string
	maxLevel int
	leaves   int
}

// Get returns the annotation for id.
func (a *Annotations) Get(id string) (domain.LevelInfo, bool) {
	info, ok := a.info[id]
	return info, ok
}

// Order returns node ids root first, then breadth-first.
func (a *Annotations) Order() []string {
	return append([]string(nil), a.order...)
}

func (a *Annotations) Len() int      { return len(a.order) }
func (a *Annotations) MaxLevel() int { return a.maxLevel }
func (a *Annotations) Leaves() int   { return a.leaves }

// Annotate walks g breadth-first from the root. Every node is reached after
// its parent and in non-decreasing depth, so the first node found beyond
// maxDepth is reported and the walk stops there.
func Annotate(g *Graph, maxDepth int) (*Annotations, error) {
	if g == nil || g.Len() == 0 {
		return nil, errors.New("annotate: graph is empty")
	}

	root := g.Root()
	annotations := &Annotations{
		info:  make(map[string]domain.LevelInfo, g.Len()),
		order: make([]string, 0, g.Len()),
	}
	annotations.info[root] = domain.LevelInfo{Level: 0, Top: true, Bottom: g.IsLeaf(root)}

	queue := []string{root}
	for head := 0; head < len(queue); head++ {
		id := queue[head]
		current := annotations.info[id]
		annotations.order = append(annotations.order, id)
		if current.Bottom {
			annotations.leaves++
		}
		if current.Level > annotations.maxLevel {
			annotations.maxLevel = current.Level
		}

		for _, child := range g.children[id] {
			level := current.Level + 1
			if level > maxDepth {
				return nil, &domain.MaxDepthExceededError{ID: child, Level: level, MaxDepth: maxDepth}
			}
			annotations.info[child] = domain.LevelInfo{Level: level, Bottom: g.IsLeaf(child)}
			queue = append(queue, child)
		}
	}

	if len(annotations.order) != g.Len() {
		return nil, fmt.Errorf("annotate: reached %d of %d nodes from root %q", len(annotations.order), g.Len(), root)
	}
	return annotations, nil
}
