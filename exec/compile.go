// Copyright 2026 Pondworks, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"fmt"

	"github.com/pondworks/rivulet"
)

// A plan is the compiled form of an action: the target dataset's graph
// partitioned into stages of per-partition tasks. Stages appear in
// dependency order; the last stage produces the target.
type plan struct {
	target rivulet.Dataset
	stages []*stage
	byNode map[rivulet.NodeID]*stage
	// numShuffles counts the shuffle dependencies in the plan.
	// Co-partitioned joins and partition-preserving repartitions do not
	// contribute.
	numShuffles int
}

// A stage computes the partitions of its output node by streaming
// records through a subgraph of narrow transformations. Its inputs are
// shuffled data from wide parent dependencies and the materialized
// outputs of boundary nodes (outputs of earlier stages, reached
// narrowly because they are persisted).
type stage struct {
	id   int
	out  rivulet.Dataset
	deps []*stage
	// wides lists the shuffle inputs of nodes within this stage.
	wides []wideInput
	// boundary marks parent nodes whose partitions are read from the
	// store rather than recomputed in-stage.
	boundary map[rivulet.NodeID]bool
}

func (s *stage) String() string {
	return fmt.Sprintf("stage-%d(%s)", s.id, s.out.Op())
}

// A wideInput is one shuffle dependency: records of producer's output
// flow through a shuffle into child's dependency depIdx.
type wideInput struct {
	child    rivulet.Dataset
	depIdx   int
	dep      rivulet.Dep
	producer *stage
}

// compile partitions the graph rooted at target into stages. Stage
// boundaries fall at shuffle dependencies and at persisted nodes;
// everything else pipelines within a stage. Nodes reached narrowly
// from several places are recomputed per use unless persisted.
func compile(target rivulet.Dataset) *plan {
	p := &plan{target: target, byNode: make(map[rivulet.NodeID]*stage)}
	p.stageOf(target)
	return p
}

func (p *plan) stageOf(d rivulet.Dataset) *stage {
	if s, ok := p.byNode[d.ID()]; ok {
		return s
	}
	s := &stage{out: d, boundary: make(map[rivulet.NodeID]bool)}
	p.byNode[d.ID()] = s
	p.walk(s, d, make(map[rivulet.NodeID]bool))
	s.id = len(p.stages)
	p.stages = append(p.stages, s)
	return s
}

func (p *plan) walk(s *stage, d rivulet.Dataset, visited map[rivulet.NodeID]bool) {
	if visited[d.ID()] {
		return
	}
	visited[d.ID()] = true
	if d.Op() == rivulet.OpSource {
		return
	}
	for i := 0; i < d.NumDep(); i++ {
		dep := d.DepOf(i)
		parent := dep.Parent
		switch {
		case dep.Shuffle:
			ps := p.stageOf(parent)
			s.addDep(ps)
			s.wides = append(s.wides, wideInput{child: d, depIdx: i, dep: dep, producer: ps})
			p.numShuffles++
		case parent.Policy() != rivulet.None:
			// Persisted nodes terminate the pipeline so their
			// partitions are cacheable units.
			ps := p.stageOf(parent)
			s.addDep(ps)
			s.boundary[parent.ID()] = true
		default:
			p.walk(s, parent, visited)
		}
	}
}

func (s *stage) addDep(dep *stage) {
	for _, d := range s.deps {
		if d == dep {
			return
		}
	}
	s.deps = append(s.deps, dep)
}
