// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package propagation models how stress on one control reaches others.
//
// A Graph is the immutable set of directed edges between controls. Each
// edge carries a delay in days and a non-negative amplification factor.
// A Network is the per-run state built from a Graph: one DelayBuffer per
// edge, sized from the run's step duration.
//
//	 src ──(pressure × amplification)──▶ [ delay buffer ] ──▶ dst
//
// Contributions from several inbound edges into one destination are
// summed. The sum is always taken in a canonical order (edges sorted by
// source id, then destination id), so the result does not depend on the
// order edges were declared in.
package propagation

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
)

// ErrInvalidEdge is returned for edges that cannot be part of a graph.
var ErrInvalidEdge = errors.New("invalid propagation edge")

// MaxDelayDays is the longest edge delay a graph accepts.
const MaxDelayDays = 3650

// Edge is a directed, delayed, amplified dependency between two controls.
type Edge struct {
	Src           string  `yaml:"src" json:"src" validate:"required"`
	Dst           string  `yaml:"dst" json:"dst" validate:"required"`
	DelayDays     int     `yaml:"delay_days" json:"delay_days" validate:"gte=0"`
	Amplification float64 `yaml:"amplification" json:"amplification" validate:"gte=0"`
}

func (e Edge) key() string {
	return e.Src + "\x00" + e.Dst
}

// DelaySteps converts a delay in days into a buffer length for the given
// step size. Fractional steps are truncated and the result is at least 1.
// Delays beyond MaxDelayDays count as MaxDelayDays.
func DelaySteps(delayDays, stepHours int) int {
	if stepHours <= 0 {
		return 1
	}
	return max(1, min(delayDays, MaxDelayDays)*24/stepHours)
}

// Graph is an immutable set of edges with an inbound index.
type Graph struct {
	edges   []Edge
	inbound map[string][]int
}

// NewGraph validates edges and builds a Graph.
//
// Edges must name both endpoints, have 0 <= delay <= MaxDelayDays and a
// finite amplification >= 0. At most one edge may exist per ordered pair.
func NewGraph(edges []Edge) (*Graph, error) {
	sorted := slices.Clone(edges)
	slices.SortFunc(sorted, compareEdges)

	seen := make(map[string]struct{}, len(sorted))
	for _, e := range sorted {
		if strings.TrimSpace(e.Src) == "" || strings.TrimSpace(e.Dst) == "" {
			return nil, fmt.Errorf("%w: edge %q -> %q has an empty endpoint", ErrInvalidEdge, e.Src, e.Dst)
		}
		if e.DelayDays < 0 {
			return nil, fmt.Errorf("%w: %s -> %s has negative delay %d", ErrInvalidEdge, e.Src, e.Dst, e.DelayDays)
		}
		if e.DelayDays > MaxDelayDays {
			return nil, fmt.Errorf("%w: %s -> %s delay %d exceeds %d days", ErrInvalidEdge, e.Src, e.Dst, e.DelayDays, MaxDelayDays)
		}
		if e.Amplification < 0 || math.IsNaN(e.Amplification) || math.IsInf(e.Amplification, 0) {
			return nil, fmt.Errorf("%w: %s -> %s has amplification %v", ErrInvalidEdge, e.Src, e.Dst, e.Amplification)
		}
		if _, dup := seen[e.key()]; dup {
			return nil, fmt.Errorf("%w: duplicate edge %s -> %s", ErrInvalidEdge, e.Src, e.Dst)
		}
		seen[e.key()] = struct{}{}
	}

	g := &Graph{edges: sorted, inbound: make(map[string][]int)}
	for i, e := range sorted {
		g.inbound[e.Dst] = append(g.inbound[e.Dst], i)
	}
	return g, nil
}

func compareEdges(a, b Edge) int {
	if c := strings.Compare(a.Src, b.Src); c != 0 {
		return c
	}
	return strings.Compare(a.Dst, b.Dst)
}

// Edges returns the edges in canonical order.
func (g *Graph) Edges() []Edge {
	return slices.Clone(g.edges)
}

// inboundEdges returns the edges arriving at dst in canonical order.
func (g *Graph) inboundEdges(dst string) []Edge {
	idx := g.inbound[dst]
	out := make([]Edge, len(idx))
	for i, j := range idx {
		out[i] = g.edges[j]
	}
	return out
}

// nodes returns every control id referenced by an edge, sorted.
func (g *Graph) nodes() []string {
	set := make(map[string]struct{})
	for _, e := range g.edges {
		set[e.Src] = struct{}{}
		set[e.Dst] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Len returns the number of edges.
func (g *Graph) Len() int {
	return len(g.edges)
}

// =============================================================================
// Network (per-run state)
// =============================================================================

// Network carries the delay buffers for one forecast run. It must not be
// shared between runs or goroutines.
type Network struct {
	graph    *Graph
	buffers  []*DelayBuffer
	arrivals []float64
}

// NewNetwork allocates fresh zero-filled delay buffers for a run of
// horizonSteps steps, each stepHours long.
//
// A value pushed into a buffer longer than horizonSteps never arrives
// within the run, so buffer length is capped at horizonSteps+1. A
// horizonSteps <= 0 leaves lengths uncapped.
func (g *Graph) NewNetwork(stepHours, horizonSteps int) (*Network, error) {
	if stepHours <= 0 {
		return nil, fmt.Errorf("step_hours must be positive, got %d", stepHours)
	}
	n := &Network{
		graph:    g,
		buffers:  make([]*DelayBuffer, len(g.edges)),
		arrivals: make([]float64, len(g.edges)),
	}
	for i, e := range g.edges {
		length := DelaySteps(e.DelayDays, stepHours)
		if horizonSteps > 0 {
			length = min(length, horizonSteps+1)
		}
		n.buffers[i] = NewDelayBuffer(length)
	}
	return n, nil
}

// Step pushes pressure(src) × amplification into every edge buffer and
// returns the total contribution arriving at each destination this step.
// Sources missing from pressures contribute zero. Destinations without
// inbound edges are absent from the result.
func (n *Network) Step(pressures map[string]float64) map[string]float64 {
	for i, e := range n.graph.edges {
		n.arrivals[i] = n.buffers[i].Shift(pressures[e.Src] * e.Amplification)
	}

	incoming := make(map[string]float64, len(n.graph.inbound))
	for dst, idx := range n.graph.inbound {
		var sum float64
		for _, j := range idx {
			sum += n.arrivals[j]
		}
		incoming[dst] = sum
	}
	return incoming
}

// bufferLen returns the buffer length of the edge src -> dst, or 0 if no
// such edge exists.
func (n *Network) bufferLen(src, dst string) int {
	for i, e := range n.graph.edges {
		if e.Src == src && e.Dst == dst {
			return n.buffers[i].Len()
		}
	}
	return 0
}
