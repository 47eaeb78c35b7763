// SPDX-License-Identifier: MPL-2.0

// Package dag orders modules so that every dependency comes before the
// modules that require it. The resolver builds one graph per deployment.
package dag

import (
	"fmt"
	"strings"
)

type (
	// CycleError indicates that the graph contains a cycle, preventing topological ordering.
	CycleError[T comparable] struct {
		// Cycle lists the nodes left with unresolved incoming edges, in insertion order.
		Cycle []T
	}

	// Graph is a directed graph keyed by comparable node identifiers. An edge
	// from A to B means A must be deployed before B.
	Graph[T comparable] struct {
		adjacency map[T][]T
		// nodes tracks insertion order so the output is deterministic.
		nodes   []T
		nodeSet map[T]bool
	}
)

func (e *CycleError[T]) Error() string {
	parts := make([]string, 0, len(e.Cycle))
	for _, n := range e.Cycle {
		parts = append(parts, fmt.Sprint(n))
	}
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(parts, " -> "))
}

// New creates an empty Graph.
func New[T comparable]() *Graph[T] {
	return &Graph[T]{
		adjacency: make(map[T][]T),
		nodeSet:   make(map[T]bool),
	}
}

// AddNode adds a node to the graph. Adding an existing node is a no-op.
func (g *Graph[T]) AddNode(n T) {
	if g.nodeSet[n] {
		return
	}
	g.nodeSet[n] = true
	g.nodes = append(g.nodes, n)
}

// AddEdge records that "from" must come before "to". Both nodes are added if
// missing; duplicate edges are ignored.
func (g *Graph[T]) AddEdge(from, to T) {
	g.AddNode(from)
	g.AddNode(to)
	for _, existing := range g.adjacency[from] {
		if existing == to {
			return
		}
	}
	g.adjacency[from] = append(g.adjacency[from], to)
}

// Has reports whether n is part of the graph.
func (g *Graph[T]) Has(n T) bool { return g.nodeSet[n] }

// Len returns the number of nodes.
func (g *Graph[T]) Len() int { return len(g.nodes) }

// TopologicalSort returns an order where every edge points forward, using
// Kahn's algorithm. Nodes at the same depth keep their insertion order.
// A *CycleError is returned if no such order exists.
func (g *Graph[T]) TopologicalSort() ([]T, error) {
	if len(g.nodes) == 0 {
		return nil, nil
	}

	inDegree := make(map[T]int, len(g.nodes))
	for _, targets := range g.adjacency {
		for _, to := range targets {
			inDegree[to]++
		}
	}

	queue := make([]T, 0, len(g.nodes))
	for _, n := range g.nodes {
		if inDegree[n] == 0 {
			queue = append(queue, n)
		}
	}

	result := make([]T, 0, len(g.nodes))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		result = append(result, n)

		for _, to := range g.adjacency[n] {
			inDegree[to]--
			if inDegree[to] == 0 {
				queue = append(queue, to)
			}
		}
	}

	if len(result) != len(g.nodes) {
		var cycle []T
		for _, n := range g.nodes {
			if inDegree[n] > 0 {
				cycle = append(cycle, n)
			}
		}
		return nil, &CycleError[T]{Cycle: cycle}
	}

	return result, nil
}
