package service

import (
	"context"
	"sort"
)

// AuditReport summarizes integrity problems in the dependency graph. The
// graph is kept acyclic at write time, so findings here normally mean the
// cache predates a validation fix or was edited out of band.
type AuditReport struct {
	Tasks        int        `json:"tasks"`
	Edges        int        `json:"edges"`
	Cycles       [][]string `json:"cycles,omitempty"`
	DanglingDeps []string   `json:"dangling_deps,omitempty"`
}

func (r AuditReport) Clean() bool {
	return len(r.Cycles) == 0 && len(r.DanglingDeps) == 0
}

// Audit checks the whole dependency graph for cycles and for edges pointing
// at tasks that do not exist.
func (s *Service) Audit(ctx context.Context) (AuditReport, error) {
	var report AuditReport
	ids, err := s.Repo.TaskIDs(ctx)
	if err != nil {
		return report, err
	}
	edges, err := s.Repo.DepEdges(ctx)
	if err != nil {
		return report, err
	}
	report.Tasks = len(ids)
	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}
	for from, tos := range edges {
		report.Edges += len(tos)
		for _, to := range tos {
			if !known[to] {
				report.DanglingDeps = append(report.DanglingDeps, from+" -> "+to)
			}
		}
	}
	sort.Strings(report.DanglingDeps)
	report.Cycles = findCycles(edges)
	return report, nil
}

// findCycles runs a coloring DFS over the graph and reports each cycle it
// finds once, as the path that closes it.
func findCycles(edges map[string][]string) [][]string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var cycles [][]string
	var path []string

	var visit func(n string)
	visit = func(n string) {
		color[n] = gray
		path = append(path, n)
		for _, next := range edges[n] {
			switch color[next] {
			case gray:
				start := 0
				for i, p := range path {
					if p == next {
						start = i
						break
					}
				}
				cycle := append([]string(nil), path[start:]...)
				cycles = append(cycles, cycle)
			case white:
				visit(next)
			}
		}
		path = path[:len(path)-1]
		color[n] = black
	}

	nodes := make([]string, 0, len(edges))
	for n := range edges {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	for _, n := range nodes {
		if color[n] == white {
			visit(n)
		}
	}
	return cycles
}
