package syncrun

import (
	"specsync/internal/graph"
	"specsync/pkg/domain"
)

// crossDomain lists, per domain, the other domains its hard references point
// into. A referenced domain must finish writing before its referrers validate.
var crossDomain = map[domain.Domain][]domain.Domain{
	domain.DomainCriticalPaths: {domain.DomainFeatures},
}

// Stages groups domains so each runs after the domains it references. Domains
// inside one stage are independent and may run in parallel.
func Stages(domains []domain.Domain) ([][]domain.Domain, error) {
	g := graph.New()
	requested := make(map[domain.Domain]bool, len(domains))
	for _, d := range domains {
		g.AddNode(string(d))
		requested[d] = true
	}
	for _, d := range domains {
		for _, target := range crossDomain[d] {
			if requested[target] {
				g.AddEdge(string(d), string(target))
			}
		}
	}
	order, err := g.TopoOrder()
	if err != nil {
		return nil, err
	}
	out := make([][]domain.Domain, len(order))
	for i, stage := range order {
		out[i] = make([]domain.Domain, len(stage))
		for j, id := range stage {
			out[i][j] = domain.Domain(id)
		}
	}
	return out, nil
}
