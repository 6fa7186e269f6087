package installs

import (
	"github.com/metatypedev/ghjk/internal/graph"
	"github.com/metatypedev/ghjk/internal/ir"
)

// InstallGraph is the dependency DAG among resolved installs. Node keys are
// install ids; an edge from a to b means a build-depends on b.
type InstallGraph struct {
	*graph.DAG[string]

	All   map[string]ir.ResolvedInstallConfig `json:"all"`
	User  []string                            `json:"user"`  // install ids, declaration order
	Ports map[string]ir.PortManifest          `json:"ports"` // by port name
}

// NewInstallGraph returns an empty graph.
func NewInstallGraph() *InstallGraph {
	return &InstallGraph{
		DAG:   graph.New[string](),
		All:   make(map[string]ir.ResolvedInstallConfig),
		Ports: make(map[string]ir.PortManifest),
	}
}

// Validate rejects dependency cycles. The error names both ends of the
// offending edge and the chain of install ids that closes the cycle.
func (g *InstallGraph) Validate() error {
	return graph.CheckCycles(g.DAG)
}

// DepID returns the install id of the named build dependency of id.
func (g *InstallGraph) DepID(id, dep string) (string, bool) {
	cfg, ok := g.All[id]
	if !ok {
		return "", false
	}
	depCfg, ok := cfg.BuildDepConfigs[dep]
	if !ok {
		return "", false
	}
	depID, err := ir.InstallID(depCfg)
	if err != nil {
		return "", false
	}
	return depID, true
}
