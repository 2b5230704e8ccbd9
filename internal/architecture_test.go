package internal

import (
	"testing"

	"github.com/kcmvp/archunit"
)

// The pipeline layers only depend downwards:
// protocol <- bridge <- adapter <- hub <- platform <- api.
func TestArchitecture_PipelineLayers(t *testing.T) {
	order := []string{"protocol", "bridge", "adapter", "hub", "platform", "api"}

	for i, name := range order[:len(order)-1] {
		t.Run(name, func(t *testing.T) {
			layer := archunit.Packages(name, []string{".../internal/" + name + "/..."})

			var higherPaths []string
			for _, h := range order[i+1:] {
				higherPaths = append(higherPaths, ".../internal/"+h+"/...")
			}
			higher := archunit.Packages("above-"+name, higherPaths)

			if err := layer.ShouldNotReferLayers(higher); err != nil {
				t.Errorf("%s refers to a higher layer: %v", name, err)
			}
		})
	}
}

// Infrastructure packages are leaves: they never reach into the pipeline.
func TestArchitecture_InfrastructureIsLeaf(t *testing.T) {
	infra := archunit.Packages("infrastructure", []string{".../internal/infrastructure/..."})
	pipeline := archunit.Packages("pipeline", []string{
		".../internal/protocol/...",
		".../internal/bridge/...",
		".../internal/adapter/...",
		".../internal/platform/...",
		".../internal/api/...",
	})

	if err := infra.ShouldNotReferLayers(pipeline); err != nil {
		t.Errorf("infrastructure depends on the pipeline: %v", err)
	}
}

func TestArchitecture_SimulatorPresent(t *testing.T) {
	sim := archunit.Packages("simulator", []string{".../internal/simulator"})
	if len(sim.Packages()) == 0 {
		t.Error("no simulator package found")
	}
}
