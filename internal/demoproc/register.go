package demoproc

import (
	"github.com/streamlib/runtime/internal/graph"
	"github.com/streamlib/runtime/internal/processor"
)

// Register adds every demo processor type to reg, under the
// "demo." prefix used throughout configuration files and tests.
func Register(reg *processor.Registry) {
	reg.Register("demo.generator", processor.Descriptor{
		Outputs: []graph.PortDescriptor{
			{Name: "out", MessageType: wireTypeInt, DefaultCapacity: 8, DefaultOverflow: graph.OverflowDropNewest},
		},
		Discipline: graph.ExecutionDiscipline{Kind: graph.Continuous, IntervalMS: 10},
		New:        NewGenerator,
	})

	reg.Register("demo.sink", processor.Descriptor{
		Inputs: []graph.PortDescriptor{
			{Name: "in", MessageType: wireTypeInt, DefaultCapacity: 8, DefaultOverflow: graph.OverflowDropNewest},
		},
		Discipline: graph.ExecutionDiscipline{Kind: graph.Reactive},
		New:        NewSink,
	})

	reg.Register("demo.filter", processor.Descriptor{
		Inputs: []graph.PortDescriptor{
			{Name: "in", MessageType: wireTypeInt, DefaultCapacity: 8, DefaultOverflow: graph.OverflowDropNewest},
		},
		Outputs: []graph.PortDescriptor{
			{Name: "out", MessageType: wireTypeInt, DefaultCapacity: 8, DefaultOverflow: graph.OverflowDropNewest},
		},
		Discipline: graph.ExecutionDiscipline{Kind: graph.Reactive},
		New:        NewFilter,
	})

	reg.Register("demo.spawner", processor.Descriptor{
		Outputs: []graph.PortDescriptor{
			{Name: "out", MessageType: wireTypeInt, DefaultCapacity: 8, DefaultOverflow: graph.OverflowDropNewest},
		},
		Discipline: graph.ExecutionDiscipline{Kind: graph.Manual},
		New:        NewSpawner,
	})
}
