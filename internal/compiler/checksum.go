package compiler

import (
	"fmt"
	"hash/fnv"

	"github.com/streamlib/runtime/internal/graph"
)

// checksum computes the change-detection hash for a node's type+config,
// used to decide when a running processor needs a config push without
// comparing the live payloads directly. fmt's %#v verb sorts map
// keys deterministically (since Go 1.12), which is enough for the opaque
// config payloads this core deals with (decoded YAML/JSON, i.e. maps and
// slices of basic types) without pulling in a canonical-encoding
// dependency no other package in this repo needs.
func checksum(n *graph.ProcessorNode) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%#v", n.Kind, n.Config)
	return fmt.Sprintf("%x", h.Sum64())
}
