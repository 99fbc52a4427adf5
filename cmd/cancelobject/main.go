// cancelobject hosts the cancel-object plugin: an HTTP server that normalizes
// uploaded G-code, streams prints and lets operators cancel objects mid-print,
// plus offline tools for the same pipeline.
//
// Usage:
//
//	cancelobject serve --config cancelobject.yaml
//	cancelobject normalize part.gcode -o part.norm.gcode
//	cancelobject scan part.norm.gcode --format json
//	cancelobject filter part.norm.gcode --cancel Part_2
//	cancelobject token --subject operator --ttl 12h
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if err := NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
