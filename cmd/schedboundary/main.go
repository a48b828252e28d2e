// Command schedboundary computes the cut between module-internal scheduler
// code and the rest of a monolithic kernel tree, per spec.md. It consumes a
// configuration document and compiler-plugin metadata already staged in a
// working directory plus the linked kernel's ELF image, and writes the
// classification artifacts spec.md §4.6 describes.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/kcutmod/schedboundary/internal/engine"
	"github.com/kcutmod/schedboundary/internal/fault"
	"github.com/kcutmod/schedboundary/logger"
)

const usage = `usage: schedboundary [flags] <vmlinux> <work-dir> <mod-dir>

  vmlinux   path to the fully linked kernel ELF image
  work-dir  temporary working directory; must already contain boundary.yaml
            and the per-translation-unit *.boundary metadata files
  mod-dir   module output directory (export_jump.h, tainted_functions.h)

flags:
`

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the testable body of main: it never calls os.Exit itself so tests
// can exercise argument handling without tearing down the process.
func run(args []string) int {
	// use a flag set to provide --help the same way gopher2600.go does for
	// its own top-level command line, since this tool has no sub-modes to
	// dispatch on.
	flgs := flag.NewFlagSet("schedboundary", flag.ContinueOnError)
	flgs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flgs.PrintDefaults()
	}

	readelf := flgs.String("readelf", "readelf", "path to the ELF dump utility invoked for symbol reconciliation")
	logFlag := flgs.Bool("log", false, "echo the engine's logger to stderr as it runs")
	strict := flgs.Bool("strict", true, "treat an ambiguous weak/strong link precedence as fatal instead of a warning")
	configName := flgs.String("config", "boundary.yaml", "name of the configuration document within work-dir")

	if err := flgs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	if *logFlag {
		logger.SetEcho(os.Stderr, true)
	} else {
		logger.SetEcho(nil, false)
	}

	positional := flgs.Args()
	if len(positional) != 3 {
		flgs.Usage()
		return 1
	}

	_, err := engine.Run(engine.Options{
		VmlinuxPath:    positional[0],
		WorkDir:        positional[1],
		ModPath:        positional[2],
		ConfigName:     *configName,
		ReadelfCommand: *readelf,
		Strict:         *strict,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "schedboundary: %v\n", err)
		return fault.ExitCode(err)
	}

	return 0
}
