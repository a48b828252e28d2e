// Package engine orchestrates C1 through C6 over a single frozen context
// value, matching spec.md §9's note that the source's module-level globals
// (config, func_class, edges, global_fn_dict, local_sympos) become fields
// of an engine context passed explicitly between phases in a systems
// language rather than mutated in place.
package engine

import (
	"fmt"
	"path/filepath"

	"github.com/kcutmod/schedboundary/curated"
	"github.com/kcutmod/schedboundary/internal/artifact"
	"github.com/kcutmod/schedboundary/internal/boundary"
	"github.com/kcutmod/schedboundary/internal/config"
	"github.com/kcutmod/schedboundary/internal/corpus"
	"github.com/kcutmod/schedboundary/internal/elfscan"
	"github.com/kcutmod/schedboundary/internal/fault"
	"github.com/kcutmod/schedboundary/internal/linkresolve"
	"github.com/kcutmod/schedboundary/internal/safety"
	"github.com/kcutmod/schedboundary/internal/signature"
	"github.com/kcutmod/schedboundary/logger"
)

// Options configures a single run of the engine.
type Options struct {
	// VmlinuxPath is the path to the fully linked kernel ELF image.
	VmlinuxPath string
	// WorkDir is the temporary working directory; it must already contain
	// "boundary.yaml" (the configuration document) and the per-file
	// "*.boundary" metadata artifacts.
	WorkDir string
	// ModPath is the module output directory export_jump.h and
	// tainted_functions.h are written into.
	ModPath string

	// ConfigName is the configuration document's filename within WorkDir.
	// Defaults to "boundary.yaml" when empty.
	ConfigName string

	// ReadelfCommand overrides the ELF dump utility invoked for C3.
	// Defaults to elfscan.ReadelfCommand's own default ("readelf") when
	// empty.
	ReadelfCommand string

	// Strict promotes a link-time precedence tie (spec.md §7's
	// LinkPrecedenceTie, normally only a warning) to a fatal error. Intended
	// for CI runs against a from-scratch kernel build, where an ambiguous
	// weak/strong pick should stop the pipeline rather than silently guess.
	Strict bool
}

// Result is everything a caller (the CLI, or a test) might want to inspect
// after a successful run, beyond the artifacts already written to disk.
type Result struct {
	Config   *config.Document
	Corpus   *corpus.Corpus
	Resolved *linkresolve.Resolution
	ELF      *elfscan.Info
	Boundary *boundary.Result
}

// Run executes the full C1→C6 pipeline and writes every artifact spec.md
// §4.6 describes into opts.WorkDir / opts.ModPath. It returns a curated
// error classified by internal/fault.Category on any fatal condition.
func Run(opts Options) (*Result, error) {
	configName := opts.ConfigName
	if configName == "" {
		configName = "boundary.yaml"
	}

	cfg, err := config.Load(filepath.Join(opts.WorkDir, configName))
	if err != nil {
		return nil, err
	}

	metas, err := corpus.LoadAll(opts.WorkDir)
	if err != nil {
		return nil, err
	}

	cps, err := corpus.Build(metas, cfg)
	if err != nil {
		return nil, err
	}

	resolved, err := linkresolve.Resolve(cps, cfg.ModFiles)
	if err != nil {
		return nil, err
	}
	if opts.Strict && len(resolved.Ties) > 0 {
		msg := fmt.Sprintf("ambiguous weak/strong precedence for %d symbol(s), e.g. %q; rerun without -strict to proceed with the lexicographically first candidate", len(resolved.Ties), resolved.Ties[0])
		return nil, curated.Errorf(fault.LinkPrecedenceTie, msg)
	}

	if opts.ReadelfCommand != "" {
		elfscan.ReadelfCommand = opts.ReadelfCommand
	}
	elfInfo, err := elfscan.Scan(opts.VmlinuxPath, cfg, cps.Fn)
	if err != nil {
		return nil, err
	}

	boundaryResult, err := boundary.Solve(boundary.Input{
		Fn:          cps.Fn,
		ModFns:      cps.ModFns,
		SdcrFns:     cps.SdcrFns,
		Init:        cps.Init,
		Interface:   cps.Interface,
		Callback:    resolved.Callback,
		FakeGlobal:  resolved.FakeGlobal,
		Edges:       resolved.Edges,
		EdgesByFile: resolved.EdgesByFile,
		InVmlinux:   elfInfo.InVmlinux,
		Mangled:     elfInfo.Mangled,
		Export:      elfInfo.Export,
		Sidecar:     signature.NewSet(cfg.Sidecar...),
	})
	if err != nil {
		return nil, err
	}

	if err := safety.Check(safety.Input{
		Border:        boundaryResult.Border,
		Sidecar:       boundaryResult.Sidecar,
		Mangled:       elfInfo.Mangled,
		InVmlinux:     elfInfo.InVmlinux,
		SchedOutsider: boundaryResult.SchedOutsider,
		EdgesByFile:   resolved.EdgesByFile,
	}); err != nil {
		return nil, err
	}

	structDocs := artifact.BuildStructDocs(cps.Struct, boundaryResult.PublicUser)
	if err := artifact.ValidatePrivacy(structDocs, cfg.StructForcePrivate); err != nil {
		return nil, err
	}

	if err := writeArtifacts(opts, cfg, cps, resolved, elfInfo, boundaryResult, structDocs); err != nil {
		return nil, err
	}

	logger.Logf(logger.Allow, "engine", "classification complete: %d insider, %d border, %d sched_outsider, %d tainted, %d undefined",
		boundaryResult.Insider.Len(), boundaryResult.Border.Len(), boundaryResult.SchedOutsider.Len(),
		boundaryResult.Tainted.Len(), boundaryResult.Undefined.Len())

	return &Result{
		Config:   cfg,
		Corpus:   cps,
		Resolved: resolved,
		ELF:      elfInfo,
		Boundary: boundaryResult,
	}, nil
}

func writeArtifacts(opts Options, cfg *config.Document, cps *corpus.Corpus, resolved *linkresolve.Resolution, elfInfo *elfscan.Info, res *boundary.Result, structDocs map[string]artifact.StructDoc) error {
	if err := artifact.WriteHeaderSymbol(filepath.Join(opts.WorkDir, "header_symbol.json"), cps.HdrFn); err != nil {
		return err
	}
	if err := artifact.WriteBoundaryDoc(filepath.Join(opts.WorkDir, "boundary_doc.yaml"), structDocs); err != nil {
		return err
	}
	if err := artifact.WriteBoundaryExtract(filepath.Join(opts.WorkDir, "boundary_extract.yaml"), cfg, res, cps.Interface, elfInfo.Export, cps.Init); err != nil {
		return err
	}
	if err := artifact.WriteTaintedFunctions(filepath.Join(opts.ModPath, "tainted_functions.h"), res.Tainted, elfInfo.LocalSympos); err != nil {
		return err
	}
	if err := artifact.WriteUndefinedFunctions(filepath.Join(opts.WorkDir, "undefined_functions.h"), res.Undefined, elfInfo.LocalSympos); err != nil {
		return err
	}
	if err := artifact.WriteExportJump(filepath.Join(opts.ModPath, "export_jump.h"), res.Callback, cps.Interface, res.Sidecar, cps.Decls, resolved.GlobalFile); err != nil {
		return err
	}
	return nil
}
