// Package boundary implements C4: the core set-algebra and call-graph
// fixed-point solver that decides, for every function the corpus knows
// about, which side of the scheduler/kernel boundary it falls on.
package boundary

import (
	"fmt"

	"github.com/kcutmod/schedboundary/curated"
	"github.com/kcutmod/schedboundary/internal/fault"
	"github.com/kcutmod/schedboundary/internal/linkresolve"
	"github.com/kcutmod/schedboundary/internal/signature"
	"github.com/kcutmod/schedboundary/logger"
)

// Input collects every set C1–C3 have already produced; Solve never
// mutates it.
type Input struct {
	Fn        signature.Set
	ModFns    signature.Set
	SdcrFns   signature.Set
	Init      signature.Set
	Interface signature.Set

	// Callback is the raw callback set C2 resolved (linkresolve.Resolution.Callback).
	Callback signature.Set

	// FakeGlobal is the set of shadowed weak definitions C2 identified.
	FakeGlobal signature.Set

	// Edges is the merged, resolved call graph (linkresolve.Resolution.Edges).
	Edges []linkresolve.Edge

	// EdgesByFile groups the same edges by caller file, used for the
	// sidecar extraction walk and (by internal/safety) the mangled
	// redirect safety check.
	EdgesByFile map[string][]linkresolve.Edge

	InVmlinux signature.Set
	Mangled   signature.Set
	Export    signature.Set

	// Sidecar is the set of sidecar entry-point signatures (config.Document.Sidecar).
	Sidecar signature.Set
}

// Result is every derived set func_class_arithmetics computes, named the
// same way analyze.py names them.
type Result struct {
	Callback       signature.Set
	CbOpt          signature.Set
	Border         signature.Set
	InitialInsider signature.Set
	Sidecar        signature.Set
	SdcrLeft       signature.Set
	SdcrOut        signature.Set
	InflectCut     signature.Set
	Insider        signature.Set
	SchedOutsider  signature.Set
	OutsiderOpt    signature.Set
	PublicUser     signature.Set
	Tainted        signature.Set
	Undefined      signature.Set

	// Reasons names, for every sched_outsider signature, which rule put it
	// there ("exported", "callback_optimized", "fake_global", or
	// "inflection"). It's diagnostic only and never influences any other
	// field; left nil unless the central logger is echoing (-log), since
	// building it walks every mod_fn a second time.
	Reasons map[signature.Signature]string
}

// Solve runs C4 to completion, matching func_class_arithmetics step for
// step.
func Solve(in Input) (*Result, error) {
	callback := in.Callback.Sub(in.Interface)
	cbOpt := callback.Sub(in.InVmlinux)
	callback = callback.Sub(cbOpt)
	border := in.Interface.Union(callback)

	// exported functions may be called directly by kernel modules; they
	// can't be treated as internal even when mod_fns otherwise claims them.
	initialInsider := in.ModFns.Sub(border).Sub(in.Export)

	sidecar := in.Sidecar.Clone()
	sdcrLeft, err := sidecarInflect(sidecar, in.InVmlinux, in.EdgesByFile)
	if err != nil {
		return nil, err
	}
	sdcrOut := in.SdcrFns.Sub(sdcrLeft)

	if !sidecar.Disjoint(border) {
		return nil, curated.Errorf(fault.SidecarInvariantViolation, "function boundary conflict: sidecar functions overlap interface/callback border")
	}

	inflectCut := border.Union(in.Init).Union(sidecar)
	afterInflect := inflect(initialInsider, in.Edges, inflectCut)
	insider := afterInflect.Sub(in.Init).Sub(in.FakeGlobal)

	fakeGlobalOutsider := in.FakeGlobal.Intersect(in.ModFns)
	schedOutsider := in.ModFns.Sub(insider).Sub(border).Union(cbOpt)
	schedOutsider = schedOutsider.Union(fakeGlobalOutsider)

	outsiderOpt := schedOutsider.Sub(in.InVmlinux).Sub(in.Init)
	publicUser := in.Fn.Sub(insider).Sub(border)
	tainted := border.Union(insider).Union(sidecar).Intersect(in.InVmlinux)
	undefined := schedOutsider.Sub(outsiderOpt).Union(border).Union(sidecar)

	var reasons map[signature.Signature]string
	if logger.EchoActive() {
		reasons = reasonsForOutsiders(schedOutsider, cbOpt, fakeGlobalOutsider, initialInsider.Sub(afterInflect), in.ModFns.Sub(border).Intersect(in.Export))
		for sig, reason := range reasons {
			logger.Logf(logger.Allow, "solver", "%s (%s) classified sched_outsider: %s", sig.Name, sig.File, reason)
		}
	}

	return &Result{
		Callback:       callback,
		CbOpt:          cbOpt,
		Border:         border,
		InitialInsider: initialInsider,
		Sidecar:        sidecar,
		SdcrLeft:       sdcrLeft,
		SdcrOut:        sdcrOut,
		InflectCut:     inflectCut,
		Insider:        insider,
		SchedOutsider:  schedOutsider,
		OutsiderOpt:    outsiderOpt,
		PublicUser:     publicUser,
		Tainted:        tainted,
		Reasons:        reasons,
		Undefined:      undefined,
	}, nil
}

// reasonsForOutsiders assigns each sched_outsider signature the first rule
// (checked in priority order) responsible for placing it there.
func reasonsForOutsiders(schedOutsider, cbOpt, fakeGlobalOutsider, removedByInflection, exported signature.Set) map[signature.Signature]string {
	reasons := make(map[signature.Signature]string, schedOutsider.Len())
	for _, sig := range schedOutsider.Slice() {
		switch {
		case cbOpt.Has(sig):
			reasons[sig] = "callback_optimized"
		case fakeGlobalOutsider.Has(sig):
			reasons[sig] = "fake_global"
		case removedByInflection.Has(sig):
			reasons[sig] = "inflection"
		case exported.Has(sig):
			reasons[sig] = "exported"
		default:
			reasons[sig] = "inflection"
		}
	}
	return reasons
}

// sidecarInflect finds every descendant of a sidecar entry point that GCC
// failed to optimize into vmlinux proper, so the extraction tool knows
// which bodies must be kept to let the sidecar link.
func sidecarInflect(sidecar, inVmlinux signature.Set, edgesByFile map[string][]linkresolve.Edge) (signature.Set, error) {
	if notInVmlinux := sidecar.Sub(inVmlinux); notInVmlinux.Len() > 0 {
		return nil, curated.Errorf(fault.SidecarInvariantViolation, fmt.Sprintf("sidecar functions should not be optimized by GCC: %v", notInVmlinux.Slice()))
	}

	leftover := signature.NewSet()
	for _, sym := range sidecar.Slice() {
		sidecarDFS(edgesByFile[sym.File], sym, inVmlinux, leftover)
	}
	return leftover, nil
}

func sidecarDFS(edges []linkresolve.Edge, start signature.Signature, inVmlinux, leftover signature.Set) {
	if leftover.Has(start) {
		return
	}
	leftover.Add(start)

	for _, e := range edges {
		if e.From == start && e.To.File == start.File && !inVmlinux.Has(e.To) {
			sidecarDFS(edges, e.To, inVmlinux, leftover)
		}
	}
}

// inflect marks functions reachable from outsiders as outsiders too,
// unless they're shielded by cut (the border, init functions, or sidecar
// entry points). It's a least-fixed-point computation: an edge keeps
// removing its target from insiders as long as its source isn't itself an
// insider or shielded.
func inflect(initialInsiders signature.Set, edges []linkresolve.Edge, cut signature.Set) signature.Set {
	insiders := initialInsiders.Clone()
	for {
		var toRemove []signature.Signature
		for _, e := range edges {
			if !insiders.Has(e.To) {
				continue
			}
			if insiders.Has(e.From) || cut.Has(e.From) {
				continue
			}
			toRemove = append(toRemove, e.To)
		}
		if len(toRemove) == 0 {
			break
		}
		for _, sig := range toRemove {
			delete(insiders, sig)
		}
	}
	return insiders
}
