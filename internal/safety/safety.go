// Package safety implements C5: verifying that compiler mangling of a
// border or sidecar function never lets a kernel-side caller redirect
// through the mangled clone, which would break the export-jump
// indirection plugsched relies on.
package safety

import (
	"fmt"

	"github.com/kcutmod/schedboundary/curated"
	"github.com/kcutmod/schedboundary/internal/fault"
	"github.com/kcutmod/schedboundary/internal/linkresolve"
	"github.com/kcutmod/schedboundary/internal/signature"
)

// Input collects every set C5 needs; all of it comes straight out of
// internal/boundary.Result and internal/elfscan.Info.
type Input struct {
	Border        signature.Set
	Sidecar       signature.Set
	Mangled       signature.Set
	InVmlinux     signature.Set
	SchedOutsider signature.Set
	EdgesByFile   map[string][]linkresolve.Edge
}

// Check runs C5 over every mangled border/sidecar function and returns a
// MangledRedirect error on the first unsafe chain found.
func Check(in Input) error {
	suspects := in.Border.Union(in.Sidecar).Intersect(in.Mangled)
	for _, s := range suspects.Slice() {
		edges := in.EdgesByFile[s.File]
		if checkRedirectMangled(s, edges, in.SchedOutsider, in.Mangled, in.InVmlinux, signature.NewSet()) {
			return curated.Errorf(fault.MangledRedirect, fmt.Sprintf("unsafe redirect through mangled function %s (%s)", s.Name, s.File))
		}
	}
	return nil
}

// checkRedirectMangled walks the call graph in reverse from target,
// restricted to same-file edges (GCC never inlines across translation
// units, so a cross-TU caller is always safe). visiting guards against
// call-graph cycles, which the graph-theoretic original assumes away.
func checkRedirectMangled(target signature.Signature, edges []linkresolve.Edge, schedOutsider, mangled, inVmlinux, visiting signature.Set) bool {
	if visiting.Has(target) {
		return false
	}
	visiting.Add(target)

	for _, e := range edges {
		if e.To != target || e.To.File != e.From.File {
			continue
		}
		from := e.From

		if schedOutsider.Has(from) {
			return true
		}
		if mangled.Has(from) || !inVmlinux.Has(from) {
			if checkRedirectMangled(from, edges, schedOutsider, mangled, inVmlinux, visiting) {
				return true
			}
		}
	}
	return false
}
