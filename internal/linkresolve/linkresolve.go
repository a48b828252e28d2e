// Package linkresolve implements C2: resolving the implicit ("?" file)
// signatures that the compiler plugin leaves behind for any call or
// callback target it cannot see the definition of, by picking the single
// symbol the linker will actually bind to among every public candidate
// observed across the corpus.
package linkresolve

import (
	"fmt"
	"sort"

	"github.com/kcutmod/schedboundary/curated"
	"github.com/kcutmod/schedboundary/internal/corpus"
	"github.com/kcutmod/schedboundary/internal/fault"
	"github.com/kcutmod/schedboundary/internal/signature"
	"github.com/kcutmod/schedboundary/logger"
)

// Resolution is the outcome of C2: a table mapping public symbol names to
// their single linked definition (global_fn_dict in analyze.py), the set
// of shadowed weak definitions (fake_global), the module-local callback
// set, and the edge list with every callee signature resolved or dropped.
type Resolution struct {
	// GlobalFile maps a public symbol name to the file the linker will
	// actually bind to.
	GlobalFile map[string]string

	// FakeGlobal holds every (name, file) pair for a public symbol that
	// lost the link-time tie-break: weak definitions shadowed by a
	// strong one, or a weaker-priority weak definition shadowed by a
	// stronger-priority one.
	FakeGlobal signature.Set

	// Callback holds every callback target signature resolved to a
	// concrete file inside the configured module sources.
	Callback signature.Set

	// Edges holds every call-graph edge whose callee resolved to some
	// concrete (possibly out-of-module) file; edges whose callee could
	// not be resolved (builtins, inline assembly, and the like) are
	// dropped, matching analyze.py's `if edge['to']: edges.append(...)`.
	Edges []Edge

	// EdgesByFile groups Edges by caller file, matching the per-
	// translation-unit `meta['edge']` lists the sidecar DFS and mangled
	// redirect safety check walk in analyze.py.
	EdgesByFile map[string][]Edge

	// Ties names every public symbol for which the two lowest-priority
	// candidates shared a priority, so the linker's pick between them is
	// ambiguous (spec.md §4.2 step 3). Logged as a warning unconditionally;
	// internal/engine additionally surfaces it as a fatal LinkPrecedenceTie
	// when run in strict mode.
	Ties []string
}

// Edge is a resolved call-graph edge.
type Edge struct {
	From signature.Signature
	To   signature.Signature
}

// Resolve runs C2 over a built corpus. modFiles is the set of configured
// module file paths (config.Document.ModFiles).
func Resolve(c *corpus.Corpus, modFiles map[string]bool) (*Resolution, error) {
	r := &Resolution{
		GlobalFile:  make(map[string]string),
		FakeGlobal:  signature.NewSet(),
		Callback:    signature.NewSet(),
		EdgesByFile: make(map[string][]Edge),
	}

	for name, candidates := range c.GlobalCandidates {
		sorted := append([]corpus.Candidate(nil), candidates...)
		sort.Slice(sorted, func(i, j int) bool {
			if sorted[i].Priority != sorted[j].Priority {
				return sorted[i].Priority < sorted[j].Priority
			}
			return sorted[i].File < sorted[j].File
		})

		if name != "main" && len(sorted) > 1 && sorted[0].Priority == sorted[1].Priority {
			logger.Logf(logger.Allow, "linkresolve", "can't tell which %s is linked in vmlinux", name)
			r.Ties = append(r.Ties, name)
		}

		r.GlobalFile[name] = sorted[0].File
		for _, cand := range sorted[1:] {
			if cand.Priority == int(weakArch) || cand.Priority == int(weakNorm) {
				r.FakeGlobal.Add(signature.New(name, cand.File))
			}
		}
	}

	for _, cb := range c.RawCallbacks {
		if len(cb) != 2 {
			continue
		}
		sig, ok, err := lookupIfGlobal(r.GlobalFile, c.FnNames, cb[0], cb[1])
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if modFiles[sig.File] {
			r.Callback.Add(sig)
		}
	}

	for _, edge := range c.RawEdges {
		if len(edge.From) != 2 || len(edge.To) != 2 {
			continue
		}
		to, ok, err := lookupIfGlobal(r.GlobalFile, c.FnNames, edge.To[0], edge.To[1])
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		resolved := Edge{
			From: signature.New(edge.From[0], edge.From[1]),
			To:   to,
		}
		r.Edges = append(r.Edges, resolved)
		r.EdgesByFile[resolved.From.File] = append(r.EdgesByFile[resolved.From.File], resolved)
	}

	sort.Strings(r.Ties)
	return r, nil
}

const (
	weakArch = 2
	weakNorm = 3
)

// lookupIfGlobal mirrors analyze.py's lookup_if_global: an implicit
// signature (file == signature.Unresolved) is resolved against the
// GlobalFile table; a signature that was already explicit is returned
// unchanged. A name this process never heard of at all (a GCC builtin or
// assembly routine) resolves to nothing, matching spec.md §4.2's
// droppable case. A name the corpus's own fn_set knows about but that
// link resolution still couldn't place is the UnresolvedAmbiguity spec.md
// §7 names as fatal: surviving as "?" this late means link resolution is
// broken, not that the symbol is external.
func lookupIfGlobal(globalFile map[string]string, fnNames map[string]bool, name, file string) (signature.Signature, bool, error) {
	if file != signature.Unresolved {
		return signature.New(name, file), true, nil
	}
	resolved, ok := globalFile[name]
	if !ok || resolved == "" {
		if fnNames[name] {
			return signature.Signature{}, false, curated.Errorf(fault.UnresolvedAmbiguity, fmt.Sprintf("%q survives link resolution as unresolved despite being known to the module's fn_set", name))
		}
		return signature.Signature{}, false, nil
	}
	return signature.New(name, resolved), true, nil
}
