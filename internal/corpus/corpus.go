// Package corpus implements C1: loading the per-translation-unit metadata
// records emitted by the (out of scope) compiler plugin, and the first
// accumulation pass over them that analyze.py performs before any ELF or
// link-time resolution happens.
package corpus

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kcutmod/schedboundary/curated"
	"github.com/kcutmod/schedboundary/internal/config"
	"github.com/kcutmod/schedboundary/internal/fault"
	"github.com/kcutmod/schedboundary/internal/signature"
)

// Decl is the declaration string triple attached to a function defined in a
// module or sidecar source file, used later to render the EXPORT_* lines of
// export_jump.h.
type Decl struct {
	Fn     string `json:"fn"`
	Ret    string `json:"ret"`
	Params string `json:"params"`
}

// FnRecord mirrors one entry of collect.py's "fn" list.
type FnRecord struct {
	Name      string   `json:"name"`
	Init      bool     `json:"init"`
	File      string   `json:"file"`
	External  bool     `json:"external"`
	Public    bool     `json:"public"`
	Static    bool     `json:"static"`
	Inline    bool     `json:"inline"`
	Weak      bool     `json:"weak"`
	Signature []string `json:"signature"` // (name, file) or (name, "?")
	DeclStr   *Decl    `json:"decl_str"`
}

// EdgeRecord mirrors one entry of collect.py's "edge" list: a call-graph
// edge from a caller signature to a callee signature (the callee file may
// be the "?" sentinel until link resolution fixes it up).
type EdgeRecord struct {
	From []string `json:"from"`
	To   []string `json:"to"`
}

// StructInfo mirrors one value of collect.py's "struct" mapping: a struct
// definition's full field list plus, per field, the signatures of the
// functions observed accessing it from a module header's scope.
type StructInfo struct {
	AllFields    []string              `json:"all_fields"`
	PublicFields map[string][][]string `json:"public_fields"`
}

// Metadata is one decoded *.boundary file, matching collect.py's
// `collection` dict shape exactly.
type Metadata struct {
	Fn        []FnRecord            `json:"fn"`
	Var       []json.RawMessage     `json:"var"` // variable boundary is out of scope; kept only for round-tripping
	Edge      []EdgeRecord          `json:"edge"`
	Callback  [][]string            `json:"callback"`
	Interface [][]string            `json:"interface"` // per-file hint only; Build derives interface_set from cfg, not this field
	Struct    map[string]StructInfo `json:"struct"`
}

// LoadAll walks dir for every "*.boundary" file (the naming convention
// collect.py uses for its per-translation-unit output) and decodes each
// one.
func LoadAll(dir string) ([]Metadata, error) {
	var metas []Metadata
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".boundary") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return curated.Errorf(fault.MetadataError, err)
		}
		var m Metadata
		if err := json.Unmarshal(data, &m); err != nil {
			return curated.Errorf(fault.MetadataError, fmt.Sprintf("%s: %v", path, err))
		}
		metas = append(metas, m)
		return nil
	})
	if err != nil {
		if curated.IsAny(err) {
			return nil, err
		}
		return nil, curated.Errorf(fault.MetadataError, err)
	}
	return metas, nil
}

// priority mirrors analyze.py's STRONG/WEAK_ARCH/WEAK_NORM ranking; lower
// numeric value wins, matching `sorted(fn_list)` picking index 0.
type priority int

const (
	priorityStrong   priority = 1
	priorityWeakArch priority = 2
	priorityWeakNorm priority = 3
)

// Candidate is one (priority, file) observation of a public symbol name,
// the raw material internal/linkresolve reduces into a single winner per
// name.
type Candidate struct {
	Priority int
	File     string
}

// Corpus is the accumulated result of C1's first pass: every set and
// lookup table analyze.py builds before touching the ELF or doing link
// resolution.
type Corpus struct {
	Fn        signature.Set
	ModFns    signature.Set
	SdcrFns   signature.Set
	Init      signature.Set
	Interface signature.Set
	Weak      signature.Set

	// FnNames indexes fn_set by name alone, so internal/linkresolve can
	// tell "genuinely unknown to the corpus" apart from "known by name
	// but link resolution couldn't place it" without an O(n) scan of Fn.
	FnNames map[string]bool

	// Decls holds the rendered declaration string for every signature
	// defined in a module or sidecar source file.
	Decls map[signature.Signature]*Decl

	// HdrFn holds every fn record whose file is a configured module
	// header (hdr_sym['fn'] in analyze.py; the companion hdr_sym['var']
	// is out of scope since variable boundary analysis is not part of
	// this spec).
	HdrFn []FnRecord

	// GlobalCandidates maps a public symbol name to every (priority,
	// file) pair observed for it across the whole corpus; this is the
	// raw form of analyze.py's global_fn_dict before resolution.
	GlobalCandidates map[string][]Candidate

	// RawEdges and RawCallbacks are carried through unresolved (callee
	// file still possibly "?") for internal/linkresolve's second pass.
	RawEdges     []EdgeRecord
	RawCallbacks [][]string

	// Struct accumulates struct field-visibility records across every
	// translation unit, keyed by struct tag name.
	Struct map[string]StructInfo
}

// Build runs C1's first pass over every decoded metadata file, matching
// the sequencing of analyze.py's "first pass" loop (everything here
// requires no ELF data and no cross-file resolution).
func Build(metas []Metadata, cfg *config.Document) (*Corpus, error) {
	c := &Corpus{
		Fn:               signature.NewSet(),
		ModFns:           signature.NewSet(),
		SdcrFns:          signature.NewSet(),
		Init:             signature.NewSet(),
		Interface:        signature.NewSet(),
		Weak:             signature.NewSet(),
		FnNames:          make(map[string]bool),
		Decls:            make(map[signature.Signature]*Decl),
		GlobalCandidates: make(map[string][]Candidate),
		Struct:           make(map[string]StructInfo),
	}

	// interface_set per spec.md §4.1: the configured names restricted to
	// mod_fns, plus every mod_fns definition whose name begins with a
	// configured interface_prefix. Sidecar sources never contribute.
	ifaceNames := make(map[string]bool, len(cfg.Interface))
	for _, name := range cfg.Interface {
		ifaceNames[name] = true
	}

	for _, meta := range metas {
		for _, fn := range meta.Fn {
			if len(fn.Signature) != 2 {
				return nil, curated.Errorf(fault.MetadataError, fmt.Sprintf("fn %q has malformed signature %v", fn.Name, fn.Signature))
			}
			sig := signature.New(fn.Signature[0], fn.Signature[1])
			c.Fn.Add(sig)
			c.FnNames[fn.Name] = true

			if cfg.IsModFile(fn.File) {
				c.ModFns.Add(sig)
				c.Decls[sig] = fn.DeclStr

				if ifaceNames[fn.Name] || cfg.HasInterfacePrefix(fn.Name) {
					c.Interface.Add(sig)
				}
			}
			if cfg.IsSidecarSource(fn.File) {
				c.SdcrFns.Add(sig)
				c.Decls[sig] = fn.DeclStr
			}
			if cfg.IsModHeader(fn.File) {
				c.HdrFn = append(c.HdrFn, fn)
			}
			if fn.Init {
				c.Init.Add(sig)
			}
			if fn.Public {
				registerCandidate(c.GlobalCandidates, fn)
			}
			if fn.Weak {
				c.Weak.Add(sig)
			}
		}

		c.RawEdges = append(c.RawEdges, meta.Edge...)
		c.RawCallbacks = append(c.RawCallbacks, meta.Callback...)

		for name, info := range meta.Struct {
			existing, ok := c.Struct[name]
			if !ok {
				c.Struct[name] = info
				continue
			}
			existing.AllFields = mergeUnique(existing.AllFields, info.AllFields)
			if existing.PublicFields == nil {
				existing.PublicFields = make(map[string][][]string)
			}
			for field, users := range info.PublicFields {
				existing.PublicFields[field] = append(existing.PublicFields[field], users...)
			}
			c.Struct[name] = existing
		}
	}

	return c, nil
}

// registerCandidate mirrors analyze.py's global_fn_dict population:
//
//	if fn.weak or fn.file.endswith('.c'): global_fn_dict.setdefault(...)
//	if fn.weak and arch/: WEAK_ARCH
//	elif fn.weak: WEAK_NORM
//	elif fn.file.endswith('.c'): STRONG
func registerCandidate(dict map[string][]Candidate, fn FnRecord) {
	isSource := strings.HasSuffix(fn.File, ".c")
	if !fn.Weak && !isSource {
		return
	}
	if _, ok := dict[fn.Name]; !ok {
		dict[fn.Name] = nil
	}

	switch {
	case fn.Weak && strings.HasPrefix(fn.File, "arch/"):
		dict[fn.Name] = append(dict[fn.Name], Candidate{int(priorityWeakArch), fn.File})
	case fn.Weak:
		dict[fn.Name] = append(dict[fn.Name], Candidate{int(priorityWeakNorm), fn.File})
	case isSource:
		dict[fn.Name] = append(dict[fn.Name], Candidate{int(priorityStrong), fn.File})
	}
}

func mergeUnique(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := append([]string(nil), a...)
	for _, s := range a {
		seen[s] = true
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
