// Package config loads the boundary analyzer's configuration document (a
// YAML mapping, see spec.md §6) and derives the secondary file-universe
// fields that analyze.py computes once at startup (mod_hdrs, mod_srcs,
// sdcr_srcs, all_files, fullname).
package config

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kcutmod/schedboundary/curated"
	"github.com/kcutmod/schedboundary/internal/fault"
	"github.com/kcutmod/schedboundary/internal/signature"
	"github.com/kcutmod/schedboundary/logger"
)

// rawFunction mirrors the "function" mapping key.
type rawFunction struct {
	Interface []string `yaml:"interface"`
}

// rawGlobalVar mirrors the "global_var" mapping key. Neither field drives
// any boundary-solver behavior (the variable-boundary side of the original
// tool is out of spec.md's scope) but both are carried through unchanged
// into boundary_extract.yaml, matching dump(dict(config), ...) in
// analyze.py.
type rawGlobalVar struct {
	ForcePrivate []string `yaml:"force_private"`
	ExtraPublic  []string `yaml:"extra_public"`
}

// rawStruct mirrors the "struct" mapping key: struct names the boundary
// solver must reject if they ever gain a public user (spec.md §4.4's
// "purely private" check). The original compiler plugin hardcodes a single
// such name (sched_class, see collect.py's collect_struct); this engine
// makes the list configurable instead, matching spec.md §4.4's looser
// "the configuration may declare struct names" wording.
type rawStruct struct {
	ForcePrivate []string `yaml:"force_private"`
}

// rawSidecar is a (name, file) pair as it appears in the YAML sequence.
type rawSidecar struct {
	Name string
	File string
}

// UnmarshalYAML accepts a two-element sequence node, eg. [foo, kernel/sched/core.c].
func (s *rawSidecar) UnmarshalYAML(node *yaml.Node) error {
	var pair [2]string
	if err := node.Decode(&pair); err != nil {
		return err
	}
	s.Name, s.File = pair[0], pair[1]
	return nil
}

type rawDocument struct {
	ModFiles        []string     `yaml:"mod_files"`
	Sidecar         []rawSidecar `yaml:"sidecar"`
	InterfacePrefix []string     `yaml:"interface_prefix"`
	Function        rawFunction  `yaml:"function"`
	GlobalVar       rawGlobalVar `yaml:"global_var"`
	Struct          rawStruct    `yaml:"struct"`
}

// Document is the frozen, fully derived configuration used by every
// downstream phase. Nothing mutates it after Load returns.
type Document struct {
	ModFiles        map[string]bool
	Sidecar         []signature.Signature
	InterfacePrefix []string
	Interface       []string
	ForcePrivate    []string
	ExtraPublic     []string

	// StructForcePrivate names structs that must never gain a public user
	// (spec.md §4.4); checked by internal/artifact.ValidatePrivacy.
	StructForcePrivate []string

	// derived, as in analyze.py's __main__ preamble
	ModHdrs  []string
	ModSrcs  []string
	SdcrSrcs []string
	AllFiles []string
	// Fullname maps a basename to its full configured path, used to
	// reconcile ELF Disagreement 1 (linker reports a bare basename).
	Fullname map[string]string
}

// Load reads and parses the configuration document at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, curated.Errorf(fault.ConfigError, err)
	}
	return Parse(data)
}

// Parse decodes a configuration document from raw YAML bytes.
func Parse(data []byte) (*Document, error) {
	var raw rawDocument
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, curated.Errorf(fault.ConfigError, err)
	}

	if len(raw.ModFiles) == 0 {
		return nil, curated.Errorf(fault.ConfigError, "mod_files is required and must be non-empty")
	}

	doc := &Document{
		ModFiles:           make(map[string]bool, len(raw.ModFiles)),
		InterfacePrefix:    raw.InterfacePrefix,
		Interface:          raw.Function.Interface,
		ForcePrivate:       raw.GlobalVar.ForcePrivate,
		ExtraPublic:        raw.GlobalVar.ExtraPublic,
		StructForcePrivate: raw.Struct.ForcePrivate,
		Fullname:           make(map[string]string),
	}

	for _, f := range raw.ModFiles {
		doc.ModFiles[f] = true
		if strings.HasSuffix(f, ".h") {
			doc.ModHdrs = append(doc.ModHdrs, f)
		} else if strings.HasSuffix(f, ".c") {
			doc.ModSrcs = append(doc.ModSrcs, f)
		} else {
			logger.Logf(logger.Allow, "config", "mod_files entry %q has neither .c nor .h suffix", f)
		}
	}

	for _, sc := range raw.Sidecar {
		doc.Sidecar = append(doc.Sidecar, signature.New(sc.Name, sc.File))
		doc.SdcrSrcs = append(doc.SdcrSrcs, sc.File)
	}

	doc.AllFiles = append(doc.AllFiles, doc.ModHdrs...)
	doc.AllFiles = append(doc.AllFiles, doc.ModSrcs...)
	doc.AllFiles = append(doc.AllFiles, doc.SdcrSrcs...)

	for _, f := range doc.AllFiles {
		doc.Fullname[filepath.Base(f)] = f
	}

	return doc, nil
}

// IsModFile reports whether path is one of the configured module files.
func (d *Document) IsModFile(path string) bool {
	return d.ModFiles[path]
}

// IsSidecarSource reports whether path is the source file of some sidecar entry.
func (d *Document) IsSidecarSource(path string) bool {
	for _, s := range d.SdcrSrcs {
		if s == path {
			return true
		}
	}
	return false
}

// IsModHeader reports whether path is a configured module header.
func (d *Document) IsModHeader(path string) bool {
	for _, h := range d.ModHdrs {
		if h == path {
			return true
		}
	}
	return false
}

// HasInterfacePrefix reports whether name begins with any configured
// interface prefix (used to seed the interface set from ABI-stable syscall
// names, spec.md §4.1).
func (d *Document) HasInterfacePrefix(name string) bool {
	for _, p := range d.InterfacePrefix {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// IsKnownFile reports whether path is anywhere in the configured file
// universe (a module header, a module source, or a sidecar source).
func (d *Document) IsKnownFile(path string) bool {
	for _, f := range d.AllFiles {
		if f == path {
			return true
		}
	}
	return false
}

// Resolve reconciles a linker-reported basename against the configured
// full paths (ELF Disagreement 1, spec.md §4.3).
func (d *Document) Resolve(linkerFilename string) string {
	if full, ok := d.Fullname[linkerFilename]; ok {
		return full
	}
	return linkerFilename
}
