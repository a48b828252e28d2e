// Package artifact implements C6: serializing the boundary solver's
// classification into the six documents the rest of the kernel build
// consumes.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kcutmod/schedboundary/curated"
	"github.com/kcutmod/schedboundary/internal/boundary"
	"github.com/kcutmod/schedboundary/internal/config"
	"github.com/kcutmod/schedboundary/internal/corpus"
	"github.com/kcutmod/schedboundary/internal/fault"
	"github.com/kcutmod/schedboundary/internal/signature"
)

// StructDoc is one struct's rendered field-visibility record: every field
// that exists, the subset that some public_user was observed to access,
// and who those users were.
type StructDoc struct {
	AllFields    []string               `yaml:"all_fields"`
	PublicFields []string               `yaml:"public_fields"`
	PublicUsers  []signature.Signature  `yaml:"public_users"`
}

// BuildStructDocs reduces the corpus's raw struct records down to the
// subset of field accesses performed by a public_user, matching
// analyze.py's "Handle Struct public fields" block.
func BuildStructDocs(structs map[string]corpus.StructInfo, publicUser signature.Set) map[string]StructDoc {
	out := make(map[string]StructDoc, len(structs))
	for name, info := range structs {
		allFields := append([]string(nil), info.AllFields...)
		sort.Strings(allFields)

		fieldSet := make(map[string]bool)
		userSet := signature.NewSet()
		for field, users := range info.PublicFields {
			for _, u := range users {
				if len(u) != 2 {
					continue
				}
				sig := signature.New(u[0], u[1])
				if publicUser.Has(sig) {
					userSet.Add(sig)
					fieldSet[field] = true
				}
			}
		}

		fields := make([]string, 0, len(fieldSet))
		for f := range fieldSet {
			fields = append(fields, f)
		}
		sort.Strings(fields)

		users := userSet.Slice()
		sort.Slice(users, func(i, j int) bool {
			if users[i].Name != users[j].Name {
				return users[i].Name < users[j].Name
			}
			return users[i].File < users[j].File
		})

		out[name] = StructDoc{AllFields: allFields, PublicFields: fields, PublicUsers: users}
	}
	return out
}

// ValidatePrivacy enforces the configuration's list of structs that must
// never gain a public user (eg. "sched_class").
func ValidatePrivacy(docs map[string]StructDoc, mustBePrivate []string) error {
	for _, name := range mustBePrivate {
		doc, ok := docs[name]
		if !ok {
			continue
		}
		if len(doc.PublicUsers) > 0 {
			return curated.Errorf(fault.PrivacyViolation, fmt.Sprintf("struct %q must be purely private but has %d public user(s)", name, len(doc.PublicUsers)))
		}
	}
	return nil
}

// WriteHeaderSymbol writes header_symbol.json: the function records
// collect.py found living in a configured module header.
func WriteHeaderSymbol(path string, hdrFn []corpus.FnRecord) error {
	doc := struct {
		Fn  []corpus.FnRecord `json:"fn"`
		Var []interface{}     `json:"var"`
	}{Fn: hdrFn, Var: []interface{}{}}

	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return curated.Errorf(fault.MetadataError, err)
	}
	return writeFile(path, data)
}

// WriteBoundaryDoc writes boundary_doc.yaml.
func WriteBoundaryDoc(path string, docs map[string]StructDoc) error {
	data, err := yaml.Marshal(docs)
	if err != nil {
		return curated.Errorf(fault.MetadataError, err)
	}
	return writeFile(path, data)
}

// extractDocument mirrors `dict(config)` augmented with the classification
// columns analyze.py assigns onto config.function before dumping.
type extractDocument struct {
	ModFiles        []string `yaml:"mod_files"`
	InterfacePrefix []string `yaml:"interface_prefix"`
	Function        struct {
		Interface     []signature.Signature `yaml:"interface"`
		SchedOutsider []signature.Signature `yaml:"sched_outsider"`
		Callback      []signature.Signature `yaml:"callback"`
		Init          []signature.Signature `yaml:"init"`
		Insider       []signature.Signature `yaml:"insider"`
		OutsiderOpt   []signature.Signature `yaml:"outsider_opt"`
		Export        []signature.Signature `yaml:"export"`
		SdcrOut       []signature.Signature `yaml:"sdcr_out"`
	} `yaml:"function"`
	GlobalVar struct {
		ForcePrivate []string `yaml:"force_private"`
		ExtraPublic  []string `yaml:"extra_public"`
	} `yaml:"global_var"`
}

// WriteBoundaryExtract writes boundary_extract.yaml: the original
// configuration with every classes_out column from analyze.py's __main__
// attached under function.*.
func WriteBoundaryExtract(path string, cfg *config.Document, res *boundary.Result, interfaceSet, export, init signature.Set) error {
	doc := extractDocument{
		ModFiles:        sortedKeys(cfg.ModFiles),
		InterfacePrefix: cfg.InterfacePrefix,
	}
	doc.Function.Interface = sortedSigSlice(interfaceSet)
	doc.Function.SchedOutsider = sortedSigSlice(res.SchedOutsider)
	doc.Function.Callback = sortedSigSlice(res.Callback)
	doc.Function.Init = sortedSigSlice(init)
	doc.Function.Insider = sortedSigSlice(res.Insider)
	doc.Function.OutsiderOpt = sortedSigSlice(res.OutsiderOpt)
	doc.Function.Export = sortedSigSlice(export)
	doc.Function.SdcrOut = sortedSigSlice(res.SdcrOut)
	doc.GlobalVar.ForcePrivate = cfg.ForcePrivate
	doc.GlobalVar.ExtraPublic = cfg.ExtraPublic

	data, err := yaml.Marshal(doc)
	if err != nil {
		return curated.Errorf(fault.MetadataError, err)
	}
	return writeFile(path, data)
}

// WriteTaintedFunctions writes tainted_functions.h: one TAINTED_FUNCTION
// line per tainted signature. Global symbols (sympos 0) are rewritten to
// 1 to match the kpatch/livepatch sympos convention.
func WriteTaintedFunctions(path string, tainted signature.Set, localSympos map[signature.Signature]int) error {
	var b strings.Builder
	for _, fn := range sortedSigSlice(tainted) {
		pos := localSympos[fn]
		if pos == 0 {
			pos = 1
		}
		fmt.Fprintf(&b, "TAINTED_FUNCTION(%s,%d)\n", fn.Name, pos)
	}
	return writeFile(path, []byte(b.String()))
}

// WriteUndefinedFunctions writes undefined_functions.h: a brace-delimited
// C array literal of ("name", sympos) tuples.
func WriteUndefinedFunctions(path string, undefined signature.Set, localSympos map[signature.Signature]int) error {
	entries := make([]string, 0, undefined.Len())
	for _, fn := range sortedSigSlice(undefined) {
		entries = append(entries, fmt.Sprintf(`"%s", %d`, fn.Name, localSympos[fn]))
	}
	return writeFile(path, []byte("{"+strings.Join(entries, "},\n{")+"}"))
}

// WriteExportJump writes export_jump.h: one EXPORT_CALLBACK line per
// callback and one EXPORT_PLUGSCHED line per interface and sidecar
// function, deduplicated and sorted.
func WriteExportJump(path string, callback, interfaceSet, sidecar signature.Set, decls map[signature.Signature]*corpus.Decl, globalFile map[string]string) error {
	lines := make(map[string]bool)

	add := func(sigs signature.Set, format string) error {
		localNames := make(map[string]bool)
		for _, fn := range sortedSigSlice(sigs) {
			decl := decls[fn]
			if decl == nil {
				continue
			}
			if fn.File != globalFile[fn.Name] {
				if localNames[fn.Name] {
					return curated.Errorf(fault.LinkPrecedenceTie, fmt.Sprintf("repeated local symbol %s cannot be redirected for export-jump emission", fn.Name))
				}
				localNames[fn.Name] = true
			}
			lines[fmt.Sprintf(format, decl.Fn, decl.Ret, decl.Params)] = true
		}
		return nil
	}

	const cbFormat = "EXPORT_CALLBACK(%s, %s, %s)\n"
	const exportFormat = "EXPORT_PLUGSCHED(%s, %s, %s)\n"

	if err := add(callback, cbFormat); err != nil {
		return err
	}
	if err := add(interfaceSet, exportFormat); err != nil {
		return err
	}
	if err := add(sidecar, exportFormat); err != nil {
		return err
	}

	sorted := make([]string, 0, len(lines))
	for l := range lines {
		sorted = append(sorted, l)
	}
	sort.Strings(sorted)

	var b strings.Builder
	for _, l := range sorted {
		b.WriteString(l)
	}
	return writeFile(path, []byte(b.String()))
}

func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return curated.Errorf(fault.MetadataError, err)
	}
	return nil
}

func sortedSigSlice(s signature.Set) []signature.Signature {
	out := s.Slice()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].File < out[j].File
	})
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
