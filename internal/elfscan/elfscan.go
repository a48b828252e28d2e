// Package elfscan implements C3: reconciling the symbol table of the
// linked kernel image (vmlinux) against the corpus the compiler plugin
// produced. It runs `readelf -s -W` the same way analyze.py shells out to
// the `readelf` binary via the `sh` library, and parses its tabular output
// line by line in the style of coprocessor/developer/mapfile.go's
// whitespace-field scanning.
package elfscan

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/kcutmod/schedboundary/curated"
	"github.com/kcutmod/schedboundary/internal/config"
	"github.com/kcutmod/schedboundary/internal/fault"
	"github.com/kcutmod/schedboundary/internal/signature"
	"github.com/kcutmod/schedboundary/logger"
)

// Info is the result of C3: every fact find_in_vmlinux extracts from the
// linker's view of the image.
type Info struct {
	// InVmlinux holds every (name, file) signature the linker actually
	// retained in the final image.
	InVmlinux signature.Set

	// Mangled holds (basename, file) for every function GCC split into
	// one or more optimized clones (".isra", ".constprop", ...); ".cold"
	// clones are excluded, matching Disagreement 4's carve-out.
	Mangled signature.Set

	// Export holds every (name, file) pair for an EXPORT_SYMBOL'd
	// function defined inside a configured module file.
	Export signature.Set

	// LocalSympos maps a signature to its 1-based position among same-
	// named LOCAL symbols in link order, written later as the sympos
	// column of tainted_functions.h and undefined_functions.h.
	LocalSympos map[signature.Signature]int
}

// ReadelfCommand names the program used to dump the ELF symbol table. It's
// a package variable so tests can swap in a stub.
var ReadelfCommand = "readelf"

// Scan runs `readelf -s -W <vmlinuxPath>` and reconciles its output
// against cfg and the set of signatures already known from the corpus
// (fn).
func Scan(vmlinuxPath string, cfg *config.Document, fn signature.Set) (*Info, error) {
	cmd := exec.Command(ReadelfCommand, "-s", "-W", vmlinuxPath)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, curated.Errorf(fault.MetadataError, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, curated.Errorf(fault.MetadataError, fmt.Sprintf("running %s: %v", ReadelfCommand, err))
	}
	info, scanErr := ScanReader(out, cfg, fn)
	if waitErr := cmd.Wait(); waitErr != nil && scanErr == nil {
		return nil, curated.Errorf(fault.MetadataError, fmt.Sprintf("%s exited: %v", ReadelfCommand, waitErr))
	}
	if scanErr != nil {
		return nil, scanErr
	}
	return info, nil
}

// getInAny mirrors analyze.py's get_in_any: the first file in candidates
// for which (name, file) is already a known signature.
func getInAny(fn signature.Set, name string, candidates []string) (string, bool) {
	for _, file := range candidates {
		if fn.Has(signature.New(name, file)) {
			return file, true
		}
	}
	return "", false
}

// ScanReader parses readelf -s -W output already available as a reader,
// the same table find_in_vmlinux walks with `skipline(parse_elf, 3, None)`
// and an 8-field split per line.
func ScanReader(r io.Reader, cfg *config.Document, fn signature.Set) (*Info, error) {
	info := &Info{
		InVmlinux:   signature.NewSet(),
		Mangled:     signature.NewSet(),
		Export:      signature.NewSet(),
		LocalSympos: make(map[signature.Signature]int),
	}

	fnPos := make(map[string]int)
	filename := ""

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo <= 3 {
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) != 8 {
			continue
		}

		symtype, scope, key := fields[3], fields[4], fields[7]

		switch symtype {
		case "FILE":
			filename = key
			// Disagreement 1: vmlinux reports a bare basename.
			filename = cfg.Resolve(filename)
			continue

		case "NOTYPE":
			if strings.HasPrefix(key, "__ksymtab_") && cfg.IsModFile(filename) {
				symname := strings.TrimPrefix(key, "__ksymtab_")
				if file, ok := getInAny(fn, symname, modFilesSlice(cfg)); ok {
					info.Export.Add(signature.New(symname, file))
				}
			}
			continue

		case "FUNC":
			// fall through to the body below
		default:
			continue
		}

		file := filename

		// Disagreement 4: GCC optimization clones (A.isra.0, A.constprop.1).
		if idx := strings.Index(key, "."); idx >= 0 {
			if !strings.Contains(key, ".cold") {
				info.Mangled.Add(signature.New(key[:idx], file))
			}
			continue
		}

		if scope == "LOCAL" {
			fnPos[key]++
			if !cfg.IsKnownFile(filename) {
				continue
			}

			// Disagreement 2: vmlinux's file for this LOCAL symbol
			// doesn't match any known signature; fall back to scanning
			// the module headers for a match (the symbol is probably a
			// static inline defined in a header).
			if !fn.Has(signature.New(key, filename)) {
				f, ok := getInAny(fn, key, cfg.ModHdrs)
				if !ok {
					continue
				}
				file = f
			}

			sig := signature.New(key, file)
			if _, exists := info.LocalSympos[sig]; exists {
				logger.Logf(logger.Allow, "elf", "duplicate LOCAL symbol %s in %s ignored (first occurrence wins)", key, file)
				continue
			}
			info.LocalSympos[sig] = fnPos[key]
		} else {
			// Disagreement 3: vmlinux's file for this GLOBAL symbol
			// doesn't match the plugin's idea of where it lives.
			f, ok := getInAny(fn, key, cfg.AllFiles)
			if !ok {
				continue
			}
			file = f
		}

		info.InVmlinux.Add(signature.New(key, file))
	}
	if err := scanner.Err(); err != nil {
		return nil, curated.Errorf(fault.MetadataError, err)
	}

	return info, nil
}

func modFilesSlice(cfg *config.Document) []string {
	out := make([]string, 0, len(cfg.ModFiles))
	for f := range cfg.ModFiles {
		out = append(out, f)
	}
	return out
}
