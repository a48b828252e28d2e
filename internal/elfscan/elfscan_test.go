package elfscan

import (
	"strings"
	"testing"

	"github.com/kcutmod/schedboundary/internal/config"
	"github.com/kcutmod/schedboundary/internal/signature"
)

func testConfig(t *testing.T) *config.Document {
	t.Helper()
	doc, err := config.Parse([]byte(`
mod_files:
  - kernel/sched/core.c
  - kernel/sched/sched.h
sidecar: []
`))
	if err != nil {
		t.Fatalf("config.Parse: %v", err)
	}
	return doc
}

// header mimics readelf -s -W's first three lines, which ScanReader
// always skips regardless of content.
const header = "\nSymbol table '.symtab' contains 42 entries:\n   Num:    Value          Size Type    Bind   Vis      Ndx Name\n"

func line(num, value, size, typ, bind, vis, ndx, name string) string {
	return strings.Join([]string{num, value, size, typ, bind, vis, ndx, name}, "     ")
}

func TestScanReaderBasicFunction(t *testing.T) {
	cfg := testConfig(t)
	fn := signature.NewSet(signature.New("schedule", "kernel/sched/core.c"))

	input := header +
		line("1:", "0000000000000000", "0", "FILE", "LOCAL", "DEFAULT", "ABS", "core.c") + "\n" +
		line("2:", "ffffffff81000000", "64", "FUNC", "GLOBAL", "DEFAULT", "1", "schedule") + "\n"

	info, err := ScanReader(strings.NewReader(input), cfg, fn)
	if err != nil {
		t.Fatalf("ScanReader: %v", err)
	}
	if !info.InVmlinux.Has(signature.New("schedule", "kernel/sched/core.c")) {
		t.Errorf("expected schedule/core.c to resolve via Disagreement 1+3, got %v", info.InVmlinux.Slice())
	}
}

func TestScanReaderMangledExcludesCold(t *testing.T) {
	cfg := testConfig(t)
	fn := signature.NewSet()

	input := header +
		line("1:", "0", "0", "FILE", "LOCAL", "DEFAULT", "ABS", "core.c") + "\n" +
		line("2:", "ffffffff81000100", "32", "FUNC", "LOCAL", "DEFAULT", "1", "pick_next_task.isra.0") + "\n" +
		line("3:", "ffffffff81000200", "32", "FUNC", "LOCAL", "DEFAULT", "1", "pick_next_task.cold") + "\n"

	info, err := ScanReader(strings.NewReader(input), cfg, fn)
	if err != nil {
		t.Fatalf("ScanReader: %v", err)
	}
	if !info.Mangled.Has(signature.New("pick_next_task", "kernel/sched/core.c")) {
		t.Errorf("expected pick_next_task/core.c to be mangled, got %v", info.Mangled.Slice())
	}
	if info.Mangled.Len() != 1 {
		t.Errorf("Mangled = %v, want exactly 1 entry (the .cold clone must be excluded)", info.Mangled.Slice())
	}
}

func TestScanReaderLocalSymposFirstWins(t *testing.T) {
	cfg := testConfig(t)
	fn := signature.NewSet(signature.New("dup", "kernel/sched/core.c"))

	input := header +
		line("1:", "0", "0", "FILE", "LOCAL", "DEFAULT", "ABS", "kernel/sched/core.c") + "\n" +
		line("2:", "1", "8", "FUNC", "LOCAL", "DEFAULT", "1", "dup") + "\n" +
		line("3:", "2", "8", "FUNC", "LOCAL", "DEFAULT", "1", "dup") + "\n"

	info, err := ScanReader(strings.NewReader(input), cfg, fn)
	if err != nil {
		t.Fatalf("ScanReader: %v", err)
	}
	sig := signature.New("dup", "kernel/sched/core.c")
	if info.LocalSympos[sig] != 1 {
		t.Errorf("LocalSympos[dup] = %d, want 1 (first occurrence should win)", info.LocalSympos[sig])
	}
}

func TestScanReaderExportSymbol(t *testing.T) {
	cfg := testConfig(t)
	fn := signature.NewSet(signature.New("schedule", "kernel/sched/core.c"))

	input := header +
		line("1:", "0", "0", "FILE", "LOCAL", "DEFAULT", "ABS", "core.c") + "\n" +
		line("2:", "0", "0", "NOTYPE", "GLOBAL", "DEFAULT", "1", "__ksymtab_schedule") + "\n"

	info, err := ScanReader(strings.NewReader(input), cfg, fn)
	if err != nil {
		t.Fatalf("ScanReader: %v", err)
	}
	if !info.Export.Has(signature.New("schedule", "kernel/sched/core.c")) {
		t.Errorf("expected schedule to be recorded as exported, got %v", info.Export.Slice())
	}
}

func TestScanReaderSkipsMalformedLines(t *testing.T) {
	cfg := testConfig(t)
	info, err := ScanReader(strings.NewReader(header+"garbage line with too few fields\n"), cfg, signature.NewSet())
	if err != nil {
		t.Fatalf("ScanReader: %v", err)
	}
	if info.InVmlinux.Len() != 0 {
		t.Errorf("expected no symbols from a malformed line, got %v", info.InVmlinux.Slice())
	}
}
