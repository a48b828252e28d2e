package config

import "testing"

const sampleYAML = `
mod_files:
  - kernel/sched/core.c
  - kernel/sched/sched.h
  - kernel/sched/fair.c
sidecar:
  - [plugsched_sidecar_init, kernel/sched/sidecar.c]
interface_prefix:
  - __sched_
function:
  interface:
    - schedule
    - wake_up_process
global_var:
  force_private:
    - runqueues
  extra_public:
    - sched_clock_running
struct:
  force_private:
    - sched_class
`

func TestParseDerivesFileUniverse(t *testing.T) {
	doc, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if !doc.IsModFile("kernel/sched/core.c") {
		t.Error("expected kernel/sched/core.c to be a mod file")
	}
	if !doc.IsModHeader("kernel/sched/sched.h") {
		t.Error("expected kernel/sched/sched.h to be classified as a header")
	}
	if len(doc.ModSrcs) != 2 {
		t.Errorf("ModSrcs = %v, want 2 entries", doc.ModSrcs)
	}
	if !doc.IsSidecarSource("kernel/sched/sidecar.c") {
		t.Error("expected sidecar.c to be recognised as a sidecar source")
	}
	if len(doc.AllFiles) != 4 {
		t.Errorf("AllFiles = %v, want 4 entries", doc.AllFiles)
	}
	if got := doc.Resolve("core.c"); got != "kernel/sched/core.c" {
		t.Errorf("Resolve(core.c) = %q, want kernel/sched/core.c", got)
	}
	if !doc.HasInterfacePrefix("__sched_setscheduler") {
		t.Error("expected __sched_setscheduler to match interface_prefix")
	}
	if len(doc.Interface) != 2 {
		t.Errorf("Interface = %v, want 2 entries", doc.Interface)
	}
	if len(doc.Sidecar) != 1 || doc.Sidecar[0].Name != "plugsched_sidecar_init" {
		t.Errorf("Sidecar = %v, want one plugsched_sidecar_init entry", doc.Sidecar)
	}
	if len(doc.StructForcePrivate) != 1 || doc.StructForcePrivate[0] != "sched_class" {
		t.Errorf("StructForcePrivate = %v, want [sched_class]", doc.StructForcePrivate)
	}
}

func TestParseRequiresModFiles(t *testing.T) {
	_, err := Parse([]byte("sidecar: []\n"))
	if err == nil {
		t.Fatal("expected an error for missing mod_files")
	}
}

func TestParseRejectsInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("mod_files: [this is not\n valid"))
	if err == nil {
		t.Fatal("expected an error for malformed YAML")
	}
}

func TestResolveFallsBackToInput(t *testing.T) {
	doc, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := doc.Resolve("unknown.c"); got != "unknown.c" {
		t.Errorf("Resolve(unknown.c) = %q, want unknown.c unchanged", got)
	}
}
