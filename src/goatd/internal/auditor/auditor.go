// Package auditor implements the Kernel Auditor:
// read-only inspection of a running or offline kernel's scheduler, HZ,
// preemption model, LTO, MGLRU, and loaded modules. Hardening posture is not
// inspected: Report.Hardening is never filled in. It feeds the UI only;
// nothing here sits on the build path.
package auditor

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	goerrors "github.com/MadGoatHaz/goatd-kernel/src/common/errors"
	"github.com/ulikunitz/xz"
)

// Report summarises the facts the auditor could determine.
type Report struct {
	KernelRelease  string
	Scheduler      string
	HZ             int
	Preemption     string
	LTOClang       bool
	LTOThin        bool
	MGLRUEnabled   bool
	Hardening      []string
	LoadedModules  []string
}

// Auditor reads from sysfs, /proc, and /boot. Roots are overridable so
// tests can point at a fixture tree instead of the live system.
type Auditor struct {
	sysRoot  string
	procRoot string
	bootRoot string
}

// New returns an Auditor rooted at the live system's conventional paths.
func New() *Auditor {
	return &Auditor{sysRoot: "/sys", procRoot: "/proc", bootRoot: "/boot"}
}

// NewRooted returns an Auditor rooted at the given directories, for testing
// against a fixture tree.
func NewRooted(sysRoot, procRoot, bootRoot string) *Auditor {
	return &Auditor{sysRoot: sysRoot, procRoot: procRoot, bootRoot: bootRoot}
}

// Audit gathers every fact it can; a single unreadable source does not fail
// the whole report, except when every source is unreadable.
func (a *Auditor) Audit() (Report, error) {
	var r Report
	var anyOK bool

	if release, err := a.readKernelRelease(); err == nil {
		r.KernelRelease = release
		anyOK = true
	}
	if sched, err := a.DetectCPUScheduler(); err == nil {
		r.Scheduler = sched
		anyOK = true
	}
	if hz, err := a.detectHZ(); err == nil {
		r.HZ = hz
		anyOK = true
	}
	if preempt, err := a.detectPreemption(); err == nil {
		r.Preemption = preempt
		anyOK = true
	}
	if clang, thin, err := a.detectLTO(); err == nil {
		r.LTOClang, r.LTOThin = clang, thin
		anyOK = true
	}
	if mglru, err := a.detectMGLRU(); err == nil {
		r.MGLRUEnabled = mglru
		anyOK = true
	}
	if mods, err := a.loadedModules(); err == nil {
		r.LoadedModules = mods
		anyOK = true
	}

	if !anyOK {
		return Report{}, goerrors.ErrAuditUnavailable
	}
	return r, nil
}

func (a *Auditor) readKernelRelease() (string, error) {
	data, err := os.ReadFile(filepath.Join(a.procRoot, "sys", "kernel", "osrelease"))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// DetectCPUScheduler prefers sysfs evidence over kernel-config inference:
// when /sys/kernel/sched_ext/state reads "enabled", SCX is active
// regardless of what a stale .config might suggest.
func (a *Auditor) DetectCPUScheduler() (string, error) {
	stateFile := filepath.Join(a.sysRoot, "kernel", "sched_ext", "state")
	if data, err := os.ReadFile(stateFile); err == nil {
		if strings.TrimSpace(string(data)) == "enabled" {
			return "scx", nil
		}
	}

	configGZ, err := os.Open(filepath.Join(a.bootRoot, "config.gz"))
	if err != nil {
		return "", err
	}
	defer configGZ.Close()

	content, err := decompressConfig(configGZ)
	if err != nil {
		return "", err
	}

	switch {
	case strings.Contains(content, "CONFIG_SCHED_CLASS_EXT=y"):
		return "scx", nil
	case strings.Contains(content, "CONFIG_SCHED_BORE=y"):
		return "bore", nil
	default:
		return "eevdf", nil
	}
}

// decompressConfig reads a gzip- or xz-compressed kernel config stream, as
// found in <bootRoot>/config.gz. Gzip is tried first, then xz (ulikunitz/xz),
// since some distributions ship an xz-compressed config there.
func decompressConfig(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if gz, err := gzip.NewReader(bytes.NewReader(data)); err == nil {
		defer gz.Close()
		out, err := io.ReadAll(gz)
		if err == nil {
			return string(out), nil
		}
	}
	xzr, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	out, err := io.ReadAll(xzr)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (a *Auditor) detectHZ() (int, error) {
	configGZ, err := os.Open(filepath.Join(a.bootRoot, "config.gz"))
	if err != nil {
		return 0, err
	}
	defer configGZ.Close()
	content, err := decompressConfig(configGZ)
	if err != nil {
		return 0, err
	}
	for _, hz := range []int{100, 250, 300, 1000} {
		if strings.Contains(content, "CONFIG_HZ_"+strconv.Itoa(hz)+"=y") {
			return hz, nil
		}
	}
	return 0, goerrors.ErrAuditUnavailable
}

func (a *Auditor) detectPreemption() (string, error) {
	content, err := a.bootConfig()
	if err != nil {
		return "", err
	}
	switch {
	case strings.Contains(content, "CONFIG_PREEMPT_FULL=y") || strings.Contains(content, "CONFIG_PREEMPT=y"):
		return "full", nil
	case strings.Contains(content, "CONFIG_PREEMPT_VOLUNTARY=y"):
		return "voluntary", nil
	default:
		return "none", nil
	}
}

func (a *Auditor) detectLTO() (clang bool, thin bool, err error) {
	content, err := a.bootConfig()
	if err != nil {
		return false, false, err
	}
	clang = strings.Contains(content, "CONFIG_LTO_CLANG=y")
	thin = strings.Contains(content, "CONFIG_LTO_CLANG_THIN=y")
	return clang, thin, nil
}

func (a *Auditor) detectMGLRU() (bool, error) {
	content, err := a.bootConfig()
	if err != nil {
		return false, err
	}
	return strings.Contains(content, "CONFIG_LRU_GEN=y"), nil
}

func (a *Auditor) bootConfig() (string, error) {
	configGZ, err := os.Open(filepath.Join(a.bootRoot, "config.gz"))
	if err != nil {
		return "", err
	}
	defer configGZ.Close()
	return decompressConfig(configGZ)
}

func (a *Auditor) loadedModules() ([]string, error) {
	f, err := os.Open(filepath.Join(a.procRoot, "modules"))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var mods []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) > 0 {
			mods = append(mods, fields[0])
		}
	}
	return mods, scanner.Err()
}
