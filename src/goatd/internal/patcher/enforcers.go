package patcher

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/MadGoatHaz/goatd-kernel/src/goatd/internal/models"
)

// Shell blocks injected into PKGBUILD are framed by a unique start/end
// comment marker pair so a re-run can remove the prior block before
// inserting the new one.

const (
	g1PrebuildStart  = "# PHASE G1 PREBUILD:"
	g1PrebuildEnd    = "# PHASE G1 PREBUILD END"
	e1CriticalStart  = "# PHASE E1 CRITICAL:"
	e1CriticalEnd    = "# PHASE E1 CRITICAL END"
	modprobedStart   = "# PHASE MODPROBED:"
	modprobedEnd     = "# PHASE MODPROBED END"
	g2Start          = "# PHASE G2:"
	g2End            = "# PHASE G2 END"
	g25Start         = "# PHASE G2.5:"
	g25End           = "# PHASE G2.5 END"
	whitelistStart   = "# PHASE WHITELIST:"
	whitelistEnd     = "# PHASE WHITELIST END"
	buildEnvStart    = "# GOATD BUILD ENVIRONMENT (injected)"
	buildEnvEnd      = "# GOATD BUILD ENVIRONMENT END"
	pollyStart       = "# GOATD POLLY FLAGS (injected)"
	pollyEnd         = "# GOATD POLLY FLAGS END"
)

var (
	buildMakeRegex        = regexp.MustCompile(`(?m)^(\s*)make\b.*$`)
	oldconfigMakeRegex    = regexp.MustCompile(`(?m)^(\s*)make\s+(?:LLVM=1\s+LLVM_IAS=1\s+)?(?:(?:old)?config|syncconfig)\s*$`)
	cdSrcdirRegex         = regexp.MustCompile(`(?m)^(\s*)cd\s+"\$srcdir"\s*$`)
	cpConfigRegex         = regexp.MustCompile(`(?m)^(\s*)cp\s+\.\./config\s+\.config\s*$`)
)

// ltoTrioLines returns the sed-friendly authoritative .config trio for
// ltoType, or nil for None.
func ltoTrioLines(ltoType models.LTOType) []string {
	switch ltoType {
	case models.LTOFull:
		return []string{"CONFIG_LTO_CLANG=y", "CONFIG_LTO_CLANG_FULL=y", "CONFIG_HAS_LTO_CLANG=y"}
	case models.LTOThin:
		return []string{"CONFIG_LTO_CLANG=y", "CONFIG_LTO_CLANG_THIN=y", "CONFIG_HAS_LTO_CLANG=y"}
	default:
		return nil
	}
}

func markedBlockRegex(start, end string) *regexp.Regexp {
	return regexp.MustCompile(`(?s)\n?[ \t]*` + regexp.QuoteMeta(start) + `.*?` + regexp.QuoteMeta(end) + `\n?`)
}

func removeMarkedBlock(content, start, end string) string {
	return markedBlockRegex(start, end).ReplaceAllString(content, "\n")
}

// phaseMarkerPairs lists every start/end marker pair this file injects into
// build()/prepare(). Anchor searches use these to skip over a prior
// injection's own make/cd lines instead of mistaking them for the
// PKGBUILD's real build steps.
var phaseMarkerPairs = [][2]string{
	{g1PrebuildStart, g1PrebuildEnd},
	{e1CriticalStart, e1CriticalEnd},
	{modprobedStart, modprobedEnd},
	{g2Start, g2End},
	{g25Start, g25End},
	{whitelistStart, whitelistEnd},
	{buildEnvStart, buildEnvEnd},
	{pollyStart, pollyEnd},
}

// injectedBlockRanges returns the byte ranges of every already-injected
// marker block present in body.
func injectedBlockRanges(body string) [][2]int {
	var ranges [][2]int
	for _, pair := range phaseMarkerPairs {
		for _, loc := range markedBlockRegex(pair[0], pair[1]).FindAllStringIndex(body, -1) {
			ranges = append(ranges, [2]int{loc[0], loc[1]})
		}
	}
	return ranges
}

func withinRanges(pos int, ranges [][2]int) bool {
	for _, r := range ranges {
		if pos >= r[0] && pos < r[1] {
			return true
		}
	}
	return false
}

// indentLines prefixes every non-empty line of block with indent.
func indentLines(indent string, block []string) string {
	lines := make([]string, len(block))
	for i, l := range block {
		if l == "" {
			lines[i] = l
			continue
		}
		lines[i] = indent + l
	}
	return strings.Join(lines, "\n")
}

// InjectPrebuildLTOHardEnforcer inserts a PHASE G1 PREBUILD block
// immediately before the first non-comment `make` line of build(), that
// strips all .config LTO lines, appends the authoritative trio, and runs
// olddefconfig before the real build invocation.
func (p *Patcher) InjectPrebuildLTOHardEnforcer(ltoType models.LTOType) error {
	path := p.pkgbuildPath()
	content, err := readFile(path)
	if err != nil {
		return err
	}
	if err := p.backup(path); err != nil {
		return err
	}

	rebuilt := removeMarkedBlock(content, g1PrebuildStart, g1PrebuildEnd)

	buildStart, buildEnd, ok := findFunctionBody(rebuilt, "build")
	if !ok {
		return writeFile(path, preservesTrailingNewline(content, rebuilt))
	}
	body := rebuilt[buildStart:buildEnd]

	loc := firstNonCommentMakeLine(body)
	if loc == nil {
		return writeFile(path, preservesTrailingNewline(content, rebuilt))
	}
	indent := indentOf(body[loc[0]:loc[1]])

	var b strings.Builder
	fmt.Fprintf(&b, "%s LTO hard enforcement before build\n", g1PrebuildStart)
	fmt.Fprintf(&b, "%sif [ -f .config ]; then\n", indent)
	fmt.Fprintf(&b, "%s  sed -i '/^CONFIG_LTO_\\|^CONFIG_HAS_LTO_\\|^# CONFIG_LTO_\\|^# CONFIG_HAS_LTO_/d' .config\n", indent)
	for _, line := range ltoTrioLines(ltoType) {
		fmt.Fprintf(&b, "%s  echo '%s' >> .config\n", indent, line)
	}
	fmt.Fprintf(&b, "%s  make LLVM=1 LLVM_IAS=1 olddefconfig\n", indent)
	fmt.Fprintf(&b, "%sfi\n", indent)
	fmt.Fprintf(&b, "%s%s\n", indent, g1PrebuildEnd)

	newBody := body[:loc[0]] + b.String() + body[loc[0]:]
	rebuilt = rebuilt[:buildStart] + newBody + rebuilt[buildEnd:]

	return writeFile(path, preservesTrailingNewline(content, rebuilt))
}

// InjectPostOldconfigLTOPatch inserts a PHASE E1 CRITICAL block after every
// non-comment `make (old)?config` or `make syncconfig` line (including the
// `make LLVM=1 LLVM_IAS=1 …` form the Clang injection rewrites it to),
// reapplying the LTO hard enforcement that an oldconfig/syncconfig
// invocation can undo.
func (p *Patcher) InjectPostOldconfigLTOPatch(ltoType models.LTOType) error {
	path := p.pkgbuildPath()
	content, err := readFile(path)
	if err != nil {
		return err
	}
	if err := p.backup(path); err != nil {
		return err
	}

	rebuilt := removeMarkedBlock(content, e1CriticalStart, e1CriticalEnd)

	trio := ltoTrioLines(ltoType)
	rebuilt = oldconfigMakeRegex.ReplaceAllStringFunc(rebuilt, func(line string) string {
		indent := indentOf(line)
		var b strings.Builder
		b.WriteString(line)
		b.WriteString("\n")
		fmt.Fprintf(&b, "%s%s post-oldconfig LTO re-enforcement\n", indent, e1CriticalStart)
		fmt.Fprintf(&b, "%sif [ -f .config ]; then\n", indent)
		fmt.Fprintf(&b, "%s  sed -i '/^CONFIG_LTO_\\|^CONFIG_HAS_LTO_\\|^# CONFIG_LTO_\\|^# CONFIG_HAS_LTO_/d' .config\n", indent)
		for _, l := range trio {
			fmt.Fprintf(&b, "%s  echo '%s' >> .config\n", indent, l)
		}
		fmt.Fprintf(&b, "%sfi\n", indent)
		fmt.Fprintf(&b, "%s%s", indent, e1CriticalEnd)
		return b.String()
	})

	return writeFile(path, preservesTrailingNewline(content, rebuilt))
}

// InjectModprobedLocalmodconfig inserts into prepare(), after the first
// `cd "$srcdir"`, a block that probes well-known modprobed.db locations and
// runs localmodconfig against the detected kernel source subdirectory.
// No-op when use is false.
func (p *Patcher) InjectModprobedLocalmodconfig(use bool) error {
	path := p.pkgbuildPath()
	content, err := readFile(path)
	if err != nil {
		return err
	}
	if err := p.backup(path); err != nil {
		return err
	}

	rebuilt := removeMarkedBlock(content, modprobedStart, modprobedEnd)
	if !use {
		return writeFile(path, preservesTrailingNewline(content, rebuilt))
	}

	m := cdSrcdirRegex.FindStringSubmatchIndex(rebuilt)
	if m == nil {
		return writeFile(path, preservesTrailingNewline(content, rebuilt))
	}
	lineEnd := m[1]
	indent := rebuilt[m[2]:m[3]]

	block := indentLines(indent, []string{
		modprobedStart + " localmodconfig from modprobed.db",
		`modprobed_db=""`,
		`for candidate in /etc/modprobed.db "$HOME/.config/modprobed.db" "$srcdir/modprobed.db"; do`,
		`  if [ -f "$candidate" ]; then modprobed_db="$candidate"; break; fi`,
		`done`,
		`if [ -n "$modprobed_db" ]; then`,
		`  kdir="$srcdir"`,
		`  for d in "$srcdir"/linux "$srcdir"/linux-*; do`,
		`    [ -d "$d" ] && kdir="$d" && break`,
		`  done`,
		`  [ -f "$srcdir/Makefile" ] && kdir="$srcdir"`,
		`  cd "$kdir"`,
		`  yes "" | make LLVM=1 LLVM_IAS=1 LSMOD="$modprobed_db" localmodconfig`,
		`  cd "$srcdir"`,
		`fi`,
		modprobedEnd,
	})

	rebuilt = rebuilt[:lineEnd] + "\n" + block + rebuilt[lineEnd:]
	return writeFile(path, preservesTrailingNewline(content, rebuilt))
}

// InjectPostModprobedHardEnforcer inserts a PHASE G2 block that preserves
// loadable-module (`=m`) lines across the subsequent olddefconfig pass, so
// automatic dependency expansion cannot silently re-enable modules the
// whitelist/modprobed narrowing filtered out.
func (p *Patcher) InjectPostModprobedHardEnforcer(use bool) error {
	path := p.pkgbuildPath()
	content, err := readFile(path)
	if err != nil {
		return err
	}
	if err := p.backup(path); err != nil {
		return err
	}

	rebuilt := removeMarkedBlock(content, g2Start, g2End)
	if !use {
		return writeFile(path, preservesTrailingNewline(content, rebuilt))
	}

	buildStart, buildEnd, ok := findFunctionBody(rebuilt, "build")
	if !ok {
		return writeFile(path, preservesTrailingNewline(content, rebuilt))
	}
	body := rebuilt[buildStart:buildEnd]
	loc := firstNonCommentMakeLine(body)
	if loc == nil {
		return writeFile(path, preservesTrailingNewline(content, rebuilt))
	}
	indent := indentOf(body[loc[0]:loc[1]])

	block := indentLines(indent, []string{
		g2Start + " preserve =m selection across olddefconfig",
		`grep '=m$' .config > /tmp/goatd_modules.list || true`,
		`make LLVM=1 LLVM_IAS=1 olddefconfig`,
		`while read -r modline; do`,
		`  key="${modline%%=*}"`,
		`  sed -i "/^${key}=/d" .config`,
		`  echo "$modline" >> .config`,
		`done < /tmp/goatd_modules.list`,
		g2End,
	})

	newBody := body[:loc[0]] + block + "\n" + body[loc[0]:]
	rebuilt = rebuilt[:buildStart] + newBody + rebuilt[buildEnd:]
	return writeFile(path, preservesTrailingNewline(content, rebuilt))
}

// InjectPostSettingConfigRestorer inserts a PHASE G2.5 block after the
// PKGBUILD's `cp ../config .config` step: it saves CONFIG_CMDLINE* before
// the overwrite, re-runs localmodconfig, then restores the saved cmdline
// plus any MGLRU options carried via GOATD_MGLRU_CONFIGS.
func (p *Patcher) InjectPostSettingConfigRestorer(use bool) error {
	path := p.pkgbuildPath()
	content, err := readFile(path)
	if err != nil {
		return err
	}
	if err := p.backup(path); err != nil {
		return err
	}

	rebuilt := removeMarkedBlock(content, g25Start, g25End)
	if !use {
		return writeFile(path, preservesTrailingNewline(content, rebuilt))
	}

	m := cpConfigRegex.FindStringSubmatchIndex(rebuilt)
	if m == nil {
		return writeFile(path, preservesTrailingNewline(content, rebuilt))
	}
	lineEnd := m[1]
	indent := rebuilt[m[2]:m[3]]

	block := indentLines(indent, []string{
		g25Start + " restore cmdline/MGLRU after config overwrite",
		`grep '^CONFIG_CMDLINE' .config > /tmp/goatd_cmdline.saved || true`,
		`yes "" | make LLVM=1 LLVM_IAS=1 localmodconfig`,
		`sed -i '/^CONFIG_CMDLINE/d' .config`,
		`cat /tmp/goatd_cmdline.saved >> .config`,
		`if [ -n "$GOATD_MGLRU_CONFIGS" ]; then echo "$GOATD_MGLRU_CONFIGS" | tr ';' '\n' >> .config; fi`,
		g25End,
	})

	rebuilt = rebuilt[:lineEnd] + "\n" + block + rebuilt[lineEnd:]
	return writeFile(path, preservesTrailingNewline(content, rebuilt))
}

// whitelistConfigEntries is the fixed CONFIG_*=y|m set the whitelist injection
// names (sysfs, proc, ext4, btrfs, fat, nls, loopback, efivar, ahci, nvme,
// usb-storage, usb-hid, selinux, apparmor), so aggressive module filtering
// cannot produce an unbootable kernel.
var whitelistConfigEntries = []string{
	"CONFIG_SYSFS=y",
	"CONFIG_PROC_FS=y",
	"CONFIG_EXT4_FS=y",
	"CONFIG_BTRFS_FS=m",
	"CONFIG_VFAT_FS=y",
	"CONFIG_NLS_CODEPAGE_437=y",
	"CONFIG_NLS_ISO8859_1=y",
	"CONFIG_BLK_DEV_LOOP=y",
	"CONFIG_EFIVAR_FS=y",
	"CONFIG_SATA_AHCI=y",
	"CONFIG_BLK_DEV_NVME=y",
	"CONFIG_USB_STORAGE=y",
	"CONFIG_USB_HID=y",
	"CONFIG_SECURITY_SELINUX=y",
	"CONFIG_SECURITY_APPARMOR=y",
}

// InjectKernelWhitelist inserts a PHASE WHITELIST block that unconditionally
// appends whitelistConfigEntries to .config near the end of build(), right
// before the first non-comment make invocation.
func (p *Patcher) InjectKernelWhitelist(use bool) error {
	path := p.pkgbuildPath()
	content, err := readFile(path)
	if err != nil {
		return err
	}
	if err := p.backup(path); err != nil {
		return err
	}

	rebuilt := removeMarkedBlock(content, whitelistStart, whitelistEnd)
	if !use {
		return writeFile(path, preservesTrailingNewline(content, rebuilt))
	}

	buildStart, buildEnd, ok := findFunctionBody(rebuilt, "build")
	if !ok {
		return writeFile(path, preservesTrailingNewline(content, rebuilt))
	}
	body := rebuilt[buildStart:buildEnd]
	loc := firstNonCommentMakeLine(body)
	if loc == nil {
		return writeFile(path, preservesTrailingNewline(content, rebuilt))
	}
	indent := indentOf(body[loc[0]:loc[1]])

	lines := []string{whitelistStart + " unconditional boot-safety module set"}
	for _, e := range whitelistConfigEntries {
		key := e[:strings.IndexByte(e, '=')]
		lines = append(lines, fmt.Sprintf(`sed -i "/^%s=/d;/^# %s is not set/d" .config`, key, key))
		lines = append(lines, fmt.Sprintf(`echo '%s' >> .config`, e))
	}
	lines = append(lines, whitelistEnd)
	block := indentLines(indent, lines)

	newBody := body[:loc[0]] + block + "\n" + body[loc[0]:]
	rebuilt = rebuilt[:buildStart] + newBody + rebuilt[buildEnd:]
	return writeFile(path, preservesTrailingNewline(content, rebuilt))
}

// InjectBuildEnvironmentVariables inserts an export block for env into
// prepare(), build(), _package(), alongside the Clang toolchain injection.
func (p *Patcher) InjectBuildEnvironmentVariables(env map[string]string) error {
	return p.injectFunctionExportBlock(buildEnvStart, buildEnvEnd, env)
}

// InjectPollyFlags injects the Polly CFLAGS/CXXFLAGS/LDFLAGS exports into
// prepare(), build(), _package().
func (p *Patcher) InjectPollyFlags(polly map[string]string) error {
	return p.injectFunctionExportBlock(pollyStart, pollyEnd, polly)
}

func (p *Patcher) injectFunctionExportBlock(start, end string, vars map[string]string) error {
	path := p.pkgbuildPath()
	content, err := readFile(path)
	if err != nil {
		return err
	}
	if err := p.backup(path); err != nil {
		return err
	}

	rebuilt := removeMarkedBlock(content, start, end)
	if len(vars) == 0 {
		return writeFile(path, preservesTrailingNewline(content, rebuilt))
	}

	keys := sortedKeys(vars)
	lines := make([]string, 0, len(keys)+2)
	lines = append(lines, start)
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("export %s=%s", k, vars[k]))
	}
	lines = append(lines, end)
	block := strings.Join(lines, "\n")

	rebuilt = funcOpenRegex.ReplaceAllStringFunc(rebuilt, func(sig string) string {
		return sig + "\n" + block
	})

	return writeFile(path, preservesTrailingNewline(content, rebuilt))
}

// PrepareBuildEnvironment returns the environment variable map the Async
// Build Executor passes to the build subprocess: the LLVM toolchain
// bindings, HOSTCC/HOSTCXX, optional KCFLAGS, and a PATH purified of any
// "gcc", "llvm", or "clang" substring with a project-local .llvm_bin/
// prepended.
func PrepareBuildEnvironment(nativeOptimizations bool, currentPath string) map[string]string {
	env := map[string]string{
		"LLVM":     "1",
		"LLVM_IAS": "1",
		"CC":       "clang",
		"CXX":      "clang++",
		"LD":       "ld.lld",
		"AR":       "llvm-ar",
		"NM":       "llvm-nm",
		"STRIP":    "/usr/bin/strip",
		"OBJCOPY":  "llvm-objcopy",
		"OBJDUMP":  "llvm-objdump",
		"READELF":  "llvm-readelf",
		"HOSTCC":   "clang",
		"HOSTCXX":  "clang++",
		"PATH":     purifyPath(currentPath),
	}
	if nativeOptimizations {
		env["KCFLAGS"] = "-march=native"
	}
	return env
}

// purifyPath removes any PATH entry containing "gcc", "llvm", or "clang"
// and prepends ".llvm_bin".
func purifyPath(path string) string {
	parts := strings.Split(path, ":")
	filtered := make([]string, 0, len(parts)+1)
	filtered = append(filtered, ".llvm_bin")
	for _, part := range parts {
		if part == "" {
			continue
		}
		if strings.Contains(part, "gcc") || strings.Contains(part, "llvm") || strings.Contains(part, "clang") {
			continue
		}
		filtered = append(filtered, part)
	}
	return strings.Join(filtered, ":")
}

// findFunctionBody returns the byte range of name's body (the opening brace
// to the matching closing "}" on its own line), scanning for the first
// occurrence of name()'s signature.
func findFunctionBody(content, name string) (start, end int, ok bool) {
	re := regexp.MustCompile(`(?m)^` + regexp.QuoteMeta(name) + `\(\)\s*\{\s*$`)
	loc := re.FindStringIndex(content)
	if loc == nil {
		return 0, 0, false
	}
	closeRe := regexp.MustCompile(`(?m)^\}\s*$`)
	rest := content[loc[1]:]
	closeLoc := closeRe.FindStringIndex(rest)
	if closeLoc == nil {
		return 0, 0, false
	}
	return loc[1], loc[1] + closeLoc[0], true
}

// firstNonCommentMakeLine returns the [start,end) index of the first line
// within body that invokes make and is not a comment.
func firstNonCommentMakeLine(body string) []int {
	excluded := injectedBlockRanges(body)
	locs := buildMakeRegex.FindAllStringIndex(body, -1)
	for _, loc := range locs {
		line := body[loc[0]:loc[1]]
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		// Skip make lines that belong to an earlier injection (e.g. G2's own
		// "make ... olddefconfig") rather than the PKGBUILD's real build
		// step, so later injections stack ahead of the actual build
		// invocation instead of nesting inside an earlier marked block.
		if withinRanges(loc[0], excluded) {
			continue
		}
		return loc
	}
	return nil
}
