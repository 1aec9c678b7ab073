package patcher

import (
	"fmt"
	"regexp"
	"strings"
)

const clangMarkerStart = "# GOATD LLVM TOOLCHAIN (injected)"
const clangMarkerEnd = "# GOATD LLVM TOOLCHAIN END"

var (
	funcOpenRegex = regexp.MustCompile(`(?m)^(prepare|build|_package)\(\)\s*\{`)
	ccLineRegex   = regexp.MustCompile(`(?m)^(\s*)(export\s+)?CC=(gcc|cc)\s*$`)
	cxxLineRegex  = regexp.MustCompile(`(?m)^(\s*)(export\s+)?CXX=(g\+\+|c\+\+)\s*$`)
	ldLineRegex   = regexp.MustCompile(`(?m)^(\s*)(export\s+)?LD=ld\s*$`)
	makeWordRegex = regexp.MustCompile(`\bmake\b`)
	clangBlockRegex = regexp.MustCompile(`(?s)\n?` + regexp.QuoteMeta(clangMarkerStart) + `.*?` + regexp.QuoteMeta(clangMarkerEnd) + `\n?`)
	rmetaGlobRegex = regexp.MustCompile(`install -Dt "\$builddir/rust" -m644 rust/\*\.(rmeta|so)`)
	stripVerboseRegex = regexp.MustCompile(`\bstrip -v\b`)
)

// clangExports builds the ordered list of LLVM toolchain exports.
func clangExports(nativeOptimizations bool) []string {
	exports := []string{
		"export LLVM=1",
		"export LLVM_IAS=1",
		"export CC=clang",
		"export CXX=clang++",
		"export LD=ld.lld",
		"export AR=llvm-ar",
		"export NM=llvm-nm",
		"export STRIP=/usr/bin/strip",
		"export OBJCOPY=llvm-objcopy",
		"export OBJDUMP=llvm-objdump",
		"export READELF=llvm-readelf",
		"export HOSTCC=clang",
		"export HOSTCXX=clang++",
	}
	if nativeOptimizations {
		exports = append(exports, "export KCFLAGS=-march=native")
	}
	return exports
}

// InjectClangIntoPKGBUILD inserts the LLVM toolchain export block at the
// opening brace of prepare(), build(), _package(); replaces pre-existing
// GCC toolchain assignments with their LLVM equivalents; and forces
// LLVM=1 LLVM_IAS=1 onto every bare `make` invocation.
func (p *Patcher) InjectClangIntoPKGBUILD(nativeOptimizations bool) error {
	path := p.pkgbuildPath()
	content, err := readFile(path)
	if err != nil {
		return err
	}
	if err := p.backup(path); err != nil {
		return err
	}

	// Idempotence: remove any prior injection before reinserting, so
	// toggling native_optimizations re-injects correctly.
	rebuilt := clangBlockRegex.ReplaceAllString(content, "\n")

	rebuilt = ccLineRegex.ReplaceAllString(rebuilt, "${1}export CC=clang")
	rebuilt = cxxLineRegex.ReplaceAllString(rebuilt, "${1}export CXX=clang++")
	rebuilt = ldLineRegex.ReplaceAllString(rebuilt, "${1}export LD=ld.lld")

	rebuilt = forceLLVMMakeInvocations(rebuilt)

	exports := clangExports(nativeOptimizations)
	block := clangMarkerStart + "\n" + strings.Join(exports, "\n") + "\n" + clangMarkerEnd

	rebuilt = funcOpenRegex.ReplaceAllStringFunc(rebuilt, func(sig string) string {
		return sig + "\n" + block
	})

	return writeFile(path, preservesTrailingNewline(content, rebuilt))
}

// forceLLVMMakeInvocations rewrites every non-comment line containing the
// word "make" that doesn't already carry LLVM=1 so it reads
// "make LLVM=1 LLVM_IAS=1 ...".
func forceLLVMMakeInvocations(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if !makeWordRegex.MatchString(line) {
			continue
		}
		if strings.Contains(line, "LLVM=1") {
			continue
		}
		lines[i] = makeWordRegex.ReplaceAllString(line, "make LLVM=1 LLVM_IAS=1")
	}
	return strings.Join(lines, "\n")
}

// FixRustRmetaInstallation replaces the fragile glob-expansion install of
// rust/*.rmeta (and *.so) with a find-based install that does not abort
// the build when no files match. Idempotent: once converted, the original
// pattern no longer matches so a second pass is a no-op.
func (p *Patcher) FixRustRmetaInstallation() error {
	path := p.pkgbuildPath()
	content, err := readFile(path)
	if err != nil {
		return err
	}
	if !rmetaGlobRegex.MatchString(content) {
		return nil
	}
	if err := p.backup(path); err != nil {
		return err
	}
	rebuilt := rmetaGlobRegex.ReplaceAllStringFunc(content, func(m string) string {
		sub := rmetaGlobRegex.FindStringSubmatch(m)
		ext := sub[1]
		return fmt.Sprintf(`find rust -iname '*.%s' -exec install -Dt "$builddir/rust" -m644 {} \;`, ext)
	})
	return writeFile(path, preservesTrailingNewline(content, rebuilt))
}

// RemoveStripVerboseFlag replaces every whole-word occurrence of
// "strip -v" with "strip", since llvm-strip lacks -v.
func (p *Patcher) RemoveStripVerboseFlag() error {
	path := p.pkgbuildPath()
	content, err := readFile(path)
	if err != nil {
		return err
	}
	if !stripVerboseRegex.MatchString(content) {
		return nil
	}
	if err := p.backup(path); err != nil {
		return err
	}
	rebuilt := stripVerboseRegex.ReplaceAllString(content, "strip")
	return writeFile(path, preservesTrailingNewline(content, rebuilt))
}
