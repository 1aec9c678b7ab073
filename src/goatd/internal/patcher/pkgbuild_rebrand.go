package patcher

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	shebangRegex = regexp.MustCompile(`^#!.*\n`)
	pkgbaseRegex = regexp.MustCompile(`(?m)^pkgbase=(['"]?)([^'"\s#]+)['"]?\s*$`)
	pkgdescRegex = regexp.MustCompile(`(?m)^pkgdesc=.*$`)
	providesRegex = regexp.MustCompile(`(?m)^provides=`)
	arrayEntryRegex = regexp.MustCompile(`(['"]?)([A-Za-z0-9._+-]+)['"]?`)
	packageFuncRegex = regexp.MustCompile(`(?m)^package_([A-Za-z0-9._-]+)\s*\(\)\s*\{`)
)

// InjectPKGBUILDMetadataVariables prepends KEY='VALUE' assignments at the
// top of PKGBUILD, after the shebang if present, deleting any prior line
// that begins with one of vars' keys so re-runs do not accumulate.
func (p *Patcher) InjectPKGBUILDMetadataVariables(vars map[string]string) error {
	path := p.pkgbuildPath()
	content, err := readFile(path)
	if err != nil {
		return err
	}
	if err := p.backup(path); err != nil {
		return err
	}

	lines := strings.Split(content, "\n")
	filtered := lines[:0:0]
	for _, line := range lines {
		skip := false
		for key := range vars {
			if strings.HasPrefix(line, key+"=") {
				skip = true
				break
			}
		}
		if !skip {
			filtered = append(filtered, line)
		}
	}

	var inject []string
	// Deterministic ordering so re-runs are byte-identical.
	keys := sortedKeys(vars)
	for _, k := range keys {
		inject = append(inject, fmt.Sprintf("%s='%s'", k, vars[k]))
	}

	rebuilt := insertAfterShebang(strings.Join(filtered, "\n"), inject)
	return writeFile(path, preservesTrailingNewline(content, rebuilt))
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

func insertAfterShebang(content string, inject []string) string {
	if len(inject) == 0 {
		return content
	}
	block := strings.Join(inject, "\n")
	if loc := shebangRegex.FindStringIndex(content); loc != nil {
		return content[:loc[1]] + block + "\n" + content[loc[1]:]
	}
	return block + "\n" + content
}

// PatchPKGBUILDForRebranding transforms pkgbase, every entry of the
// pkgname=( … ) array, and every package_<variant>() function from <base>
// to <base>-goatd-<profile>. Idempotent: re-applying with the same profile
// is a fixed point.
func (p *Patcher) PatchPKGBUILDForRebranding(profile string) error {
	path := p.pkgbuildPath()
	content, err := readFile(path)
	if err != nil {
		return err
	}

	m := pkgbaseRegex.FindStringSubmatch(content)
	if m == nil {
		return goErrPatchFailed("pkgbase not found in PKGBUILD")
	}
	quote, rawBase := m[1], m[2]
	profileLower := strings.ToLower(profile)
	suffix := "-goatd-" + profileLower

	var oldBase, newBase string
	if strings.Contains(rawBase, suffix) {
		oldBase = strings.Replace(rawBase, suffix, "", 1)
		newBase = rawBase
	} else {
		oldBase = rawBase
		newBase = rawBase + suffix
	}

	if err := p.backup(path); err != nil {
		return err
	}

	rebuilt := content

	// pkgbase line.
	rebuilt = pkgbaseRegex.ReplaceAllString(rebuilt, fmt.Sprintf("pkgbase=%s%s%s", quote, newBase, quote))

	// provides=('<original base>') after pkgdesc=, for multi-kernel
	// coexistence. Only inserted once.
	if !providesRegex.MatchString(rebuilt) {
		if loc := pkgdescRegex.FindStringIndex(rebuilt); loc != nil {
			insertion := fmt.Sprintf("\nprovides=('%s')", oldBase)
			rebuilt = rebuilt[:loc[1]] + insertion + rebuilt[loc[1]:]
		}
	}

	rebuilt = rebrandPkgnameArray(rebuilt, oldBase, newBase)
	rebuilt = rebrandPackageFunctions(rebuilt, oldBase, newBase)

	return writeFile(path, preservesTrailingNewline(content, rebuilt))
}

// rebrandPkgnameArray walks the pkgname=( … ) region statefully (it may
// span multiple lines) and rewrites each entry that starts with oldBase.
func rebrandPkgnameArray(content, oldBase, newBase string) string {
	lines := strings.Split(content, "\n")
	inArray := false
	for i, line := range lines {
		if !inArray {
			if idx := strings.Index(line, "pkgname=("); idx >= 0 {
				inArray = true
				before := line[:idx+len("pkgname=(")]
				rest := line[idx+len("pkgname=("):]
				closed := false
				if ci := strings.IndexByte(rest, ')'); ci >= 0 {
					closed = true
					entries, tail := rest[:ci], rest[ci:]
					entries = rebrandEntries(entries, oldBase, newBase)
					lines[i] = before + entries + tail
					inArray = false
				} else {
					lines[i] = before + rebrandEntries(rest, oldBase, newBase)
				}
				_ = closed
				continue
			}
			continue
		}
		if ci := strings.IndexByte(line, ')'); ci >= 0 {
			entries, tail := line[:ci], line[ci:]
			lines[i] = rebrandEntries(entries, oldBase, newBase) + tail
			inArray = false
			continue
		}
		lines[i] = rebrandEntries(line, oldBase, newBase)
	}
	return strings.Join(lines, "\n")
}

// rebrandEntries rewrites every quoted or bare token in an array-entry
// fragment that starts with oldBase, preserving whichever quote style (or
// absence of quotes) the entry already used.
func rebrandEntries(fragment, oldBase, newBase string) string {
	return arrayEntryRegex.ReplaceAllStringFunc(fragment, func(tok string) string {
		sub := arrayEntryRegex.FindStringSubmatch(tok)
		quote, value := sub[1], sub[2]
		switch {
		case strings.HasPrefix(value, newBase):
			// Already carries the target brand; leave as-is so a second
			// pass can't brand it twice.
		case strings.HasPrefix(value, oldBase):
			value = newBase + strings.TrimPrefix(value, oldBase)
		}
		return quote + value + quote
	})
}

// rebrandPackageFunctions renames package_<variant>() function signatures
// whose variant name begins with oldBase.
func rebrandPackageFunctions(content, oldBase, newBase string) string {
	return packageFuncRegex.ReplaceAllStringFunc(content, func(sig string) string {
		m := packageFuncRegex.FindStringSubmatch(sig)
		variant := m[1]
		if strings.HasPrefix(variant, newBase) {
			// Already carries the target brand; leave as-is so a second
			// pass can't brand it twice.
			return sig
		}
		if !strings.HasPrefix(variant, oldBase) {
			return sig
		}
		newVariant := newBase + strings.TrimPrefix(variant, oldBase)
		return strings.Replace(sig, "package_"+variant, "package_"+newVariant, 1)
	})
}
