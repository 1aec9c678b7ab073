// Package pkgbuild parses the bash-like PKGBUILD packaging script for the
// handful of fields the rest of the system needs: pkgbase, pkgver, pkgrel,
// the pkgname and patches arrays, and any CONFIG_*=… lines a PKGBUILD
// embeds directly.
// It does not execute bash; it recognises a fixed set of syntactic forms
// names and ignores everything else.
package pkgbuild

import (
	"regexp"
	"strings"
)

var (
	scalarRegex = func(key string) *regexp.Regexp {
		return regexp.MustCompile(`(?m)^` + regexp.QuoteMeta(key) + `=(['"]?)([^'"\s#]+)['"]?\s*(?:#.*)?$`)
	}
	pkgbaseRegex  = scalarRegex("pkgbase")
	pkgverRegex   = scalarRegex("pkgver")
	pkgrelRegex   = scalarRegex("pkgrel")
	configLineRegex = regexp.MustCompile(`(?m)^(CONFIG_[A-Za-z0-9_]+)=(.+)$`)

	arrayHeaderRegex = regexp.MustCompile(`^(pkgname|patches)=\(`)
	arrayEntryRegex  = regexp.MustCompile(`'[^']*'|"[^"]*"|\S+`)
)

// Info is everything the parser extracted from a PKGBUILD.
type Info struct {
	PkgBase     string
	PkgVer      string
	PkgRel      string
	PkgNames    []string
	Patches     []string
	ConfigLines map[string]string
}

// Parse extracts Info from raw PKGBUILD content.
func Parse(content string) Info {
	info := Info{ConfigLines: make(map[string]string)}

	if m := pkgbaseRegex.FindStringSubmatch(content); m != nil {
		info.PkgBase = m[2]
	}
	if m := pkgverRegex.FindStringSubmatch(content); m != nil {
		info.PkgVer = m[2]
	}
	if m := pkgrelRegex.FindStringSubmatch(content); m != nil {
		info.PkgRel = m[2]
	}
	for _, m := range configLineRegex.FindAllStringSubmatch(content, -1) {
		info.ConfigLines[m[1]] = m[2]
	}

	info.PkgNames = parseArray(content, "pkgname")
	info.Patches = parseArray(content, "patches")

	return info
}

// parseArray extracts the entries of a `key=( … )` array, handling both
// single-line and multi-line forms by tracking whether the current line is
// inside the array region.
func parseArray(content, key string) []string {
	lines := strings.Split(content, "\n")
	var entries []string
	inArray := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !inArray {
			if !strings.HasPrefix(trimmed, key+"=(") {
				continue
			}
			inArray = true
			trimmed = strings.TrimPrefix(trimmed, key+"=(")
		}
		closed := strings.Contains(trimmed, ")")
		if closed {
			trimmed = trimmed[:strings.Index(trimmed, ")")]
		}
		for _, tok := range arrayEntryRegex.FindAllString(trimmed, -1) {
			entries = append(entries, unquote(tok))
		}
		if closed {
			break
		}
	}
	return entries
}

func unquote(tok string) string {
	if len(tok) >= 2 {
		if (tok[0] == '\'' && tok[len(tok)-1] == '\'') || (tok[0] == '"' && tok[len(tok)-1] == '"') {
			return tok[1 : len(tok)-1]
		}
	}
	return tok
}
