package patcher

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/MadGoatHaz/goatd-kernel/src/goatd/internal/models"
)

var (
	gccLineRegex      = regexp.MustCompile(`(?m)^(?:CONFIG_CC_IS_GCC|CONFIG_GCC_VERSION|CONFIG_CC_VERSION_TEXT)=.*\n?`)
	cmdlineLineRegex  = regexp.MustCompile(`(?m)^CONFIG_CMDLINE(?:_BOOL|_OVERRIDE)?=.*\n?`)
	cmdlineValueRegex = regexp.MustCompile(`(?m)^CONFIG_CMDLINE="([^"]*)"\s*$`)
	ltoLineRegex      = regexp.MustCompile(`(?m)^(?:CONFIG_LTO_|CONFIG_HAS_LTO_|# CONFIG_LTO_|# CONFIG_HAS_LTO_)[A-Za-z0-9_]*(?:=.*|\sis not set)\n?`)
	blankRunRegex     = regexp.MustCompile(`\n{3,}`)
)

// removeConfigKeyLine removes any existing KEY=… or "# KEY is not set"
// line for key, both set and unset forms.
func removeConfigKeyLine(content, key string) string {
	re := regexp.MustCompile(`(?m)^(?:` + regexp.QuoteMeta(key) + `=.*|# ` + regexp.QuoteMeta(key) + ` is not set)\n?`)
	return re.ReplaceAllString(content, "")
}

func appendConfigLine(content, line string) string {
	if !strings.HasSuffix(content, "\n") && content != "" {
		content += "\n"
	}
	return content + line + "\n"
}

// ApplyKconfig rewrites .config via a nine-step
// sequence. A critical operation: failures are fatal.
func (p *Patcher) ApplyKconfig(options map[string]string, ltoType models.LTOType) error {
	path := p.configPath()
	content, err := readFile(path)
	if err != nil {
		return err
	}

	// 1. Backup.
	if err := p.backup(path); err != nil {
		return err
	}

	// 2. Strip detected-compiler signalling left by a prior GCC build.
	content = gccLineRegex.ReplaceAllString(content, "")

	// 3. User-provided non-underscore options: remove-then-append.
	keys := make([]string, 0, len(options))
	for k := range options {
		if !strings.HasPrefix(k, "_") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		content = removeConfigKeyLine(content, k)
		content = appendConfigLine(content, fmt.Sprintf("%s=%s", k, options[k]))
	}

	// 4. MGLRU signalling keys: extract and append the CONFIG_X=y payload.
	mglruKeys := make([]string, 0)
	for k := range options {
		if strings.HasPrefix(k, "_MGLRU_CONFIG_") {
			mglruKeys = append(mglruKeys, k)
		}
	}
	sort.Strings(mglruKeys)
	for _, k := range mglruKeys {
		value := options[k]
		eq := strings.IndexByte(value, '=')
		if eq < 0 {
			continue
		}
		content = removeConfigKeyLine(content, value[:eq])
		content = appendConfigLine(content, value)
	}

	// 5. Enforce Clang.
	content = removeConfigKeyLine(content, "CONFIG_CC_IS_CLANG")
	content = removeConfigKeyLine(content, "CONFIG_CLANG_VERSION")
	content = removeConfigKeyLine(content, "CONFIG_CC_IS_GCC")
	content = appendConfigLine(content, "CONFIG_CC_IS_CLANG=y")
	content = appendConfigLine(content, "CONFIG_CLANG_VERSION=190106")
	content = appendConfigLine(content, "CONFIG_CC_IS_GCC=n")

	// 6. Enforce LTO per type.
	content = applyLTOTrio(content, ltoType)

	// 7. Module-size policy.
	for _, kv := range []string{
		"CONFIG_MODULE_COMPRESS_ZSTD=y",
		"CONFIG_STRIP_ASM_SYMS=y",
		"CONFIG_DEBUG_INFO=n",
		"CONFIG_DEBUG_INFO_NONE=y",
	} {
		key := kv[:strings.IndexByte(kv, '=')]
		content = removeConfigKeyLine(content, key)
		content = appendConfigLine(content, kv)
	}

	// 8. Final LTO hard-enforcer.
	content = hardEnforceLTO(content, ltoType)

	// 9. Baked-in cmdline.
	content = injectBakedInCmdline(content, hasMGLRUSignal(options), hardeningLevelSignal(options))

	return writeFile(path, content)
}

// applyLTOTrio appends the step-6 LTO entries (no terminal enforcement
// yet; step 8 makes the final state authoritative).
func applyLTOTrio(content string, ltoType models.LTOType) string {
	switch ltoType {
	case models.LTOFull:
		content = removeConfigKeyLine(content, "CONFIG_LTO_CLANG")
		content = removeConfigKeyLine(content, "CONFIG_LTO_CLANG_FULL")
		content = appendConfigLine(content, "CONFIG_LTO_CLANG=y")
		content = appendConfigLine(content, "CONFIG_LTO_CLANG_FULL=y")
	case models.LTOThin:
		content = removeConfigKeyLine(content, "CONFIG_LTO_CLANG")
		content = removeConfigKeyLine(content, "CONFIG_LTO_CLANG_THIN")
		content = appendConfigLine(content, "CONFIG_LTO_CLANG=y")
		content = appendConfigLine(content, "CONFIG_LTO_CLANG_THIN=y")
	}
	return content
}

// hardEnforceLTO deletes every LTO/HAS_LTO line (set or unset form),
// collapses the resulting blank run, then appends the authoritative trio
// for ltoType, or nothing for LTONone. This is what makes later shell
// enforcers deterministic.
func hardEnforceLTO(content string, ltoType models.LTOType) string {
	content = ltoLineRegex.ReplaceAllString(content, "")
	content = blankRunRegex.ReplaceAllString(content, "\n\n")

	switch ltoType {
	case models.LTOFull:
		content = appendConfigLine(content, "CONFIG_LTO_CLANG=y")
		content = appendConfigLine(content, "CONFIG_LTO_CLANG_FULL=y")
		content = appendConfigLine(content, "CONFIG_HAS_LTO_CLANG=y")
	case models.LTOThin:
		content = appendConfigLine(content, "CONFIG_LTO_CLANG=y")
		content = appendConfigLine(content, "CONFIG_LTO_CLANG_THIN=y")
		content = appendConfigLine(content, "CONFIG_HAS_LTO_CLANG=y")
	}
	return content
}

// hasMGLRUSignal reports whether the Finalizer derived any _MGLRU_CONFIG_*
// signalling key, meaning MGLRU is enabled for this run.
func hasMGLRUSignal(options map[string]string) bool {
	for k := range options {
		if strings.HasPrefix(k, "_MGLRU_CONFIG_") {
			return true
		}
	}
	return false
}

// hardeningLevelSignal extracts the hardening level name from the
// Finalizer's "_HARDENING_LEVEL_<level>" signalling key.
func hardeningLevelSignal(options map[string]string) string {
	const prefix = "_HARDENING_LEVEL_"
	for k := range options {
		if strings.HasPrefix(k, prefix) {
			return strings.TrimPrefix(k, prefix)
		}
	}
	return ""
}

// injectBakedInCmdline reads the prior CONFIG_CMDLINE value if present,
// removes all CONFIG_CMDLINE* lines, then appends a new CONFIG_CMDLINE
// whose value is the prior value plus, appended once each, the tokens
// step 9 of that sequence names.
func injectBakedInCmdline(content string, useMGLRU bool, hardeningLevel string) string {
	prior := ""
	if m := cmdlineValueRegex.FindStringSubmatch(content); m != nil {
		prior = m[1]
	}

	content = cmdlineLineRegex.ReplaceAllString(content, "")

	tokens := strings.Fields(prior)
	has := func(tok string) bool {
		for _, t := range tokens {
			if t == tok {
				return true
			}
		}
		return false
	}
	addOnce := func(tok string) {
		if !has(tok) {
			tokens = append(tokens, tok)
		}
	}

	addOnce("nowatchdog")
	addOnce("preempt=full")
	if useMGLRU {
		addOnce("lru_gen.enabled=7")
	}
	if hardeningLevel == string(models.HardeningMinimal) {
		addOnce("mitigations=off")
	}

	content = appendConfigLine(content, fmt.Sprintf(`CONFIG_CMDLINE="%s"`, strings.Join(tokens, " ")))
	content = appendConfigLine(content, "CONFIG_CMDLINE_BOOL=y")
	content = appendConfigLine(content, "CONFIG_CMDLINE_OVERRIDE=n")
	return content
}
