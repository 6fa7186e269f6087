package envs

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
)

var varName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

const scriptHeader = "# Generated by ghjk. Source this file to activate the environment.\n"

// overridden lists every variable the scripts assign: static vars by key,
// then path vars not already among them.
func overridden(c *Cooked) []string {
	keys := slices.Sorted(maps.Keys(c.Vars))
	for _, pv := range c.PathVars {
		if !slices.Contains(keys, pv.Key) {
			keys = append(keys, pv.Key)
		}
	}
	return keys
}

func checkVarNames(c *Cooked) error {
	for _, k := range overridden(c) {
		if !varName.MatchString(k) {
			return fmt.Errorf("env var name %q is not a valid shell identifier", k)
		}
	}
	return nil
}

func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func fishQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "'", `\'`)
	return "'" + s + "'"
}

func command(h Hook, quote func(string) string) string {
	parts := []string{quote(h.Program)}
	for _, a := range h.Args {
		parts = append(parts, quote(a))
	}
	return strings.Join(parts, " ")
}

// PosixScript renders activate.sh. Every overridden var is snapshotted
// before assignment and restored exactly by ghjk_deactivate. Hooks only run
// in interactive shells; exit hooks run from ghjk_deactivate.
func PosixScript(c *Cooked) string {
	var b strings.Builder
	b.WriteString(scriptHeader)
	b.WriteString("\nif command -v ghjk_deactivate >/dev/null 2>&1; then\n    ghjk_deactivate\nfi\n")
	b.WriteString("\n__ghjk_cleanup=''\n")

	for _, k := range overridden(c) {
		fmt.Fprintf(&b, "\nif [ -n \"${%s+x}\" ]; then\n", k)
		fmt.Fprintf(&b, "    __ghjk_saved_%s=\"$%s\"\n", k, k)
		fmt.Fprintf(&b, "    __ghjk_cleanup=\"$__ghjk_cleanup\"'export %s=\"$__ghjk_saved_%s\"; unset __ghjk_saved_%s; '\n", k, k, k)
		b.WriteString("else\n")
		fmt.Fprintf(&b, "    __ghjk_cleanup=\"$__ghjk_cleanup\"'unset %s; '\n", k)
		b.WriteString("fi\n")
	}

	b.WriteString("\n")
	for _, k := range slices.Sorted(maps.Keys(c.Vars)) {
		fmt.Fprintf(&b, "export %s=%s\n", k, shQuote(c.Vars[k]))
	}
	for _, pv := range c.PathVars {
		fmt.Fprintf(&b, "export %s=%s\"${%s:+:$%s}\"\n", pv.Key, shQuote(pv.Dir), pv.Key, pv.Key)
	}

	b.WriteString("\nghjk_deactivate () {\n")
	if len(c.OnExit) > 0 {
		b.WriteString("    case \"$-\" in\n        *i*)\n")
		for _, h := range c.OnExit {
			fmt.Fprintf(&b, "            %s\n", command(h, shQuote))
		}
		b.WriteString("            ;;\n    esac\n")
	}
	b.WriteString("    eval \"$__ghjk_cleanup\"\n    unset __ghjk_cleanup\n    unset -f ghjk_deactivate\n}\n")

	if len(c.OnEnter) > 0 {
		b.WriteString("\ncase \"$-\" in\n    *i*)\n")
		for _, h := range c.OnEnter {
			fmt.Fprintf(&b, "        %s\n", command(h, shQuote))
		}
		b.WriteString("        ;;\nesac\n")
	}
	return b.String()
}

// FishScript renders activate.fish with the same contract as PosixScript.
func FishScript(c *Cooked) string {
	var b strings.Builder
	b.WriteString(scriptHeader)
	b.WriteString("\nif functions -q ghjk_deactivate\n    ghjk_deactivate\nend\n")
	b.WriteString("\nset -g __ghjk_cleanup\n")

	for _, k := range overridden(c) {
		fmt.Fprintf(&b, "\nif set -q %s\n", k)
		fmt.Fprintf(&b, "    set -g __ghjk_saved_%s $%s\n", k, k)
		fmt.Fprintf(&b, "    set -a __ghjk_cleanup 'set -gx %s $__ghjk_saved_%s; set -e __ghjk_saved_%s'\n", k, k, k)
		b.WriteString("else\n")
		fmt.Fprintf(&b, "    set -a __ghjk_cleanup 'set -e %s'\n", k)
		b.WriteString("end\n")
	}

	b.WriteString("\n")
	for _, k := range slices.Sorted(maps.Keys(c.Vars)) {
		fmt.Fprintf(&b, "set -gx %s %s\n", k, fishQuote(c.Vars[k]))
	}
	for _, pv := range c.PathVars {
		fmt.Fprintf(&b, "set -gx %s %s $%s\n", pv.Key, fishQuote(pv.Dir), pv.Key)
	}

	b.WriteString("\nfunction ghjk_deactivate\n")
	if len(c.OnExit) > 0 {
		b.WriteString("    if status is-interactive\n")
		for _, h := range c.OnExit {
			fmt.Fprintf(&b, "        %s\n", command(h, fishQuote))
		}
		b.WriteString("    end\n")
	}
	b.WriteString("    for __ghjk_cmd in $__ghjk_cleanup\n        eval $__ghjk_cmd\n    end\n")
	b.WriteString("    set -e __ghjk_cleanup\n    functions -e ghjk_deactivate\nend\n")

	if len(c.OnEnter) > 0 {
		b.WriteString("\nif status is-interactive\n")
		for _, h := range c.OnEnter {
			fmt.Fprintf(&b, "    %s\n", command(h, fishQuote))
		}
		b.WriteString("end\n")
	}
	return b.String()
}
