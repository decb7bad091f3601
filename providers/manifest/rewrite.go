package manifest

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
)

// tableRe matches a TOML table header line, capturing the dotted name.
// Array-of-table headers ([[bin]]) are matched too so they close the
// preceding table.
var tableRe = regexp.MustCompile(`^\s*\[{1,2}\s*([^\]]*?)\s*\]{1,2}\s*(?:#.*)?$`)

// versionRe matches a version assignment, capturing the value span only.
// 'version.workspace = true' does not match: the key must be followed by '='.
var versionRe = regexp.MustCompile(`^(\s*version\s*=\s*)(["'])([^"']*)(["'])`)

// replaceVersion substitutes the version value inside the table the location
// addresses. Every byte outside the value span is left untouched; the file is
// never reformatted.
func replaceVersion(raw []byte, loc Location, newVersion string) ([]byte, error) {
	wanted := loc.table()

	lines := bytes.SplitAfter(raw, []byte("\n"))
	current := ""
	for i, line := range lines {
		if m := tableRe.FindSubmatch(line); m != nil {
			current = normalizeTable(string(m[1]))
			continue
		}
		if current != wanted {
			continue
		}
		if m := versionRe.FindSubmatchIndex(line); m != nil {
			var b bytes.Buffer
			b.Grow(len(line) + len(newVersion))
			b.Write(line[:m[6]])
			b.WriteString(newVersion)
			b.Write(line[m[7]:])
			lines[i] = b.Bytes()
			return bytes.Join(lines, nil), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, loc)
}

// normalizeTable strips whitespace and quoting from a dotted table name so
// [ workspace . "package" ] compares equal to workspace.package.
func normalizeTable(s string) string {
	parts := strings.Split(s, ".")
	for i := range parts {
		parts[i] = strings.Trim(strings.TrimSpace(parts[i]), `"'`)
	}
	return strings.Join(parts, ".")
}
