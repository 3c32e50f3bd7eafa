package sandbox

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/dop251/goja"
)

// linePattern matches both goja frame text ("user-script.js:3:7(12)") and
// parser errors ("user-script.js: Line 3:7 Unexpected token").
var linePattern = regexp.MustCompile(regexp.QuoteMeta(ScriptName) + `(?::| ?: ?Line )(\d+)`)

// ResolveLine scans a stack trace top-down and returns the line of the first
// frame that references the submitted script.
func ResolveLine(trace string) (int, bool) {
	for _, frame := range strings.Split(trace, "\n") {
		if !strings.Contains(frame, ScriptName) {
			continue
		}
		m := linePattern.FindStringSubmatch(frame)
		if m == nil {
			continue
		}
		line, err := strconv.Atoi(m[1])
		if err != nil || line <= 0 {
			continue
		}
		return line, true
	}
	return 0, false
}

// ResolveFrames returns the position of the first captured frame that
// belongs to the submitted script.
func ResolveFrames(frames []goja.StackFrame) (Position, bool) {
	for i := range frames {
		if frames[i].SrcName() != ScriptName {
			continue
		}
		p := frames[i].Position()
		if p.Line <= 0 {
			continue
		}
		return Position{Line: p.Line, Column: p.Column}, true
	}
	return Position{}, false
}

// LastNonBlankLine returns the 1-based index of the last line of source that
// is not blank, or 0 when every line is blank. It approximates the line of
// the script's final statement.
func LastNonBlankLine(source string) int {
	lines := strings.Split(source, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return i + 1
		}
	}
	return 0
}
