// Package render prints run output next to the source lines that produced it.
package render

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/itsmostafa/runpad/internal/sandbox"
	"github.com/itsmostafa/runpad/internal/session"
)

// KindReturn marks the entry holding a run's completion value.
const KindReturn = "return"

// Entry is one rendered item attached to a source line.
type Entry struct {
	// Kind is a console method name or KindReturn
	Kind   string
	Line   int
	Values []any
}

// Text formats the entry's values the way the console would print them.
func (e Entry) Text() string {
	parts := make([]string, len(e.Values))
	for i, v := range e.Values {
		parts[i] = FormatValue(v)
	}
	return strings.Join(parts, " ")
}

// FormatValue renders a snapshotted value: undefined and null by name,
// strings raw, numbers in shortest form, everything else as indented JSON.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case sandbox.Undefined:
		return "undefined"
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case float64:
		switch {
		case math.IsNaN(val):
			return "NaN"
		case math.IsInf(val, 1):
			return "Infinity"
		case math.IsInf(val, -1):
			return "-Infinity"
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// Entries builds the entry list for one run: its console output in emission
// order, then the completion value or the failure.
func Entries(outputs []session.ConsoleOutput, resp session.RunResponse) []Entry {
	entries := make([]Entry, 0, len(outputs)+1)
	for _, out := range outputs {
		if out.RunID != resp.RunID {
			continue
		}
		entries = append(entries, Entry{Kind: out.Method, Line: out.Line, Values: out.Data})
	}
	switch {
	case !resp.Success:
		entries = append(entries, Entry{Kind: string(sandbox.KindError), Line: resp.Line, Values: []any{resp.Error}})
	case !resp.Undefined:
		entries = append(entries, Entry{Kind: KindReturn, Line: resp.Line, Values: []any{resp.Result}})
	}
	return entries
}

// byLine groups entries by line, keeping order within each line. Entries
// with no line, or a line past the end of the source, land under key 0.
func byLine(entries []Entry, lines int) map[int][]Entry {
	grouped := make(map[int][]Entry)
	for _, e := range entries {
		line := e.Line
		if line < 1 || line > lines {
			line = 0
		}
		grouped[line] = append(grouped[line], e)
	}
	return grouped
}

// Collector is a session subscriber that buffers console output.
type Collector struct {
	mu      sync.Mutex
	outputs []session.ConsoleOutput
}

// Add records out. It has the signature Session.Subscribe expects.
func (c *Collector) Add(out session.ConsoleOutput) {
	c.mu.Lock()
	c.outputs = append(c.outputs, out)
	c.mu.Unlock()
}

// Take returns the buffered output of runID and forgets it.
func (c *Collector) Take(runID string) []session.ConsoleOutput {
	c.mu.Lock()
	defer c.mu.Unlock()

	var taken []session.ConsoleOutput
	kept := c.outputs[:0]
	for _, out := range c.outputs {
		if out.RunID == runID {
			taken = append(taken, out)
		} else {
			kept = append(kept, out)
		}
	}
	c.outputs = kept
	return taken
}
