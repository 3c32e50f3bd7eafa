package session

import (
	"errors"

	"github.com/itsmostafa/runpad/internal/deps"
	"github.com/itsmostafa/runpad/internal/sandbox"
)

// RunResponse is the reply to a run request.
type RunResponse struct {
	RunID   string `json:"runId"`
	Success bool   `json:"success"`

	// Result is the completion value. It is absent for null, for undefined
	// (see Undefined) and for failures.
	Result any `json:"result,omitempty"`

	Undefined bool   `json:"undefined,omitempty"`
	Error     string `json:"error,omitempty"`

	// Line is the failing line on error, or the line the result belongs to
	// on success.
	Line int `json:"line,omitempty"`

	// Superseded is set when a newer run cancelled this one
	Superseded bool `json:"superseded,omitempty"`
}

// PackageResponse is the reply to install and uninstall requests.
type PackageResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// PackagesResponse is the reply to a package listing. A successful listing
// always carries a packages object, empty when nothing is installed.
type PackagesResponse struct {
	Success  bool              `json:"success"`
	Packages map[string]string `json:"packages"`
	Error    string            `json:"error,omitempty"`
}

// ConsoleOutput is one pushed console call.
type ConsoleOutput struct {
	RunID     string `json:"runId"`
	Method    string `json:"method"`
	Data      []any  `json:"data"`
	Line      int    `json:"line,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func consoleOutput(ev sandbox.OutputEvent) ConsoleOutput {
	data := ev.Args
	if data == nil {
		data = []any{}
	}
	return ConsoleOutput{
		RunID:     ev.RunID,
		Method:    string(ev.Kind),
		Data:      data,
		Line:      ev.Line,
		Timestamp: ev.Timestamp,
	}
}

func runResponse(res sandbox.ExecutionResult, source string) RunResponse {
	if !res.Success {
		return RunResponse{
			RunID: res.RunID,
			Error: res.ErrorMessage,
			Line:  res.Line,
		}
	}
	resp := RunResponse{
		RunID:     res.RunID,
		Success:   true,
		Result:    res.ReturnValue,
		Undefined: res.Undefined,
	}
	if !res.Undefined {
		resp.Line = sandbox.LastNonBlankLine(source)
	}
	return resp
}

// errorText prefers the package manager's own diagnostic over the wrapped
// error chain.
func errorText(err error) string {
	var ie *deps.InstallError
	if errors.As(err, &ie) && ie.Output != "" {
		return ie.Output
	}
	return err.Error()
}
