package core

// DefaultPreviewLimit caps the rows serialized into a result preview.
const DefaultPreviewLimit = 50

// ExecutionResult is the outcome of running one snippet. It is built once per
// execution call and never cached.
type ExecutionResult struct {
	ResultPreview []map[string]any `json:"result_preview"`
	Columns       []string         `json:"columns"`
	Stdout        string           `json:"stdout"`
	Error         *string          `json:"error"`
}

// Failed reports whether the execution produced an error.
func (r *ExecutionResult) Failed() bool {
	return r != nil && r.Error != nil
}

// FailedExecution builds an error-only result from a tagged error.
// The preview and columns stay nil so error and preview never coexist.
func FailedExecution(err error, stdout string) *ExecutionResult {
	msg := err.Error()
	return &ExecutionResult{Stdout: stdout, Error: &msg}
}

// Response is the frozen eight-field shape returned by a full analysis.
type Response struct {
	Intent        *Intent          `json:"intent"`
	Code          string           `json:"code"`
	TargetFile    *string          `json:"target_file"`
	UsedColumns   []string         `json:"used_columns"`
	ResultPreview []map[string]any `json:"result_preview"`
	Columns       []string         `json:"columns"`
	Stdout        string           `json:"stdout"`
	Error         *string          `json:"error"`
}

// Fail records err on the response and clears any preview data.
func (r *Response) Fail(err error) {
	msg := err.Error()
	r.Error = &msg
	r.ResultPreview = nil
	r.Columns = nil
}

// ErrorCode returns the taxonomy tag carried by the response error, if any.
func (r *Response) ErrorCode() ErrorCode {
	if r.Error == nil {
		return ""
	}
	msg := *r.Error
	for _, code := range []ErrorCode{
		ErrUpstreamUnavailable,
		ErrMalformedIntent,
		ErrNoMatch,
		ErrGeneration,
		ErrExecutionTimeout,
		ErrExecutionException,
	} {
		c := string(code)
		if msg == c || (len(msg) > len(c) && msg[:len(c)+1] == c+":") {
			return code
		}
	}
	return ""
}
