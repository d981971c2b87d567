package core

// ResultVariable is the global every analysis snippet assigns its output to.
const ResultVariable = "result"

// Snippet is generated analysis code plus the dataset it was generated against.
// Snippets are values: regenerating produces a new Snippet, nothing patches one.
type Snippet struct {
	code        string
	datasetPath string
}

// NewSnippet creates a snippet. datasetPath may be empty for hand-supplied code.
func NewSnippet(code, datasetPath string) Snippet {
	return Snippet{code: code, datasetPath: datasetPath}
}

// Code returns the snippet source.
func (s Snippet) Code() string {
	return s.code
}

// DatasetPath returns the dataset the snippet was generated for, or "".
func (s Snippet) DatasetPath() string {
	return s.datasetPath
}
