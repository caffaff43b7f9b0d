package schema

import (
	"fmt"
	"strings"
)

// ValidationIssue is one problem found in a graph. Node is the name of the
// node the issue is about; graph-wide issues (shape, cycles) leave it empty.
type ValidationIssue struct {
	Path    string `json:"path"`
	Node    string `json:"node,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// String renders the issue as "path: [CODE] message".
func (i ValidationIssue) String() string {
	return fmt.Sprintf("%s: [%s] %s", i.Path, i.Code, i.Message)
}

// ValidationResult collects the issues of one validation pass.
// Only errors make a graph unrunnable.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// AddError records a graph-wide error.
func (r *ValidationResult) AddError(path, code, message string) {
	r.AddNodeError("", path, code, message)
}

// AddWarning records a graph-wide warning.
func (r *ValidationResult) AddWarning(path, code, message string) {
	r.AddNodeWarning("", path, code, message)
}

// AddNodeError records an error about the named node.
func (r *ValidationResult) AddNodeError(node, path, code, message string) {
	r.Errors = append(r.Errors, ValidationIssue{Path: path, Node: node, Code: code, Message: message})
}

// AddNodeWarning records a warning about the named node.
func (r *ValidationResult) AddNodeWarning(node, path, code, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{Path: path, Node: node, Code: code, Message: message})
}

// Merge appends other's issues after r's.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// InvalidNodes returns the names of nodes with at least one error, in the
// order they were first reported.
func (r *ValidationResult) InvalidNodes() []string {
	var names []string
	seen := make(map[string]bool)
	for _, issue := range r.Errors {
		if issue.Node == "" || seen[issue.Node] {
			continue
		}
		seen[issue.Node] = true
		names = append(names, issue.Node)
	}
	return names
}

// ToError returns nil for a valid result. Otherwise it returns a
// VALIDATION_ERROR listing every error; when all errors concern one node the
// error carries that node's name.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	msg := r.Errors[0].String()
	if len(r.Errors) > 1 {
		lines := make([]string, len(r.Errors))
		for i, issue := range r.Errors {
			lines[i] = issue.String()
		}
		msg = fmt.Sprintf("%d validation errors: %s", len(r.Errors), strings.Join(lines, "; "))
	}

	fe := NewError(ErrCodeValidation, msg).WithDetails(map[string]any{
		"errors":   r.Errors,
		"warnings": r.Warnings,
	})
	if invalid := r.InvalidNodes(); len(invalid) == 1 && r.allAbout(invalid[0]) {
		fe.WithNode(invalid[0])
	}
	return fe
}

func (r *ValidationResult) allAbout(node string) bool {
	for _, issue := range r.Errors {
		if issue.Node != node {
			return false
		}
	}
	return true
}
