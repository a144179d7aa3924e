// Package domain defines the error and diagnostic taxonomy shared by the annotation engine.
package domain

import (
	"fmt"
	"strings"
)

// SchemaParseError indicates a malformed schema document.
type SchemaParseError struct {
	Path    string
	Message string
}

func (e *SchemaParseError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("parse schema %s: %s", e.Path, e.Message)
	}
	return "parse schema: " + e.Message
}

// UnsupportedFormatError indicates a source file whose extension has no reader.
type UnsupportedFormatError struct {
	Path string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("not a known file format: %s", e.Path)
}

// TransformError indicates a derivation expression failed. Column is empty for
// document-level preprocessing/postprocessing failures.
type TransformError struct {
	Column string
	Stage  string
	Err    error
}

func (e *TransformError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("transform of column %q failed: %v", e.Column, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// ConcatenationError indicates sources whose columns cannot be stacked.
type ConcatenationError struct {
	Column  string
	Message string
}

func (e *ConcatenationError) Error() string {
	return fmt.Sprintf("cannot concatenate column %q: %s", e.Column, e.Message)
}

// ReadError indicates a source file could not be read.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string { return fmt.Sprintf("read %s: %v", e.Path, e.Err) }

func (e *ReadError) Unwrap() error { return e.Err }

// MigrationConflictError indicates a schema change the reconciler refuses to apply
// because the translate and categories edits contradict each other.
type MigrationConflictError struct {
	Column    string
	Uncovered []string
}

func (e *MigrationConflictError) Error() string {
	return fmt.Sprintf("column %q: translate and categories changed inconsistently (values %s not in new categories)",
		e.Column, strings.Join(e.Uncovered, ", "))
}

// ErrSchemaParse creates a SchemaParseError with a formatted message.
func ErrSchemaParse(path, format string, args ...interface{}) *SchemaParseError {
	return &SchemaParseError{Path: path, Message: fmt.Sprintf(format, args...)}
}

// ErrConcatenation creates a ConcatenationError with a formatted message.
func ErrConcatenation(column, format string, args ...interface{}) *ConcatenationError {
	return &ConcatenationError{Column: column, Message: fmt.Sprintf(format, args...)}
}
