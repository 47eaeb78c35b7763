// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"strings"
	"testing"

	"github.com/orbisgis/framework/pkg/module"
)

func TestActionableError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      *ActionableError
		expected string
	}{
		{
			name:     "operation only",
			err:      &ActionableError{Operation: "load manifest"},
			expected: "failed to load manifest",
		},
		{
			name:     "operation with resource",
			err:      &ActionableError{Operation: "load manifest", Resource: "./archetype.properties"},
			expected: "failed to load manifest: ./archetype.properties",
		},
		{
			name:     "operation with cause",
			err:      &ActionableError{Operation: "parse config", Cause: errors.New("syntax error at line 5")},
			expected: "failed to parse config: syntax error at line 5",
		},
		{
			name: "full context",
			err: &ActionableError{
				Operation: "load manifest",
				Resource:  "./archetype.properties",
				Cause:     errors.New("file not found"),
			},
			expected: "failed to load manifest: ./archetype.properties: file not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestActionableError_Unwrap(t *testing.T) {
	t.Parallel()

	cause := module.NewLifecycleError(module.OpStart, "org.core", module.ErrInvalidTransition)
	err := WrapWithContext(cause, "start module", "org:core")

	if !errors.Is(err, module.ErrStartFailed) || !errors.Is(err, module.ErrInvalidTransition) {
		t.Errorf("errors.Is through ActionableError failed: %v", err)
	}
	if (&ActionableError{Operation: "test"}).Unwrap() != nil {
		t.Error("Unwrap() should return nil when no cause")
	}
	if WrapWithContext(nil, "test", "resource") != nil {
		t.Error("WrapWithContext(nil) should return nil")
	}
	if got := err.Issue(); got == nil || got.Id() != LifecycleFailedId {
		t.Errorf("Issue() = %v, want the lifecycle issue", got)
	}
}

func TestActionableError_Format(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      *ActionableError
		verbose  bool
		contains []string
		excludes []string
	}{
		{
			name: "suggestions",
			err: &ActionableError{
				Operation:   "provision workspace",
				Resource:    "./archetype.properties",
				Suggestions: []string{"Check the bundle entries", "Run with --verbose"},
			},
			contains: []string{
				"failed to provision workspace",
				"• Check the bundle entries",
				"• Run with --verbose",
			},
		},
		{
			name:     "no error chain in non-verbose",
			err:      &ActionableError{Operation: "parse config", Cause: errors.New("syntax error")},
			contains: []string{"failed to parse config: syntax error"},
			excludes: []string{"Error chain:"},
		},
		{
			name: "nested error chain verbose",
			err: &ActionableError{
				Operation: "install module",
				Cause: &ActionableError{
					Operation: "download artifact",
					Cause:     errors.New("connection refused"),
				},
			},
			verbose: true,
			contains: []string{
				"Error chain:",
				"1. failed to download artifact: connection refused",
				"2. connection refused",
			},
		},
		{
			name: "joined causes verbose",
			err: &ActionableError{
				Operation: "start module",
				Cause:     module.NewLifecycleError(module.OpStart, "org.core", errors.New("activator panicked")),
			},
			verbose: true,
			contains: []string{
				"1. start org.core: activator panicked",
				"2. start failed",
				"3. activator panicked",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := tt.err.Format(tt.verbose)
			for _, s := range tt.contains {
				if !strings.Contains(got, s) {
					t.Errorf("Format() missing %q\ngot:\n%s", s, got)
				}
			}
			for _, s := range tt.excludes {
				if strings.Contains(got, s) {
					t.Errorf("Format() should not contain %q\ngot:\n%s", s, got)
				}
			}
		})
	}
}

func TestErrorContext_Build(t *testing.T) {
	t.Parallel()

	if NewErrorContext().WithResource("some/path").Build() != nil {
		t.Error("Build() without an operation should return nil")
	}
	if NewErrorContext().BuildError() != nil {
		t.Error("BuildError() without an operation should return nil")
	}

	err := NewErrorContext().
		WithOperation("load config").
		WithResource("/etc/orbisgis/config.cue").
		WithSuggestion("Check syntax").
		WithSuggestions("Verify permissions", "Run 'orbisgis config init'").
		Wrap(errors.New("parse error")).
		Build()
	if err.Operation != "load config" || err.Resource != "/etc/orbisgis/config.cue" {
		t.Errorf("Build() = %+v", err)
	}
	if !err.HasSuggestions() || len(err.Suggestions) != 3 {
		t.Errorf("Suggestions = %v", err.Suggestions)
	}
	if err.Cause == nil || err.Cause.Error() != "parse error" {
		t.Errorf("Cause = %v", err.Cause)
	}

	var ae *ActionableError
	if !errors.As(NewErrorContext().WithOperation("test").BuildError(), &ae) {
		t.Error("BuildError() should return *ActionableError")
	}
	if NewActionableError("test").HasSuggestions() {
		t.Error("HasSuggestions() should be false without suggestions")
	}
}

func TestErrorContext_Reuse(t *testing.T) {
	t.Parallel()

	ctx := NewErrorContext().
		WithOperation("fetch artifact").
		WithResource("https://repo.example.org/core.pkg")

	err1 := ctx.Wrap(errors.New("error 1")).Build()
	err2 := ctx.Wrap(errors.New("error 2")).Build()

	if err1.Cause.Error() == err2.Cause.Error() {
		t.Error("reused context should allow different causes")
	}
	if err1.Operation != err2.Operation {
		t.Error("reused context should preserve operation")
	}
}
