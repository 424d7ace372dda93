package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifiedError(t *testing.T) {
	t.Run("Basic error creation", func(t *testing.T) {
		err := NewError(CategoryConfig, "invalid configuration").
			WithSeverity(SeverityFatal).
			WithContext("file", "i3configger.yaml").
			Build()

		if err.Category() != CategoryConfig {
			t.Errorf("expected category %s, got %s", CategoryConfig, err.Category())
		}
		if err.Severity() != SeverityFatal {
			t.Errorf("expected severity %s, got %s", SeverityFatal, err.Severity())
		}
		if err.Message() != "invalid configuration" {
			t.Errorf("expected message 'invalid configuration', got %s", err.Message())
		}

		file, exists := err.Context().GetString("file")
		if !exists || file != "i3configger.yaml" {
			t.Errorf("expected context file=i3configger.yaml, got %v", file)
		}
	})

	t.Run("Codes survive wrapping", func(t *testing.T) {
		base := CyclicVariable("cyclic variable reference").Build()
		wrapped := fmt.Errorf("rebuild: %w", base)

		if !HasCode(wrapped, CodeCyclicVariable) {
			t.Error("expected wrapped error to carry cyclic_variable code")
		}
		if GetCategory(wrapped) != CategoryVariables {
			t.Errorf("expected variables category, got %s", GetCategory(wrapped))
		}
		if !errors.Is(wrapped, CyclicVariable("other message").Build()) {
			t.Error("expected errors.Is to match on category and code")
		}
		if errors.Is(wrapped, UndefinedVariable("x").Build()) {
			t.Error("expected different codes not to match")
		}
	})

	t.Run("Fragment unreadable is not fatal", func(t *testing.T) {
		err := FragmentUnreadable("cannot read fragment").Build()
		if err.IsFatal() {
			t.Error("expected fragment_unreadable to be non-fatal")
		}
		if !err.CanRetry() {
			t.Error("expected fragment_unreadable to be retried by the next rebuild")
		}
	})

	t.Run("WithContext does not mutate the original", func(t *testing.T) {
		orig := WriteFailed("write failed").WithContext("path", "/a").Build()
		derived := orig.WithContext("path", "/b")

		if p, _ := orig.Context().GetString("path"); p != "/a" {
			t.Errorf("original context mutated: %s", p)
		}
		if p, _ := derived.Context().GetString("path"); p != "/b" {
			t.Errorf("expected derived path /b, got %s", p)
		}
	})

	t.Run("Unwrap exposes cause", func(t *testing.T) {
		cause := errors.New("no space left on device")
		err := WrapError(cause, CategoryOutput, "write temp file").WithCode(CodeWriteFailed).Build()
		if !errors.Is(err, cause) {
			t.Error("expected errors.Is to find the cause")
		}
		if err.Error() != "[output:error] write temp file: no space left on device" {
			t.Errorf("unexpected message %q", err.Error())
		}
	})

	t.Run("Unclassified defaults", func(t *testing.T) {
		err := errors.New("plain")
		if IsClassified(err) {
			t.Error("plain error must not be classified")
		}
		if GetCode(err) != CodeNone {
			t.Error("expected CodeNone for plain error")
		}
		if GetSeverity(err) != SeverityError {
			t.Error("expected SeverityError for plain error")
		}
	})
}
