package errors

// ErrorBuilder provides a fluent API for creating ClassifiedError instances.
type ErrorBuilder struct {
	category ErrorCategory
	code     ErrorCode
	severity ErrorSeverity
	retry    RetryStrategy
	message  string
	cause    error
	context  ErrorContext
}

// NewError creates a new ErrorBuilder with the specified category and message.
func NewError(category ErrorCategory, message string) *ErrorBuilder {
	return &ErrorBuilder{
		category: category,
		severity: SeverityError,
		retry:    RetryNever,
		message:  message,
		context:  make(ErrorContext),
	}
}

// WrapError creates a new ErrorBuilder that wraps an existing error.
func WrapError(err error, category ErrorCategory, message string) *ErrorBuilder {
	b := NewError(category, message)
	b.cause = err
	return b
}

// WithCause sets the wrapped error.
func (b *ErrorBuilder) WithCause(err error) *ErrorBuilder {
	b.cause = err
	return b
}

// WithCode sets the failure code.
func (b *ErrorBuilder) WithCode(code ErrorCode) *ErrorBuilder {
	b.code = code
	return b
}

// WithSeverity sets the error severity.
func (b *ErrorBuilder) WithSeverity(severity ErrorSeverity) *ErrorBuilder {
	b.severity = severity
	return b
}

// WithRetry sets the retry strategy.
func (b *ErrorBuilder) WithRetry(strategy RetryStrategy) *ErrorBuilder {
	b.retry = strategy
	return b
}

// WithContext adds a context key-value pair.
func (b *ErrorBuilder) WithContext(key string, value any) *ErrorBuilder {
	b.context = b.context.Set(key, value)
	return b
}

// Fatal sets the severity to fatal.
func (b *ErrorBuilder) Fatal() *ErrorBuilder {
	return b.WithSeverity(SeverityFatal)
}

// Warning sets the severity to warning.
func (b *ErrorBuilder) Warning() *ErrorBuilder {
	return b.WithSeverity(SeverityWarning)
}

// UserAction sets the retry strategy to require user action.
func (b *ErrorBuilder) UserAction() *ErrorBuilder {
	return b.WithRetry(RetryUserAction)
}

// Build creates the final ClassifiedError.
func (b *ErrorBuilder) Build() *ClassifiedError {
	return &ClassifiedError{
		category: b.category,
		code:     b.code,
		severity: b.severity,
		retry:    b.retry,
		message:  b.message,
		cause:    b.cause,
		context:  b.context,
	}
}

// Convenience constructors for common error patterns

// ConfigError creates a configuration error.
func ConfigError(message string) *ErrorBuilder {
	return NewError(CategoryConfig, message).Fatal().UserAction()
}

// ValidationError creates a validation error.
func ValidationError(message string) *ErrorBuilder {
	return NewError(CategoryValidation, message).Fatal()
}

// DirectoryUnavailable reports a fragment directory that is missing or unreadable.
func DirectoryUnavailable(message string) *ErrorBuilder {
	return NewError(CategorySource, message).WithCode(CodeDirectoryUnavailable).Fatal().UserAction()
}

// FragmentUnreadable reports a single fragment that could not be read. It never
// aborts a build on its own.
func FragmentUnreadable(message string) *ErrorBuilder {
	return NewError(CategorySource, message).WithCode(CodeFragmentUnreadable).Warning().WithRetry(RetryNextBuild)
}

// CyclicVariable reports a variable whose value refers back to itself.
func CyclicVariable(message string) *ErrorBuilder {
	return NewError(CategoryVariables, message).WithCode(CodeCyclicVariable).UserAction()
}

// UndefinedVariable reports references to variables that no fragment defines.
func UndefinedVariable(message string) *ErrorBuilder {
	return NewError(CategoryVariables, message).WithCode(CodeUndefinedVariable).UserAction()
}

// WriteFailed reports a target file that could not be replaced.
func WriteFailed(message string) *ErrorBuilder {
	return NewError(CategoryOutput, message).WithCode(CodeWriteFailed).WithRetry(RetryNextBuild)
}

// WatchInitFailed reports a source directory that cannot be monitored.
func WatchInitFailed(message string) *ErrorBuilder {
	return NewError(CategoryWatch, message).WithCode(CodeWatchInitFailed).Fatal()
}

// AlreadyRunning reports a single-instance lock held by another live process.
func AlreadyRunning(message string) *ErrorBuilder {
	return NewError(CategoryLock, message).WithCode(CodeAlreadyRunning).Fatal().UserAction()
}

// HookError creates a post-build hook error. Hooks never fail a build.
func HookError(message string) *ErrorBuilder {
	return NewError(CategoryHook, message).Warning()
}

// RuntimeError creates a runtime error.
func RuntimeError(message string) *ErrorBuilder {
	return NewError(CategoryRuntime, message).Fatal()
}

// DaemonError creates a daemon error.
func DaemonError(message string) *ErrorBuilder {
	return NewError(CategoryDaemon, message).Fatal()
}

// InternalError creates an internal error.
func InternalError(message string) *ErrorBuilder {
	return NewError(CategoryInternal, message).Fatal()
}
