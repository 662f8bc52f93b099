package kernel

// Error is the error type returned by every kernel package. Errors are
// declared once as package-level pointers and compared by identity; the
// translation code runs before a heap exists and cannot call errors.New.
type Error struct {
	// Module names the package or subsystem that reported the error. It
	// is printed in square brackets by kfmt.Panic.
	Module string

	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}
