package errors

// Error is a const-compatible error type. declaring error values as typed
// string constants keeps them comparable and immutable.
type Error string

func (e Error) Error() string {
	return string(e)
}
