package serrors

import "fmt"

// Base is a coded error. Code is a stable machine-readable identifier,
// Message is the developer-facing description, LocaleKey is an optional
// translation key for user-facing surfaces.
type Base struct {
	Code      string
	Message   string
	LocaleKey string
}

func NewError(code, message, localeKey string) *Base {
	return &Base{
		Code:      code,
		Message:   message,
		LocaleKey: localeKey,
	}
}

func (e *Base) Error() string {
	return e.Message
}

// WithDetails returns a new error wrapping e with extra context appended.
func (e *Base) WithDetails(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{e}, args...)...)
}
