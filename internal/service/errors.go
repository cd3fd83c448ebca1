package service

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidInput     = errors.New("invalid input")
	ErrConflict         = errors.New("conflict")
	ErrTransaction      = errors.New("transaction failed")
)

// Error is a classified failure. Message is shown to users in Persian, Detail
// is the English explanation for clients and logs.
type Error struct {
	Kind    error
	Message string
	Detail  string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func newError(kind error, message, detail string) *Error {
	return &Error{Kind: kind, Message: message, Detail: detail}
}

func wrapError(kind error, message, detail string, err error) *Error {
	return &Error{Kind: kind, Message: message, Detail: detail, Err: err}
}

func invalid(message, detail string) *Error {
	return newError(ErrInvalidInput, message, detail)
}

func notFound(message, detail string) *Error {
	return newError(ErrNotFound, message, detail)
}

func denied() *Error {
	return newError(ErrPermissionDenied, "شما مجوز انجام این عملیات را ندارید", "permission denied")
}

var defaultMessages = map[error]string{
	ErrNotFound:         "مورد درخواستی یافت نشد",
	ErrPermissionDenied: "شما مجوز انجام این عملیات را ندارید",
	ErrUnauthorized:     "احراز هویت نامعتبر است",
	ErrInvalidInput:     "اطلاعات ارسال شده نامعتبر است",
	ErrConflict:         "این عملیات با وضعیت فعلی داده‌ها در تعارض است",
	ErrTransaction:      "خطا در ثبت اطلاعات",
}

// Describe returns the Persian message and English detail for err. Errors
// that are not classified yield ok == false.
func Describe(err error) (message, detail string, ok bool) {
	var classified *Error
	if errors.As(err, &classified) {
		message = classified.Message
		if message == "" {
			message = defaultMessages[classified.Kind]
		}
		return message, classified.Detail, true
	}
	for kind, msg := range defaultMessages {
		if errors.Is(err, kind) {
			return msg, err.Error(), true
		}
	}
	return "", "", false
}
