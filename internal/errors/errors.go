// Package errors defines the service error taxonomy shared by the registry,
// ledgers and renderer. Every failure a mutating operation can report maps to
// one of these coded errors so the HTTP surface and callers can react without
// string matching.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Is and As re-export the standard helpers so call sites importing this
// package do not also need the standard library errors package.
func Is(err, target error) bool        { return stderrors.Is(err, target) }
func As(err error, target any) bool    { return stderrors.As(err, target) }
func New(text string) error            { return stderrors.New(text) }
func Wrap(err error, msg string) error { return fmt.Errorf("%s: %w", msg, err) }

// Kind groups coded errors into the broad failure categories callers care
// about when deciding how to react.
type Kind string

const (
	KindNotFound      Kind = "not_found"
	KindAuthorization Kind = "authorization_failure"
	KindStateConflict Kind = "state_conflict"
	KindValidation    Kind = "validation_failure"
	KindPayment       Kind = "payment_failure"
)

// ServiceError is a coded, kind-classified error. Two ServiceErrors compare
// equal under errors.Is when their codes match, so wrapped instances still
// match their sentinel.
type ServiceError struct {
	Kind       Kind
	Code       string
	Message    string
	HTTPStatus int
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches by code so fmt.Errorf-wrapped errors compare against sentinels.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Sentinel errors, one per distinct failure the registry operations report.
var (
	ErrTemplateNotFound = &ServiceError{Kind: KindNotFound, Code: "TemplateNotFound", Message: "template does not exist", HTTPStatus: http.StatusNotFound}
	ErrInstanceNotFound = &ServiceError{Kind: KindNotFound, Code: "InstanceNotFound", Message: "component instance does not exist", HTTPStatus: http.StatusNotFound}
	ErrAvatarNotFound   = &ServiceError{Kind: KindNotFound, Code: "AvatarNotFound", Message: "avatar does not exist", HTTPStatus: http.StatusNotFound}
	ErrAccountNotFound  = &ServiceError{Kind: KindNotFound, Code: "AccountNotFound", Message: "sub-account does not exist", HTTPStatus: http.StatusNotFound}

	ErrNotCreator    = &ServiceError{Kind: KindAuthorization, Code: "NotCreator", Message: "caller is not the template creator", HTTPStatus: http.StatusForbidden}
	ErrNotAuthorized = &ServiceError{Kind: KindAuthorization, Code: "NotAuthorized", Message: "caller is not authorized for this avatar", HTTPStatus: http.StatusForbidden}

	ErrAlreadyEquipped  = &ServiceError{Kind: KindStateConflict, Code: "AlreadyEquipped", Message: "instance is already equipped", HTTPStatus: http.StatusConflict}
	ErrNotEquipped      = &ServiceError{Kind: KindStateConflict, Code: "NotEquipped", Message: "instance is not equipped", HTTPStatus: http.StatusConflict}
	ErrInstanceEquipped = &ServiceError{Kind: KindStateConflict, Code: "InstanceEquipped", Message: "instance is equipped and cannot be transferred", HTTPStatus: http.StatusConflict}
	ErrSlotEmpty        = &ServiceError{Kind: KindStateConflict, Code: "SlotEmpty", Message: "no component equipped in this slot", HTTPStatus: http.StatusConflict}
	ErrTemplateInactive = &ServiceError{Kind: KindStateConflict, Code: "TemplateInactive", Message: "template is not active", HTTPStatus: http.StatusConflict}
	ErrSupplyExhausted  = &ServiceError{Kind: KindStateConflict, Code: "SupplyExhausted", Message: "template supply is exhausted", HTTPStatus: http.StatusConflict}

	ErrTypeMismatch   = &ServiceError{Kind: KindValidation, Code: "TypeMismatch", Message: "component type does not match slot type", HTTPStatus: http.StatusBadRequest}
	ErrInvalidSupply  = &ServiceError{Kind: KindValidation, Code: "InvalidSupply", Message: "max supply must be greater than zero", HTTPStatus: http.StatusBadRequest}
	ErrInvalidPayload = &ServiceError{Kind: KindValidation, Code: "InvalidPayload", Message: "template payload must not be empty", HTTPStatus: http.StatusBadRequest}
	ErrNameTooLong    = &ServiceError{Kind: KindValidation, Code: "NameTooLong", Message: "avatar name exceeds 50 characters", HTTPStatus: http.StatusBadRequest}

	ErrInsufficientPayment = &ServiceError{Kind: KindPayment, Code: "InsufficientPayment", Message: "payment does not cover the mint price", HTTPStatus: http.StatusPaymentRequired}
	ErrIncorrectPayment    = &ServiceError{Kind: KindPayment, Code: "IncorrectPayment", Message: "payment must match the total cost exactly", HTTPStatus: http.StatusPaymentRequired}
	ErrInsufficientBalance = &ServiceError{Kind: KindPayment, Code: "InsufficientBalance", Message: "payee balance does not cover the withdrawal", HTTPStatus: http.StatusPaymentRequired}
)

// StatusFor returns the HTTP status for an error, walking the wrap chain.
// Unknown errors map to 500.
func StatusFor(err error) int {
	var svcErr *ServiceError
	if As(err, &svcErr) {
		return svcErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// CodeFor returns the taxonomy code for an error, or "Internal" when the
// error is not part of the taxonomy.
func CodeFor(err error) string {
	var svcErr *ServiceError
	if As(err, &svcErr) {
		return svcErr.Code
	}
	return "Internal"
}
