package contentapi

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotConfigured is returned when no automation endpoint is configured.
var ErrNotConfigured = errors.New("content automation service not configured")

// Kind classifies an Error.
type Kind string

const (
	KindConfig    Kind = "config"
	KindTransport Kind = "transport"
	KindHTTP      Kind = "http"
	KindPayload   Kind = "payload"
)

// Human-readable messages surfaced to editors.
const (
	MsgNotConfigured  = "Serviço de automação não configurado. Defina LESSONSYNC_AUTOMATION_URL."
	MsgInvalidPayload = "Resposta inválida do serviço de automação."
	msgHTTPFormat     = "Falha ao acessar o serviço de automação (%d). %s"
	msgTransport      = "Não foi possível conectar ao serviço de automação."
)

// Error is a failed call to the automation service. Error() returns a
// sentence fit for display; Cause keeps the underlying error.
type Error struct {
	Op      string
	Kind    Kind
	Status  int
	Message string
	Cause   error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func configError(op string) *Error {
	return &Error{Op: op, Kind: KindConfig, Message: MsgNotConfigured, Cause: ErrNotConfigured}
}

func transportError(op string, cause error) *Error {
	return &Error{
		Op:      op,
		Kind:    KindTransport,
		Message: strings.TrimSpace(msgTransport + " " + cause.Error()),
		Cause:   cause,
	}
}

func httpError(op string, status int, detail string) *Error {
	return &Error{
		Op:      op,
		Kind:    KindHTTP,
		Status:  status,
		Message: strings.TrimSpace(fmt.Sprintf(msgHTTPFormat, status, detail)),
		Cause:   fmt.Errorf("%s: unexpected status %d", op, status),
	}
}

func payloadError(op string, cause error) *Error {
	return &Error{Op: op, Kind: KindPayload, Message: MsgInvalidPayload, Cause: cause}
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
