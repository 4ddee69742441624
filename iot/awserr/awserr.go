/*
Package awserr holds the error codes of the AWS IoT library.

Every failing operation of the client and of the Greengrass discovery returns an *Error
which carries one of the codes below. Use errors.Is with the exported sentinels to test
for a particular failure:

	if errors.Is(err, awserr.ErrInvalidRootCA) {
		...
	}
*/
package awserr

import (
	"errors"
	"fmt"
)

// Code is a library error code. The numeric values are stable.
type Code uint32

// Base is the module base of all library codes
const Base Code = 0x0a00

// all library error codes
const (
	ConnectFailed       Code = Base + 1
	InvalidRootCA       Code = Base + 2
	InvalidClientKey    Code = Base + 3
	PublishFailed       Code = Base + 4
	SubscribeFailed     Code = Base + 5
	UnsubscribeFailed   Code = Base + 6
	DisconnectFailed    Code = Base + 7
	InvalidYieldTimeout Code = Base + 8
	HTTPFailure         Code = Base + 9
	GGDiscoveryFailed   Code = Base + 10
	Disconnected        Code = Base + 11
	BufferOverflow      Code = Base + 12
	InvalidEndpoint     Code = Base + 13
)

var codeNames = map[Code]string{
	ConnectFailed:       "connect failed",
	InvalidRootCA:       "invalid root CA",
	InvalidClientKey:    "invalid client key",
	PublishFailed:       "publish failed",
	SubscribeFailed:     "subscribe failed",
	UnsubscribeFailed:   "unsubscribe failed",
	DisconnectFailed:    "disconnect failed",
	InvalidYieldTimeout: "invalid yield timeout",
	HTTPFailure:         "http failure",
	GGDiscoveryFailed:   "greengrass discovery failed",
	Disconnected:        "disconnected",
	BufferOverflow:      "buffer overflow",
	InvalidEndpoint:     "invalid endpoint",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("unknown error 0x%x", uint32(c))
}

// Error is the error type returned by the library.
type Error struct {
	Code Code
	// Op is the operation that failed, e.g. "connect"
	Op string
	// Err is the underlying cause, may be nil
	Err error
}

// New returns a new *Error
func New(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// Errorf returns a new *Error with a formatted cause
func Errorf(code Code, op string, format string, args ...interface{}) *Error {
	return &Error{Code: code, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	msg := e.Code.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code of err, or 0 if err does not carry one
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// sentinels for errors.Is
var (
	ErrConnectFailed       = &Error{Code: ConnectFailed}
	ErrInvalidRootCA       = &Error{Code: InvalidRootCA}
	ErrInvalidClientKey    = &Error{Code: InvalidClientKey}
	ErrPublishFailed       = &Error{Code: PublishFailed}
	ErrSubscribeFailed     = &Error{Code: SubscribeFailed}
	ErrUnsubscribeFailed   = &Error{Code: UnsubscribeFailed}
	ErrDisconnectFailed    = &Error{Code: DisconnectFailed}
	ErrInvalidYieldTimeout = &Error{Code: InvalidYieldTimeout}
	ErrHTTPFailure         = &Error{Code: HTTPFailure}
	ErrGGDiscoveryFailed   = &Error{Code: GGDiscoveryFailed}
	ErrDisconnected        = &Error{Code: Disconnected}
	ErrBufferOverflow      = &Error{Code: BufferOverflow}
	ErrInvalidEndpoint     = &Error{Code: InvalidEndpoint}
)
