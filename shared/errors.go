package shared

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized          = errors.New("unauthorized")
	ErrNoLogger              = errors.New("no logger provided")
	ErrNoConfig              = errors.New("no config provided")
	ErrNoConfigProvider      = errors.New("no session config provider")
	ErrNoTransport           = errors.New("no transport provided")
	ErrNoHostBridge          = errors.New("no host bridge provided")
	ErrNoAudioSource         = errors.New("no audio source provided")
	ErrNoAPIKey              = errors.New("no API key provided")
	ErrSessionAlreadyRunning = errors.New("session already running")
	ErrHandlerAlreadySet     = errors.New("handler already set")
	ErrNotConnected          = errors.New("session not connected")
	ErrSessionClosed         = errors.New("session closed")
	ErrMicrophoneBusy        = errors.New("microphone held by another session")
	ErrCaptureStartTimeout   = errors.New("connection not established before capture deadline")
	ErrInvalidEncoding       = errors.New("invalid encoding")
	ErrTransportClosed       = errors.New("transport closed")
	ErrUnknownFunction       = errors.New("unknown function")
)

// TransportError is a connect/send/receive failure. It is fatal to the
// current connection attempt.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("transport %s %s: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// CodecError is a malformed audio payload. The chunk is dropped.
type CodecError struct {
	Op  string
	Err error
}

func (e *CodecError) Error() string { return fmt.Sprintf("codec %s: %v", e.Op, e.Err) }

func (e *CodecError) Unwrap() error { return e.Err }

// ParseError is malformed JSON in an event, command payload or function
// arguments.
type ParseError struct {
	Op  string
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse %s: %v", e.Op, e.Err) }

func (e *ParseError) Unwrap() error { return e.Err }

// RemoteError is an error event sent by the far end. The session continues.
type RemoteError struct {
	Type    string
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("remote %s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("remote %s: %s", e.Type, e.Message)
}

// ResourceError is an unavailable or denied local device.
type ResourceError struct {
	Resource string
	Err      error
}

func (e *ResourceError) Error() string { return fmt.Sprintf("%s unavailable: %v", e.Resource, e.Err) }

func (e *ResourceError) Unwrap() error { return e.Err }

// IsFatal reports whether err ends the current connection or capture attempt.
func IsFatal(err error) bool {
	var te *TransportError
	var re *ResourceError
	return errors.As(err, &te) || errors.As(err, &re)
}
