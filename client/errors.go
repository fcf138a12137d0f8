package client

import "errors"

var (
	// ErrOffline means the send was recorded for replay but no network
	// call was attempted because the client knows it is offline.
	ErrOffline = errors.New("client: offline")

	// ErrUploadFailed aborts a send before the responder is invoked; the
	// pending send stays populated for retry.
	ErrUploadFailed = errors.New("client: upload failed")

	// ErrResponderFailed means the responder invocation failed after any
	// upload succeeded; the pending send stays populated for retry.
	ErrResponderFailed = errors.New("client: responder failed")
)
