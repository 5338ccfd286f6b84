package serviceerr

import "errors"

var ErrConflict = errors.New("already exists")
var ErrNotFound = errors.New("not found")
var ErrStateExpired = errors.New("state expired")
var ErrSessionExpired = errors.New("session expired")
var ErrInvalidCSRFToken = errors.New("invalid csrf token")
var ErrEmptyPrompt = errors.New("prompt must not be empty")
var ErrEmptyReply = errors.New("model returned an empty reply")
