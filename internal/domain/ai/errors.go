package ai

import "errors"

// ErrRateLimited indicates the provider returned a rate-limit/quota error (HTTP 429 or similar).
var ErrRateLimited = errors.New("ai rate limited")
