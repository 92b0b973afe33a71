package fallback

import "errors"

// ErrFetchFailed wraps every failure of a device-list fetch.
var ErrFetchFailed = errors.New("fallback: fetch failed")
