package classifier

import "errors"

// Failure classes returned by Classify. They are matched with errors.Is; the
// underlying cause stays wrapped alongside.
var (
	ErrNetwork         = errors.New("classifier network error")
	ErrTimeout         = errors.New("classifier timeout")
	ErrInvalidResponse = errors.New("classifier returned an invalid response")
)
