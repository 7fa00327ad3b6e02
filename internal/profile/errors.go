package profile

import "gitlab.com/tozd/go/errors"

var (
	ErrNotObject    = errors.New("profile: document is not a JSON object")
	ErrTrailingData = errors.New("profile: unexpected data after JSON object")
)

// DecodeError reports a profile that could not be read or parsed.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Path == "" {
		return "decode profile: " + e.Err.Error()
	}
	return "decode profile " + e.Path + ": " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
