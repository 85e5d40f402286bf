package errorsx

import "errors"

// ReasonedError tags a failure with the reason code logged as reason_code.
type ReasonedError struct {
	Err    error
	Reason ReasonCode
}

func (e ReasonedError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return e.Err.Error()
}

func (e ReasonedError) Unwrap() error { return e.Err }

// Wrap tags err with reason. The innermost reason wins: an error that
// already carries one is returned unchanged.
func Wrap(err error, reason ReasonCode) error {
	if err == nil {
		return nil
	}
	if Reason(err) != ReasonUnknown {
		return err
	}
	return ReasonedError{Err: err, Reason: reason}
}

// Reason returns the first reason code found in err's tree.
func Reason(err error) ReasonCode {
	var re ReasonedError
	if err != nil && errors.As(err, &re) {
		return re.Reason
	}
	return ReasonUnknown
}

// Reasons returns every distinct reason code in err's tree, in depth-first
// order. Session shutdown and registry drains join one error per hook or
// session, so a single error can carry several reasons.
func Reasons(err error) []ReasonCode {
	var out []ReasonCode
	seen := map[ReasonCode]bool{}
	var walk func(error)
	walk = func(err error) {
		if err == nil {
			return
		}
		if re, ok := err.(ReasonedError); ok && !seen[re.Reason] {
			seen[re.Reason] = true
			out = append(out, re.Reason)
		}
		switch u := err.(type) {
		case interface{ Unwrap() []error }:
			for _, e := range u.Unwrap() {
				walk(e)
			}
		case interface{ Unwrap() error }:
			walk(u.Unwrap())
		}
	}
	walk(err)
	return out
}

// HasReason reports whether any error in err's tree carries reason.
func HasReason(err error, reason ReasonCode) bool {
	for _, r := range Reasons(err) {
		if r == reason {
			return true
		}
	}
	return false
}
