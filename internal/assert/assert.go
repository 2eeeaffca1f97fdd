// Package assert provides runtime precondition checks that return errors
// instead of crashing the host process. In StrictMode a failed check panics,
// which is how tests surface programming errors early.
package assert

import (
	"errors"
	"fmt"
	"log"
	"reflect"
)

// ErrAssertion is wrapped by every error returned from this package.
var ErrAssertion = errors.New("assertion failed")

var (
	// StrictMode turns failed checks into panics.
	StrictMode = false
	// SuppressLogs silences the log line emitted for each failed check.
	SuppressLogs = false
)

// Check returns an error describing the failure when cond is false.
// format and args follow fmt.Sprintf rules.
func Check(cond bool, format string, args ...interface{}) error {
	if cond {
		return nil
	}
	return fail(fmt.Sprintf(format, args...))
}

// NotNil fails when v is nil, including typed nil pointers, maps, slices,
// channels and funcs stored in an interface.
func NotNil(v interface{}, name string) error {
	if !isNil(v) {
		return nil
	}
	return fail(name + " must not be nil")
}

// InRange fails unless lo <= v <= hi.
func InRange(v, lo, hi int, name string) error {
	if v >= lo && v <= hi {
		return nil
	}
	return fail(fmt.Sprintf("%s out of range: %d not in [%d, %d]", name, v, lo, hi))
}

func fail(msg string) error {
	err := fmt.Errorf("%w: %s", ErrAssertion, msg)
	if StrictMode {
		panic(err)
	}
	if !SuppressLogs {
		log.Printf("{\"level\":\"warn\",\"msg\":\"assertion_failed\",\"error\":%q}", msg)
	}
	return err
}

func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
