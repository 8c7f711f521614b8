// Package build carries compile-time release metadata and the small set of
// panic/log helpers the rest of kelp uses to report unrecoverable or
// unexpected conditions.
package build

import (
	"fmt"
	"os"
	"strings"
)

// Release indicates the kind of build: "standard", "testing", or "dev".
const Release = "standard"

// DEBUG indicates whether extra, non-essential runtime checks are enabled.
const DEBUG = false

// Severe reports a condition that indicates a bug but that the caller can
// recover from. In a debug build it panics; otherwise it prints to stderr
// and continues.
func Severe(args ...interface{}) {
	if DEBUG {
		panic(fmt.Sprint(args...))
	}
	fmt.Fprintln(os.Stderr, append([]interface{}{"[SEVERE]"}, args...)...)
}

// Critical reports a condition the process cannot continue past. It always
// panics; the caller's defer chain (and the process panic hook installed in
// cmd/kelpd) is responsible for turning that into exit code 1.
func Critical(args ...interface{}) {
	panic(fmt.Sprint(append([]interface{}{"[CRITICAL] "}, args...)...))
}

// JoinErrors combines a slice of errors into a single error, separated by
// sep. It returns nil if errs is empty or contains only nil errors.
func JoinErrors(errs []error, sep string) error {
	var msgs []string
	for _, err := range errs {
		if err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return fmt.Errorf("%s", strings.Join(msgs, sep))
}
