// Command charforge is the command-line client: account, usage, character
// generation, subscription checkout and payment verification.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/and161185/charforge/internal/errs"
	"google.golang.org/grpc/status"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(fail(os.Stderr, err))
	}
}

// fail prints err and returns the process exit code.
func fail(w io.Writer, err error) int {
	switch {
	case errors.Is(err, errs.ErrUnauthorized):
		fmt.Fprintln(w, "error: not signed in or session expired, run `charforge login`")
		return 3
	case errors.Is(err, errs.ErrInvalidArgument):
		fmt.Fprintln(w, "error:", err)
		return 2
	}
	if s, ok := status.FromError(err); ok {
		fmt.Fprintf(w, "rpc error: code=%s msg=%s\n", s.Code(), s.Message())
		return 1
	}
	fmt.Fprintln(w, "error:", err)
	return 1
}
