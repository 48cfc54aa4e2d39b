// Package fmtx isolates the project's formatting/logging calls behind a
// single seam. On a desktop/server target it is a thin fmt passthrough;
// logx.go layers a per-channel tag on top for the HIF datapath's ambient
// logging.
package fmtx

import (
	"fmt"
	"io"
	"os"
)

// DefaultOutput is where Print/Printf write. Tests redirect it to a buffer.
var DefaultOutput io.Writer = os.Stdout

func Sprintf(format string, a ...any) string                    { return fmt.Sprintf(format, a...) }
func Fprintf(w io.Writer, format string, a ...any) (int, error) { return fmt.Fprintf(w, format, a...) }
func Errorf(format string, a ...any) error                      { return fmt.Errorf(format, a...) }
func Sprint(a ...any) string                                    { return fmt.Sprint(a...) }
func Fprint(w io.Writer, a ...any) (int, error)                 { return fmt.Fprint(w, a...) }

func Printf(format string, a ...any) (int, error) { return Fprintf(DefaultOutput, format, a...) }
func Print(a ...any) (int, error)                 { return Fprint(DefaultOutput, a...) }
