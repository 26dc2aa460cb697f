package objectpool

import (
	"fmt"
	"runtime"
	"strings"
)

// captureTrace renders a short call-site trace for the abandonment log
// output (spec §6). skip is the number of frames, starting with
// captureTrace's own caller, to discard before the trace begins.
func captureTrace(skip int) string {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return ""
	}
	frames := runtime.CallersFrames(pcs[:n])
	var b strings.Builder
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&b, "\t%s\n\t\t%s:%d\n", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
