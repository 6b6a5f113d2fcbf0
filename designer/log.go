package designer

import (
	"fmt"

	"github.com/golang/glog"
)

// Logging convention in the `designer` package and the relay:
// Info:
//     abnormal but recoverable events. Silent on normal operation.
//     this includes:
//     - connect and reconnect errors
//     - dropped malformed messages
// Error:
//     unexpected panics, even when recovered so the dispatch loop keeps running
// V(1):
//     remote operations dropped as no-ops (missing screen or element)
// V(2):
//     per-message traces: send, receive, echo drop, dispatch
//
// Each line starts with a short tag:
// [t] transport, [ts] transport send, [tr] transport receive,
// [s] store, [p] presence, [r] reconcile, [relay] relay

type LogFunction func(string, ...any)

func LogFn(level glog.Level, tag string) LogFunction {
	return func(format string, a ...any) {
		if glog.V(level) {
			m := fmt.Sprintf(format, a...)
			glog.InfoDepth(1, fmt.Sprintf("[%s]%s", tag, m))
		}
	}
}

func SubLogFn(log LogFunction, tag string) LogFunction {
	return func(format string, a ...any) {
		m := fmt.Sprintf(format, a...)
		log("%s: %s", tag, m)
	}
}
