// Package progress implements the deployment progress sink.
//
// A Sink timestamps every line, appends it to a log file and hands it to an
// optional callback, in the order the lines were produced. Concurrent
// per-server sequences write through Scope values that share one Sink, so a
// line from one server is never split by a line from another.
package progress
