package monitoring

import "log"

// Logf emits diagnostic lines for the tracking pipeline and the HTTP
// surface. The default sink is log.Printf; binaries and tests swap it
// through SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the diagnostic sink. A nil argument installs a no-op
// sink, silencing pipeline diagnostics entirely.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
