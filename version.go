package dora

// set by -ldflags at release time
var (
	version  = "0.1.0"
	revision = "HEAD"
)
