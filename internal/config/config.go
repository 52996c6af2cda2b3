package config

import "fmt"

// Verbose enables debug output when true. The BLE plumbing layer traces
// through Debugf; the update engine logs through its Observer instead.
var Verbose bool

// Debugf prints debug messages when Verbose is true
func Debugf(format string, args ...any) {
	if Verbose {
		fmt.Printf("[DEBUG] "+format+"\n", args...)
	}
}
