// Package verbose gates wire-level tracing behind a single process-wide
// switch. Traces go through the global logger under the "verbose" component.
package verbose

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/dougsko/k5link/pkg/logging"
)

const component = "verbose"

// maxDump caps how many bytes a single trace line shows
const maxDump = 64

var enabled atomic.Bool

// SetEnabled sets the global verbose logging flag
func SetEnabled(enable bool) {
	enabled.Store(enable)
}

// IsEnabled returns whether verbose logging is enabled
func IsEnabled() bool {
	return enabled.Load()
}

// Printf logs a verbose message if verbose logging is enabled
func Printf(format string, args ...interface{}) {
	if IsEnabled() {
		logging.Infof(component, format, args...)
	}
}

// Println logs a verbose message if verbose logging is enabled
func Println(args ...interface{}) {
	if IsEnabled() {
		logging.Info(component, strings.TrimSuffix(fmt.Sprintln(args...), "\n"))
	}
}

// Bytes traces a raw buffer as hex, truncated to a readable length
func Bytes(direction string, data []byte) {
	if !IsEnabled() {
		return
	}
	logging.Info(component, direction+" "+Hex(data), map[string]interface{}{
		"len": len(data),
	})
}

// Hex formats up to maxDump bytes as space separated hex
func Hex(data []byte) string {
	shown := data
	if len(shown) > maxDump {
		shown = shown[:maxDump]
	}
	var sb strings.Builder
	for i, b := range shown {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	if len(data) > maxDump {
		fmt.Fprintf(&sb, " ... (+%d)", len(data)-maxDump)
	}
	return sb.String()
}
