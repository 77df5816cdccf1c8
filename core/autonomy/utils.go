package autonomy

import (
	"fmt"
	"strings"
)

// qualifiedStructName extracts the type name from any value, removing pointer prefixes.
// Used to derive action names from parameter types (e.g., "autonomy.ReportParams").
func qualifiedStructName(v any) string {
	s := fmt.Sprintf("%T", v)
	s = strings.TrimLeft(s, "*")

	return s
}
