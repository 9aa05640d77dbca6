package batch

import "fmt"

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB"}

// HumanSize formats a byte count with binary units, e.g. 1536 -> "1.50KB".
func HumanSize(n int64, precision int) string {
	value := float64(n)
	unit := 0
	for value >= 1024 && unit < len(sizeUnits)-1 {
		value /= 1024
		unit++
	}
	return fmt.Sprintf("%.*f%s", precision, value, sizeUnits[unit])
}
