package arrayscan

import (
	"encoding/csv"
	"fmt"
	"io"
)

// WriteReport writes the scan result as CSV, one row per grid point in
// the order given (callers pass the sorted result from Run).
func WriteReport(w io.Writer, points []ScanPoint) error {
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{"x_m", "y_m", "z_m", "condition_number"}); err != nil {
		return fmt.Errorf("write report header: %w", err)
	}

	row := make([]string, 4)
	for _, p := range points {
		row[0] = fmt.Sprintf("%.4f", p.X)
		row[1] = fmt.Sprintf("%.4f", p.Y)
		row[2] = fmt.Sprintf("%.4f", p.Z)
		row[3] = fmt.Sprintf("%.6g", p.Cond)
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write report row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
