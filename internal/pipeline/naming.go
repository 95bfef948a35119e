package pipeline

import (
	"fmt"
	"time"

	"mongobq/internal"
)

const fileStampLayout = "20060102_150405"

// BatchFileName is export_batch_{n}_{YYYYMMDD_HHMMSS}.{ext}.
func BatchFileName(batchNumber int, at time.Time, format internal.WireFormat) string {
	return fmt.Sprintf("export_batch_%d_%s.%s", batchNumber, at.Format(fileStampLayout), format.Ext())
}

// QuarantineFileName pairs with BatchFileName through the shared timestamp.
func QuarantineFileName(batchNumber int, at time.Time) string {
	return fmt.Sprintf("error_cart_products_batch_%d_%s.json", batchNumber, at.Format(fileStampLayout))
}
