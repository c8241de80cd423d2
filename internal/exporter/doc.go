// Package exporter writes dataset views out as CSV or XLSX.
//
// CSV output starts with a UTF-8 BOM so spreadsheet tools detect the
// encoding. XLSX output is written through an excelize stream writer so large
// views do not build the whole sheet in memory.
//
// Example usage:
//
//	w := exporter.NewWriter(logger)
//	view := projection.Project(src, projection.FilterInvalid, projection.LimitAll)
//	err := w.Write(ctx, out, exporter.FormatCSV, view)
package exporter
