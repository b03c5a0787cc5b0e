// Package exporter serializes analysis results to files.
//
// This package contains three main components:
//
// WriteXYZ: WSxM-compatible XYZ point cloud writer. One tab-separated
// x, y, value triple per line, written atomically so a crash mid-export
// never leaves a truncated file at the destination.
//
// WriteFitCSV: per-cell fit result table for a matrix scan, one row per
// grid cell with position, coefficients, vertex and convergence.
//
// WriteFitReport: xlsx workbook with a summary sheet and one sheet per
// fitted parameter map.
//
// Example usage:
//
//	points := exporter.MapsToPoints(maps.VertexY, xs, ys)
//	err := exporter.WriteXYZ(points, "exports/vertex_y.xyz")
//
//	err = exporter.WriteFitCSV(scan, maps, "exports/fits.csv")
package exporter
