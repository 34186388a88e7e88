// Package calibration grades suit calibration runs. It contains:
//
//   - Quality: the ordered calibration grade
//   - Result: what the transport reports when a calibration run completes
//   - Evaluator: grades results and checks them against a minimum quality
//
// These types are shared across the driver, daemon and client so the grade
// names stay consistent in configuration files and JSON.
package calibration
