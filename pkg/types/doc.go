// Package types defines the data model shared by the driver, the daemon and
// its clients:
//
//   - LinkData, SensorData, JointData: per-entity kinematic records
//   - DriverDataSample: one coherent frame with timestamps
//   - DriverDataStreamConfig: the per-channel stream enable flags
//   - BodyDimensions: body part name to length mapping
//
// Keeping them here keeps the JSON contracts between daemon and client
// consistent.
package types
