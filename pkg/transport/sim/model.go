package sim

import (
	"github.com/charlie0129/mvnd/pkg/types"
)

// Segments of the full-body suit model, in stream order.
var Segments = []string{
	"Pelvis", "L5", "L3", "T12", "T8", "Neck", "Head",
	"RightShoulder", "RightUpperArm", "RightForeArm", "RightHand",
	"LeftShoulder", "LeftUpperArm", "LeftForeArm", "LeftHand",
	"RightUpperLeg", "RightLowerLeg", "RightFoot", "RightToe",
	"LeftUpperLeg", "LeftLowerLeg", "LeftFoot", "LeftToe",
}

// Sensors are the segments carrying an inertial sensor.
var Sensors = []string{
	"Pelvis", "T8", "Head",
	"RightShoulder", "RightUpperArm", "RightForeArm", "RightHand",
	"LeftShoulder", "LeftUpperArm", "LeftForeArm", "LeftHand",
	"RightUpperLeg", "RightLowerLeg", "RightFoot",
	"LeftUpperLeg", "LeftLowerLeg", "LeftFoot",
}

// Joints of the model, in stream order.
var Joints = []string{
	"jL5S1", "jL4L3", "jL1T12", "jT9T8", "jT1C7", "jC1Head",
	"jRightT4Shoulder", "jRightShoulder", "jRightElbow", "jRightWrist",
	"jLeftT4Shoulder", "jLeftShoulder", "jLeftElbow", "jLeftWrist",
	"jRightHip", "jRightKnee", "jRightAnkle", "jRightBallFoot",
	"jLeftHip", "jLeftKnee", "jLeftAnkle", "jLeftBallFoot",
}

// CalibrationTypes supported by the simulated suit.
var CalibrationTypes = []string{"Npose", "Tpose", "NposeWalk", "TposeWalk"}

// DefaultBodyDimensions is the body the simulated suit starts with, in
// meters.
func DefaultBodyDimensions() types.BodyDimensions {
	return types.BodyDimensions{
		"bodyHeight":         1.75,
		"footSize":           0.27,
		"shoulderHeight":     1.45,
		"shoulderWidth":      0.38,
		"elbowSpan":          0.90,
		"wristSpan":          1.40,
		"armSpan":            1.75,
		"hipHeight":          0.92,
		"hipWidth":           0.28,
		"kneeHeight":         0.50,
		"ankleHeight":        0.08,
		"extraShoeThickness": 0.01,
	}
}

// segmentHeight is the resting height of each segment as a fraction of the
// body height.
var segmentHeight = map[string]float64{
	"Pelvis": 0.53, "L5": 0.57, "L3": 0.61, "T12": 0.65, "T8": 0.71, "Neck": 0.83, "Head": 0.91,
	"RightShoulder": 0.81, "RightUpperArm": 0.75, "RightForeArm": 0.62, "RightHand": 0.48,
	"LeftShoulder": 0.81, "LeftUpperArm": 0.75, "LeftForeArm": 0.62, "LeftHand": 0.48,
	"RightUpperLeg": 0.42, "RightLowerLeg": 0.22, "RightFoot": 0.04, "RightToe": 0.01,
	"LeftUpperLeg": 0.42, "LeftLowerLeg": 0.22, "LeftFoot": 0.04, "LeftToe": 0.01,
}
