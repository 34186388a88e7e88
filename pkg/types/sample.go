package types

// Vector3 is a cartesian triple (x, y, z).
type Vector3 = [3]float64

// Quaternion is an orientation in (w, x, y, z) order. Published samples only
// carry unit quaternions.
type Quaternion = [4]float64

// BodyDimensions maps a body part name to its length in meters.
type BodyDimensions map[string]float64

// Clone returns a copy of the dimensions. A nil map clones to an empty one.
func (b BodyDimensions) Clone() BodyDimensions {
	ret := make(BodyDimensions, len(b))
	for k, v := range b {
		ret[k] = v
	}
	return ret
}

// LinkData is the kinematic state of one suit segment.
type LinkData struct {
	Name                string     `json:"name"`
	Position            Vector3    `json:"position"`
	LinearVelocity      Vector3    `json:"linearVelocity"`
	LinearAcceleration  Vector3    `json:"linearAcceleration"`
	Orientation         Quaternion `json:"orientation"`
	AngularVelocity     Vector3    `json:"angularVelocity"`
	AngularAcceleration Vector3    `json:"angularAcceleration"`
}

// SensorData is the reading of one inertial sensor.
type SensorData struct {
	Name                 string     `json:"name"`
	Position             Vector3    `json:"position"`
	Orientation          Quaternion `json:"orientation"`
	FreeBodyAcceleration Vector3    `json:"freeBodyAcceleration"`
	MagneticField        Vector3    `json:"magneticField"`
}

// JointData holds the angles of one joint.
type JointData struct {
	Name        string  `json:"name"`
	JointAngles Vector3 `json:"jointAngles"`
}

// DriverDataSample is one coherent frame. RelativeTime and AbsoluteTime are in
// seconds; RelativeTime restarts from zero on every acquisition start. RunID
// names the acquisition run that produced the frame.
type DriverDataSample struct {
	RunID        string       `json:"runId"`
	SuitName     string       `json:"suitName"`
	RelativeTime float64      `json:"relativeTime"`
	AbsoluteTime float64      `json:"absoluteTime"`
	Links        []LinkData   `json:"links"`
	Sensors      []SensorData `json:"sensors"`
	Joints       []JointData  `json:"joints"`
}

// Clone returns a deep copy of the sample. The per-channel sequences of the
// copy are never nil, so an empty channel encodes as [] rather than null.
func (s *DriverDataSample) Clone() DriverDataSample {
	if s == nil {
		return DriverDataSample{
			Links:   []LinkData{},
			Sensors: []SensorData{},
			Joints:  []JointData{},
		}
	}

	ret := *s
	ret.Links = append(make([]LinkData, 0, len(s.Links)), s.Links...)
	ret.Sensors = append(make([]SensorData, 0, len(s.Sensors)), s.Sensors...)
	ret.Joints = append(make([]JointData, 0, len(s.Joints)), s.Joints...)
	return ret
}

// LinkLabels returns the link names in sample order.
func (s *DriverDataSample) LinkLabels() []string {
	ret := make([]string, 0, len(s.Links))
	for _, l := range s.Links {
		ret = append(ret, l.Name)
	}
	return ret
}

// SensorLabels returns the sensor names in sample order.
func (s *DriverDataSample) SensorLabels() []string {
	ret := make([]string, 0, len(s.Sensors))
	for _, l := range s.Sensors {
		ret = append(ret, l.Name)
	}
	return ret
}

// JointLabels returns the joint names in sample order.
func (s *DriverDataSample) JointLabels() []string {
	ret := make([]string, 0, len(s.Joints))
	for _, l := range s.Joints {
		ret = append(ret, l.Name)
	}
	return ret
}

// DriverDataStreamConfig selects which channels are populated while
// streaming.
type DriverDataStreamConfig struct {
	EnableLinkData   bool `json:"enableLinkData" yaml:"links" mapstructure:"links"`
	EnableSensorData bool `json:"enableSensorData" yaml:"sensors" mapstructure:"sensors"`
	EnableJointData  bool `json:"enableJointData" yaml:"joints" mapstructure:"joints"`
}
