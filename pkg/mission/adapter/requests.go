package adapter

import "time"

// Target addresses the service a request is for.
type Target struct {
	ServiceName string `mapstructure:"service_name" json:"service_name,omitempty"`
	Host        string `mapstructure:"host" json:"host,omitempty"`
}

// Destination returns the target. Request types embed Target and so
// satisfy Targeted.
func (t Target) Destination() Target { return t }

// Targeted is a request addressed to a service.
type Targeted interface {
	Destination() Target
}

// RobotCommandRequest issues a robot command message.
type RobotCommandRequest struct {
	Target
	Command map[string]any `json:"command,omitempty"`
}

// PowerRequest changes motor power, e.g. "REQUEST_ON".
type PowerRequest struct {
	Target
	Request string `json:"request"`
}

// NavigateToRequest drives to a waypoint of the loaded map.
type NavigateToRequest struct {
	Target
	DestinationWaypointID string         `json:"destination_waypoint_id"`
	RouteGenParams        map[string]any `json:"route_gen_params,omitempty"`
	TravelParams          map[string]any `json:"travel_params,omitempty"`
}

// LocalizeRequest localizes the robot on the loaded map.
type LocalizeRequest struct {
	Target
	LocalizationRequest map[string]any `json:"localization_request,omitempty"`
	AllowBadQuality     bool           `json:"allow_bad_quality,omitempty"`
}

// StoreMediaRequest captures and stores camera media.
type StoreMediaRequest struct {
	Target
	Camera string `json:"camera,omitempty"`
	Type   string `json:"type,omitempty"`
	Tag    string `json:"tag,omitempty"`
}

// RobotStateRequest fetches the current robot state.
type RobotStateRequest struct {
	Target
}

// GraphNavStateRequest fetches the current localization state.
type GraphNavStateRequest struct {
	Target
	WaypointID string `json:"waypoint_id,omitempty"`
}

// RemoteGrpcRequest runs a remote mission session.
type RemoteGrpcRequest struct {
	Target
	// Node is the name of the calling node, passed to the remote side.
	Node           string         `json:"node,omitempty"`
	Timeout        time.Duration  `json:"timeout,omitempty"`
	LeaseResources []string       `json:"lease_resources,omitempty"`
	Inputs         map[string]any `json:"inputs,omitempty"`
}

// PromptOption is one answer a prompt offers.
type PromptOption struct {
	Text       string `mapstructure:"text" json:"text"`
	AnswerCode int64  `mapstructure:"answer_code" json:"answer_code"`
}

// PromptRequest asks a question. A Done status carries the chosen answer
// code as an int Constant.
type PromptRequest struct {
	Node                    string         `json:"node"`
	Text                    string         `json:"text"`
	Source                  string         `json:"source,omitempty"`
	Options                 []PromptOption `json:"options"`
	ForAutonomousProcessing bool           `json:"for_autonomous_processing,omitempty"`
}
