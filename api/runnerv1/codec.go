package runnerv1

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cuemby/burrow/pkg/types"
)

// ToStruct encodes v through its JSON form
func ToStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return s, nil
}

// FromStruct decodes s into v through its JSON form
func FromStruct(s *structpb.Struct, v any) error {
	if s == nil {
		return fmt.Errorf("empty message")
	}
	raw, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}

// EncodeEvent converts a desired-state event to its stream message
func EncodeEvent(ev types.DesiredStateEvent) (*structpb.Struct, error) {
	return ToStruct(ev)
}

// DecodeEvent parses a stream message. Unknown types, missing ids and
// create or update events without a spec are rejected.
func DecodeEvent(s *structpb.Struct) (types.DesiredStateEvent, error) {
	var ev types.DesiredStateEvent
	if err := FromStruct(s, &ev); err != nil {
		return ev, err
	}
	if !ev.Type.Valid() {
		return ev, fmt.Errorf("unknown event type %q", ev.Type)
	}
	if ev.ResourceID == uuid.Nil {
		return ev, fmt.Errorf("%s event without resource id", ev.Type)
	}
	if ev.Type != types.EventResourceDeleted && ev.Spec == nil {
		return ev, fmt.Errorf("%s event for %s without spec", ev.Type, ev.ResourceID)
	}
	return ev, nil
}

// DeploymentRequest identifies one deployment
type DeploymentRequest struct {
	DeploymentID uuid.UUID `json:"deploymentId"`
}

// DeploymentList is the ListDeployments response
type DeploymentList struct {
	Deployments []*types.Deployment `json:"deployments"`
}

// StatusUpdate is the UpdateDeploymentStatus request
type StatusUpdate struct {
	DeploymentID uuid.UUID              `json:"deploymentId"`
	Status       types.DeploymentStatus `json:"status"`
}
