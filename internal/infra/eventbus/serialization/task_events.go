package serialization

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ahrav/analysis-armada/internal/domain/analysis"
	"github.com/ahrav/analysis-armada/internal/domain/events"
)

func serializeTaskEvent(payload any) (*structpb.Struct, error) {
	evt, ok := payload.(analysis.TaskEvent)
	if !ok {
		return nil, fmt.Errorf("serializeTaskEvent: payload is %T, not analysis.TaskEvent", payload)
	}
	return structpb.NewStruct(map[string]any{
		"type":            string(evt.Type),
		"task_id":         evt.TaskID.String(),
		"service":         evt.Service,
		"service_version": evt.ServiceVersion,
		"object_type":     evt.ObjectType,
		"object_id":       evt.ObjectID,
		"username":        evt.Username,
		"status":          string(evt.Status),
		"result_count":    evt.ResultCount,
		"artifact_count":  evt.ArtifactCount,
		"timestamp":       evt.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}

func deserializeTaskEvent(data *structpb.Struct) (any, error) {
	if data == nil {
		return nil, ErrNilEvent
	}
	f := data.GetFields()

	id, err := uuid.Parse(f["task_id"].GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("invalid task_id: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, f["timestamp"].GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp: %w", err)
	}

	return analysis.TaskEvent{
		Type:           events.EventType(f["type"].GetStringValue()),
		TaskID:         id,
		Service:        f["service"].GetStringValue(),
		ServiceVersion: f["service_version"].GetStringValue(),
		ObjectType:     f["object_type"].GetStringValue(),
		ObjectID:       f["object_id"].GetStringValue(),
		Username:       f["username"].GetStringValue(),
		Status:         analysis.TaskStatus(f["status"].GetStringValue()),
		ResultCount:    int(f["result_count"].GetNumberValue()),
		ArtifactCount:  int(f["artifact_count"].GetNumberValue()),
		Timestamp:      ts,
	}, nil
}
