package storage

import (
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/analysis-armada/internal/domain/analysis"
)

// Relationship links a stored object back to the object it was discovered from.
type Relationship struct {
	Type         string
	ObjectType   string
	ObjectID     string
	Service      string
	TaskID       uuid.UUID
	DiscoveredAt time.Time
}

// StoredObject is an artifact materialized by a destination once the task
// that queued it has finished. Objects are keyed by kind and MD5, so the same
// bytes carved twice become one object with two relationships.
type StoredObject struct {
	Type          string
	ID            string
	Filename      string
	MD5           string
	SHA256        string
	Size          int
	Data          []byte
	Relationships []Relationship
}

// ObjectKey is the identity destinations dedupe stored objects by.
func ObjectKey(objectType, id string) string { return objectType + "/" + id }

// MaterializeArtifacts converts the artifacts queued on a finished task into
// stored objects related to the task's target. at stamps the relationships.
func MaterializeArtifacts(snap analysis.TaskSnapshot, at time.Time) []StoredObject {
	objects := make([]StoredObject, 0, len(snap.Artifacts))
	for _, a := range snap.Artifacts {
		rel := a.Relationship
		if rel == "" {
			rel = analysis.DefaultRelationship
		}
		objects = append(objects, StoredObject{
			Type:     string(a.Kind),
			ID:       a.MD5,
			Filename: a.Filename,
			MD5:      a.MD5,
			SHA256:   a.SHA256,
			Size:     len(a.Data),
			Data:     a.Data,
			Relationships: []Relationship{{
				Type:         rel,
				ObjectType:   snap.ObjectType,
				ObjectID:     snap.ObjectID,
				Service:      snap.Service,
				TaskID:       snap.ID,
				DiscoveredAt: at,
			}},
		})
	}
	return objects
}
