package events

import (
	"encoding/json"
	"time"
)

// Envelope is the immutable event record appended to the durable log.
// (AggregateType, AggregateID) identifies one aggregate's timeline.
type Envelope struct {
	AggregateType    string          `json:"aggregate_type"`
	AggregateID      string          `json:"aggregate_id"`
	EventType        string          `json:"event_type"`
	EventTypeVersion int             `json:"event_type_version"`
	Data             json.RawMessage `json:"data"`
	User             string          `json:"user"`
	Timestamp        time.Time       `json:"timestamp"`
}

// SystemUser is the actor recorded on events produced by the generation
// loop rather than by an authenticated command.
const SystemUser = "SYSTEM"

const (
	AggregateVehicles = "Vehicles"
	AggregateVehicle  = "Vehicle"
)

const (
	EventVehiclesModified = "VehiclesModified"
	EventVehicleGenerated = "Generated"
)

// Kafka topic carrying the durable vehicle event stream.
const TopicVehicleEvents = "vehicle.events"

// Redis pub/sub channels for fire-and-forget fan-out. The generated-vehicle
// channel is deliberately distinct from the materialized-view channel used
// by command-driven mutations.
const (
	ChannelMaterializedViewUpdates = "materialized-view-updates"
	ChannelGeneratedVehicles       = "fleet.vehicles.generated"
)

// Modification kinds carried in VehiclesModified event data.
const (
	ModTypeCreate        = "CREATE"
	ModTypeUpdateMerge   = "UPDATE_MERGE"
	ModTypeUpdateReplace = "UPDATE_REPLACE"
	ModTypeDelete        = "DELETE"
)
