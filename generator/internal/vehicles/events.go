package vehicles

import (
	"encoding/json"
	"fmt"
	"time"

	"vehicle-generator-service/generator/internal/models"
	"vehicle-generator-service/shared/events"
)

// BuildAggregateModifiedEvent constructs the envelope recorded for a
// command-driven mutation. The payload is flattened into data next to
// the modification kind.
func BuildAggregateModifiedEvent(modType string, aggregateType string, aggregateID string, user string, payload any) (events.Envelope, error) {
	body := map[string]any{}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return events.Envelope{}, err
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return events.Envelope{}, err
		}
	}
	body["modType"] = modType
	data, err := json.Marshal(body)
	if err != nil {
		return events.Envelope{}, err
	}
	return events.Envelope{
		AggregateType:    aggregateType,
		AggregateID:      aggregateID,
		EventType:        aggregateType + "Modified",
		EventTypeVersion: 1,
		Data:             data,
		User:             user,
		Timestamp:        time.Now().UTC(),
	}, nil
}

// VehicleModification is the decoded data of a VehiclesModified event.
type VehicleModification struct {
	ModType string `json:"modType"`
	models.Vehicle
}

type modificationDecoder func(raw json.RawMessage) (VehicleModification, error)

// Decoder per supported event type version. Version 0 has no entry: it
// is defined as invalid and decoding it fails loudly.
var modificationDecoders = map[int]modificationDecoder{
	1: decodeModificationV1,
}

func DecodeVehicleModification(version int, raw json.RawMessage) (VehicleModification, error) {
	dec, ok := modificationDecoders[version]
	if !ok {
		return VehicleModification{}, fmt.Errorf("%w: %d", ErrUnsupportedEventVersion, version)
	}
	return dec(raw)
}

func decodeModificationV1(raw json.RawMessage) (VehicleModification, error) {
	var mod VehicleModification
	if err := json.Unmarshal(raw, &mod); err != nil {
		return VehicleModification{}, err
	}
	return mod, nil
}

// GeneratedNotice is the companion message broadcast after a Generated
// event is durably appended.
type GeneratedNotice struct {
	AggregateType string                  `json:"at"`
	EventType     string                  `json:"et"`
	AggregateID   string                  `json:"aid"`
	Timestamp     time.Time               `json:"timestamp"`
	Data          models.GeneratedVehicle `json:"data"`
}
