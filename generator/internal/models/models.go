package models

import "time"

type Metadata struct {
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedBy string    `json:"updatedBy"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Vehicle struct {
	ID             string   `json:"id"`
	OrganizationID string   `json:"organizationId,omitempty"`
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Active         bool     `json:"active"`
	Metadata       Metadata `json:"metadata"`
}

// VehicleInput carries the mutable fields of a create or update command.
// Pointer fields distinguish "absent" from zero values for merge updates.
type VehicleInput struct {
	OrganizationID *string `json:"organizationId,omitempty"`
	Name           *string `json:"name,omitempty"`
	Description    *string `json:"description,omitempty"`
	Active         *bool   `json:"active,omitempty"`
}

type VehicleFilter struct {
	Name           string `json:"name,omitempty"`
	OrganizationID string `json:"organizationId,omitempty"`
	Active         *bool  `json:"active,omitempty"`
}

type Pagination struct {
	Page                  int  `json:"page"`
	Count                 int  `json:"count"`
	QueryTotalResultCount bool `json:"queryTotalResultCount"`
}

type Sort struct {
	Field string `json:"field"`
	Asc   bool   `json:"asc"`
}

// GeneratedVehicle is one synthetic vehicle produced by the generation loop.
// Its identity is a pure function of these five fields.
type GeneratedVehicle struct {
	Type        string `json:"type"`
	PowerSource string `json:"powerSource"`
	HP          int    `json:"hp"`
	Year        int    `json:"year"`
	TopSpeed    int    `json:"topSpeed"`
}
