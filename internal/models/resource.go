package models

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

type ResourceKind string

const (
	KindVehicle ResourceKind = "vehicle"
	KindRoom    ResourceKind = "room"
)

func (k ResourceKind) Valid() bool {
	return k == KindVehicle || k == KindRoom
}

// Resource is a bookable vehicle or room.
type Resource struct {
	ID          int64        `yaml:"id" json:"id"`
	Kind        ResourceKind `yaml:"kind" json:"kind"`
	Name        string       `yaml:"name" json:"name"`
	Description string       `yaml:"description" json:"description,omitempty"`
	PlateNumber string       `yaml:"plate_number" json:"plate_number,omitempty"`
	Capacity    int          `yaml:"capacity" json:"capacity,omitempty"`
	SortOrder   int64        `yaml:"sort_order" json:"sort_order"`
	IsActive    bool         `yaml:"is_active" json:"is_active"`
	CreatedAt   time.Time    `yaml:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `yaml:"updated_at" json:"updated_at"`
}

// UnmarshalYAML defaults is_active to true when the key is omitted.
func (r *Resource) UnmarshalYAML(value *yaml.Node) error {
	type plain Resource
	p := plain{IsActive: true}
	if err := value.Decode(&p); err != nil {
		return err
	}
	*r = Resource(p)
	return nil
}

// DisplayName is the label used in messages and reports.
func (r *Resource) DisplayName() string {
	if r.Kind == KindVehicle && r.PlateNumber != "" {
		return fmt.Sprintf("%s (%s)", r.Name, r.PlateNumber)
	}
	return r.Name
}
