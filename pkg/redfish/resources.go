package redfish

import "fmt"

// Field is the logical name of a value extracted from a Redfish resource.
type Field string

const (
	FieldPowerConsumedWatts Field = "powerConsumedWatts"
	FieldName               Field = "name"
	FieldManufacturer       Field = "manufacturer"
	FieldModel              Field = "model"
	FieldSerialNumber       Field = "serialNumber"
	FieldFirmwareVersion    Field = "firmwareVersion"
)

// Resource maps a resource path to the JSON properties read from it.
type Resource struct {
	Path   string
	Fields map[Field]string
}

// ResourceTable lists every resource the client reads. Other
// Redfish-compatible controllers can be supported by supplying a different
// table.
type ResourceTable struct {
	Power   Resource
	Chassis Resource
	Manager Resource
}

// IDRACResources returns the resource table for a Dell iDRAC.
func IDRACResources() ResourceTable {
	return ResourceTable{
		Power: Resource{
			Path: "/redfish/v1/Chassis/System.Embedded.1/Power/PowerControl",
			Fields: map[Field]string{
				FieldPowerConsumedWatts: "PowerConsumedWatts",
			},
		},
		Chassis: Resource{
			Path: "/redfish/v1/Chassis/System.Embedded.1",
			Fields: map[Field]string{
				FieldName:         "Name",
				FieldManufacturer: "Manufacturer",
				FieldModel:        "Model",
				FieldSerialNumber: "SerialNumber",
			},
		},
		Manager: Resource{
			Path: "/redfish/v1/Managers/iDRAC.Embedded.1",
			Fields: map[Field]string{
				FieldFirmwareVersion: "FirmwareVersion",
			},
		},
	}
}

// Validate checks every resource has a path and maps the fields the client
// extracts from it.
func (t ResourceTable) Validate() error {
	required := []struct {
		name   string
		res    Resource
		fields []Field
	}{
		{"power", t.Power, []Field{FieldPowerConsumedWatts}},
		{"chassis", t.Chassis, []Field{FieldName, FieldManufacturer, FieldModel, FieldSerialNumber}},
		{"manager", t.Manager, []Field{FieldFirmwareVersion}},
	}
	for _, r := range required {
		if r.res.Path == "" {
			return fmt.Errorf("%s resource has no path", r.name)
		}
		for _, f := range r.fields {
			if r.res.Fields[f] == "" {
				return fmt.Errorf("%s resource does not map field %s", r.name, f)
			}
		}
	}
	return nil
}
