// Package catalog ships the embedded seed data: the fleet roster, owner
// profiles and the service-center network, plus a deterministic telemetry
// generator for simulation runs.
package catalog

import (
	"embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"fleetwatch/internal/domain"
)

//go:embed *.yaml
var seedFS embed.FS

type fleetFile struct {
	Vehicles []*domain.Vehicle `yaml:"vehicles"`
}

type centersFile struct {
	Centers []*domain.ServiceCenter `yaml:"centers"`
}

type profilesFile struct {
	Profiles []*domain.UserProfile `yaml:"profiles"`
}

// LoadFleet returns the embedded vehicle roster.
func LoadFleet() ([]*domain.Vehicle, error) {
	var f fleetFile
	if err := loadYAML("fleet.yaml", &f); err != nil {
		return nil, err
	}
	return f.Vehicles, nil
}

// LoadCenters returns the embedded service-center network. Slots are not
// part of the fixture; the seeder generates them relative to its base date.
func LoadCenters() ([]*domain.ServiceCenter, error) {
	var f centersFile
	if err := loadYAML("centers.yaml", &f); err != nil {
		return nil, err
	}
	return f.Centers, nil
}

// LoadProfiles returns the embedded owner profiles.
func LoadProfiles() ([]*domain.UserProfile, error) {
	var f profilesFile
	if err := loadYAML("profiles.yaml", &f); err != nil {
		return nil, err
	}
	return f.Profiles, nil
}

func loadYAML(name string, out any) error {
	data, err := seedFS.ReadFile(name)
	if err != nil {
		return fmt.Errorf("seed file %s: %w", name, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}
