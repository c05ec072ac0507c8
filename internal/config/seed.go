package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedFile describes a pool to create on first boot: configuration plus an
// optional set of pre-made reservations.
type SeedFile struct {
	DisplayName  string            `yaml:"display_name"`
	PoolSize     int               `yaml:"pool_size"`
	DrawDate     string            `yaml:"draw_date"`
	Reservations []SeedReservation `yaml:"reservations"`
}

// SeedReservation is one claimant's block of numbers in the seed file.
type SeedReservation struct {
	ClaimantName string `yaml:"claimant_name"`
	Numbers      []int  `yaml:"numbers"`
	Paid         bool   `yaml:"paid"`
}

// LoadSeedFile reads and validates a YAML seed file.
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}

	for i, res := range seed.Reservations {
		if res.ClaimantName == "" {
			return nil, fmt.Errorf("seed reservation %d: claimant_name is required", i)
		}
		if len(res.Numbers) == 0 {
			return nil, fmt.Errorf("seed reservation %d: numbers is required", i)
		}
	}

	return &seed, nil
}
