package common

import (
	"fmt"
	"os"
	"path/filepath"

	"credit-ledger-go/internal/models"

	"gopkg.in/yaml.v2"
)

type topUpCatalog struct {
	Options []models.TopUpOption `yaml:"options"`
}

// LoadTopUpOptions reads the purchasable credit packages from a YAML catalog.
func LoadTopUpOptions(optionsFile string) ([]models.TopUpOption, error) {
	var optionsPath string
	if filepath.IsAbs(optionsFile) {
		optionsPath = optionsFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		optionsPath = filepath.Join(wd, optionsFile)
	}

	data, err := os.ReadFile(optionsPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", optionsFile, err)
	}

	var catalog topUpCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", optionsFile, err)
	}

	for i, option := range catalog.Options {
		if option.Id == "" {
			return nil, fmt.Errorf("top-up option at index %d missing id", i)
		}
		if !option.Credits.IsPositive() {
			return nil, fmt.Errorf("top-up option %s must grant a positive credit amount", option.Id)
		}
	}

	return catalog.Options, nil
}
