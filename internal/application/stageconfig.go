package application

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/checkbridge/checkbridge/internal/domain/model"
	"github.com/checkbridge/checkbridge/internal/domain/port/driven"
)

// stageDefinitionFile is the on-disk format of the stage definition file:
//
//	stages:
//	  - backend_name: "Build Stage"
//	    check_run_name: "Build"
//	    position: 1
//	    start_in_progress: false
//	    can_retry: true
//	    mandatory: true
type stageDefinitionFile struct {
	Stages []stageDefinition `yaml:"stages"`
}

type stageDefinition struct {
	BackendName     string `yaml:"backend_name"`
	CheckRunName    string `yaml:"check_run_name"`
	Position        int    `yaml:"position"`
	StartInProgress bool   `yaml:"start_in_progress"`
	CanRetry        bool   `yaml:"can_retry"`
	Mandatory       bool   `yaml:"mandatory"`
}

// LoadStageDefinitions parses the YAML stage definition file.
func LoadStageDefinitions(path string) ([]model.StageConfiguration, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stage definitions: %w", err)
	}

	var file stageDefinitionFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse stage definitions: %w", err)
	}

	configs := make([]model.StageConfiguration, 0, len(file.Stages))
	for i, def := range file.Stages {
		if def.BackendName == "" || def.CheckRunName == "" {
			return nil, fmt.Errorf("stage definition %d: backend_name and check_run_name are required", i)
		}
		configs = append(configs, model.StageConfiguration{
			BackendStageName: def.BackendName,
			CheckRunName:     def.CheckRunName,
			Position:         def.Position,
			StartInProgress:  def.StartInProgress,
			CanRetry:         def.CanRetry,
			Mandatory:        def.Mandatory,
		})
	}
	return configs, nil
}

// SeedStageConfigurations upserts the definitions into the store at startup.
func SeedStageConfigurations(ctx context.Context, store driven.StageConfigurationStore, configs []model.StageConfiguration) error {
	for _, cfg := range configs {
		if err := store.Upsert(ctx, cfg); err != nil {
			return fmt.Errorf("seed stage configuration %q: %w", cfg.BackendStageName, err)
		}
	}
	return nil
}
