package application

import (
	"context"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	masterdata "windgen-cloud/internal/masterdata/domain"
)

// UnitDirectoryService provides minimal unit directory commands.
type UnitDirectoryService struct {
	repo masterdata.UnitDirectoryWriter
}

// NewUnitDirectoryService constructs a directory service.
func NewUnitDirectoryService(repo masterdata.UnitDirectoryWriter) (*UnitDirectoryService, error) {
	if repo == nil {
		return nil, errors.New("unit directory service: nil repository")
	}
	return &UnitDirectoryService{repo: repo}, nil
}

// Import validates and saves units and source mappings. Every record is
// validated before anything is written.
func (s *UnitDirectoryService) Import(ctx context.Context, units []masterdata.Unit, mappings []masterdata.SourceUnitMapping) error {
	for _, unit := range units {
		if err := unit.Validate(); err != nil {
			return err
		}
	}
	for _, mapping := range mappings {
		if err := mapping.Validate(); err != nil {
			return err
		}
	}
	for _, unit := range units {
		if err := s.repo.SaveUnit(ctx, unit); err != nil {
			return err
		}
	}
	for _, mapping := range mappings {
		if err := s.repo.SaveMapping(ctx, mapping); err != nil {
			return err
		}
	}
	return nil
}

// DirectoryFile is the on-disk form of unit metadata.
type DirectoryFile struct {
	Units    []masterdata.Unit              `yaml:"units"`
	Mappings []masterdata.SourceUnitMapping `yaml:"mappings"`
}

// DecodeDirectoryFile reads units and mappings from yaml. JSON documents are
// accepted as well.
func DecodeDirectoryFile(r io.Reader) (DirectoryFile, error) {
	var file DirectoryFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return file, errors.New("unit directory file: empty document")
		}
		return file, fmt.Errorf("unit directory file: %w", err)
	}
	return file, nil
}

// ImportFile decodes and imports a directory file.
func (s *UnitDirectoryService) ImportFile(ctx context.Context, r io.Reader) (DirectoryFile, error) {
	file, err := DecodeDirectoryFile(r)
	if err != nil {
		return file, err
	}
	return file, s.Import(ctx, file.Units, file.Mappings)
}
