// Package models locates model and label files and loads class labels.
package models

import (
	"errors"
	"os"
	"path/filepath"
)

// Default file names.
const (
	DefaultSegmentationModel = "yolov8n-seg.onnx"
	DefaultLabels            = "coco.names"
)

// Subdirectories of the models directory.
const (
	TypeSegmentation = "segmentation"
	TypeLabels       = "labels"
)

// DefaultModelsDir is used when neither a directory nor the environment
// variable is set.
const DefaultModelsDir = "models"

// EnvModelsDir overrides the models directory.
const EnvModelsDir = "SEGPOST_MODELS_DIR"

// findProjectRoot finds the project root by looking for go.mod.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", errors.New("could not find project root (go.mod not found)")
}

// GetModelsDir returns the models directory path from various sources.
// Priority: 1. Explicit modelsDir parameter, 2. Environment variable, 3. Project root + default.
func GetModelsDir(modelsDir string) string {
	if modelsDir != "" {
		return modelsDir
	}
	if envDir := os.Getenv(EnvModelsDir); envDir != "" {
		return envDir
	}
	if projectRoot, err := findProjectRoot(); err == nil {
		return filepath.Join(projectRoot, DefaultModelsDir)
	}
	return DefaultModelsDir
}

// ResolveModelPath resolves a file name inside the models directory. The
// organized layout (<dir>/<type>/<file>) wins when it exists; otherwise the
// flat layout (<dir>/<file>) is returned.
func ResolveModelPath(modelsDir, modelType, filename string) string {
	baseDir := GetModelsDir(modelsDir)
	if modelType != "" {
		organized := filepath.Join(baseDir, modelType, filename)
		if _, err := os.Stat(organized); err == nil {
			return organized
		}
	}
	return filepath.Join(baseDir, filename)
}

// resolve returns configured as-is when it names an existing file or an
// absolute path, and otherwise looks it up in the models directory.
func resolve(modelsDir, modelType, configured, fallback string) string {
	if configured == "" {
		return ResolveModelPath(modelsDir, modelType, fallback)
	}
	if filepath.IsAbs(configured) {
		return configured
	}
	if _, err := os.Stat(configured); err == nil {
		return configured
	}
	return ResolveModelPath(modelsDir, modelType, configured)
}

// GetSegmentationModelPath returns the path of the segmentation model.
// An empty configured value selects DefaultSegmentationModel.
func GetSegmentationModelPath(modelsDir, configured string) string {
	return resolve(modelsDir, TypeSegmentation, configured, DefaultSegmentationModel)
}

// GetLabelsPath returns the path of the class label file.
// An empty configured value selects DefaultLabels.
func GetLabelsPath(modelsDir, configured string) string {
	return resolve(modelsDir, TypeLabels, configured, DefaultLabels)
}
