package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/roach88/flux/internal/harness"
)

// scenarioExts are the file extensions treated as scenarios.
var scenarioExts = []string{".yaml", ".yml", ".cue"}

// LoadError represents a scenario that could not be loaded.
type LoadError struct {
	Code string // ErrCodeNotFound, ErrCodeParseFailed or ErrCodeInvalid
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// LoadScenario reads, parses and validates a scenario file, classifying
// the failure so commands can choose an exit code.
func LoadScenario(path string) (*harness.Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Path: path, Err: err}
	}

	var scenario *harness.Scenario
	if strings.EqualFold(filepath.Ext(path), ".cue") {
		scenario, err = harness.ParseCUE(path, data)
	} else {
		scenario, err = harness.ParseYAML(data)
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeParseFailed, Path: path, Err: err}
	}

	if err := harness.ValidateScenario(scenario); err != nil {
		return nil, &LoadError{Code: ErrCodeInvalid, Path: path, Err: err}
	}

	return scenario, nil
}

// FindScenarioFiles walks dir and returns scenario files in lexical order.
// A non-empty filter is matched against the file name without extension.
func FindScenarioFiles(dir, filter string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if !slices.Contains(scenarioExts, ext) {
			return nil
		}

		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}

		files = append(files, path)
		return nil
	})

	return files, err
}

// reportLoadError prints err and maps it to an exit code. Missing files are
// always command errors; parse and validation failures use invalidExit.
func reportLoadError(f *OutputFormatter, err error, invalidExit int) error {
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		_ = f.Error(ErrCodeNotFound, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	_ = f.Error(loadErr.Code, loadErr.Error(), nil)
	code := invalidExit
	if loadErr.Code == ErrCodeNotFound {
		code = ExitCommandError
	}
	return WrapExitError(code, "failed to load scenario", err)
}
