// Package file provides file-based persistence implementation for workflows, executions and records.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/fieldflow/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
// Every entity is a JSON document under root/<collection>/<id>.json.
type Persistence struct {
	root string
	mu   sync.Mutex

	workflowRepo     *WorkflowRepository
	executionRepo    *ExecutionRepository
	continuationRepo *ContinuationRepository
	recordRepo       *RecordRepository
	fireLedger       *FireLedger
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	fp := &Persistence{root: cleanRoot}
	fp.workflowRepo = &WorkflowRepository{store: fp}
	fp.executionRepo = &ExecutionRepository{store: fp}
	fp.continuationRepo = &ContinuationRepository{store: fp}
	fp.recordRepo = &RecordRepository{store: fp}
	fp.fireLedger = &FireLedger{store: fp}

	return fp
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return fp.workflowRepo
}

func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return fp.executionRepo
}

func (fp *Persistence) ContinuationRepository() persistence.ContinuationRepository {
	return fp.continuationRepo
}

func (fp *Persistence) RecordRepository() persistence.RecordRepository {
	return fp.recordRepo
}

func (fp *Persistence) FireLedger() persistence.FireLedger {
	return fp.fireLedger
}

var errInvalidID = errors.New("id contains invalid characters")

// validateID validates that the id is safe for file operations.
func validateID(id string) error {
	if id == "" {
		return errors.New("id cannot be empty")
	}

	if strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return errInvalidID
	}

	return nil
}

func (fp *Persistence) dir(collection string) string {
	return filepath.Join(fp.root, collection)
}

func (fp *Persistence) path(collection, id string) string {
	return filepath.Join(fp.root, collection, id+".json")
}

func (fp *Persistence) write(collection, id string, value any) error {
	if err := validateID(id); err != nil {
		return fmt.Errorf("invalid %s id %q: %w", collection, id, err)
	}

	err := os.MkdirAll(fp.dir(collection), 0750)
	if err != nil {
		return fmt.Errorf("failed to create %s directory: %w", collection, err)
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s %s: %w", collection, id, err)
	}

	tmp := fp.path(collection, id) + ".tmp"

	err = os.WriteFile(tmp, data, 0600)
	if err != nil {
		return fmt.Errorf("failed to write %s %s: %w", collection, id, err)
	}

	return os.Rename(tmp, fp.path(collection, id))
}

// read returns os.ErrNotExist (wrapped) when the document is missing.
func (fp *Persistence) read(collection, id string, value any) error {
	if err := validateID(id); err != nil {
		return fmt.Errorf("invalid %s id %q: %w", collection, id, err)
	}

	data, err := os.ReadFile(fp.path(collection, id)) // #nosec G304 -- id is validated
	if err != nil {
		return err
	}

	err = json.Unmarshal(data, value)
	if err != nil {
		return fmt.Errorf("failed to unmarshal %s %s: %w", collection, id, err)
	}

	return nil
}

// ids lists the document ids of a collection. A missing directory is an empty collection.
func (fp *Persistence) ids(collection string) ([]string, error) {
	entries, err := os.ReadDir(fp.dir(collection))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read %s directory: %w", collection, err)
	}

	ids := make([]string, 0, len(entries))

	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			ids = append(ids, strings.TrimSuffix(entry.Name(), ".json"))
		}
	}

	return ids, nil
}
