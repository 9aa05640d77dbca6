package poster

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackzampolin/folio-import/internal/folio"
)

// Config is the immutable configuration of a Poster.
type Config struct {
	ObjectType folio.ObjectType
	BatchSize  int
	Upsert     bool

	PreserveStatisticalCodes    bool
	PreserveAdministrativeNotes bool
	PreserveTemporaryLocations  bool
	PreserveItemStatus          bool

	// PatchExistingRecords applies only PatchPaths of an incoming record onto
	// the existing one. With no paths the whole incoming record is applied.
	PatchExistingRecords bool
	PatchPaths           []string
}

// DefaultConfig returns the defaults for ot.
func DefaultConfig(ot folio.ObjectType) Config {
	return Config{ObjectType: ot, BatchSize: 1}
}

// Validate rejects configurations that cannot be posted.
func (c Config) Validate() error {
	if _, err := folio.ParseObjectType(string(c.ObjectType)); err != nil {
		return err
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.PatchExistingRecords && !c.Upsert {
		return errors.New("patching existing records requires upsert")
	}
	for _, p := range c.PatchPaths {
		if strings.TrimSpace(p) == "" {
			return errors.New("patch paths must not be empty")
		}
	}
	return nil
}
