// Package journal selects the calculation journal backend and provides the
// helpers calculators use to build entries.
package journal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"strconv"

	"scfcore/internal/infra/persistence/memory"
	"scfcore/internal/infra/persistence/postgres"
	"scfcore/internal/infra/persistence/sqlite"
	"scfcore/internal/journal/core"
	"scfcore/pkg/chem"
)

type (
	Driver  = core.Driver
	Entry   = core.Entry
	Filter  = core.Filter
	Journal = core.Journal
)

const (
	DriverMemory   = core.DriverMemory
	DriverSQLite   = core.DriverSQLite
	DriverPostgres = core.DriverPostgres
	// DriverNone disables journaling.
	DriverNone Driver = "none"
)

var (
	ErrDuplicate = core.ErrDuplicate
	ErrClosed    = core.ErrClosed
)

// Environment variables read by Open.
const (
	EnvDriver      = "SCFCORE_JOURNAL_DRIVER"
	EnvSQLitePath  = "SCFCORE_SQLITE_PATH"
	EnvPostgresDSN = "SCFCORE_POSTGRES_DSN"
)

// Open selects a journal using environment variables. It returns a nil
// Journal when journaling is disabled.
//
//	SCFCORE_JOURNAL_DRIVER: none|memory|sqlite|postgres (default none)
//	SCFCORE_SQLITE_PATH: sqlite file when driver=sqlite (default ./scfcore.db)
//	SCFCORE_POSTGRES_DSN: postgres DSN when driver=postgres
func Open(ctx context.Context) (Journal, error) {
	driver := os.Getenv(EnvDriver)
	if driver == "" {
		driver = string(DriverNone)
	}
	return OpenDriver(ctx, Driver(driver), "")
}

// OpenDriver opens a specific backend. target is the sqlite path or the
// postgres DSN; when empty the matching environment variable is used.
func OpenDriver(ctx context.Context, driver Driver, target string) (Journal, error) {
	switch driver {
	case DriverNone:
		return nil, nil
	case DriverMemory:
		return memory.NewStore(), nil
	case DriverSQLite:
		if target == "" {
			target = os.Getenv(EnvSQLitePath)
		}
		s, err := sqlite.NewStore(target)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverPostgres:
		if target == "" {
			target = os.Getenv(EnvPostgresDSN)
		}
		s, err := postgres.NewStore(ctx, target)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown journal driver %s", driver)
	}
}

// StructureHash identifies a structure by its elements and positions
// rounded to 1e-6 bohr.
func StructureHash(atoms chem.AtomCollection) string {
	h := sha256.New()
	for i, e := range atoms.Elements {
		_, _ = fmt.Fprintf(h, "%s", e)
		if i < len(atoms.Positions) {
			for _, x := range atoms.Positions[i] {
				h.Write([]byte{' '})
				h.Write(strconv.AppendFloat(nil, roundMicro(x), 'f', 6, 64))
			}
		}
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func roundMicro(x float64) float64 {
	r := math.Round(x*1e6) / 1e6
	if r == 0 {
		return 0
	}
	return r
}
