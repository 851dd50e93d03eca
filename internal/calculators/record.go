package calculators

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"scfcore/internal/engine"
	"scfcore/internal/journal"
)

// record appends the current results to the journal. A failing journal
// never fails the calculation.
func (b *Base) record(ctx context.Context, native engine.Settings, took time.Duration) {
	if b.cfg.journal == nil {
		return
	}
	energy, _ := b.results.Energy()
	entry := journal.Entry{
		ID:          uuid.NewString(),
		System:      b.sys.Name(),
		Calculator:  b.Name(),
		Method:      methodLabel(native.Method),
		Fingerprint: native.Fingerprint(),
		Structure:   journal.StructureHash(b.atoms),
		Energy:      energy,
		Properties:  b.results.Available().String(),
		Duration:    took,
		RecordedAt:  b.cfg.clock().UTC(),
	}
	if err := b.cfg.journal.Record(ctx, entry); err != nil {
		b.cfg.logger.Warn("journal record failed", "calculator", b.Name(), "driver", string(b.cfg.journal.Driver()), "error", err)
	}
}

// methodLabel renders a method as e.g. "DFT/PBE-D2" or "HF/DLPNO-CCSD(T0)".
func methodLabel(m engine.MethodSettings) string {
	var sb strings.Builder
	sb.WriteString(string(m.Theory))
	if m.Functional != engine.FunctionalNone {
		sb.WriteString("/" + string(m.Functional))
	}
	if m.Dispersion != "" && m.Dispersion != engine.DispersionNone {
		sb.WriteString("-" + string(m.Dispersion))
	}
	if m.CCLevel != engine.CCNone {
		sb.WriteString("/" + string(m.CCLevel))
	}
	return sb.String()
}
