package partialfill

import (
	"strconv"
	"time"

	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/persistence"
)

var reconciliationHeader = []string{
	"RFQ", "Award", "Leg ID", "Provider", "Status", "Amount", "Updated At", "Reason", "Remaining",
}

// BuildReconciliation lists every leg of every record with the record's
// remaining amount.
func BuildReconciliation(records []Record) persistence.Sheet {
	sheet := persistence.Sheet{Name: ReconciliationSheet, Header: reconciliationHeader}
	for _, rec := range records {
		remaining := rec.Remaining().String()
		for _, l := range rec.Legs {
			sheet.Rows = append(sheet.Rows, []interface{}{
				rec.RFQID,
				rec.AwardID,
				l.LegID,
				strconv.FormatInt(l.ProviderID, 10),
				string(l.Status),
				l.Amount.String(),
				l.UpdatedAt.Format(time.RFC3339Nano),
				l.Reason,
				remaining,
			})
		}
	}
	return sheet
}

// exportReconciliation rewrites the whole workbook. Concurrent mutations
// queue on exportMu and each export reads the registry after its own
// change, so the last writer always leaves the newest state on disk.
func (r *Registry) exportReconciliation() {
	if r.exporter == nil {
		return
	}
	r.exportMu.Lock()
	defer r.exportMu.Unlock()

	if err := r.exporter.Export(ReconciliationWorkbook, BuildReconciliation(r.List())); err != nil {
		if r.metrics != nil {
			r.metrics.ExportErrors.WithLabelValues("reconciliation").Inc()
		}
		r.logger.Error().Err(err).Msg("reconciliation export failed")
	}
}
