package award

import (
	"encoding/json"
	"time"

	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/event"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/persistence"
)

var (
	auditHeader = []string{
		"award_id", "rfq_id", "selection_mode", "reviewer", "approver",
		"decision_reason", "tie_break_rule", "timestamp",
	}
	legHeader = []string{"award_id", "quote_id", "provider_id", "awarded_amount", "unit_price"}
)

// exportAudit rewrites the award audit workbook from the award log.
// Failures are logged and counted; the award itself stands.
func (e *Engine) exportAudit() {
	if e.exporter == nil {
		return
	}
	sheets, err := AuditSheets(e.logDir)
	if err == nil {
		err = e.exporter.Export(AuditWorkbook, sheets...)
	}
	if err != nil {
		if e.metrics != nil {
			e.metrics.ExportErrors.WithLabelValues("award_audit").Inc()
		}
		e.logger.Error().Err(err).Msg("award audit export failed")
	}
}

// AuditSheets builds the audit workbook content from every award event in
// the log under dir.
func AuditSheets(dir string) ([]persistence.Sheet, error) {
	awards := persistence.Sheet{Name: "Awards", Header: auditHeader}
	legs := persistence.Sheet{Name: "Legs", Header: legHeader}

	err := persistence.ScanLog(persistence.LogPath(dir, event.DomainAward), func(env event.Envelope, _ []byte, err error) bool {
		if err != nil || env.Event != event.TypeAwardCreated {
			return true
		}
		awardID := env.Field("award_id")
		awards.Rows = append(awards.Rows, []interface{}{
			awardID,
			env.Field("rfq_id"),
			env.Field("selection_mode"),
			env.Field("reviewer"),
			env.Field("approver"),
			env.Field("decision_reason"),
			env.Field("tie_break_rule"),
			env.Timestamp.Format(time.RFC3339Nano),
		})

		var recorded []event.AwardLeg
		if raw, ok := env.Fields["legs"]; ok && json.Unmarshal(raw, &recorded) == nil {
			for _, l := range recorded {
				legs.Rows = append(legs.Rows, []interface{}{
					awardID, l.QuoteID, l.ProviderID, l.AwardedAmount.String(), l.UnitPrice.String(),
				})
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return []persistence.Sheet{awards, legs}, nil
}
