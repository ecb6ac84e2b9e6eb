package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strconv"
	"time"
)

var csvHeader = []string{"id", "occurred_at", "actor_principal_id", "event_type", "target_type", "target_id", "metadata"}

// CSVExporter renders events as CSV.
type CSVExporter struct{}

// NewExporter returns the CSV exporter.
func NewExporter() CSVExporter {
	return CSVExporter{}
}

// WriteCSV encodes events with a header row; metadata is rendered as compact JSON.
func (CSVExporter) WriteCSV(events []Event) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, ev := range events {
		meta := []byte("{}")
		if len(ev.Metadata) > 0 {
			raw, err := json.Marshal(ev.Metadata)
			if err != nil {
				return nil, err
			}
			meta = raw
		}
		record := []string{
			strconv.FormatInt(ev.ID, 10),
			ev.OccurredAt.UTC().Format(time.RFC3339Nano),
			ev.ActorPrincipalID.String(),
			string(ev.EventType),
			string(ev.TargetType),
			ev.TargetID,
			string(meta),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
