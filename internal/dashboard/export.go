package dashboard

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"araradar/internal/api"
)

// ExportFilename names the CSV export for a snapshot date.
func ExportFilename(date string) string {
	return fmt.Sprintf("ara_candidates_%s.csv", date)
}

// WriteCandidatesCSV writes the current table to w with the same columns as
// the dashboard: Rank, Ticker, Proba, Nama, Papan, VolRank.
func WriteCandidatesCSV(w io.Writer, snap *api.ScoreSnapshot) error {
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{"Rank", "Ticker", "Proba", "Nama", "Papan", "VolRank"}); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for i, row := range snap.Rows {
		rec := []string{
			strconv.Itoa(i + 1),
			row.Ticker,
			strconv.FormatFloat(row.ProbaARAT1, 'f', -1, 64),
			row.Nama,
			row.Papan,
			strconv.FormatFloat(row.VolRankDay, 'f', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("writing csv row %d: %w", i+1, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
