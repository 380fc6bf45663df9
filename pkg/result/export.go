package result

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"
)

// Metadata describes the run that produced a Store.
type Metadata struct {
	RunID     string    `json:"run_id"`
	Circuit   string    `json:"circuit"`
	Scheme    string    `json:"scheme,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Steps     int       `json:"steps"`
	Rejected  int       `json:"rejected"`
}

// WriteCSV writes a header of "time" and the series names, then one row per
// point.
func (s *Store) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"time"}, s.names...)); err != nil {
		return err
	}

	n := s.Len()
	row := make([]string, len(s.names)+1)
	for k := 0; k < n; k++ {
		t, values := s.Row(k)
		row[0] = strconv.FormatFloat(t, 'g', -1, 64)
		for i, v := range values {
			row[i+1] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type jsonDoc struct {
	Metadata Metadata             `json:"metadata"`
	Names    []string             `json:"names"`
	Time     []float64            `json:"time"`
	Series   map[string][]float64 `json:"series"`
}

// WriteJSON writes the metadata and every series as one indented document.
func (s *Store) WriteJSON(w io.Writer, meta Metadata) error {
	s.mu.RLock()
	doc := jsonDoc{
		Metadata: meta,
		Names:    append([]string(nil), s.names...),
		Time:     append([]float64(nil), s.times...),
		Series:   make(map[string][]float64, len(s.names)),
	}
	for i, name := range s.names {
		doc.Series[name] = append([]float64(nil), s.cols[i]...)
	}
	s.mu.RUnlock()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
