package memory

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/surveypix/image-pipeline/internal/pipeline"
)

// LoadCSV seeds the queue from a CSV backlog export. The file must carry a
// header row naming at least item_id, survey_id and url columns; extra
// columns are ignored.
func (q *Queue) LoadCSV(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open backlog file: %w", err)
	}
	defer f.Close()
	return q.loadCSV(f)
}

func (q *Queue) loadCSV(r io.Reader) (int, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("read backlog header: %w", err)
	}

	cols := map[string]int{}
	for i, name := range header {
		cols[name] = i
	}
	for _, required := range []string{"item_id", "survey_id", "url"} {
		if _, ok := cols[required]; !ok {
			return 0, fmt.Errorf("backlog file is missing column %q", required)
		}
	}

	count := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, fmt.Errorf("read backlog row: %w", err)
		}
		q.Add(pipeline.WorkItem{
			ID:       record[cols["item_id"]],
			SurveyID: record[cols["survey_id"]],
			URL:      record[cols["url"]],
		})
		count++
	}
	return count, nil
}
