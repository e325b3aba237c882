package datasets

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// CSVOptions describes the layout of an event-log CSV and the observation
// windows used to split history from prediction targets.
type CSVOptions struct {
	// SubjectCol, TimeCol name the subject-id and timestamp columns.
	SubjectCol string
	TimeCol    string

	// CatCols and NumCols name the categorical-code and numeric-feature
	// columns, in the order the model expects them.
	CatCols []string
	NumCols []string

	// ActivityEnd closes the observation window: events at or before it form
	// the subject's history. The first event in (ActivityEnd, PredictionEnd]
	// becomes the return target; subjects without one are censored.
	ActivityEnd   float64
	PredictionEnd float64

	// MaxSeqLen truncates each history to its most recent events. Zero means
	// no truncation.
	MaxSeqLen int
}

// FromCSV reads every file matching pattern and assembles one sequence per
// subject. Files only need a header naming the configured columns; column
// order is free.
func FromCSV(pattern string, opts CSVOptions) (*SequenceDataset, error) {
	if opts.SubjectCol == "" || opts.TimeCol == "" {
		return nil, fmt.Errorf("subject and time columns must be named")
	}
	if opts.PredictionEnd <= opts.ActivityEnd {
		return nil, fmt.Errorf("prediction end %v must be after activity end %v",
			opts.PredictionEnd, opts.ActivityEnd)
	}

	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("bad glob pattern %q: %w", pattern, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files match pattern %q", pattern)
	}

	history := make(map[string][]Event)
	returns := make(map[string]float64)
	var order []string

	for _, path := range files {
		if err := readEventFile(path, opts, history, returns, &order); err != nil {
			return nil, err
		}
	}

	var seqs []*Sequence
	for _, subject := range order {
		events := history[subject]
		if len(events) == 0 {
			continue
		}
		sortEventsByTime(events)
		if opts.MaxSeqLen > 0 && len(events) > opts.MaxSeqLen {
			events = events[len(events)-opts.MaxSeqLen:]
		}
		target := Censored
		if t, ok := returns[subject]; ok {
			target = t
		}
		seqs = append(seqs, &Sequence{SubjectID: subject, Events: events, Target: target})
	}
	if len(seqs) == 0 {
		return nil, fmt.Errorf("no subject has events inside the activity window")
	}

	return FromSequences(seqs, opts.PredictionEnd)
}

// readEventFile streams one CSV file into the per-subject accumulators.
func readEventFile(path string, opts CSVOptions, history map[string][]Event, returns map[string]float64, order *[]string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("read header of %s: %w", path, err)
	}

	colIndex := make(map[string]int, len(header))
	for i, name := range header {
		colIndex[name] = i
	}
	required := append([]string{opts.SubjectCol, opts.TimeCol}, opts.CatCols...)
	required = append(required, opts.NumCols...)
	for _, name := range required {
		if _, ok := colIndex[name]; !ok {
			return fmt.Errorf("%s: missing column %q", path, name)
		}
	}

	row := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%s row %d: %w", path, row, err)
		}
		row++

		subject := record[colIndex[opts.SubjectCol]]
		ts, err := strconv.ParseFloat(record[colIndex[opts.TimeCol]], 64)
		if err != nil {
			return fmt.Errorf("%s row %d: bad timestamp: %w", path, row, err)
		}

		if ts > opts.ActivityEnd {
			// Candidate return event: keep the earliest one inside the
			// prediction window; everything later is ignored.
			if ts <= opts.PredictionEnd {
				if prev, ok := returns[subject]; !ok || ts < prev {
					returns[subject] = ts
				}
			}
			continue
		}

		cats := make([]int, len(opts.CatCols))
		for i, name := range opts.CatCols {
			code, err := strconv.Atoi(record[colIndex[name]])
			if err != nil {
				return fmt.Errorf("%s row %d: bad categorical code in %q: %w", path, row, name, err)
			}
			if code < 0 {
				return fmt.Errorf("%s row %d: negative categorical code %d in %q", path, row, code, name)
			}
			cats[i] = code
		}
		nums := make([]float64, len(opts.NumCols))
		for i, name := range opts.NumCols {
			v, err := strconv.ParseFloat(record[colIndex[name]], 64)
			if err != nil {
				return fmt.Errorf("%s row %d: bad numeric value in %q: %w", path, row, name, err)
			}
			nums[i] = v
		}

		if _, seen := history[subject]; !seen {
			*order = append(*order, subject)
		}
		history[subject] = append(history[subject], Event{Timestamp: ts, Cats: cats, Nums: nums})
	}
	return nil
}
