package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ToJSON serializes a single report to pretty JSON.
func ToJSON(rep *Report) (string, error) {
	if rep == nil {
		return "", errors.New("nil report")
	}
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ToJSONs serializes multiple reports to pretty JSON.
func ToJSONs(reps []*Report) (string, error) {
	b, err := json.MarshalIndent(reps, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ToPlainText lists detections one per line.
func ToPlainText(rep *Report) (string, error) {
	if rep == nil {
		return "", errors.New("nil report")
	}
	var sb strings.Builder
	if rep.Source != "" {
		fmt.Fprintf(&sb, "%s ", rep.Source)
	}
	fmt.Fprintf(&sb, "(%dx%d): %d detection(s), proto=%s, %.1fms\n",
		rep.Width, rep.Height, rep.Count, rep.ProtoLayout, rep.Timing.TotalMs)
	for i, d := range rep.Detections {
		fmt.Fprintf(&sb, "  #%d %s score=%.3f box=(%d,%d %dx%d)\n",
			i+1, d.Label, d.Score, d.Box.X, d.Box.Y, d.Box.W, d.Box.H)
	}
	return sb.String(), nil
}

// ToCSV exports detections as CSV with a header row.
func ToCSV(reps ...*Report) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"source", "class_id", "label", "score", "x", "y", "w", "h"})
	for _, rep := range reps {
		if rep == nil {
			return "", errors.New("nil report")
		}
		for _, d := range rep.Detections {
			_ = w.Write([]string{
				rep.Source,
				strconv.Itoa(d.ClassID),
				d.Label,
				fmt.Sprintf("%.3f", d.Score),
				strconv.Itoa(d.Box.X),
				strconv.Itoa(d.Box.Y),
				strconv.Itoa(d.Box.W),
				strconv.Itoa(d.Box.H),
			})
		}
	}
	w.Flush()
	return buf.String(), w.Error()
}
