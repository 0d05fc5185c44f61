package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/born-ml/fusedconv/internal/tensor"
	"github.com/olekukonko/tablewriter"
)

const (
	formatTable = "table"
	formatJSON  = "json"
)

type namedTensor struct {
	Name   string
	Tensor *tensor.RawTensor
}

type tensorJSON struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

type diffRow struct {
	Name       string       `json:"name"`
	Shape      tensor.Shape `json:"shape"`
	MaxAbsDiff float64      `json:"maxAbsDiff"`
}

func writeTensors(w io.Writer, format string, results []namedTensor) error {
	if format == formatJSON {
		out := make([]tensorJSON, len(results))
		for i, r := range results {
			out[i] = tensorJSON{Name: r.Name, Shape: r.Tensor.Shape(), Data: r.Tensor.AsFloat32()}
		}
		return writeJSON(w, out)
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"TENSOR", "SHAPE", "VALUES"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	for _, r := range results {
		table.Append([]string{r.Name, formatShape(r.Tensor.Shape()), formatValues(r.Tensor.AsFloat32())})
	}
	table.Render()
	return nil
}

func writeDiffs(w io.Writer, format string, diffs []diffRow) error {
	if format == formatJSON {
		return writeJSON(w, diffs)
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"TENSOR", "SHAPE", "MAX ABS DIFF"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, d := range diffs {
		table.Append([]string{d.Name, formatShape(d.Shape), strconv.FormatFloat(d.MaxAbsDiff, 'g', 4, 64)})
	}
	table.Render()
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

func formatShape(s tensor.Shape) string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = strconv.Itoa(d)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func formatValues(v []float32) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.FormatFloat(float64(x), 'g', 6, 32)
	}
	return strings.Join(parts, " ")
}
