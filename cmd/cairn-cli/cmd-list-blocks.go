package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/cairndb/cairn/cairndb/backend"
	"github.com/cairndb/cairn/cairndb/encoding"
)

type listBlocksCmd struct {
	TenantID         string `arg:"" help:"tenant id within the backend"`
	LoadIndex        bool   `help:"load block indexes and display additional information"`
	IncludeCompacted bool   `help:"include compacted blocks"`

	backendOptions
}

func (l *listBlocksCmd) Run(_ *globalOptions) error {
	r, c, err := loadBackend(&l.backendOptions)
	if err != nil {
		return err
	}

	windowDuration := time.Hour

	results, err := loadBucket(r, c, l.TenantID, windowDuration, l.IncludeCompacted)
	if err != nil {
		return err
	}

	displayResults(r, l.TenantID, results, l.LoadIndex, l.IncludeCompacted)
	return nil
}

func displayResults(r backend.Reader, tenantID string, results []unifiedBlockMeta, loadIndex bool, includeCompacted bool) {
	columns := []string{"id", "count", "size", "enc", "window", "start", "end", "duration", "age"}
	if loadIndex {
		columns = append(columns, "idx", "dupe")
	}
	if includeCompacted {
		columns = append(columns, "cmp")
	}

	totalObjects := 0
	out := make([][]string, 0)
	for _, b := range results {
		totalIDs := -1
		duplicateIDs := -1

		if loadIndex {
			indexBytes, err := r.Index(context.Background(), b.BlockID, tenantID)
			if err == nil {
				records, err := encoding.UnmarshalRecords(indexBytes)
				if err == nil {
					duplicateIDs = 0
					totalIDs = len(records)
					for i := 1; i < len(records); i++ {
						if bytes.Equal(records[i-1].ID, records[i].ID) {
							duplicateIDs++
						}
					}
				}
			}
		}

		line := make([]string, 0)
		for _, c := range columns {
			s := ""
			switch c {
			case "id":
				s = b.BlockID.String()
			case "count":
				s = strconv.Itoa(b.TotalObjects)
			case "size":
				s = humanize.Bytes(b.Size)
			case "enc":
				s = string(b.Encoding)
			case "window":
				s = strconv.FormatInt(b.window, 10)
			case "start":
				s = b.StartTime.Format(time.RFC3339)
			case "end":
				s = b.EndTime.Format(time.RFC3339)
			case "duration":
				s = fmt.Sprint(b.EndTime.Sub(b.StartTime).Round(time.Second))
			case "age":
				s = fmt.Sprint(time.Since(b.EndTime).Round(time.Second))
			case "idx":
				s = strconv.Itoa(totalIDs)
			case "dupe":
				s = strconv.Itoa(duplicateIDs)
			case "cmp":
				s = strconv.FormatBool(b.compacted)
			}
			line = append(line, s)
		}

		out = append(out, line)
		if b.TotalObjects > 0 {
			totalObjects += b.TotalObjects
		}
	}

	footer := make([]string, len(columns))
	footer[1] = strconv.Itoa(totalObjects)

	fmt.Println()
	w := tablewriter.NewWriter(os.Stdout)
	w.SetHeader(columns)
	w.SetFooter(footer)
	w.AppendBulk(out)
	w.Render()
}
