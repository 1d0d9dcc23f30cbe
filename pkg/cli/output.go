// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-imgtransform.
//
// go-imgtransform is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jeremyhahn/go-imgtransform/pkg/index"
	"github.com/jeremyhahn/go-imgtransform/pkg/transform"
)

// OutputFormat defines the output format type.
type OutputFormat string

const (
	FormatText  OutputFormat = "text"
	FormatJSON  OutputFormat = "json"
	FormatTable OutputFormat = "table"
)

// OperationResult holds the result of an operation.
type OperationResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// TransformResult is one resolved transform.
type TransformResult struct {
	Path   string `json:"path"`
	Key    string `json:"key,omitempty"`
	URL    string `json:"url,omitempty"`
	Format string `json:"format,omitempty"`
	Error  string `json:"error,omitempty"`
}

// FormatOperationResult formats an operation result in the specified format.
func FormatOperationResult(result *OperationResult, format OutputFormat) string {
	switch format {
	case FormatJSON:
		return formatJSON(result)
	case FormatTable:
		return formatResultTable(result)
	default:
		return formatResultText(result)
	}
}

// FormatError formats an error message in the specified format.
func FormatError(err error, format OutputFormat) string {
	result := &OperationResult{
		Success: false,
		Error:   err.Error(),
	}
	return FormatOperationResult(result, format)
}

func formatResultText(result *OperationResult) string {
	if result.Success {
		if result.Message != "" {
			return result.Message + "\n"
		}
		return "Operation completed successfully\n"
	}
	return fmt.Sprintf("Error: %s\n", result.Error)
}

func formatResultTable(result *OperationResult) string {
	status, text := "SUCCESS", result.Message
	if !result.Success {
		status, text = "FAILED", result.Error
	}
	var b strings.Builder
	b.WriteString("┌────────────────────────────────────────────────────────┐\n")
	b.WriteString("│ Operation Result                                       │\n")
	b.WriteString("├────────────────────────────────────────────────────────┤\n")
	fmt.Fprintf(&b, "│ Status: %-46s │\n", status)
	if text != "" {
		for _, line := range wrapText(text, 54) {
			fmt.Fprintf(&b, "│ %-54s │\n", line)
		}
	}
	b.WriteString("└────────────────────────────────────────────────────────┘\n")
	return b.String()
}

func formatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"error\": \"failed to marshal JSON: %s\"}\n", err)
	}
	return string(data) + "\n"
}

// FormatTransformResults formats resolved transforms.
func FormatTransformResults(results []TransformResult, format OutputFormat) string {
	switch format {
	case FormatJSON:
		failed := 0
		for _, r := range results {
			if r.Error != "" {
				failed++
			}
		}
		return formatJSON(map[string]any{
			"count":   len(results),
			"failed":  failed,
			"results": results,
		})
	case FormatTable:
		if len(results) == 0 {
			return "No transforms\n"
		}
		var b strings.Builder
		b.WriteString("┌──────────────────────────────┬────────────────────────┬──────────────────────────────────────────┐\n")
		b.WriteString("│ Path                         │ Key                    │ URL / Error                              │\n")
		b.WriteString("├──────────────────────────────┼────────────────────────┼──────────────────────────────────────────┤\n")
		for _, r := range results {
			last := r.URL
			if r.Error != "" {
				last = "ERROR: " + r.Error
			}
			fmt.Fprintf(&b, "│ %-28s │ %-22s │ %-40s │\n", truncate(r.Path, 28), truncate(r.Key, 22), truncate(last, 40))
		}
		b.WriteString("└──────────────────────────────┴────────────────────────┴──────────────────────────────────────────┘\n")
		fmt.Fprintf(&b, "Total: %d transform(s)\n", len(results))
		return b.String()
	default:
		var b strings.Builder
		for _, r := range results {
			if r.Error != "" {
				fmt.Fprintf(&b, "%s: error: %s\n", r.Path, r.Error)
				continue
			}
			fmt.Fprintln(&b, r.URL)
		}
		return b.String()
	}
}

// FormatRecords formats the index records of an asset.
func FormatRecords(assetID string, records []*index.Record, format OutputFormat) string {
	switch format {
	case FormatJSON:
		return formatJSON(map[string]any{
			"assetId": assetID,
			"count":   len(records),
			"records": records,
		})
	case FormatTable:
		if len(records) == 0 {
			return "No records found\n"
		}
		var b strings.Builder
		b.WriteString("┌──────────────────────────┬──────────────┬────────┬──────────┬──────────────────────┐\n")
		b.WriteString("│ Location                 │ Filename     │ Format │ State    │ Completed            │\n")
		b.WriteString("├──────────────────────────┼──────────────┼────────┼──────────┼──────────────────────┤\n")
		for _, r := range records {
			fmt.Fprintf(&b, "│ %-24s │ %-12s │ %-6s │ %-8s │ %-20s │\n",
				truncate(r.Location, 24), truncate(r.Filename, 12), r.Format, recordState(r), formatTime(r.DateCompleted))
		}
		b.WriteString("└──────────────────────────┴──────────────┴────────┴──────────┴──────────────────────┘\n")
		fmt.Fprintf(&b, "Total: %d record(s)\n", len(records))
		return b.String()
	default:
		if len(records) == 0 {
			return "No records found\n"
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Found %d record(s) for %s:\n\n", len(records), assetID)
		for _, r := range records {
			fmt.Fprintf(&b, "Location: %s\n", r.Location)
			fmt.Fprintf(&b, "  ID: %s\n", r.ID)
			fmt.Fprintf(&b, "  Key: %s\n", r.Key)
			if r.Filename != "" {
				fmt.Fprintf(&b, "  Filename: %s\n", r.Filename)
			}
			fmt.Fprintf(&b, "  State: %s\n", recordState(r))
			if !r.DateCompleted.IsZero() {
				fmt.Fprintf(&b, "  Completed: %s\n", r.DateCompleted.Format(time.RFC3339))
			}
			b.WriteString("\n")
		}
		return b.String()
	}
}

func recordState(r *index.Record) string {
	switch {
	case r.InProgress:
		return "running"
	case r.Error:
		return "error"
	case r.FileExists:
		return "ready"
	default:
		return "pending"
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

// FormatPresets formats the named transform table.
func FormatPresets(presets transform.Presets, format OutputFormat) string {
	handles := presets.Handles()
	switch format {
	case FormatJSON:
		type entry struct {
			Handle string               `json:"handle"`
			Key    string               `json:"key"`
			Params transform.Parameters `json:"params"`
		}
		out := make([]entry, 0, len(handles))
		for _, h := range handles {
			p, _ := presets.Lookup(h)
			out = append(out, entry{Handle: h, Key: string(transform.Normalize(p, nil).Key()), Params: p})
		}
		return formatJSON(map[string]any{"count": len(out), "transforms": out})
	case FormatTable:
		if len(handles) == 0 {
			return "No named transforms\n"
		}
		var b strings.Builder
		b.WriteString("┌──────────────────┬────────────────────────────────────────┐\n")
		b.WriteString("│ Handle           │ Key                                    │\n")
		b.WriteString("├──────────────────┼────────────────────────────────────────┤\n")
		for _, h := range handles {
			p, _ := presets.Lookup(h)
			fmt.Fprintf(&b, "│ %-16s │ %-38s │\n", truncate(h, 16), truncate(string(transform.Normalize(p, nil).Key()), 38))
		}
		b.WriteString("└──────────────────┴────────────────────────────────────────┘\n")
		return b.String()
	default:
		if len(handles) == 0 {
			return "No named transforms\n"
		}
		var b strings.Builder
		for _, h := range handles {
			p, _ := presets.Lookup(h)
			fmt.Fprintf(&b, "%s: %s\n", h, transform.Normalize(p, nil).Key())
		}
		return b.String()
	}
}

// wrapText wraps text to fit within maxWidth characters.
func wrapText(text string, maxWidth int) []string {
	if len(text) <= maxWidth {
		return []string{text}
	}

	// Check if text has no spaces - need to hard wrap
	if !strings.Contains(text, " ") {
		var lines []string
		for len(text) > maxWidth {
			lines = append(lines, text[:maxWidth])
			text = text[maxWidth:]
		}
		if len(text) > 0 {
			lines = append(lines, text)
		}
		return lines
	}

	var lines []string
	var currentLine string
	for _, word := range strings.Fields(text) {
		if len(currentLine) == 0 {
			currentLine = word
		} else if len(currentLine)+1+len(word) <= maxWidth {
			currentLine += " " + word
		} else {
			lines = append(lines, currentLine)
			currentLine = word
		}
	}
	if len(currentLine) > 0 {
		lines = append(lines, currentLine)
	}
	return lines
}
