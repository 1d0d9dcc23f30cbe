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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-imgtransform/pkg/index"
	"github.com/jeremyhahn/go-imgtransform/pkg/transform"
)

func TestFormatOperationResult(t *testing.T) {
	ok := &OperationResult{Success: true, Message: "Invalidated 3 transform(s)"}
	assert.Equal(t, "Invalidated 3 transform(s)\n", FormatOperationResult(ok, FormatText))
	assert.Equal(t, "Operation completed successfully\n", FormatOperationResult(&OperationResult{Success: true}, FormatText))
	assert.Contains(t, FormatOperationResult(ok, FormatTable), "SUCCESS")

	var decoded OperationResult
	require.NoError(t, json.Unmarshal([]byte(FormatOperationResult(ok, FormatJSON)), &decoded))
	assert.Equal(t, *ok, decoded)

	failed := FormatError(errors.New("asset not found"), FormatTable)
	assert.Contains(t, failed, "FAILED")
	assert.Contains(t, failed, "asset not found")
	assert.Equal(t, "Error: boom\n", FormatError(errors.New("boom"), FormatText))
}

func TestFormatTransformResults(t *testing.T) {
	results := []TransformResult{
		{Path: "a.jpg", Key: "_200x200_crop_center-center", URL: "https://cdn/_thumb/a.jpg", Format: "jpg"},
		{Path: "b.jpg", Error: "source unreadable"},
	}

	text := FormatTransformResults(results, FormatText)
	assert.Equal(t, "https://cdn/_thumb/a.jpg\nb.jpg: error: source unreadable\n", text)

	table := FormatTransformResults(results, FormatTable)
	assert.Contains(t, table, "ERROR: source unreadable")
	assert.Contains(t, table, "Total: 2 transform(s)")
	assert.Equal(t, "No transforms\n", FormatTransformResults(nil, FormatTable))

	var decoded struct {
		Count  int `json:"count"`
		Failed int `json:"failed"`
	}
	require.NoError(t, json.Unmarshal([]byte(FormatTransformResults(results, FormatJSON)), &decoded))
	assert.Equal(t, 2, decoded.Count)
	assert.Equal(t, 1, decoded.Failed)
}

func TestFormatRecords(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	ready := index.NewRecord("asset-1", transform.Parameters{Handle: "thumb", Width: 200, Height: 200,
		Mode: transform.ModeCrop, Position: transform.CenterCenter, Interlace: transform.InterlaceNone}, now)
	ready.FileExists, ready.Filename, ready.Format, ready.DateCompleted = true, "a.jpg", "jpg", now
	running := index.NewRecord("asset-1", transform.Parameters{Width: 50, Mode: transform.ModeFit,
		Position: transform.CenterCenter, Interlace: transform.InterlaceNone}, now)
	running.InProgress = true
	failed := running.Clone()
	failed.InProgress, failed.Error = false, true

	assert.Equal(t, "ready", recordState(ready))
	assert.Equal(t, "running", recordState(running))
	assert.Equal(t, "error", recordState(failed))
	assert.Equal(t, "pending", recordState(&index.Record{}))

	text := FormatRecords("asset-1", []*index.Record{ready, running}, FormatText)
	assert.Contains(t, text, "Found 2 record(s) for asset-1")
	assert.Contains(t, text, "Location: _thumb")
	assert.Contains(t, text, "Completed: 2025-05-01T12:00:00Z")

	table := FormatRecords("asset-1", []*index.Record{ready, running}, FormatTable)
	assert.Contains(t, table, "2025-05-01 12:00:00")
	assert.Contains(t, table, "running")
	assert.Equal(t, "No records found\n", FormatRecords("asset-1", nil, FormatText))

	var decoded struct {
		AssetID string          `json:"assetId"`
		Records []*index.Record `json:"records"`
	}
	require.NoError(t, json.Unmarshal([]byte(FormatRecords("asset-1", []*index.Record{ready}, FormatJSON)), &decoded))
	assert.Equal(t, "asset-1", decoded.AssetID)
	require.Len(t, decoded.Records, 1)
	assert.Equal(t, ready.ID, decoded.Records[0].ID)
}

func TestFormatPresets(t *testing.T) {
	presets := transform.Presets{
		"thumb": {Width: 200, Height: 200, Mode: transform.ModeCrop},
		"wide":  {Width: 1200, Mode: transform.ModeFit},
	}
	assert.Equal(t,
		"thumb: _200x200_crop_center-center\nwide: _1200xAUTO_fit_center-center\n",
		FormatPresets(presets, FormatText))
	assert.Contains(t, FormatPresets(presets, FormatTable), "│ wide ")
	assert.Contains(t, FormatPresets(presets, FormatJSON), `"handle": "thumb"`)
	assert.Equal(t, "No named transforms\n", FormatPresets(transform.Presets{}, FormatText))
}

func TestWrapText(t *testing.T) {
	assert.Equal(t, []string{"short"}, wrapText("short", 10))
	assert.Equal(t, []string{"abcde", "fghij", "k"}, wrapText("abcdefghijk", 5))
	assert.Equal(t, []string{"one two", "three"}, wrapText("one two three", 8))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
