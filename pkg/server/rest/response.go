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

package rest

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jeremyhahn/go-imgtransform/pkg/asset"
	"github.com/jeremyhahn/go-imgtransform/pkg/common"
	"github.com/jeremyhahn/go-imgtransform/pkg/index"
	"github.com/jeremyhahn/go-imgtransform/pkg/transform"
	"github.com/jeremyhahn/go-imgtransform/pkg/transformer"
)

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error   string `json:"error" example:"Bad Request"`
	Code    int    `json:"code" example:"400"`
	Message string `json:"message,omitempty" example:"invalid transform parameters: unknown mode \"zoom\""`
} // @name ErrorResponse

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  string `json:"status" example:"healthy"`
	Version string `json:"version,omitempty" example:"0.1.0-alpha"`
} // @name HealthResponse

// TransformResponse is the resolved URL of a transform.
type TransformResponse struct {
	URL    string        `json:"url" example:"https://cdn.example.com/photos/_400xAUTO_fit_center-center/photo.jpg"`
	Path   string        `json:"path" example:"photos/_400xAUTO_fit_center-center/photo.jpg"`
	Key    transform.Key `json:"key,omitempty" example:"_400xAUTO_fit_center-center"`
	Format string        `json:"format" example:"jpg"`
	Record *index.Record `json:"record,omitempty"`
} // @name TransformResponse

// RecordsResponse lists the index records of one asset.
type RecordsResponse struct {
	AssetID string          `json:"assetId"`
	Records []*index.Record `json:"records"`
	Count   int             `json:"count" example:"3"`
} // @name RecordsResponse

// NamedTransform is one entry of the named transform table.
type NamedTransform struct {
	Handle string               `json:"handle" example:"thumb"`
	Key    transform.Key        `json:"key" example:"_200x200_crop_center-center"`
	Params transform.Parameters `json:"params"`
} // @name NamedTransform

// NamedTransformsResponse lists the configured named transforms.
type NamedTransformsResponse struct {
	Transforms []NamedTransform `json:"transforms"`
	Count      int              `json:"count" example:"2"`
} // @name NamedTransformsResponse

// InvalidateResponse reports how many index records were dropped.
type InvalidateResponse struct {
	AssetID string `json:"assetId"`
	Deleted int    `json:"deleted" example:"4"`
} // @name InvalidateResponse

// ReindexResponse reports a reindex run.
type ReindexResponse struct {
	AssetID string `json:"assetId"`
	transformer.ReindexResult
} // @name ReindexResponse

// RegisterAssetRequest registers a file on a configured volume as an asset.
type RegisterAssetRequest struct {
	ID         string                `json:"id,omitempty"`
	Volume     string                `json:"volume" binding:"required" example:"public"`
	Path       string                `json:"path" binding:"required" example:"photos/photo.jpg"`
	FocalPoint *transform.FocalPoint `json:"focalPoint,omitempty"`
} // @name RegisterAssetRequest

// errorStatus maps error categories to HTTP status codes, most specific
// first: a persistence error wrapping a not-found stays a 503.
var errorStatus = []struct {
	target error
	status int
}{
	{common.ErrUnsupportedFormat, http.StatusUnprocessableEntity},
	{transform.ErrInvalidParameters, http.StatusBadRequest},
	{common.ErrIndexPersistence, http.StatusServiceUnavailable},
	{common.ErrSourceUnreadable, http.StatusBadGateway},
	{common.ErrStorageWrite, http.StatusBadGateway},
	{common.ErrAssetNotFound, http.StatusNotFound},
	{common.ErrVolumeNotFound, http.StatusNotFound},
	{common.ErrKeyNotFound, http.StatusNotFound},
	{context.DeadlineExceeded, http.StatusGatewayTimeout},
}

// StatusForError returns the HTTP status for err.
func StatusForError(err error) int {
	var ve *common.ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest
	}
	for _, m := range errorStatus {
		if errors.Is(err, m.target) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// RespondWithError sends a standard error response
func RespondWithError(c *gin.Context, code int, message string) {
	c.JSON(code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// RespondWithErr maps err to a status. Client errors carry the full message;
// server errors only name their category.
func RespondWithErr(c *gin.Context, err error) {
	_ = c.Error(err) // #nosec G104 -- recorded for audit and logging middleware
	code := StatusForError(err)
	if code < http.StatusInternalServerError {
		RespondWithError(c, code, err.Error())
		return
	}
	for _, m := range errorStatus {
		if m.status == code && errors.Is(err, m.target) {
			RespondWithError(c, code, m.target.Error())
			return
		}
	}
	RespondWithError(c, code, common.SanitizeErrorMessage(err))
}

// RespondWithTransform sends a resolved transform.
func RespondWithTransform(c *gin.Context, res *transformer.Result) {
	resp := TransformResponse{
		URL:    res.URL,
		Path:   res.Path,
		Format: res.Format,
		Record: res.Record,
	}
	if res.Record != nil {
		resp.Key = res.Record.Key
	}
	c.JSON(http.StatusOK, resp)
}

// RespondWithRecords sends the index records of an asset.
func RespondWithRecords(c *gin.Context, assetID string, records []*index.Record) {
	if records == nil {
		records = []*index.Record{}
	}
	c.JSON(http.StatusOK, RecordsResponse{AssetID: assetID, Records: records, Count: len(records)})
}

// RespondWithNamedTransforms sends the named transform table in handle order.
func RespondWithNamedTransforms(c *gin.Context, presets transform.Presets) {
	resp := NamedTransformsResponse{Transforms: make([]NamedTransform, 0, len(presets))}
	for _, h := range presets.Handles() {
		p, _ := presets.Lookup(h)
		resp.Transforms = append(resp.Transforms, NamedTransform{
			Handle: h,
			Key:    transform.Normalize(p, nil).Key(),
			Params: p,
		})
	}
	resp.Count = len(resp.Transforms)
	c.JSON(http.StatusOK, resp)
}

// RespondWithAsset sends an asset with the given status.
func RespondWithAsset(c *gin.Context, code int, a *asset.Asset) {
	c.JSON(code, a)
}
