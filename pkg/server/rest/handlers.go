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
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jeremyhahn/go-imgtransform/pkg/adapters"
	"github.com/jeremyhahn/go-imgtransform/pkg/asset"
	"github.com/jeremyhahn/go-imgtransform/pkg/audit"
	"github.com/jeremyhahn/go-imgtransform/pkg/common"
	"github.com/jeremyhahn/go-imgtransform/pkg/server/middleware"
	"github.com/jeremyhahn/go-imgtransform/pkg/transform"
	"github.com/jeremyhahn/go-imgtransform/pkg/transformer"
	"github.com/jeremyhahn/go-imgtransform/pkg/version"
)

var (
	// ErrTransformerRequired is returned by NewHandler without a transformer.
	ErrTransformerRequired = errors.New("transformer is required")

	// ErrCatalogRequired is returned by NewHandler without an asset catalog.
	ErrCatalogRequired = errors.New("asset catalog is required")
)

// Handler serves transform requests against one transformer and its catalog.
type Handler struct {
	transformer *transformer.Transformer
	assets      *asset.Catalog
	volumes     map[string]common.Volume
	presets     transform.Presets
	logger      adapters.Logger
}

// NewHandler creates a Handler. volumes names the volumes assets may be
// registered on; presets is the named transform table.
func NewHandler(tr *transformer.Transformer, assets *asset.Catalog, volumes map[string]common.Volume,
	presets transform.Presets, logger adapters.Logger) (*Handler, error) {
	if tr == nil {
		return nil, ErrTransformerRequired
	}
	if assets == nil {
		return nil, ErrCatalogRequired
	}
	if logger == nil {
		logger = adapters.NewNoOpLogger()
	}
	if presets == nil {
		presets = transform.Presets{}
	}
	return &Handler{
		transformer: tr,
		assets:      assets,
		volumes:     volumes,
		presets:     presets,
		logger:      logger,
	}, nil
}

// TransformQuery is the query string of a transform request.
type TransformQuery struct {
	Width     int    `form:"w"`
	Height    int    `form:"h"`
	Mode      string `form:"mode"`
	Position  string `form:"position"`
	Format    string `form:"format"`
	Quality   int    `form:"quality"`
	Interlace string `form:"interlace"`
	Upscale   *bool  `form:"upscale"`
	Handle    string `form:"transform"`
	Key       string `form:"key"`
	Redirect  bool   `form:"redirect"`
}

// Parameters turns the query into transform parameters. A named transform
// or a key string fixes the geometry; format and quality may still be
// given alongside a key.
func (q *TransformQuery) Parameters(presets transform.Presets) (transform.Parameters, error) {
	switch {
	case q.Handle != "" && q.Key != "":
		return transform.Parameters{}, fmt.Errorf("%w: transform and key are mutually exclusive", transform.ErrInvalidParameters)
	case q.Handle != "":
		return presets.Lookup(q.Handle)
	case q.Key != "":
		p, err := transform.ParseKey(q.Key)
		if err != nil {
			return p, err
		}
		p.Format = q.Format
		p.Quality = q.Quality
		p.Upscale = q.Upscale
		return p, nil
	}
	return transform.Parameters{
		Width:     q.Width,
		Height:    q.Height,
		Mode:      transform.Mode(q.Mode),
		Position:  transform.Position(q.Position),
		Format:    q.Format,
		Quality:   q.Quality,
		Interlace: transform.Interlace(q.Interlace),
		Upscale:   q.Upscale,
	}, nil
}

// HealthCheck handles health check requests
// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: version.Get(),
	})
}

// Transform resolves a transform of an asset to a URL, generating the
// derived image when needed.
// @Summary Resolve a transform URL
// @Description Returns the URL of the derived image, generating it on first use. With redirect=1 the response is a 302 to that URL.
// @Tags transforms
// @Produce json
// @Param id path string true "Asset ID"
// @Param w query int false "Width"
// @Param h query int false "Height"
// @Param mode query string false "crop, fit or stretch"
// @Param position query string false "Crop anchor, e.g. top-left"
// @Param format query string false "Output format"
// @Param quality query int false "Encoder quality 0-100"
// @Param interlace query string false "none, line, plane or partition"
// @Param upscale query bool false "Allow upscaling"
// @Param transform query string false "Named transform handle"
// @Param key query string false "Transform key"
// @Param redirect query bool false "Redirect to the derived image"
// @Success 200 {object} TransformResponse
// @Success 302
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/v1/assets/{id}/transform [get]
func (h *Handler) Transform(c *gin.Context) {
	var q TransformQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		RespondWithError(c, http.StatusBadRequest, "invalid query: "+err.Error())
		return
	}
	params, err := q.Parameters(h.presets)
	if err != nil {
		RespondWithErr(c, err)
		return
	}

	assetID := c.Param("id")
	res, err := h.transformer.Resolve(c.Request.Context(), assetID, params)
	if err != nil {
		h.logFailure(c, "Transform failed", err, adapters.Field{Key: "asset_id", Value: assetID})
		RespondWithErr(c, err)
		return
	}

	if q.Redirect {
		c.Redirect(http.StatusFound, res.URL)
		return
	}
	RespondWithTransform(c, res)
}

// ListNamedTransforms returns the named transform table.
// @Summary List named transforms
// @Tags transforms
// @Produce json
// @Success 200 {object} NamedTransformsResponse
// @Router /api/v1/transforms [get]
func (h *Handler) ListNamedTransforms(c *gin.Context) {
	RespondWithNamedTransforms(c, h.presets)
}

// GetAsset returns a registered asset.
// @Summary Get an asset
// @Tags assets
// @Produce json
// @Param id path string true "Asset ID"
// @Success 200 {object} asset.Asset
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/assets/{id} [get]
func (h *Handler) GetAsset(c *gin.Context) {
	a, err := h.assets.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondWithErr(c, err)
		return
	}
	RespondWithAsset(c, http.StatusOK, a)
}

// RegisterAsset probes a file on a configured volume and adds it to the
// catalog. Replacing an asset whose path, dimensions or focal point changed
// invalidates its transforms.
// @Summary Register an asset
// @Tags assets
// @Accept json
// @Produce json
// @Param request body RegisterAssetRequest true "Asset location"
// @Success 201 {object} asset.Asset
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /api/v1/assets [post]
func (h *Handler) RegisterAsset(c *gin.Context) {
	var req RegisterAssetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondWithError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := common.ValidatePath(req.Path); err != nil {
		RespondWithErr(c, err)
		return
	}
	vol, ok := h.volumes[req.Volume]
	if !ok {
		RespondWithErr(c, fmt.Errorf("%w: %s", common.ErrVolumeNotFound, req.Volume))
		return
	}

	a, err := asset.Probe(c.Request.Context(), vol, req.Volume, req.Path)
	if err != nil {
		RespondWithErr(c, err)
		return
	}
	a.ID = req.ID
	a.FocalPoint = req.FocalPoint
	a, changed, err := h.assets.Replace(a)
	if err != nil {
		RespondWithErr(c, err)
		return
	}
	if changed {
		n, err := h.transformer.Invalidate(c.Request.Context(), a.ID)
		if err != nil {
			RespondWithErr(c, err)
			return
		}
		h.logger.Info(c.Request.Context(), "Asset source changed, transforms invalidated",
			adapters.Field{Key: "asset_id", Value: a.ID},
			adapters.Field{Key: "records", Value: n},
		)
	}

	c.Set(audit.AssetIDKey, a.ID)
	h.logger.Info(c.Request.Context(), "Asset registered",
		adapters.Field{Key: "asset_id", Value: a.ID},
		adapters.Field{Key: "volume", Value: a.VolumeName},
		adapters.Field{Key: "path", Value: a.Path()},
	)
	RespondWithAsset(c, http.StatusCreated, a)
}

// ListRecords returns the index records of an asset.
// @Summary List transform records of an asset
// @Tags assets
// @Produce json
// @Param id path string true "Asset ID"
// @Success 200 {object} RecordsResponse
// @Failure 404 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/v1/assets/{id}/transforms [get]
func (h *Handler) ListRecords(c *gin.Context) {
	assetID := c.Param("id")
	if _, err := h.assets.Get(c.Request.Context(), assetID); err != nil {
		RespondWithErr(c, err)
		return
	}
	records, err := h.transformer.Index().ListByAsset(c.Request.Context(), assetID)
	if err != nil {
		RespondWithErr(c, err)
		return
	}
	RespondWithRecords(c, assetID, records)
}

// Invalidate deletes the derived files and index records of an asset.
// @Summary Invalidate the transforms of an asset
// @Tags assets
// @Produce json
// @Param id path string true "Asset ID"
// @Success 200 {object} InvalidateResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/v1/assets/{id}/transforms [delete]
func (h *Handler) Invalidate(c *gin.Context) {
	assetID := c.Param("id")
	n, err := h.transformer.Invalidate(c.Request.Context(), assetID)
	if err != nil {
		h.logFailure(c, "Invalidate failed", err, adapters.Field{Key: "asset_id", Value: assetID})
		RespondWithErr(c, err)
		return
	}
	c.JSON(http.StatusOK, InvalidateResponse{AssetID: assetID, Deleted: n})
}

// Reindex reconciles the FileExists flags of an asset with its volume.
// @Summary Reindex the transforms of an asset
// @Tags assets
// @Produce json
// @Param id path string true "Asset ID"
// @Success 200 {object} ReindexResponse
// @Failure 404 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/v1/assets/{id}/reindex [post]
func (h *Handler) Reindex(c *gin.Context) {
	assetID := c.Param("id")
	res, err := h.transformer.Reindex(c.Request.Context(), assetID)
	if err != nil {
		RespondWithErr(c, err)
		return
	}
	c.JSON(http.StatusOK, ReindexResponse{AssetID: assetID, ReindexResult: *res})
}

func (h *Handler) logFailure(c *gin.Context, msg string, err error, fields ...adapters.Field) {
	fields = append(fields,
		adapters.Field{Key: "request_id", Value: middleware.GetRequestIDFromGinContext(c)},
		adapters.ErrField(err),
	)
	if StatusForError(err) >= http.StatusInternalServerError {
		h.logger.Error(c.Request.Context(), msg, fields...)
		return
	}
	h.logger.Debug(c.Request.Context(), msg, fields...)
}
