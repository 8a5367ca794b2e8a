package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/paulmach/orb"

	"rastermap/internal/cache"
	"rastermap/internal/config"
	"rastermap/internal/geo"
	"rastermap/internal/image"
)

// tileCacheControl marks tile responses as immutable for a year: a
// map id is bound to one expression forever, so tiles never change.
const tileCacheControl = "max-age=31536000, immutable"

// Handler serves the raster algebra endpoints.
type Handler struct {
	store *MapStore
	memo  *cache.EvalMemo
	cfg   *config.Config
}

func NewHandler(store *MapStore, memo *cache.EvalMemo, cfg *config.Config) *Handler {
	return &Handler{store: store, memo: memo, cfg: cfg}
}

// Register wires the routes onto an echo instance.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/", h.Root)
	e.POST("/map", h.CreateMap)
	e.POST("/info", h.Info)
	e.GET("/tiles/:id/:z/:x/:y", h.Tile)
	e.POST("/export", h.Export)
	e.GET("/cache-info", h.CacheInfo)
}

// Root handles GET / (health check).
func (h *Handler) Root(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"message": "Hello World"})
}

// CreateMap handles POST /map: persist the expression and respond with
// the tile URL template.
func (h *Handler) CreateMap(c echo.Context) error {
	var req MapRequest
	if err := c.Bind(&req); err != nil {
		return clientError(c, "invalid request body")
	}
	if len(req.ImageGraph) == 0 {
		return clientError(c, "image_graph is required")
	}

	// Evaluate once up front so malformed graphs fail at registration,
	// not on the first tile request.
	if _, err := h.memo.Eval(string(req.ImageGraph)); err != nil {
		return h.imageError(c, err)
	}

	if req.VisParams != nil {
		if err := req.VisParams.Validate(); err != nil {
			return clientError(c, err.Error())
		}
	}

	ctx := c.Request().Context()
	id := uuid.NewString()
	if err := h.store.SetMap(ctx, id, req.ImageGraph); err != nil {
		return h.serverError(c, err)
	}
	if req.VisParams != nil {
		if err := h.store.SetVisParams(ctx, id, req.VisParams); err != nil {
			return h.serverError(c, err)
		}
	}

	base := c.Scheme() + "://" + c.Request().Host
	return c.JSON(http.StatusOK, echo.Map{
		"detail": MapDetail{
			ID:       id,
			TilesURL: fmt.Sprintf("%s/tiles/%s/{z}/{x}/{y}.png", base, id),
		},
	})
}

// Info handles POST /info: metadata of an evaluated expression.
func (h *Handler) Info(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return clientError(c, "invalid request body")
	}

	img, err := h.memo.Eval(string(body))
	if err != nil {
		return h.imageError(c, err)
	}

	mapBounds, err := img.MapBounds()
	if err != nil {
		return h.serverError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"detail": InfoDetail{
			CRS:       img.CRS().String(),
			Bounds:    boundsTuple(img.Bounds()),
			MapBounds: boundsTuple(mapBounds),
			BandNames: img.BandNames(),
			DType:     img.DType().String(),
			MinZoom:   img.MinZoom(),
			MaxZoom:   img.MaxZoom(),
		},
	})
}

// parseTileParams extracts and validates z, x, y from the path. The y
// parameter carries a ".png" suffix which is stripped automatically.
func parseTileParams(c echo.Context) (z, x, y int, err error) {
	z, err = strconv.Atoi(c.Param("z"))
	if err != nil {
		return
	}
	x, err = strconv.Atoi(c.Param("x"))
	if err != nil {
		return
	}

	yRaw := strings.TrimSuffix(c.Param("y"), ".png")
	y, err = strconv.Atoi(yRaw)
	if err != nil {
		return
	}

	if z < 0 || z > geo.TMSMaxZoom || x < 0 || y < 0 {
		err = fmt.Errorf("tile coordinates out of range")
	}
	return
}

// Tile handles GET /tiles/:id/:z/:x/:y.png.
func (h *Handler) Tile(c echo.Context) error {
	z, x, y, err := parseTileParams(c)
	if err != nil {
		return clientError(c, "invalid tile coordinates")
	}

	ctx := c.Request().Context()
	exprJSON, err := h.store.GetMap(ctx, c.Param("id"))
	if errors.Is(err, ErrMapNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{
			"code": http.StatusNotFound, "detail": fmt.Sprintf("Map id %s not found", c.Param("id")),
		})
	}
	if err != nil {
		return h.serverError(c, err)
	}

	img, err := h.memo.Eval(exprJSON)
	if err != nil {
		return h.imageError(c, err)
	}

	c.Response().Header().Set("Cache-Control", tileCacheControl)

	td, err := image.Tile(img, z, x, y, h.cfg.TileSize, h.cfg.MinZoomGate)
	if errors.Is(err, image.ErrTileOutsideBounds) {
		return c.NoContent(http.StatusNoContent)
	}
	if err != nil {
		return h.serverError(c, err)
	}

	visParams, err := h.store.GetVisParams(ctx, c.Param("id"))
	if err != nil {
		return h.serverError(c, err)
	}
	if visParams != nil {
		td, err = visParams.Apply(td)
		if errors.Is(err, image.ErrInvalidBands) {
			return clientError(c, err.Error())
		}
		if err != nil {
			return h.serverError(c, err)
		}
	}

	png, err := image.RenderPNG(td)
	if err != nil {
		return h.serverError(c, err)
	}
	return c.Blob(http.StatusOK, "image/png", png)
}

// Export handles POST /export: synchronously write the expression's
// pixels to a cloud-optimized GeoTIFF on disk.
func (h *Handler) Export(c echo.Context) error {
	req := ExportRequest{
		InCRS: geo.WGS84.String(),
		CRS:   geo.WGS84.String(),
		Scale: 1000,
	}
	if err := c.Bind(&req); err != nil {
		return clientError(c, "invalid request body")
	}
	if len(req.Image) == 0 || req.Path == "" {
		return clientError(c, "image and path are required")
	}

	inCRS, err := geo.ParseCRS(req.InCRS)
	if err != nil {
		return clientError(c, err.Error())
	}
	outCRS, err := geo.ParseCRS(req.CRS)
	if err != nil {
		return clientError(c, err.Error())
	}

	img, err := h.memo.Eval(string(req.Image))
	if err != nil {
		return h.imageError(c, err)
	}

	opts := image.ExportOptions{
		BoundsCRS:  inCRS,
		CRS:        outCRS,
		Scale:      req.Scale,
		WindowSize: h.cfg.ExportWindowSize,
	}
	if req.Bounds != nil {
		opts.Bounds = &orb.Bound{
			Min: orb.Point{req.Bounds[0], req.Bounds[1]},
			Max: orb.Point{req.Bounds[2], req.Bounds[3]},
		}
	}

	if err := image.Export(c.Request().Context(), img, req.Path, opts); err != nil {
		if errors.Is(err, image.ErrBoundless) {
			return clientError(c, err.Error())
		}
		return h.serverError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"result": "ok"})
}

// CacheInfo handles GET /cache-info: evaluation memo statistics.
func (h *Handler) CacheInfo(c echo.Context) error {
	return c.JSON(http.StatusOK, h.memo.Stats())
}

// imageError maps evaluation errors onto the taxonomy: graph and band
// problems are the client's fault, the rest is internal.
func (h *Handler) imageError(c echo.Context, err error) error {
	if errors.Is(err, image.ErrUnknownOp) ||
		errors.Is(err, image.ErrInvalidGraph) ||
		errors.Is(err, image.ErrInvalidBands) {
		return clientError(c, err.Error())
	}
	return h.serverError(c, err)
}

func clientError(c echo.Context, detail string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{
		"code": http.StatusBadRequest, "detail": detail,
	})
}

// serverError logs the full failure and surfaces an opaque body.
func (h *Handler) serverError(c echo.Context, err error) error {
	log.Printf("internal error: %v", err)
	return c.JSON(http.StatusInternalServerError, echo.Map{
		"code": http.StatusInternalServerError, "detail": "Internal Server Error",
	})
}

func readBody(c echo.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(c.Request().Body).Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func boundsTuple(b *orb.Bound) *[4]float64 {
	if b == nil {
		return nil
	}
	return &[4]float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]}
}
