package rest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/zeebo/xxh3"

	"github.com/totegamma/pairdata/internal/domain"
	"github.com/totegamma/pairdata/internal/interface/rest/middleware"
	"github.com/totegamma/pairdata/internal/interface/rest/presenter"
	"github.com/totegamma/pairdata/internal/service"
	"github.com/totegamma/pairdata/internal/usecase"
)

type Handler struct {
	pairing *usecase.PairingUsecase
	sharing *usecase.SharingUsecase
	assets  *usecase.AssetUsecase
	signal  *service.SignalService
}

// NewHandler wires the REST adapter. signal may be nil, in which case no realtime feed is served.
func NewHandler(
	pairing *usecase.PairingUsecase,
	sharing *usecase.SharingUsecase,
	assets *usecase.AssetUsecase,
	signal *service.SignalService,
) *Handler {
	return &Handler{
		pairing: pairing,
		sharing: sharing,
		assets:  assets,
		signal:  signal,
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v2", middleware.IdentifyRequester)

	g.POST("/assets", h.handleCreateAsset, middleware.RequireRequester)
	g.POST("/assets/:uid/permissions", h.handleGrantManage, middleware.RequireRequester)

	g.GET("/assets/:uid/data-sharing", h.handleGetSharing)
	g.PATCH("/assets/:uid/data-sharing", h.handleUpdateSharing, middleware.RequireRequester)

	g.GET("/assets/:uid/paired-data", h.handleList)
	g.POST("/assets/:uid/paired-data", h.handleCreate, middleware.RequireRequester)
	g.GET("/assets/:uid/paired-data/:pd", h.handleGet)
	g.PATCH("/assets/:uid/paired-data/:pd", h.handleUpdate, middleware.RequireRequester)
	g.DELETE("/assets/:uid/paired-data/:pd", h.handleDelete, middleware.RequireRequester)

	if h.signal != nil {
		g.GET("/realtime", h.handleRealtime)
	}
}

type pairedDataView struct {
	Parent      string   `json:"parent"`
	Fields      []string `json:"fields"`
	Filename    string   `json:"filename"`
	UID         string   `json:"uid"`
	Hash        string   `json:"hash"`
	IsRemoteURL bool     `json:"is_remote_url"`
	MimeType    string   `json:"mimetype"`
	URL         string   `json:"url"`
}

func (h *Handler) view(pd domain.PairedData) pairedDataView {
	return pairedDataView{
		Parent:      pd.ParentUID,
		Fields:      pd.Fields,
		Filename:    pd.Filename,
		UID:         pd.Identifier,
		Hash:        pd.Hash(),
		IsRemoteURL: pd.IsRemoteURL(),
		MimeType:    pd.MimeType(),
		URL:         h.pairing.ResolveURL(pd),
	}
}

type createRequest struct {
	Parent   string    `json:"parent"`
	Fields   *[]string `json:"fields"`
	Filename string    `json:"filename"`
}

// parentUID accepts either a bare asset uid or an asset URL.
func parentUID(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "/") {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	return segments[len(segments)-1]
}

type createAssetRequest struct {
	UID       string          `json:"uid"`
	Name      string          `json:"name"`
	AssetType string          `json:"asset_type"`
	Content   json.RawMessage `json:"content"`
}

type grantRequest struct {
	User string `json:"user"`
}

func (h *Handler) handleCreateAsset(c echo.Context) error {
	ctx := c.Request().Context()

	var req createAssetRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequestMessage(c, err.Error())
	}

	asset, err := h.assets.Create(ctx, middleware.Requester(c), domain.Asset{
		UID:       req.UID,
		Name:      req.Name,
		AssetType: req.AssetType,
		Content:   req.Content,
	})
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.Created(c, asset)
}

func (h *Handler) handleGrantManage(c echo.Context) error {
	ctx := c.Request().Context()

	var req grantRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequestMessage(c, err.Error())
	}

	err := h.assets.GrantManage(ctx, c.Param("uid"), middleware.Requester(c), req.User)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.NoContent(c)
}

func (h *Handler) handleGetSharing(c echo.Context) error {
	ctx := c.Request().Context()

	sharing, err := h.sharing.Get(ctx, c.Param("uid"))
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, sharing)
}

func (h *Handler) handleUpdateSharing(c echo.Context) error {
	ctx := c.Request().Context()

	var req domain.SharingChanges
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequestMessage(c, err.Error())
	}

	sharing, err := h.sharing.Update(ctx, c.Param("uid"), middleware.Requester(c), req)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, sharing)
}

func (h *Handler) handleList(c echo.Context) error {
	ctx := c.Request().Context()

	records, err := h.pairing.List(ctx, c.Param("uid"))
	if err != nil {
		return presenter.Error(c, err)
	}

	views := make([]pairedDataView, 0, len(records))
	for _, pd := range records {
		views = append(views, h.view(pd))
	}
	body, err := json.Marshal(views)
	if err != nil {
		return presenter.InternalError(c, err)
	}

	etag := fmt.Sprintf(`"%016x"`, xxh3.Hash(body))
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c.Response().Header().Set("ETag", etag)
	if c.Request().Header.Get("If-None-Match") == etag {
		return c.NoContent(http.StatusNotModified)
	}
	return c.JSONBlob(http.StatusOK, body)
}

func (h *Handler) handleCreate(c echo.Context) error {
	ctx := c.Request().Context()

	var req createRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequestMessage(c, err.Error())
	}

	parent := parentUID(req.Parent)
	if parent == "" {
		return presenter.FieldError(c, domain.AttrParent, "This field is required.")
	}
	var fields []string
	if req.Fields != nil {
		fields = *req.Fields
	}

	pd, err := h.pairing.Create(ctx, usecase.CreateInput{
		ChildUID:  c.Param("uid"),
		ParentUID: parent,
		Filename:  req.Filename,
		Fields:    fields,
		Requester: middleware.Requester(c),
	})
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.Created(c, h.view(pd))
}

func (h *Handler) handleGet(c echo.Context) error {
	ctx := c.Request().Context()

	pd, err := h.pairing.Get(ctx, c.Param("uid"), c.Param("pd"))
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, h.view(pd))
}

func (h *Handler) handleUpdate(c echo.Context) error {
	ctx := c.Request().Context()

	var changes domain.PairingChanges
	if err := c.Bind(&changes); err != nil {
		return presenter.BadRequestMessage(c, err.Error())
	}

	pd, err := h.pairing.Update(ctx, c.Param("uid"), c.Param("pd"), changes)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, h.view(pd))
}

func (h *Handler) handleDelete(c echo.Context) error {
	ctx := c.Request().Context()

	err := h.pairing.Delete(ctx, c.Param("uid"), c.Param("pd"))
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.NoContent(c)
}
