package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/VitorFirmino/cachelab/catalog"
	"github.com/VitorFirmino/cachelab/checkout"
	"github.com/VitorFirmino/cachelab/internal/util"
	"github.com/VitorFirmino/cachelab/profile"
)

func queryInt(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	return v, err == nil
}

func idParam(c *gin.Context, raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		fail(c, http.StatusBadRequest, CodeInvalidInput, "id must be a positive integer", nil)
		return 0, false
	}
	return id, true
}

func (s *Server) handleFeatured(c *gin.Context) {
	limit, valid := queryInt(c, "limit")
	if !valid {
		fail(c, http.StatusBadRequest, CodeInvalidInput, "limit must be an integer", nil)
		return
	}
	res, err := s.svc.Featured(c.Request.Context(), limit)
	if err != nil {
		s.failErr(c, err)
		return
	}
	cached(c, res, gin.H{"products": res.Value})
}

// handleProducts lists a page, or returns one product when ?id= is given.
func (s *Server) handleProducts(c *gin.Context) {
	if raw := c.Query("id"); raw != "" {
		s.handleProductDetail(c, raw)
		return
	}

	var q catalog.PageQuery
	var valid bool
	if q.Page, valid = queryInt(c, "page"); !valid {
		fail(c, http.StatusBadRequest, CodeInvalidInput, "page must be an integer", nil)
		return
	}
	if q.PageSize, valid = queryInt(c, "pageSize"); !valid {
		fail(c, http.StatusBadRequest, CodeInvalidInput, "pageSize must be an integer", nil)
		return
	}
	if raw := c.Query("categoryId"); raw != "" {
		id, valid := idParam(c, raw)
		if !valid {
			return
		}
		q.CategoryID = &id
	}
	q.Query = c.Query("query")

	res, err := s.svc.ProductsPage(c.Request.Context(), q)
	if err != nil {
		s.failErr(c, err)
		return
	}
	cached(c, res, gin.H{
		"items":    res.Value.Items,
		"total":    res.Value.Total,
		"page":     res.Value.Page,
		"pageSize": res.Value.PageSize,
	})
}

// detailEventLimit bounds the events embedded in a product detail.
const detailEventLimit = 5

func (s *Server) handleProductDetail(c *gin.Context, raw string) {
	id, valid := idParam(c, raw)
	if !valid {
		return
	}
	ctx := c.Request.Context()
	bust := c.Query(util.BustParam)
	res, err := s.svc.ProductByID(ctx, id, bust)
	if err != nil {
		s.failErr(c, err)
		return
	}
	var extra gin.H
	if c.Query("includeEvents") == "1" {
		evs, err := s.svc.ProductEvents(ctx, id, detailEventLimit, bust)
		if err != nil {
			s.failErr(c, err)
			return
		}
		extra = gin.H{"events": evs.Value}
	}
	body := gin.H{"product": res.Value}
	for k, v := range extra {
		body[k] = v
	}
	cached(c, res, body)
}

func (s *Server) handleProductEvents(c *gin.Context) {
	id, valid := idParam(c, c.Param("id"))
	if !valid {
		return
	}
	limit, valid := queryInt(c, "limit")
	if !valid {
		fail(c, http.StatusBadRequest, CodeInvalidInput, "limit must be an integer", nil)
		return
	}
	res, err := s.svc.ProductEvents(c.Request.Context(), id, limit, c.Query(util.BustParam))
	if err != nil {
		s.failErr(c, err)
		return
	}
	cached(c, res, gin.H{"events": res.Value})
}

func (s *Server) handleCategories(c *gin.Context) {
	res, err := s.svc.Categories(c.Request.Context())
	if err != nil {
		s.failErr(c, err)
		return
	}
	cached(c, res, gin.H{"categories": res.Value})
}

type checkoutRequest struct {
	Items []checkout.Item `json:"items"`
}

func (s *Server) handleCheckout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, CodeInvalidInput, "invalid request body", nil)
		return
	}
	sum, err := s.svc.Checkout(c.Request.Context(), req.Items)
	if err != nil {
		s.failErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"order": sum})
}

type productRequest struct {
	Name       string   `json:"name"`
	Price      *float64 `json:"price"`
	Stock      *int     `json:"stock"`
	CategoryID *int64   `json:"categoryId"`
}

func (s *Server) handleCreateProduct(c *gin.Context) {
	var req productRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, CodeInvalidInput, "invalid request body", nil)
		return
	}
	if req.Price == nil || req.Stock == nil {
		fail(c, http.StatusBadRequest, CodeInvalidInput, "price and stock are required numbers", nil)
		return
	}
	p, err := s.svc.CreateProduct(c.Request.Context(), catalog.NewProduct{
		Name: req.Name, Price: *req.Price, Stock: *req.Stock, CategoryID: req.CategoryID,
	})
	if err != nil {
		s.failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"id": p.ID, "product": p})
}

func (s *Server) handleUpdateProduct(c *gin.Context) {
	id, valid := idParam(c, c.Param("id"))
	if !valid {
		return
	}
	var req productRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, CodeInvalidInput, "invalid request body", nil)
		return
	}
	if req.Price == nil || req.Stock == nil {
		fail(c, http.StatusBadRequest, CodeInvalidInput, "price and stock are required numbers", nil)
		return
	}
	p, err := s.svc.UpdateProduct(c.Request.Context(), id, *req.Price, *req.Stock)
	if err != nil {
		s.failErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"product": p})
}

func (s *Server) handleDeleteProduct(c *gin.Context) {
	id, valid := idParam(c, c.Param("id"))
	if !valid {
		return
	}
	if err := s.svc.DeleteProduct(c.Request.Context(), id); err != nil {
		s.failErr(c, err)
		return
	}
	ok(c, http.StatusOK, nil)
}

func (s *Server) handleCreateEvent(c *gin.Context) {
	var req catalog.NewEvent
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, CodeInvalidInput, "invalid request body", nil)
		return
	}
	e, err := s.svc.CreateEvent(c.Request.Context(), req)
	if err != nil {
		s.failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"id": e.ID, "event": e})
}

func (s *Server) handleListProfiles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"profiles": s.svc.Profiles(c.Request.Context())})
}

type ttlRequest struct {
	Stale      *int `json:"stale"`
	Revalidate *int `json:"revalidate"`
	Expire     *int `json:"expire"`
}

func (s *Server) handleUpdateProfile(c *gin.Context) {
	var req ttlRequest
	err := c.ShouldBindJSON(&req)
	if err != nil || req.Stale == nil || req.Revalidate == nil || req.Expire == nil {
		fail(c, http.StatusBadRequest, profile.CodeInvalidTTL, "stale, revalidate and expire must be integers", nil)
		return
	}
	ttl := profile.TTL{Stale: *req.Stale, Revalidate: *req.Revalidate, Expire: *req.Expire}
	p, err := s.svc.UpdateCacheTTL(c.Request.Context(), c.Param("id"), ttl)
	if err != nil {
		s.failErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"profile": p})
}

func (s *Server) handlePurgeAll(c *gin.Context) {
	rep := s.svc.PurgeAll(c.Request.Context())
	s.purgeResult(c, rep.Invalidated, len(rep.Failed), rep.OK())
}

type purgeTagsRequest struct {
	Tags []string `json:"tags"`
}

func (s *Server) handlePurgeTags(c *gin.Context) {
	var req purgeTagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, CodeInvalidInput, "invalid request body", nil)
		return
	}
	rep, err := s.svc.PurgeByTags(c.Request.Context(), req.Tags)
	if err != nil {
		s.failErr(c, err)
		return
	}
	s.purgeResult(c, rep.Invalidated, len(rep.Failed), rep.OK())
}

func (s *Server) purgeResult(c *gin.Context, invalidated []string, failed int, good bool) {
	if !good {
		fail(c, http.StatusServiceUnavailable, CodeInternal, "invalidation failed", gin.H{"failed": failed})
		return
	}
	ok(c, http.StatusOK, gin.H{"invalidated": invalidated, "failed": failed})
}
