package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/serviceengine_backend/middlewares"
	"github.com/mmdatafocus/serviceengine_backend/models"
	"github.com/mmdatafocus/serviceengine_backend/utils"
)

type proposalHandler struct {
	store *models.Store
}

func (h *proposalHandler) create(c *gin.Context) {
	var input models.NewProposal
	if !bindJSON(c, &input, false) {
		return
	}
	p, err := h.store.CreateProposal(c.Request.Context(), input)
	if err != nil {
		respondError(c, "createProposal", err)
		return
	}
	c.JSON(http.StatusCreated, models.NewProposalView(p))
}

func (h *proposalHandler) get(c *gin.Context) {
	p, err := h.store.GetProposal(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "getProposal", err)
		return
	}
	c.JSON(http.StatusOK, models.NewProposalView(p))
}

func (h *proposalHandler) list(c *gin.Context) {
	ctx := c.Request.Context()
	q := models.ParseListQuery(c.Request.URL.Query(), requestPath(c), models.ProposalListSpec())
	page, err := h.store.ListProposals(ctx, q)
	if err != nil {
		respondError(c, "listProposals", err)
		return
	}
	if err := attachServices(ctx, page.Data); err != nil {
		respondError(c, "listProposals", utils.NewInternal("", err))
		return
	}
	c.JSON(http.StatusOK, models.MapPage(page, models.NewProposalView))
}

func (h *proposalHandler) send(c *gin.Context) {
	p, warnings, err := h.store.SendProposal(c.Request.Context(), c.Param("id"))
	writeWarnings(c, "sendProposal", warnings)
	if err != nil {
		respondError(c, "sendProposal", err)
		return
	}
	c.JSON(http.StatusOK, models.NewProposalView(p))
}

func (h *proposalHandler) sign(c *gin.Context) {
	result, warnings, err := h.store.SignProposal(c.Request.Context(), c.Param("id"))
	writeWarnings(c, "signProposal", warnings)
	if err != nil {
		respondError(c, "signProposal", err)
		return
	}
	c.JSON(http.StatusOK, models.NewSignResultView(result))
}

// attachServices sets the live service of every item on the page.
func attachServices(ctx context.Context, proposals []*models.Proposal) error {
	var ids []string
	for _, p := range proposals {
		for _, item := range p.Items {
			ids = append(ids, item.ServiceId)
		}
	}
	ids = utils.UniqueSlice(ids)
	if len(ids) == 0 {
		return nil
	}
	services, errs := middlewares.GetServices(ctx, ids)
	if err := firstError(errs); err != nil {
		return err
	}
	byId := make(map[string]*models.Service, len(ids))
	for i, id := range ids {
		byId[id] = services[i]
	}
	for _, p := range proposals {
		for _, item := range p.Items {
			item.Service = byId[item.ServiceId]
		}
	}
	return nil
}

type orderHandler struct {
	store *models.Store
}

func (h *orderHandler) get(c *gin.Context) {
	order, err := h.store.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "getOrder", err)
		return
	}
	c.JSON(http.StatusOK, models.NewOrderView(order))
}
