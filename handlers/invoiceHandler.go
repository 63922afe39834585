package handlers

import (
	"bytes"
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/serviceengine_backend/middlewares"
	"github.com/mmdatafocus/serviceengine_backend/models"
	"github.com/mmdatafocus/serviceengine_backend/utils"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type invoiceHandler struct {
	store *models.Store
}

func (h *invoiceHandler) create(c *gin.Context) {
	var input models.NewInvoice
	if !bindJSON(c, &input, false) {
		return
	}
	inv, err := h.store.CreateInvoice(c.Request.Context(), input)
	if err != nil {
		respondError(c, "createInvoice", err)
		return
	}
	c.JSON(http.StatusCreated, models.NewInvoiceView(inv, inv.User))
}

func (h *invoiceHandler) get(c *gin.Context) {
	inv, err := h.store.GetInvoice(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "getInvoice", err)
		return
	}
	c.JSON(http.StatusOK, models.NewInvoiceView(inv, inv.User))
}

func (h *invoiceHandler) update(c *gin.Context) {
	var input models.UpdateInvoiceInput
	if !bindJSON(c, &input, false) {
		return
	}
	inv, err := h.store.UpdateInvoice(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		respondError(c, "updateInvoice", err)
		return
	}
	c.JSON(http.StatusOK, models.NewInvoiceView(inv, inv.User))
}

func (h *invoiceHandler) delete(c *gin.Context) {
	if err := h.store.DeleteInvoice(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, "deleteInvoice", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *invoiceHandler) list(c *gin.Context) {
	ctx := c.Request.Context()
	q := models.ParseListQuery(c.Request.URL.Query(), requestPath(c), models.InvoiceListSpec())
	page, err := h.store.ListInvoices(ctx, q)
	if err != nil {
		respondError(c, "listInvoices", err)
		return
	}
	clients, err := invoiceClients(ctx, page.Data)
	if err != nil {
		respondError(c, "listInvoices", utils.NewInternal("", err))
		return
	}
	c.JSON(http.StatusOK, models.MapPage(page, func(inv *models.Invoice) models.InvoiceView {
		return models.NewInvoiceView(inv, clients[utils.DereferencePtr(inv.UserId, "")])
	}))
}

func (h *invoiceHandler) export(c *gin.Context) {
	q := models.ParseListQuery(c.Request.URL.Query(), requestPath(c), models.InvoiceListSpec())
	var buf bytes.Buffer
	if err := h.store.ExportInvoices(c.Request.Context(), q, &buf); err != nil {
		respondError(c, "exportInvoices", err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="invoices.xlsx"`)
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

func (h *invoiceHandler) charge(c *gin.Context) {
	var req models.ChargeRequest
	if !bindJSON(c, &req, true) {
		return
	}
	inv, warnings, err := h.store.ChargeInvoice(c.Request.Context(), c.Param("id"), req.PaymentMethodId)
	writeWarnings(c, "chargeInvoice", warnings)
	if err != nil {
		respondError(c, "chargeInvoice", err)
		return
	}
	c.JSON(http.StatusOK, models.NewInvoiceView(inv, inv.User))
}

func (h *invoiceHandler) markPaid(c *gin.Context) {
	inv, warnings, err := h.store.MarkInvoicePaid(c.Request.Context(), c.Param("id"))
	writeWarnings(c, "markInvoicePaid", warnings)
	if err != nil {
		respondError(c, "markInvoicePaid", err)
		return
	}
	c.JSON(http.StatusOK, models.NewInvoiceView(inv, inv.User))
}

// invoiceClients resolves the clients of a page through the request's loader.
func invoiceClients(ctx context.Context, invoices []*models.Invoice) (map[string]*models.User, error) {
	ids := make([]string, 0, len(invoices))
	for _, inv := range invoices {
		if inv.UserId != nil {
			ids = append(ids, *inv.UserId)
		}
	}
	ids = utils.UniqueSlice(ids)
	clients := make(map[string]*models.User, len(ids))
	if len(ids) == 0 {
		return clients, nil
	}
	users, errs := middlewares.GetClients(ctx, ids)
	if err := firstError(errs); err != nil {
		return nil, err
	}
	for i, id := range ids {
		clients[id] = users[i]
	}
	return clients, nil
}
