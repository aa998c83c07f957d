// Outbox endpoints, used by a bridge that delivers bot-originated messages
// (provider dispatches, support escalations) to the chat platform itself.
//
//	GET  /outbox?channel=&page=&page_size=  -> {"messages": [...], "pagination": {...}}
//	POST /outbox/{id}/ack                   -> 204
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-order-bot/internal/domain"
	"github.com/tbourn/go-order-bot/internal/repo"
	"github.com/tbourn/go-order-bot/internal/utils"
)

// ListOutboxResponse is one page of undelivered messages, oldest first.
type ListOutboxResponse struct {
	Messages   []domain.OutboundMessage `json:"messages"`
	Pagination Pagination               `json:"pagination"`
}

// ListOutbox godoc
// @ID          listOutbox
// @Summary     List undelivered bot-originated messages
// @Description Returns provider dispatches and support escalations waiting for delivery, oldest first.
// @Description An empty channel lists every channel.
// @Tags        Outbox
// @Produce     json
// @Security    BearerAuth
//
// @Param       channel    query  string  false  "Destination channel id"
// @Param       page       query  int     false  "Page number (1-based)"   minimum(1)
// @Param       page_size  query  int     false  "Page size (max 100)"     minimum(1) maximum(100)
//
// @Success     200  {object}  handlers.ListOutboxResponse  "Pending messages"
// @Failure     401  {object}  handlers.ErrorResponse       "Missing or invalid bearer token"
// @Failure     404  {object}  handlers.ErrorResponse       "Outbox disabled"
// @Failure     500  {object}  handlers.ErrorResponse       "Internal error"
// @Router      /outbox [get]
func (h *Handlers) ListOutbox(c *gin.Context) {
	if h.outbox == nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "outbox disabled")
		return
	}
	ctx := c.Request.Context()
	channel := strings.TrimSpace(c.Query("channel"))
	page, pageSize := utils.ClampPage(c.Query("page"), c.Query("page_size"))

	total, err := h.outbox.CountPending(ctx, channel)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	items, err := h.outbox.ListPending(ctx, channel, utils.Offset(page, pageSize), pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	if items == nil {
		items = []domain.OutboundMessage{}
	}

	totalPages := utils.TotalPages(total, pageSize)
	ok(c, http.StatusOK, ListOutboxResponse{
		Messages: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// AckOutbox godoc
// @ID          ackOutbox
// @Summary     Mark an outbox message as delivered
// @Description Acking twice is a no-op.
// @Tags        Outbox
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  string  true  "Outbox message id"  format(uuid)
//
// @Success     204  "Delivered"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or invalid bearer token"
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown message or outbox disabled"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /outbox/{id}/ack [post]
func (h *Handlers) AckOutbox(c *gin.Context) {
	if h.outbox == nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "outbox disabled")
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "id required")
		return
	}

	switch err := h.outbox.Ack(c.Request.Context(), id); {
	case err == nil:
		noContent(c)
	case errors.Is(err, repo.ErrNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "outbound message not found")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeAckFailed, err.Error())
	}
}
