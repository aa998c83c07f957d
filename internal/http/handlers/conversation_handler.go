// Conversation endpoint.
//
//	POST /conversations/{id}/messages  {"text": "..."}  ->  {"conversation_id": "...", "replies": [...]}
//
// The id is whatever the chat platform uses for the conversation (a phone
// JID, a room id). Replies are returned in order and may be empty when the
// bot stays silent. With an Idempotency-Key the replies are recorded, and a
// retry with the same key gets them back with Idempotency-Replayed: true.
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-order-bot/internal/http/middleware"
	"github.com/tbourn/go-order-bot/internal/repo"
)

const maxConversationIDLen = 256

// PostMessageRequest is the inbound message body.
type PostMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

// PostMessageResponse carries the bot's replies.
type PostMessageResponse struct {
	ConversationID string   `json:"conversation_id"`
	Replies        []string `json:"replies"`
}

var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeText normalizes line endings, collapses runs of blank lines to one
// paragraph break and trims.
func sanitizeText(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// PostMessage godoc
// @ID          postConversationMessage
// @Summary     Deliver an inbound chat message and get the bot's replies
// @Description Runs one customer message through the assistant. Replies may be empty when the bot stays silent.
// @Description With an Idempotency-Key the replies are recorded and replayed for retries with the same key.
// @Tags        Conversations
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       Idempotency-Key  header  string  false  "Key for safe retries"  example(wamid.HBgLOTIzMDAxMjM0NTY3)
// @Param       id               path    string  true   "Conversation id used by the chat platform"
// @Param       body             body    handlers.PostMessageRequest  true  "Inbound message"
//
// @Success     200  {object}  handlers.PostMessageResponse  "Bot replies"
// @Header      200  {string}  Idempotency-Replayed          "true when the replies were replayed"
// @Failure     400  {object}  handlers.ErrorResponse        "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse        "Missing or invalid bearer token"
// @Failure     429  {object}  handlers.ErrorResponse        "Too many requests"
// @Failure     500  {object}  handlers.ErrorResponse        "Internal error"
// @Router      /conversations/{id}/messages [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	ctx := c.Request.Context()

	convID := strings.TrimSpace(c.Param("id"))
	if convID == "" || len(convID) > maxConversationIDLen {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid conversation id")
		return
	}

	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text required")
		return
	}
	text := sanitizeText(req.Text)
	if text == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text required")
		return
	}
	if limit := h.maxTextRunes(); utf8.RuneCountInString(text) > limit {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("text too long: max %d runes", limit))
		return
	}

	key, _ := middleware.GetIdempotencyKey(c)
	if key != "" && h.receipts != nil {
		prev, found, err := h.receipts.Get(ctx, convID, key, time.Now().UTC())
		if err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("receipt lookup failed")
		}
		if found {
			c.Header("Idempotency-Replayed", "true")
			ok(c, http.StatusOK, PostMessageResponse{ConversationID: convID, Replies: nonNil(prev)})
			return
		}
	}

	replies := nonNil(h.assistant.HandleMessage(ctx, convID, text))

	if key != "" && h.receipts != nil {
		// A concurrent retry may have recorded first; its replies stand.
		if err := h.receipts.Put(ctx, convID, key, replies); err != nil && !errors.Is(err, repo.ErrDuplicate) {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("receipt store failed")
		}
	}

	ok(c, http.StatusOK, PostMessageResponse{ConversationID: convID, Replies: replies})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
