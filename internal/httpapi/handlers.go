package httpapi

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rbaliyan/campusmail"
	"github.com/rbaliyan/campusmail/store"
)

func (s *Server) listMessages(c echo.Context) error {
	req, err := parseListRequest(c)
	if err != nil {
		return err
	}
	page, err := mailboxOf(c).List(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, page)
}

// parseListRequest reads folder, filters and paging from the query string.
// A missing folder lists received messages.
func parseListRequest(c echo.Context) (campusmail.ListRequest, error) {
	var req campusmail.ListRequest

	req.Folder = store.FolderReceived
	if v := c.QueryParam("folder"); v != "" {
		f, err := store.ParseFolder(v)
		if err != nil {
			return req, fmt.Errorf("%w: unknown folder %q", campusmail.ErrInvalidArgument, v)
		}
		req.Folder = f
	}
	if v := c.QueryParam("category"); v != "" {
		cat, err := store.ParseCategory(v)
		if err != nil {
			return req, fmt.Errorf("%w: unknown category %q", campusmail.ErrInvalidArgument, v)
		}
		req.Filters.Category = cat
	}
	if v := c.QueryParam("priority"); v != "" {
		p, err := store.ParsePriority(v)
		if err != nil {
			return req, fmt.Errorf("%w: unknown priority %q", campusmail.ErrInvalidArgument, v)
		}
		req.Filters.Priority = p
	}
	if v := c.QueryParam("unread"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return req, fmt.Errorf("%w: unread must be a boolean", campusmail.ErrInvalidArgument)
		}
		req.Filters.UnreadOnly = b
	}
	req.Filters.Search = c.QueryParam("search")
	req.Filters.ThreadID = c.QueryParam("thread")

	var err error
	if req.Page, err = intParam(c, "page"); err != nil {
		return req, err
	}
	if req.Limit, err = intParam(c, "limit"); err != nil {
		return req, err
	}
	return req, nil
}

func intParam(c echo.Context, name string) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", campusmail.ErrInvalidArgument, name)
	}
	return n, nil
}

func (s *Server) counts(c echo.Context) error {
	counts, err := mailboxOf(c).Counts(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, counts)
}

func (s *Server) getMessage(c echo.Context) error {
	msg, err := mailboxOf(c).Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, msg)
}

func (s *Server) compose(c echo.Context) error {
	var d campusmail.Draft
	if err := c.Bind(&d); err != nil {
		return err
	}
	msg, err := mailboxOf(c).Compose(c.Request().Context(), d)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, msg)
}

func (s *Server) updateDraft(c echo.Context) error {
	var u store.DraftUpdate
	if err := c.Bind(&u); err != nil {
		return err
	}
	msg, err := mailboxOf(c).UpdateDraft(c.Request().Context(), c.Param("id"), u)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, msg)
}

func (s *Server) replyTo(c echo.Context) error {
	d, err := mailboxOf(c).ReplyTo(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (s *Server) sendDraft(c echo.Context) error {
	msg, err := mailboxOf(c).SendDraft(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, msg)
}

func (s *Server) deleteMessage(c echo.Context) error {
	if err := mailboxOf(c).Delete(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type flagRequest struct {
	Value *bool `json:"value"`
}

type flagSetter func(campusmail.Mailbox, context.Context, string, bool) (*store.Message, error)

func (s *Server) setFlag(set flagSetter) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req flagRequest
		if err := c.Bind(&req); err != nil {
			return err
		}
		if req.Value == nil {
			return fmt.Errorf("%w: value is required", campusmail.ErrInvalidArgument)
		}
		msg, err := set(mailboxOf(c), c.Request().Context(), c.Param("id"), *req.Value)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, msg)
	}
}

func (s *Server) openAttachment(c echo.Context) error {
	ctx := c.Request().Context()
	mb := mailboxOf(c)
	id, aid := c.Param("id"), c.Param("aid")

	msg, err := mb.Get(ctx, id)
	if err != nil {
		return err
	}
	att, ok := msg.Attachment(aid)
	if !ok {
		return campusmail.ErrAttachmentNotFound
	}

	rc, err := mb.OpenAttachment(ctx, id, aid)
	if err != nil {
		return err
	}
	defer rc.Close()

	contentType := att.ContentType
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	if att.Name != "" {
		c.Response().Header().Set(echo.HeaderContentDisposition,
			mime.FormatMediaType("attachment", map[string]string{"filename": att.Name}))
	}
	if att.Size > 0 {
		c.Response().Header().Set(echo.HeaderContentLength, strconv.FormatInt(att.Size, 10))
	}
	return c.Stream(http.StatusOK, contentType, rc)
}

type bulkRequest struct {
	IDs   []string         `json:"ids"`
	Flags campusmail.Flags `json:"flags"`
}

type bulkItem struct {
	ID      string         `json:"id"`
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
	Message *store.Message `json:"message,omitempty"`
}

type bulkResponse struct {
	Succeeded int        `json:"succeeded"`
	Failed    int        `json:"failed"`
	Results   []bulkItem `json:"results"`
}

func newBulkResponse(r *campusmail.BulkResult) bulkResponse {
	resp := bulkResponse{
		Succeeded: r.SuccessCount(),
		Failed:    r.FailureCount(),
		Results:   make([]bulkItem, len(r.Results)),
	}
	for i, res := range r.Results {
		item := bulkItem{ID: res.ID, Success: res.Success, Message: res.Message}
		if res.Error != nil {
			item.Error = res.Error.Error()
		}
		resp.Results[i] = item
	}
	return resp
}

// writeBulk reports per-item outcomes. Partial failure answers 207 with the
// failed items carrying their error text.
func writeBulk(c echo.Context, result *campusmail.BulkResult, err error) error {
	var bulkErr *campusmail.BulkOperationError
	if err != nil && !errors.As(err, &bulkErr) {
		return err
	}
	status := http.StatusOK
	if result.HasFailures() {
		status = http.StatusMultiStatus
	}
	return c.JSON(status, newBulkResponse(result))
}

func (s *Server) bulkFlags(c echo.Context) error {
	var req bulkRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	result, err := mailboxOf(c).BulkUpdateFlags(c.Request().Context(), req.IDs, req.Flags)
	return writeBulk(c, result, err)
}

func (s *Server) bulkDelete(c echo.Context) error {
	var req bulkRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	result, err := mailboxOf(c).BulkDelete(c.Request().Context(), req.IDs)
	return writeBulk(c, result, err)
}
