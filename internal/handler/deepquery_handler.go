package handler

import (
	"io"

	"github.com/gin-gonic/gin"

	"github.com/deepquery/deepquery/internal/middleware"
	"github.com/deepquery/deepquery/internal/model"
	"github.com/deepquery/deepquery/internal/pkg/errcode"
	"github.com/deepquery/deepquery/internal/pkg/response"
	"github.com/deepquery/deepquery/internal/service"
)

const maxUploadSize = 16 << 20

type DeepQueryHandler struct {
	svc *service.DeepQueryService
}

func NewDeepQueryHandler(svc *service.DeepQueryService) *DeepQueryHandler {
	return &DeepQueryHandler{svc: svc}
}

type deepQueryRequest struct {
	Prompt    string `json:"prompt"`
	History   string `json:"history"`
	PackID    string `json:"pack_id"`
	SessionID string `json:"session_id"`
	Rebuild   bool   `json:"rebuild"`
}

// buildRequest maps the HTTP body onto the service request. A pack id
// targets an ingested pack; otherwise the session's uploads are queried.
func (h *DeepQueryHandler) buildRequest(c *gin.Context, req deepQueryRequest, packType string) service.QueryRequest {
	out := service.QueryRequest{
		Identity: middleware.Identity(c),
		Token:    middleware.Token(c),
		Prompt:   req.Prompt,
		History:  req.History,
		Rebuild:  req.Rebuild,
		PackID:   req.PackID,
		PackType: packType,
	}
	if req.PackID == "" {
		out.PackType = model.PackTypeUploads
		out.PackID = req.SessionID
		if out.PackID == "" {
			out.PackID = "default"
		}
	}
	return out
}

func (h *DeepQueryHandler) query(c *gin.Context, packType string, raw bool) {
	var req deepQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	svcReq := h.buildRequest(c, req, packType)
	var rsp *service.QueryResponse
	var err error
	if raw {
		rsp, err = h.svc.Retrieve(c.Request.Context(), svcReq)
	} else {
		rsp, err = h.svc.Query(c.Request.Context(), svcReq)
	}
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, rsp)
}

func (h *DeepQueryHandler) Query(c *gin.Context) {
	h.query(c, model.PackTypeContent, false)
}

func (h *DeepQueryHandler) QueryRaw(c *gin.Context) {
	h.query(c, model.PackTypeContent, true)
}

func (h *DeepQueryHandler) QueryCode(c *gin.Context) {
	h.query(c, model.PackTypeCode, false)
}

func (h *DeepQueryHandler) QueryCodeRaw(c *gin.Context) {
	h.query(c, model.PackTypeCode, true)
}

func (h *DeepQueryHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, errcode.ErrInvalid, "file is required")
		return
	}
	if file.Size > maxUploadSize {
		response.Error(c, errcode.ErrInvalid, "file too large")
		return
	}
	src, err := file.Open()
	if err != nil {
		handleError(c, err)
		return
	}
	defer src.Close()
	content, err := io.ReadAll(io.LimitReader(src, maxUploadSize+1))
	if err != nil {
		handleError(c, err)
		return
	}
	sessionID := c.PostForm("session_id")
	result, err := h.svc.Upload(c.Request.Context(), middleware.Identity(c), sessionID, file.Filename, content)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, result)
}

func (h *DeepQueryHandler) RetrieveFiles(c *gin.Context) {
	names, err := h.svc.ListFiles(c.Request.Context(), middleware.Identity(c), c.Query("session_id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"files": names})
}

func (h *DeepQueryHandler) DeleteSession(c *gin.Context) {
	if err := h.svc.DeleteSession(c.Request.Context(), middleware.Identity(c), c.Query("session_id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"deleted": true})
}

// DeleteIdentity wipes all of the caller's data, for account deletion.
func (h *DeepQueryHandler) DeleteIdentity(c *gin.Context) {
	if err := h.svc.DeleteIdentityData(c.Request.Context(), middleware.Identity(c)); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"deleted": true})
}
