package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/source2social/internal/db"
	"github.com/source2social/internal/service"
)

type editPostRequest struct {
	Content string `json:"content"`
}

// ListPosts 分页返回帖子，支持 status、repository、search 过滤。
func (a *API) ListPosts(c *gin.Context) {
	result, err := a.posts.List(c.Request.Context(), service.PostFilter{
		Search:     strings.TrimSpace(c.Query("search")),
		Status:     strings.TrimSpace(c.Query("status")),
		Repository: strings.TrimSpace(c.Query("repository")),
		Page:       parsePositiveInt(c.Query("page"), 1),
		PerPage:    parsePositiveInt(c.Query("perPage"), 20),
	})
	if err != nil {
		a.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"posts":        result.Posts,
		"total":        result.Total,
		"statusCounts": result.StatusCounts,
		"page":         result.Page,
		"perPage":      result.PerPage,
		"totalPages":   result.TotalPages,
	})
}

// GetPost 返回单个帖子。
func (a *API) GetPost(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	post, err := a.posts.Get(c.Request.Context(), id)
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"post": post, "effectiveContent": post.EffectiveContent()})
}

// EditPost 修改待发布的正文。
func (a *API) EditPost(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	var payload editPostRequest
	if !bindJSON(c, &payload, "content is required") {
		return
	}

	post, err := a.posts.Edit(c.Request.Context(), id, payload.Content)
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"post": post})
}

// MarkPostReady 审核通过草稿。
func (a *API) MarkPostReady(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	post, err := a.posts.MarkReady(c.Request.Context(), id)
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"post": post})
}

// PublishPost 立即发布帖子。发布失败时帖子仍会随错误一起返回。
func (a *API) PublishPost(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	post, err := a.publisher.Publish(c.Request.Context(), id)
	var publishErr *service.PublishError
	if errors.As(err, &publishErr) && post != nil {
		c.JSON(publishErrorStatus(c, publishErr), gin.H{
			"error":      publishErr.Error(),
			"errorClass": publishErr.Class,
			"post":       post,
		})
		return
	}
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"post": post})
}

// RegeneratePost 重新生成草稿或生成失败帖子的内容；生成失败时返回 502 并附带帖子。
func (a *API) RegeneratePost(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	post, err := a.pipeline.Regenerate(c.Request.Context(), id)
	var generationErr *service.GenerationError
	if errors.As(err, &generationErr) && post != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":      generationErr.Error(),
			"errorClass": db.ErrorClassGeneration,
			"post":       post,
		})
		return
	}
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"post": post})
}

// RequeuePost 将失败的帖子放回草稿。
func (a *API) RequeuePost(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	post, err := a.posts.Requeue(c.Request.Context(), id)
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"post": post})
}

// DeletePost 删除未发布的帖子。
func (a *API) DeletePost(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.posts.Delete(c.Request.Context(), id); err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "post deleted"})
}
