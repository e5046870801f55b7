package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ResponseSuccess 返回成功响应
func ResponseSuccess(c *gin.Context, data any) {
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: data})
}

// ResponseCreated 返回创建成功响应（201）
func ResponseCreated(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, APIResponse{Success: true, Data: data})
}

// ResponseList 返回分页列表响应
func ResponseList(c *gin.Context, items any, total int64, req PaginationRequest) {
	ResponseSuccess(c, ListResponse{
		Items:      items,
		Pagination: NewPaginationMeta(req.GetPage(), req.GetPageSize(), total),
	})
}

// ResponseError 返回错误响应
func ResponseError(c *gin.Context, status int, message string) {
	c.JSON(status, APIResponse{Success: false, Message: message})
}

// AbortWithError 中断并返回错误
func AbortWithError(c *gin.Context, status int, message string) {
	ResponseError(c, status, message)
	c.Abort()
}

// ResponseBadRequest 返回参数错误响应
func ResponseBadRequest(c *gin.Context, message string) {
	ResponseError(c, http.StatusBadRequest, message)
}

// ResponseUnauthorized 返回未认证响应
func ResponseUnauthorized(c *gin.Context, message string) {
	if message == "" {
		message = "未认证，请先登录"
	}
	ResponseError(c, http.StatusUnauthorized, message)
}

// ResponseNotFound 返回资源不存在响应
func ResponseNotFound(c *gin.Context, message string) {
	if message == "" {
		message = "资源不存在"
	}
	ResponseError(c, http.StatusNotFound, message)
}

// ResponseServerError 返回服务器错误响应
func ResponseServerError(c *gin.Context, message string) {
	if message == "" {
		message = "服务器内部错误"
	}
	ResponseError(c, http.StatusInternalServerError, message)
}
