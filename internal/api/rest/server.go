package rest

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/lvdashuaibi/chainvote/internal/model"
	"github.com/lvdashuaibi/chainvote/internal/service"
)

// Server REST API服务器
// 认证由外部网关完成，身份通过X-User-ID/X-User-Email头传入
type Server struct {
	engine      *gin.Engine
	pollService *service.PollService
}

func NewServer(pollService *service.PollService, graphqlPath string, graphqlHandler http.Handler, playground http.Handler) *Server {
	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery())

	s := &Server{
		engine:      engine,
		pollService: pollService,
	}

	api := engine.Group("/api")
	{
		api.GET("/polls", s.listPolls)
		api.POST("/polls", s.createPoll)
		api.GET("/polls/:id", s.getPoll)
		api.POST("/polls/:id/request-token", s.requestToken)
		api.GET("/polls/:id/results", s.getResults)
	}

	if graphqlHandler != nil {
		engine.POST(graphqlPath, gin.WrapH(graphqlHandler))
		engine.GET("/playground", gin.WrapH(playground))
	}

	return s
}

// Start 启动HTTP服务器
func (s *Server) Start(port int) error {
	return s.engine.Run(fmt.Sprintf(":%d", port))
}

// Handler 返回底层HTTP处理器
func (s *Server) Handler() http.Handler {
	return s.engine
}

// listPolls GET /api/polls
func (s *Server) listPolls(c *gin.Context) {
	polls, err := s.pollService.ListPolls()
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, polls)
}

// createPoll POST /api/polls
func (s *Server) createPoll(c *gin.Context) {
	var req model.CreatePollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "请求体格式无效"})
		return
	}

	result, err := s.pollService.CreatePoll(c.Request.Context(), &req)
	if err != nil {
		// 投票行已创建时返回部分结果，调用方能看到不完整状态
		if result != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"message": err.Error(),
				"pollId":  result.PollID,
			})
			return
		}
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// getPoll GET /api/polls/:id
func (s *Server) getPoll(c *gin.Context) {
	pollID, ok := s.pollID(c)
	if !ok {
		return
	}

	detail, err := s.pollService.GetPollDetail(pollID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, detail)
}

// requestToken POST /api/polls/:id/request-token
// 签发成功时原始令牌只在此响应中出现一次
func (s *Server) requestToken(c *gin.Context) {
	pollID, ok := s.pollID(c)
	if !ok {
		return
	}

	identity, ok := s.identity(c)
	if !ok {
		return
	}

	resp, err := s.pollService.RequestToken(pollID, identity)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// getResults GET /api/polls/:id/results
func (s *Server) getResults(c *gin.Context) {
	pollID, ok := s.pollID(c)
	if !ok {
		return
	}

	results, err := s.pollService.GetResults(c.Request.Context(), pollID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, results)
}

// pollID 解析路径中的投票ID
func (s *Server) pollID(c *gin.Context) (int64, bool) {
	pollID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "投票ID无效"})
		return 0, false
	}
	return pollID, true
}

// identity 从请求头解析认证层传入的身份
func (s *Server) identity(c *gin.Context) (model.Identity, bool) {
	userID, err := strconv.ParseInt(c.GetHeader("X-User-ID"), 10, 64)
	if err != nil || userID <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "未登录"})
		return model.Identity{}, false
	}

	email := c.GetHeader("X-User-Email")
	if email == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "未登录"})
		return model.Identity{}, false
	}

	return model.Identity{UserID: userID, Email: email}, true
}

// respondError 把领域错误映射为HTTP状态
func (s *Server) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, model.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrPollNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrPollNotOpen),
		errors.Is(err, model.ErrNotWhitelisted),
		errors.Is(err, model.ErrResultsNotAvailable):
		status = http.StatusForbidden
	case errors.Is(err, model.ErrAlreadyIssued):
		status = http.StatusConflict
	case errors.Is(err, model.ErrTokenExhausted):
		status = http.StatusGone
	case errors.Is(err, model.ErrLedgerFailure):
		status = http.StatusBadGateway
	}

	c.JSON(status, gin.H{"message": err.Error()})
}
