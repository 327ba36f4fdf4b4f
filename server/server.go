// Package server exposes an agent over HTTP: tool listing and invocation,
// task runs, batch chat and session-scoped multi-turn chat.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/GCYYfun/MengLong-sub001/agent"
	"github.com/GCYYfun/MengLong-sub001/conversation"
	"github.com/GCYYfun/MengLong-sub001/core"
	"github.com/GCYYfun/MengLong-sub001/logging"
	"github.com/GCYYfun/MengLong-sub001/session"
	"github.com/GCYYfun/MengLong-sub001/tool"
)

// Options configures a Server.
type Options struct {
	// AllowOrigins lists CORS origins; "*" allows all.
	AllowOrigins []string
	// Sessions stores chat sessions; defaults to an in-memory store.
	Sessions session.Store
	// MaxBatch bounds the number of tasks or messages in one batch request.
	MaxBatch int
	Logger   logging.Logger
}

// Server is the HTTP surface of an agent.
type Server struct {
	agent    *agent.Agent
	sessions session.Store
	maxBatch int
	logger   logging.Logger
	engine   *gin.Engine
}

// New builds the router for a.
func New(a *agent.Agent, optFns ...func(o *Options)) *Server {
	opts := Options{AllowOrigins: []string{"*"}, MaxBatch: 64}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Sessions == nil {
		opts.Sessions = session.NewInMemoryStore()
	}

	s := &Server{
		agent:    a,
		sessions: opts.Sessions,
		maxBatch: opts.MaxBatch,
		logger:   logging.ForComponent(logging.OrNoOp(opts.Logger), "server"),
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	corsCfg := cors.DefaultConfig()
	if len(opts.AllowOrigins) == 0 || contains(opts.AllowOrigins, "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = opts.AllowOrigins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/healthz", s.health)

	v1 := r.Group("/v1")
	v1.GET("/tools", s.listTools)
	v1.POST("/tools/:name/invoke", s.invokeTool)
	v1.POST("/tasks", s.runTask)
	v1.POST("/tasks/batch", s.runTasks)
	v1.POST("/chat/batch", s.chatBatch)
	v1.POST("/sessions/:id/messages", s.sessionMessage)
	v1.GET("/sessions/:id", s.getSession)
	v1.DELETE("/sessions/:id", s.deleteSession)

	s.engine = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server.listen", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("server.shutdown", "addr", addr)
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http.request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func abort(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, errorResponse{Error: err.Error()})
}

func (s *Server) health(c *gin.Context) {
	info := s.agent.Model().Info()
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"agent":    s.agent.Name(),
		"model":    info.Name,
		"provider": info.Provider,
		"tools":    s.agent.Registry().Len(),
	})
}

type toolView struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Async       bool           `json:"async"`
	Sequential  bool           `json:"sequential"`
}

func (s *Server) listTools(c *gin.Context) {
	list := s.agent.Registry().List()
	out := make([]toolView, len(list))
	for i, d := range list {
		out[i] = toolView{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.ParametersMap(),
			Async:       d.Async,
			Sequential:  d.Sequential,
		}
	}
	c.JSON(http.StatusOK, gin.H{"tools": out})
}

type invokeRequest struct {
	ID        string         `json:"id"`
	Arguments map[string]any `json:"arguments"`
}

func (s *Server) invokeTool(c *gin.Context) {
	var req invokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	if req.Arguments == nil {
		req.Arguments = map[string]any{}
	}
	if req.ID == "" {
		req.ID = core.NewID()
	}

	res := s.agent.Dispatcher().Invoke(c.Request.Context(), tool.Call{
		ID:        req.ID,
		Name:      c.Param("name"),
		Arguments: req.Arguments,
	})

	status := http.StatusOK
	switch {
	case res.Code == tool.CodeUnknownTool:
		status = http.StatusNotFound
	case res.Code == tool.CodeValidationError:
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, res)
}

type taskRequest struct {
	Task          string `json:"task" binding:"required"`
	MaxIterations int    `json:"max_iterations" binding:"gte=0"`
}

func (s *Server) runTask(c *gin.Context) {
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	res, err := s.agent.Run(c.Request.Context(), req.Task, req.MaxIterations)
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, newTaskView(res))
}

type batchTasksRequest struct {
	Tasks      []agent.Task `json:"tasks" binding:"required,min=1"`
	Sequential bool         `json:"sequential"`
}

func (s *Server) runTasks(c *gin.Context) {
	var req batchTasksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	if len(req.Tasks) > s.maxBatch {
		abort(c, http.StatusRequestEntityTooLarge, errTooMany(len(req.Tasks), s.maxBatch))
		return
	}

	var results []*agent.Result
	if req.Sequential {
		results = s.agent.RunSequential(c.Request.Context(), req.Tasks)
	} else {
		results = s.agent.RunParallel(c.Request.Context(), req.Tasks)
	}

	out := make([]taskView, len(results))
	for i, r := range results {
		out[i] = newTaskView(r)
	}
	c.JSON(http.StatusOK, gin.H{"results": out})
}

type chatBatchRequest struct {
	Messages   []string `json:"messages" binding:"required,min=1"`
	Sequential bool     `json:"sequential"`
}

type replyView struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
	Content string `json:"content"`
	Error   bool   `json:"error"`
}

func (s *Server) chatBatch(c *gin.Context) {
	var req chatBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	if len(req.Messages) > s.maxBatch {
		abort(c, http.StatusRequestEntityTooLarge, errTooMany(len(req.Messages), s.maxBatch))
		return
	}

	var (
		replies []agent.Reply
		err     error
	)
	if req.Sequential {
		replies, err = s.agent.SequentialWith(c.Request.Context(), conversation.NewManager(""), req.Messages)
	} else {
		replies, err = s.agent.Batch(c.Request.Context(), req.Messages)
	}
	if err != nil && len(replies) == 0 {
		abort(c, http.StatusInternalServerError, err)
		return
	}

	out := make([]replyView, len(replies))
	for i, r := range replies {
		out[i] = replyView{Index: r.Index, Message: r.Message, Content: r.Content, Error: r.Err != nil}
	}
	c.JSON(http.StatusOK, gin.H{"replies": out, "contents": agent.Contents(replies)})
}

type messageRequest struct {
	Message string `json:"message" binding:"required"`
}

func (s *Server) sessionMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	var res *agent.Result
	err = sess.Do(func(conv *conversation.Manager) error {
		var err error
		res, err = s.agent.ChatResult(c.Request.Context(), conv, req.Message)
		return err
	})
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, conversation.ErrTurnOrder) {
			status = http.StatusConflict
		}
		abort(c, status, err)
		return
	}

	snap := sess.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"session_id": sess.ID,
		"reply":      res.FinalAnswer,
		"turns":      snap.Turns,
		"iterations": res.IterationsUsed,
	})
}

func (s *Server) getSession(c *gin.Context) {
	sess, err := s.sessions.Lookup(c.Param("id"))
	if err != nil {
		abort(c, http.StatusNotFound, err)
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

func (s *Server) deleteSession(c *gin.Context) {
	if err := s.sessions.Delete(c.Param("id")); err != nil {
		abort(c, http.StatusNotFound, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
