package livehttp

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"griddca/internal/command"
	"griddca/internal/engine"
	"griddca/internal/logger"
	"griddca/internal/store/gormstore"
	"griddca/internal/store/journal"

	"github.com/gin-gonic/gin"
)

// Engine is the slice of the engine the admin API drives.
type Engine interface {
	Snapshot() engine.View
	SubmitSync(ctx context.Context, cmd command.Command, source string) (engine.Reply, error)
	ChartHTML(ctx context.Context, hours int) ([]byte, error)
}

// EventReader reads the event journal.
type EventReader interface {
	Recent(ctx context.Context, typ string, limit int) ([]journal.Event, error)
}

// HistoryReader reads persisted cycles and fills.
type HistoryReader interface {
	RecentCycles(ctx context.Context, n int) ([]gormstore.CycleRecord, error)
	RecentFills(ctx context.Context, n int) ([]gormstore.FillRecord, error)
}

const commandTimeout = 15 * time.Second

// Router 暴露引擎状态查询与运维命令接口。
type Router struct {
	engine   Engine
	journal  EventReader
	history  HistoryReader
	logPaths map[string]string
	logNames []string
}

// NewRouter 构造 live HTTP router。journal 与 history 可以为空。
func NewRouter(eng Engine, events EventReader, history HistoryReader, logPaths map[string]string) *Router {
	names := make([]string, 0, len(logPaths))
	for name, path := range logPaths {
		if strings.TrimSpace(path) == "" || strings.TrimSpace(name) == "" {
			continue
		}
		names = append(names, name)
	}
	return &Router{engine: eng, journal: events, history: history, logPaths: logPaths, logNames: names}
}

// Register 将路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/status", r.handleStatus)
	group.POST("/commands", r.handleCommand)
	group.GET("/chart", r.handleChart)
	group.GET("/events", r.handleEvents)
	group.GET("/cycles", r.handleCycles)
	group.GET("/fills", r.handleFills)
	group.GET("/logs", r.handleLogs)
}

func (r *Router) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.engine.Snapshot())
}

type commandRequest struct {
	Text string `json:"text" binding:"required"`
}

type commandResponse struct {
	Command string `json:"command"`
	Reply   string `json:"reply"`
	Photo   bool   `json:"photo,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (r *Router) handleCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be {\"text\": \"...\"}"})
		return
	}
	cmd, err := command.Parse(req.Text)
	if err != nil {
		var perr *command.ParseError
		if errors.As(err, &perr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": perr.Reason, "usage": perr.Usage})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
	defer cancel()
	reply, err := r.engine.SubmitSync(ctx, cmd, "http:"+c.ClientIP())
	if err != nil {
		logger.Warnf("[api] command %s failed ip=%s err=%v", cmd.Name(), c.ClientIP(), err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] command %s ip=%s", cmd.Name(), c.ClientIP())
	resp := commandResponse{Command: cmd.Name(), Reply: reply.Text, Photo: len(reply.Photo) > 0}
	status := http.StatusOK
	if reply.Err != nil {
		resp.Error = reply.Err.Error()
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, resp)
}

func (r *Router) handleChart(c *gin.Context) {
	hours, _ := strconv.Atoi(c.DefaultQuery("hours", "24"))
	if hours <= 0 {
		hours = 24
	}
	html, err := r.engine.ChartHTML(c.Request.Context(), hours)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}

func (r *Router) handleEvents(c *gin.Context) {
	if r.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal disabled"})
		return
	}
	limit := queryLimit(c, 100, 1000)
	events, err := r.journal.Recent(c.Request.Context(), strings.TrimSpace(c.Query("type")), limit)
	if err != nil {
		logger.Errorf("[api] events failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (r *Router) handleCycles(c *gin.Context) {
	if r.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history store disabled"})
		return
	}
	cycles, err := r.history.RecentCycles(c.Request.Context(), queryLimit(c, 20, 500))
	if err != nil {
		logger.Errorf("[api] cycles failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cycles": cycles})
}

func (r *Router) handleFills(c *gin.Context) {
	if r.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history store disabled"})
		return
	}
	fills, err := r.history.RecentFills(c.Request.Context(), queryLimit(c, 50, 1000))
	if err != nil {
		logger.Errorf("[api] fills failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"fills": fills})
}

func (r *Router) handleLogs(c *gin.Context) {
	if len(r.logNames) == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "未配置日志文件"})
		return
	}
	name := strings.TrimSpace(c.DefaultQuery("name", ""))
	path := ""
	if name != "" {
		path = strings.TrimSpace(r.logPaths[name])
	}
	if path == "" {
		name = r.logNames[0]
		path = r.logPaths[name]
	}
	lines, err := readLastLines(path, queryLimit(c, 200, 5000))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "path": path})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":      name,
		"path":      path,
		"lines":     lines,
		"available": r.logNames,
	})
}

func queryLimit(c *gin.Context, def, max int) int {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if limit <= 0 {
		limit = def
	}
	if limit > max {
		limit = max
	}
	return limit
}

const maxLogLineSize = 4 * 1024 * 1024

func readLastLines(path string, limit int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, maxLogLineSize)
	lines := make([]string, 0, limit)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > limit {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
