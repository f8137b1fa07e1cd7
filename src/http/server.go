// MIT License
//
// Copyright (c) 2024 sphinx-core
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// go/src/http/server.go
package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lyra-core/go/src/consensus"
	"github.com/lyra-core/go/src/core"
	logger "github.com/lyra-core/go/src/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewServer creates the REST server. Submissions wait up to waitTimeout
// for the session to end before answering with a pending result.
func NewServer(address string, api NodeAPI, gatherer prometheus.Gatherer, waitTimeout time.Duration) *Server {
	gin.SetMode(gin.ReleaseMode)
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		address:     address,
		router:      gin.New(),
		api:         api,
		gatherer:    gatherer,
		waitTimeout: waitTimeout,
		log:         logger.Named("http"),
	}
	s.router.Use(gin.Recovery(), s.requestLogger())
	s.setupRoutes()
	s.httpServer = &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/status", s.handleStatus)
	s.router.GET("/billboard", s.handleBillboard)
	s.router.GET("/peers", s.handlePeers)
	s.router.GET("/blocks/:hash", s.handleGetBlock)
	s.router.POST("/blocks", s.handleSubmitBlock)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debugw("request", "method", c.Request.Method, "path", c.FullPath(),
			"status", c.Writer.Status(), "elapsed", time.Since(start))
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.api.Status())
}

func (s *Server) handleBillboard(c *gin.Context) {
	c.JSON(http.StatusOK, s.api.Billboard())
}

func (s *Server) handlePeers(c *gin.Context) {
	c.JSON(http.StatusOK, s.api.Peers())
}

func (s *Server) handleGetBlock(c *gin.Context) {
	b, err := s.api.FindBlock(c.Param("hash"))
	if errors.Is(err, core.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "block not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, b)
}

func (s *Server) handleSubmitBlock(c *gin.Context) {
	var b core.Block
	if err := c.ShouldBindJSON(&b); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	session, err := s.api.Submit(&b)
	if err != nil {
		c.JSON(submitStatus(err), ErrorResponse{Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.waitTimeout)
	defer cancel()
	result, err := session.Wait(ctx)
	resp := SubmitResponse{Hash: session.Hash(), Result: result.String()}
	if err != nil {
		c.JSON(http.StatusAccepted, resp)
		return
	}
	if result == consensus.ResultYea {
		if stored, err := s.api.FindBlock(resp.Hash); err == nil {
			resp.UIndex = stored.UIndex
		}
	}
	c.JSON(http.StatusOK, resp)
}

// submitStatus maps Submit errors to HTTP status codes.
func submitStatus(err error) int {
	switch {
	case errors.Is(err, consensus.ErrInvalidBlock):
		return http.StatusBadRequest
	case errors.Is(err, consensus.ErrDoubleSpend), errors.Is(err, consensus.ErrAlreadyFinalized):
		return http.StatusConflict
	case errors.Is(err, consensus.ErrNotReady), errors.Is(err, consensus.ErrViewChanging),
		errors.Is(err, consensus.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Start binds the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Infow("REST server listening", "address", ln.Addr().String())
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
