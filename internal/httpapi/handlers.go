package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/go-micros/micros/micros"
)

type stateRequest struct {
	State string `json:"state"`
}

type dimmerRequest struct {
	Level *int   `json:"level"`
	State string `json:"state"`
}

type readingResponse struct {
	Function string `json:"function"`
	Number   int    `json:"number"`
	Value    byte   `json:"value"`
	Known    bool   `json:"known"`
	State    string `json:"state"`
}

type commandResponse struct {
	Function string `json:"function"`
	Number   int    `json:"number"`
	Command  string `json:"command"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) getReading(get func(int) (micros.Reading, error), fn micros.Function) gin.HandlerFunc {
	return func(c *gin.Context) {
		num, ok := s.deviceNumber(c)
		if !ok {
			return
		}

		r, err := get(num)
		if err != nil {
			s.fail(c, err)
			return
		}

		c.JSON(http.StatusOK, readingResponse{
			Function: fn.String(),
			Number:   num,
			Value:    r.Value,
			Known:    r.Known,
			State:    r.String(),
		})
	}
}

func (s *Server) setSwitch(set func(int, micros.Command) error, fn micros.Function) gin.HandlerFunc {
	return func(c *gin.Context) {
		num, ok := s.deviceNumber(c)
		if !ok {
			return
		}

		var req stateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.fail(c, fmt.Errorf("%w: %w", micros.ErrInvalidArgument, err))
			return
		}

		cmd, err := micros.ParseCommand(req.State)
		if err != nil {
			s.fail(c, err)
			return
		}

		if err := set(num, cmd); err != nil {
			s.fail(c, err)
			return
		}

		c.JSON(http.StatusOK, commandResponse{Function: fn.String(), Number: num, Command: cmd.String()})
	}
}

func (s *Server) setDimmer(c *gin.Context) {
	num, ok := s.deviceNumber(c)
	if !ok {
		return
	}

	var req dimmerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, fmt.Errorf("%w: %w", micros.ErrInvalidArgument, err))
		return
	}

	var (
		err     error
		applied string
	)
	switch {
	case req.State != "":
		cmd, perr := micros.ParseCommand(req.State)
		if perr != nil {
			s.fail(c, perr)
			return
		}

		switch cmd {
		case micros.CommandToggle:
			err = s.ctrl.ToggleDimmer(num)
		case micros.CommandOn:
			err = s.ctrl.SetDimmer(num, int(micros.StateOn))
		default:
			err = s.ctrl.SetDimmer(num, int(micros.StateOff))
		}
		applied = cmd.String()
	case req.Level != nil:
		err = s.ctrl.SetDimmer(num, *req.Level)
		applied = strconv.Itoa(*req.Level)
	default:
		s.fail(c, fmt.Errorf("%w: level or state is required", micros.ErrInvalidArgument))
		return
	}

	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, commandResponse{Function: micros.FunctionDimmer.String(), Number: num, Command: applied})
}

func (s *Server) setMood(c *gin.Context) {
	num, ok := s.deviceNumber(c)
	if !ok {
		return
	}

	kind, err := micros.ParseMoodKind(c.Param("kind"))
	if err != nil {
		s.fail(c, err)
		return
	}

	var req stateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, fmt.Errorf("%w: %w", micros.ErrInvalidArgument, err))
		return
	}

	cmd, err := micros.ParseCommand(req.State)
	if err != nil {
		s.fail(c, err)
		return
	}

	if err := s.ctrl.SetMood(num, cmd, kind); err != nil {
		s.fail(c, err)
		return
	}

	fn, _ := kind.Function()
	c.JSON(http.StatusOK, commandResponse{Function: fn.String(), Number: num, Command: cmd.String()})
}

func (s *Server) deviceNumber(c *gin.Context) (int, bool) {
	num, err := strconv.Atoi(c.Param("num"))
	if err != nil {
		s.fail(c, fmt.Errorf("%w: device number %q", micros.ErrInvalidArgument, c.Param("num")))
		return 0, false
	}

	return num, true
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed", "path", c.FullPath(), "status", status, "error", err)
	}

	c.AbortWithStatusJSON(status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, micros.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, micros.ErrNotConfirmed):
		return http.StatusGatewayTimeout
	case errors.Is(err, micros.ErrDriverClosed), errors.Is(err, micros.ErrConnection):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
