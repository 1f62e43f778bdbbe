package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ledgerSync/internal/datahash"
	"ledgerSync/internal/lock"
	"ledgerSync/internal/model"
	"ledgerSync/internal/syncer"
)

const (
	statusSuccess = "success"
	statusError   = "error"
	statusBusy    = "busy"
)

// Response is the envelope of source-scoped endpoints.
type Response struct {
	Status          string      `json:"status"`
	ContractType    string      `json:"contractType,omitempty"`
	ContractAddress string      `json:"contractAddress,omitempty"`
	Data            interface{} `json:"data"`
}

type failure struct {
	Message string            `json:"message"`
	Cursor  *model.SyncCursor `json:"cursor,omitempty"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"default": s.manager.DefaultKey(),
		"sources": s.manager.Sources(),
	})
}

func (s *Server) sync(c *gin.Context) {
	engine, key, ok := s.engine(c)
	if !ok {
		return
	}

	var cursor model.SyncCursor
	err := lock.Do(c.Request.Context(), s.locker, lock.SyncKey(key), func(ctx context.Context) error {
		var runErr error
		cursor, runErr = engine.RunSync(ctx)
		return runErr
	})
	switch {
	case err == nil:
		c.JSON(http.StatusOK, sourceResponse(statusSuccess, key, cursor))
	case errors.Is(err, lock.ErrBusy):
		c.JSON(http.StatusConflict, sourceResponse(statusBusy, key, failure{Message: err.Error()}))
	case errors.Is(err, syncer.ErrConfig):
		c.JSON(http.StatusBadRequest, sourceResponse(statusError, key, failure{Message: err.Error()}))
	default:
		s.logger.Error("sync request failed", zap.String("source", key.String()), zap.Error(err))
		body := failure{Message: err.Error()}
		if cursor.SourceAddress != "" {
			body.Cursor = &cursor
		}
		c.JSON(http.StatusInternalServerError, sourceResponse(statusError, key, body))
	}
}

func (s *Server) cursor(c *gin.Context) {
	engine, key, ok := s.engine(c)
	if !ok {
		return
	}
	cursor, err := engine.Cursor(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, sourceResponse(statusError, key, failure{Message: err.Error()}))
		return
	}
	c.JSON(http.StatusOK, sourceResponse(statusSuccess, key, cursor))
}

func (s *Server) resetCursor(c *gin.Context) {
	engine, key, ok := s.engine(c)
	if !ok {
		return
	}
	raw, err := blockNumberParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, sourceResponse(statusError, key, failure{Message: err.Error()}))
		return
	}
	block, valid := model.ParseBlockNumber(raw)
	if !valid {
		c.JSON(http.StatusBadRequest, sourceResponse(statusError, key, failure{
			Message: "blockNumber must be a non-negative integer, got " + strconv.Quote(raw),
		}))
		return
	}

	var cursor model.SyncCursor
	err = lock.Do(c.Request.Context(), s.locker, lock.SyncKey(key), func(ctx context.Context) error {
		var resetErr error
		cursor, resetErr = engine.ResetCursor(ctx, block)
		return resetErr
	})
	switch {
	case err == nil:
		c.JSON(http.StatusOK, sourceResponse(statusSuccess, key, cursor))
	case errors.Is(err, lock.ErrBusy):
		c.JSON(http.StatusConflict, sourceResponse(statusBusy, key, failure{Message: err.Error()}))
	default:
		c.JSON(http.StatusInternalServerError, sourceResponse(statusError, key, failure{Message: err.Error()}))
	}
}

func (s *Server) latestEvents(c *gin.Context) {
	limit, ok := limitParam(c)
	if !ok {
		return
	}
	events, err := s.events.LatestEvents(c.Request.Context(), limit)
	s.respondEvents(c, events, err)
}

func (s *Server) eventsByName(c *gin.Context) {
	limit, ok := limitParam(c)
	if !ok {
		return
	}
	events, err := s.events.EventsByName(c.Request.Context(), c.Param("name"), limit)
	s.respondEvents(c, events, err)
}

func (s *Server) eventsByRange(c *gin.Context) {
	limit, ok := limitParam(c)
	if !ok {
		return
	}
	from, to, err := syncer.ParseBlockRange(c.Query("from"), c.Query("to"))
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Status: statusError, Data: failure{Message: err.Error()}})
		return
	}
	events, err := s.events.EventsByBlockRange(c.Request.Context(), from, to, limit)
	s.respondEvents(c, events, err)
}

func (s *Server) eventsByTx(c *gin.Context) {
	events, err := s.events.EventsByTxHash(c.Request.Context(), c.Param("hash"))
	s.respondEvents(c, events, err)
}

func (s *Server) hash(c *gin.Context) {
	var body struct {
		Data json.RawMessage `json:"data"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || len(body.Data) == 0 {
		c.JSON(http.StatusBadRequest, Response{Status: statusError, Data: failure{Message: "request body must be {\"data\": <string or object>}"}})
		return
	}
	digest, err := datahash.HexJSON(body.Data)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Status: statusError, Data: failure{Message: err.Error()}})
		return
	}
	c.JSON(http.StatusOK, Response{Status: statusSuccess, Data: gin.H{"hash": digest}})
}

func (s *Server) respondEvents(c *gin.Context, events []model.DecodedEvent, err error) {
	if err != nil {
		s.logger.Error("event query failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{Status: statusError, Data: failure{Message: err.Error()}})
		return
	}
	if events == nil {
		events = []model.DecodedEvent{}
	}
	c.JSON(http.StatusOK, Response{Status: statusSuccess, Data: events})
}

// engine resolves the request's source and writes a 400 when it is invalid.
func (s *Server) engine(c *gin.Context) (*syncer.Engine, model.SourceKey, bool) {
	key, err := s.manager.Resolve(c.Query("contractType"), c.Query("contractAddress"))
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Status:          statusError,
			ContractType:    c.Query("contractType"),
			ContractAddress: c.Query("contractAddress"),
			Data:            failure{Message: err.Error()},
		})
		return nil, key, false
	}
	engine, err := s.manager.Engine(key)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, syncer.ErrConfig) {
			code = http.StatusBadRequest
		}
		c.JSON(code, sourceResponse(statusError, key, failure{Message: err.Error()}))
		return nil, key, false
	}
	return engine, key, true
}

func sourceResponse(status string, key model.SourceKey, data interface{}) Response {
	return Response{Status: status, ContractType: key.Type, ContractAddress: key.Address, Data: data}
}

// blockNumberParam reads blockNumber from a JSON body (number or string) or the query string.
func blockNumberParam(c *gin.Context) (string, error) {
	if c.Request.Body != nil && c.Request.ContentLength != 0 {
		payload, err := io.ReadAll(c.Request.Body)
		if err != nil {
			return "", err
		}
		if len(strings.TrimSpace(string(payload))) > 0 {
			var body struct {
				BlockNumber json.RawMessage `json:"blockNumber"`
			}
			if err := json.Unmarshal(payload, &body); err != nil {
				return "", errors.New("request body must be a JSON object")
			}
			if len(body.BlockNumber) > 0 {
				var text string
				if err := json.Unmarshal(body.BlockNumber, &text); err == nil {
					return text, nil
				}
				return string(body.BlockNumber), nil
			}
		}
	}
	return c.Query("blockNumber"), nil
}

func limitParam(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Status: statusError, Data: failure{Message: "limit must be an integer"}})
		return 0, false
	}
	return limit, true
}
