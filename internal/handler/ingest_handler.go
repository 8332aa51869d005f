package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Lutefd/botkit-telemetry/internal/commons"
	"github.com/Lutefd/botkit-telemetry/internal/model"
	"github.com/Lutefd/botkit-telemetry/internal/telemetry"
	"github.com/valyala/fastjson"
)

// Emitter is the producer side of the pipeline.
type Emitter interface {
	Log(level model.LogLevel, message, module string, code int)
	Trace(event model.TraceEvent)
	Flush(ctx context.Context) error
	State() telemetry.State
}

type IngestHandler struct {
	emitter Emitter
	parsers fastjson.ParserPool
}

func NewIngestHandler(emitter Emitter) *IngestHandler {
	return &IngestHandler{emitter: emitter}
}

type logRequest struct {
	level   model.LogLevel
	message string
	module  string
	code    int
}

// IngestLogs accepts one log object or an array of them. Nothing is emitted
// unless every item is valid.
func (h *IngestHandler) IngestLogs(w http.ResponseWriter, r *http.Request) {
	items, release, err := h.readItems(w, r)
	if err != nil {
		commons.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer release()

	logs := make([]logRequest, 0, len(items))
	for i, item := range items {
		req, err := parseLogItem(item)
		if err != nil {
			commons.RespondWithError(w, http.StatusBadRequest, fmt.Sprintf("item %d: %s", i, err))
			return
		}
		logs = append(logs, req)
	}

	for _, l := range logs {
		h.emitter.Log(l.level, l.message, l.module, l.code)
	}
	commons.RespondWithJSON(w, http.StatusAccepted, map[string]int{"accepted": len(logs)})
}

// IngestQueries accepts one query event or an array of them.
func (h *IngestHandler) IngestQueries(w http.ResponseWriter, r *http.Request) {
	items, release, err := h.readItems(w, r)
	if err != nil {
		commons.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer release()

	events := make([]model.TraceEvent, 0, len(items))
	for i, item := range items {
		event, err := parseQueryItem(item)
		if err != nil {
			commons.RespondWithError(w, http.StatusBadRequest, fmt.Sprintf("item %d: %s", i, err))
			return
		}
		events = append(events, event)
	}

	for _, e := range events {
		h.emitter.Trace(e)
	}
	commons.RespondWithJSON(w, http.StatusAccepted, map[string]int{"accepted": len(events)})
}

func (h *IngestHandler) Flush(w http.ResponseWriter, r *http.Request) {
	if err := h.emitter.Flush(r.Context()); err != nil {
		if errors.Is(err, model.ErrBrokerUnavailable) {
			commons.RespondWithError(w, http.StatusServiceUnavailable, "broker unavailable")
			return
		}
		commons.RespondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	commons.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "flushed"})
}

func (h *IngestHandler) readItems(w http.ResponseWriter, r *http.Request) ([]*fastjson.Value, func(), error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, commons.MaxIngestBodyBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read body: %w", err)
	}

	p := h.parsers.Get()
	release := func() { h.parsers.Put(p) }

	v, err := p.ParseBytes(body)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("invalid JSON: %w", err)
	}

	switch v.Type() {
	case fastjson.TypeObject:
		return []*fastjson.Value{v}, release, nil
	case fastjson.TypeArray:
		items, _ := v.Array()
		if len(items) == 0 {
			release()
			return nil, nil, fmt.Errorf("empty batch")
		}
		return items, release, nil
	}
	release()
	return nil, nil, fmt.Errorf("body must be an object or an array of objects")
}

func parseLogItem(v *fastjson.Value) (logRequest, error) {
	if v.Type() != fastjson.TypeObject {
		return logRequest{}, fmt.Errorf("must be an object")
	}

	rawLevel, err := stringField(v, "level", true)
	if err != nil {
		return logRequest{}, err
	}
	level, err := model.ParseLogLevel(rawLevel)
	if err != nil {
		return logRequest{}, err
	}

	message, err := stringField(v, "message", true)
	if err != nil {
		return logRequest{}, err
	}
	module, err := stringField(v, "module", false)
	if err != nil {
		return logRequest{}, err
	}

	code := model.DefaultCode(level)
	if c, ok, err := intField(v, "status_code"); err != nil {
		return logRequest{}, err
	} else if ok {
		code = int(c)
	}

	return logRequest{level: level, message: message, module: module, code: code}, nil
}

func parseQueryItem(v *fastjson.Value) (model.TraceEvent, error) {
	if v.Type() != fastjson.TypeObject {
		return model.TraceEvent{}, fmt.Errorf("must be an object")
	}

	var event model.TraceEvent
	var err error
	if event.UserID, err = requiredInt(v, "user_id"); err != nil {
		return model.TraceEvent{}, err
	}
	if event.ChatID, err = requiredInt(v, "chat_id"); err != nil {
		return model.TraceEvent{}, err
	}
	if event.QueryType, err = stringField(v, "query_type", true); err != nil {
		return model.TraceEvent{}, err
	}
	if event.QueryText, err = stringField(v, "query_text", false); err != nil {
		return model.TraceEvent{}, err
	}

	if rt, ok, err := intField(v, "response_time"); err != nil {
		return model.TraceEvent{}, err
	} else if ok {
		event.ResponseTime = &rt
	}
	if sc, ok, err := intField(v, "status_code"); err != nil {
		return model.TraceEvent{}, err
	} else if ok {
		code := int(sc)
		event.StatusCode = &code
	}
	return event, nil
}

func stringField(v *fastjson.Value, name string, required bool) (string, error) {
	f := v.Get(name)
	if f == nil || f.Type() == fastjson.TypeNull {
		if required {
			return "", fmt.Errorf("%s is required", name)
		}
		return "", nil
	}
	b, err := f.StringBytes()
	if err != nil {
		return "", fmt.Errorf("%s must be a string", name)
	}
	s := string(b)
	if required && strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%s must not be empty", name)
	}
	return s, nil
}

func intField(v *fastjson.Value, name string) (int64, bool, error) {
	f := v.Get(name)
	if f == nil || f.Type() == fastjson.TypeNull {
		return 0, false, nil
	}
	n, err := f.Int64()
	if err != nil {
		return 0, false, fmt.Errorf("%s must be an integer", name)
	}
	return n, true, nil
}

func requiredInt(v *fastjson.Value, name string) (int64, error) {
	n, ok, err := intField(v, name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%s is required", name)
	}
	return n, nil
}
