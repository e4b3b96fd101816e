package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/deltran/corridorsim/internal/audit"
	"github.com/deltran/corridorsim/internal/journal"
	"github.com/deltran/corridorsim/internal/observability"
	"github.com/deltran/corridorsim/internal/playback"
	"github.com/deltran/corridorsim/internal/resilience"
	"github.com/deltran/corridorsim/internal/session"
	"github.com/deltran/corridorsim/internal/simulation"
	"github.com/deltran/corridorsim/internal/swift"
	"github.com/deltran/corridorsim/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

type playbackCommand string

const (
	commandNext  playbackCommand = "next"
	commandPrev  playbackCommand = "prev"
	commandReset playbackCommand = "reset"
	commandPlay  playbackCommand = "play"
	commandJump  playbackCommand = "jump"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody describes a failure
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CorridorSummary is one entry of the corridor list
type CorridorSummary struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	SenderCountry   string          `json:"sender_country"`
	SenderFlag      string          `json:"sender_flag"`
	ReceiverCountry string          `json:"receiver_country"`
	ReceiverFlag    string          `json:"receiver_flag"`
	SourceCurrency  string          `json:"source_currency"`
	TargetCurrency  string          `json:"target_currency"`
	DefaultAmount   decimal.Decimal `json:"default_amount"`
	SettlementTime  string          `json:"settlement_time"`
	SerialSteps     int             `json:"serial_steps"`
	CoverSteps      int             `json:"cover_steps"`
}

// MTMessage is a rendered legacy message
type MTMessage struct {
	StepID int    `json:"step_id"`
	Name   string `json:"name"`
	Text   string `json:"text"`
}

// CreateSessionRequest opens a session; empty fields take the defaults
type CreateSessionRequest struct {
	CorridorID   string `json:"corridor_id"`
	Method       string `json:"method"`
	ChargeBearer string `json:"charge_bearer"`
	Amount       string `json:"amount"`
}

// SelectRequest changes a session's selection; empty fields are left alone
type SelectRequest struct {
	CorridorID   string `json:"corridor_id"`
	Method       string `json:"method"`
	ChargeBearer string `json:"charge_bearer"`
	Amount       string `json:"amount"`
}

// JumpRequest moves playback to a step index
type JumpRequest struct {
	Index int `json:"index"`
}

// ============================================
// CORRIDORS
// ============================================

func (s *Server) handleListCorridors(w http.ResponseWriter, r *http.Request) {
	list := make([]CorridorSummary, 0, s.registry.Len())
	for _, c := range s.registry.List() {
		list = append(list, CorridorSummary{
			ID:              c.ID,
			Name:            c.Name,
			SenderCountry:   c.SenderCountry,
			SenderFlag:      c.SenderFlag,
			ReceiverCountry: c.ReceiverCountry,
			ReceiverFlag:    c.ReceiverFlag,
			SourceCurrency:  c.SourceCurrency,
			TargetCurrency:  c.TargetCurrency,
			DefaultAmount:   c.DefaultAmount,
			SettlementTime:  c.SettlementTime,
			SerialSteps:     len(c.SerialSteps),
			CoverSteps:      len(c.CoverSteps),
		})
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetCorridor(w http.ResponseWriter, r *http.Request) {
	c, err := s.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	result, _, err := s.simulateQuery(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	c, err := s.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	method, _, amount, err := parseSelection(r, c)
	if err != nil {
		s.writeError(w, err)
		return
	}
	steps, err := c.Steps(method)
	if err != nil {
		s.writeError(w, err)
		return
	}
	summaries, err := simulation.CompareBearers(steps, amount, c.SourceCurrency)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleCorridorMT(w http.ResponseWriter, r *http.Request) {
	result, c, err := s.simulateQuery(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeMT(w, r, c, result, result.Summary.Policy)
}

func (s *Server) handleCorridorExport(w http.ResponseWriter, r *http.Request) {
	result, c, err := s.simulateQuery(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeExport(w, r, c, result)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	var ids []string
	if id := r.URL.Query().Get("corridor"); id != "" {
		ids = append(ids, id)
	}
	result, err := s.health.ValidateTemplates(r.Context(), ids...)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// simulateQuery simulates the corridor in the URL with the query's selection
func (s *Server) simulateQuery(r *http.Request) (*simulation.Result, *types.Corridor, error) {
	c, err := s.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		return nil, nil, err
	}
	method, bearer, amount, err := parseSelection(r, c)
	if err != nil {
		return nil, nil, err
	}
	result, err := s.simulate(r.Context(), c, method, amount, bearer)
	if err != nil {
		return nil, nil, err
	}
	return result, c, nil
}

// parseSelection reads method, bearer and amount query parameters
func parseSelection(r *http.Request, c *types.Corridor) (types.SettlementMethod, types.ChargeBearer, decimal.Decimal, error) {
	q := r.URL.Query()

	method := types.MethodSerial
	if v := q.Get("method"); v != "" {
		m, err := types.ParseSettlementMethod(v)
		if err != nil {
			return "", "", decimal.Zero, err
		}
		method = m
	}

	bearer := types.ChargeBearerShared
	if v := q.Get("bearer"); v != "" {
		b, err := types.ParseChargeBearer(v)
		if err != nil {
			return "", "", decimal.Zero, err
		}
		bearer = b
	}

	amount := c.DefaultAmount
	if v := q.Get("amount"); v != "" {
		a, err := parseAmount(v)
		if err != nil {
			return "", "", decimal.Zero, err
		}
		amount = a
	}

	return method, bearer, amount, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	a, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, types.NewError(types.ErrorCodeInvalidAmount, "amount is not a number", s)
	}
	return a, nil
}

// ============================================
// SESSIONS
// ============================================

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			s.writeError(w, types.NewError(types.ErrorCodeInvalidSelection, "invalid request body", err.Error()))
			return
		}
	}

	opts := session.Options{CorridorID: req.CorridorID}
	if opts.CorridorID == "" {
		opts.CorridorID = s.config.Catalog.DefaultCorridor
	}
	if req.Method != "" {
		m, err := types.ParseSettlementMethod(req.Method)
		if err != nil {
			s.writeError(w, err)
			return
		}
		opts.Method = m
	}
	if req.ChargeBearer != "" {
		b, err := types.ParseChargeBearer(req.ChargeBearer)
		if err != nil {
			s.writeError(w, err)
			return
		}
		opts.ChargeBearer = b
	}
	if req.Amount != "" {
		a, err := parseAmount(req.Amount)
		if err != nil {
			s.writeError(w, err)
			return
		}
		opts.Amount = &a
	}

	create := func() (interface{}, int, error) {
		live, err := s.newSession(opts)
		if err != nil {
			return nil, 0, err
		}
		view, err := s.view(r.Context(), live)
		if err != nil {
			return nil, 0, err
		}
		return view, http.StatusCreated, nil
	}

	// A retried request with the same Idempotency-Key gets the first response
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		resp, status, replayed, err := s.idempotency.Execute(r.Context(), resilience.GenerateKey("session", key), create)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if replayed {
			w.Header().Set("Idempotent-Replayed", "true")
		}
		writeJSON(w, status, resp)
		return
	}

	resp, status, err := create()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	live, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	view, err := s.view(r.Context(), live)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sessions.Delete(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.journal.Drop(id)
	s.metrics.RecordSessions(s.sessions.Len())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePlayback(cmd playbackCommand) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.command(w, r, ClientCommand{Type: "command", Command: string(cmd)})
	}
}

func (s *Server) handleJump(w http.ResponseWriter, r *http.Request) {
	var req JumpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, types.NewError(types.ErrorCodeInvalidSelection, "invalid request body", err.Error()))
		return
	}
	s.command(w, r, ClientCommand{Type: "command", Command: string(commandJump), Index: req.Index})
}

// command applies a playback command and answers with the new view
func (s *Server) command(w http.ResponseWriter, r *http.Request, cmd ClientCommand) {
	id := chi.URLParam(r, "id")
	if err := s.applyCommand(r.Context(), id, cmd); err != nil {
		s.writeError(w, err)
		return
	}
	live, err := s.sessions.Get(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	view, err := s.view(r.Context(), live)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// applyCommand runs a playback command on a session's driver. It serves both
// HTTP requests and WebSocket clients.
func (s *Server) applyCommand(ctx context.Context, sessionID string, cmd ClientCommand) error {
	ctx, span := observability.TraceSessionCommand(ctx, s.tracer, sessionID, cmd.Command)
	defer span.End()

	live, err := s.sessions.Get(sessionID)
	if err != nil {
		return err
	}

	var snap playback.Snapshot
	switch playbackCommand(cmd.Command) {
	case commandNext:
		snap, err = live.driver.Next(ctx)
	case commandPrev:
		snap, err = live.driver.Prev(ctx)
	case commandReset:
		snap, err = live.driver.Reset(ctx)
	case commandPlay:
		snap, err = live.driver.TogglePlay(ctx)
	case commandJump:
		snap, err = live.driver.JumpTo(ctx, cmd.Index)
	default:
		err = types.NewError(types.ErrorCodeInvalidSelection, "unknown playback command", cmd.Command)
	}
	if err != nil {
		observability.RecordError(ctx, err)
		observability.SetStatus(ctx, codes.Error, err.Error())
		return err
	}

	observability.SetAttributes(ctx, observability.AttrCursor.Int(snap.Cursor))
	return nil
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	live, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req SelectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, types.NewError(types.ErrorCodeInvalidSelection, "invalid request body", err.Error()))
		return
	}

	ctx, span := observability.TraceSessionCommand(r.Context(), s.tracer, live.sess.ID(), "select")
	defer span.End()

	err = live.with(ctx, playback.EventSelect, func(sess *session.Session) error {
		return applySelection(sess, req)
	})
	if err != nil {
		observability.RecordError(ctx, err)
		s.writeError(w, err)
		return
	}

	view, err := s.view(ctx, live)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// applySelection applies every field of req or none of them
func applySelection(sess *session.Session, req SelectRequest) error {
	saved := sess.State()
	err := func() error {
		if req.CorridorID != "" {
			if err := sess.SelectCorridor(req.CorridorID); err != nil {
				return err
			}
		}
		if req.Method != "" {
			m, err := types.ParseSettlementMethod(req.Method)
			if err != nil {
				return err
			}
			if err := sess.SelectMethod(m); err != nil {
				return err
			}
		}
		if req.ChargeBearer != "" {
			b, err := types.ParseChargeBearer(req.ChargeBearer)
			if err != nil {
				return err
			}
			if err := sess.SetChargeBearer(b); err != nil {
				return err
			}
		}
		if req.Amount != "" {
			a, err := parseAmount(req.Amount)
			if err != nil {
				return err
			}
			if err := sess.SetAmount(a); err != nil {
				return err
			}
		}
		return nil
	}()
	if err != nil {
		if rerr := sess.Restore(saved); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}
	return nil
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.sessions.Get(id); err != nil {
		s.writeError(w, err)
		return
	}

	var since uint64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			s.writeError(w, types.NewError(types.ErrorCodeInvalidSelection, "since must be a sequence number", v))
			return
		}
		since = n
	}

	entries := s.journal.Since(id, since)
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleSessionMT(w http.ResponseWriter, r *http.Request) {
	c, result, bearer, err := s.derived(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeMT(w, r, c, result, bearer)
}

func (s *Server) handleSessionExport(w http.ResponseWriter, r *http.Request) {
	c, result, _, err := s.derived(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeExport(w, r, c, result)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.sessions.Get(id); err != nil {
		s.writeError(w, err)
		return
	}
	s.hub.HandleWebSocket(w, r, id)
}

// view reads the session view on the driver goroutine
func (s *Server) view(ctx context.Context, live *liveSession) (*session.View, error) {
	var v *session.View
	err := live.with(ctx, "", func(sess *session.Session) error {
		var err error
		v, err = sess.View()
		return err
	})
	return v, err
}

// derived reads a session's current simulation on the driver goroutine
func (s *Server) derived(ctx context.Context, id string) (*types.Corridor, *simulation.Result, types.ChargeBearer, error) {
	live, err := s.sessions.Get(id)
	if err != nil {
		return nil, nil, "", err
	}

	var (
		c      *types.Corridor
		result *simulation.Result
		bearer types.ChargeBearer
	)
	err = live.with(ctx, "", func(sess *session.Session) error {
		var err error
		result, err = sess.Derived()
		c = sess.Corridor()
		bearer = sess.ChargeBearer()
		return err
	})
	return c, result, bearer, err
}

// ============================================
// HEALTH
// ============================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.health.CheckSystemHealth(r.Context())
	s.metrics.UpdateServiceHealth(health.Healthy)
	if s.results != nil {
		s.metrics.CacheItems.Set(float64(s.results.Stats().Items))
	}

	status, label := http.StatusOK, "healthy"
	if !health.Healthy {
		status, label = http.StatusServiceUnavailable, "unhealthy"
	}
	writeJSON(w, status, map[string]interface{}{
		"status":     label,
		"components": health.Components,
		"uptime":     time.Since(s.startTime).Round(time.Second).String(),
		"sessions":   s.sessions.Len(),
		"ws_clients": s.hub.GetConnectedClientsCount(),
	})
}

// ============================================
// RESPONSES
// ============================================

func (s *Server) writeMT(w http.ResponseWriter, r *http.Request, c *types.Corridor, result *simulation.Result, bearer types.ChargeBearer) {
	_, span := observability.TraceMTRender(r.Context(), s.tracer, c.ID, string(result.Method))
	defer span.End()

	rendered, err := s.generator.RenderAll(c, result.Steps, bearer)
	if err != nil {
		span.RecordError(err)
		s.writeError(w, err)
		return
	}

	out := make([]MTMessage, 0, len(rendered))
	for _, m := range rendered {
		out = append(out, MTMessage{StepID: m.StepID, Name: m.Name(), Text: m.Text})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeExport(w http.ResponseWriter, r *http.Request, c *types.Corridor, result *simulation.Result) {
	format := audit.FormatJSON
	if v := r.URL.Query().Get("format"); v != "" {
		f, err := audit.ParseFormat(v)
		if err != nil {
			s.writeError(w, err)
			return
		}
		format = f
	}

	rep := audit.SimulationReport(c, result)
	_, span := observability.TraceExport(r.Context(), s.tracer, rep.Type, string(format))
	defer span.End()

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rep.Type+"_"+rep.Subject+"."+string(format)))
	if err := audit.Write(w, format, rep); err != nil {
		// Headers are gone once the body started; log only
		span.RecordError(err)
		s.logger.Error("Export failed", zap.String("corridor", c.ID), zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to HTTP status codes
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := string(types.CodeOf(err))

	switch {
	case errors.Is(err, types.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrInvalidAmount), errors.Is(err, types.ErrInvalidSelection):
		status = http.StatusBadRequest
	case errors.Is(err, ErrTooManySessions):
		status = http.StatusServiceUnavailable
		code = "SESSION_LIMIT"
	case errors.Is(err, playback.ErrClosed):
		status = http.StatusGone
		code = "SESSION_CLOSED"
	case errors.Is(err, swift.ErrNotRenderable), errors.Is(err, swift.ErrInvalidFieldFormat), errors.Is(err, swift.ErrMissingField):
		status = http.StatusUnprocessableEntity
		code = "NOT_RENDERABLE"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
		code = "TIMEOUT"
	}

	if status >= 500 {
		s.logger.Error("Request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, ErrorResponse{Error: ErrorBody{Code: code, Message: err.Error()}})
}
