package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"pulse/internal/analysis/visual"
	"pulse/internal/bot"
	"pulse/internal/logger"
	"pulse/internal/market"
	"pulse/internal/runner"
	"pulse/internal/signal"
	"pulse/internal/store"
	"pulse/internal/store/decisionlog"
)

type generateRequest struct {
	Symbol string `json:"symbol"`
}

func (s *Server) handleGenerate(c *gin.Context) {
	if s.cfg.Runner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "generation is not enabled"})
		return
	}
	// The body is optional: a bare POST runs a cycle for the first
	// configured symbol, a {"symbol": ...} body picks one explicitly.
	var req generateRequest
	_ = c.ShouldBindJSON(&req)
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" && len(s.cfg.DefaultSymbols) > 0 {
		symbol = strings.ToUpper(strings.TrimSpace(s.cfg.DefaultSymbols[0]))
	}
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no symbol in request and none configured"})
		return
	}

	res, sig, err := s.cfg.Runner.GenerateOnce(c.Request.Context(), symbol)
	body := gin.H{"result": string(res), "stats": s.cfg.Runner.Stats()}
	if sig != nil {
		body["signal"] = sig
	}
	if err != nil {
		// Upstream data problems are an expected outcome of a cycle, not a
		// server fault; the structured body carries the classification.
		body["error"] = err.Error()
		switch {
		case errors.Is(err, market.ErrDataUnavailable):
			body["error_kind"] = "data_unavailable"
		case errors.Is(err, market.ErrValidation):
			body["error_kind"] = "validation_failure"
		default:
			c.JSON(http.StatusInternalServerError, body)
			return
		}
	}
	status := http.StatusOK
	if res == runner.ResultGenerated {
		status = http.StatusCreated
	}
	c.JSON(status, body)
}

func (s *Server) handleActive(c *gin.Context) {
	filter := store.ActiveFilter{
		Symbol:     strings.ToUpper(strings.TrimSpace(c.Query("symbol"))),
		PublicOnly: c.Query("public") == "true",
		Limit:      queryInt(c, "limit", 0),
	}
	signals, err := s.cfg.Signals.FindActive(c.Request.Context(), filter, time.Now().UTC())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"signals": signals, "count": len(signals)})
}

func (s *Server) handleHistory(c *gin.Context) {
	filter := store.HistoryFilter{
		Symbol: strings.ToUpper(strings.TrimSpace(c.Query("symbol"))),
		Limit:  queryInt(c, "limit", 0),
		Offset: queryInt(c, "offset", 0),
	}
	signals, err := s.cfg.Signals.FindHistory(c.Request.Context(), filter, time.Now().UTC())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"signals": signals, "count": len(signals)})
}

func (s *Server) handleStats(c *gin.Context) {
	body := gin.H{}
	if s.cfg.Runner != nil {
		body["runner"] = s.cfg.Runner.Stats()
	}
	if s.cfg.Hub != nil {
		body["stream_subscribers"] = s.cfg.Hub.SubscriberCount()
	}
	c.JSON(http.StatusOK, body)
}

type decideRequest struct {
	SignalID string           `json:"signal_id"`
	Settings bot.UserSettings `json:"settings"`
	Account  bot.AccountState `json:"account"`
}

func (s *Server) handleDecide(c *gin.Context) {
	start := time.Now()
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read request body"})
		return
	}
	if err := bot.ValidateDecideRequest(raw); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	var req decideRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// The caller must act on its own behalf.
	if caller := strings.TrimSpace(c.GetHeader("X-User-ID")); caller != "" && caller != req.Settings.UserID {
		c.JSON(http.StatusForbidden, gin.H{"error": "caller identity does not match settings.user_id"})
		return
	}
	if req.Settings.Direction == "" {
		req.Settings.Direction = bot.DirectionBoth
	}
	if req.Settings.MinConfidence <= 0 {
		req.Settings.MinConfidence = s.cfg.DefaultMinConfidence
	}

	sig, err := s.cfg.Signals.Get(c.Request.Context(), req.SignalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "signal not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var prior *bot.Execution
	if s.cfg.Executions != nil {
		prior, err = s.cfg.Executions.FindExecution(c.Request.Context(), req.SignalID, req.Settings.UserID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}

	now := time.Now().UTC()
	verdict := bot.ShouldExecute(sig, req.Settings, req.Account, prior, now)

	// A positive verdict opens a PENDING execution immediately, so a repeat
	// decide for the same account hits the duplicate guard and a later
	// outcome report has a record to resolve.
	var exec *bot.Execution
	if verdict.Execute && s.cfg.Executions != nil {
		if prior != nil {
			// Only a FAILED prior reaches this point; the retry reuses its
			// record so the (signal, user) pair stays unique.
			prior.Status = bot.ExecutionPending
			if err := s.cfg.Executions.UpdateExecution(c.Request.Context(), prior); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			exec = prior
		} else {
			exec = &bot.Execution{
				SignalID:         sig.ID,
				UserID:           req.Settings.UserID,
				Status:           bot.ExecutionPending,
				ValidationPassed: true,
				SignalPrice:      sig.ReferencePrice,
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			if err := s.cfg.Executions.CreateExecution(c.Request.Context(), exec); err != nil {
				if errors.Is(err, store.ErrDuplicateExecution) {
					// Lost a race against a concurrent decide for the same pair.
					exec = nil
					verdict = bot.Verdict{Execute: false,
						Reason: "signal " + sig.ID + " already handled for this user"}
				} else {
					c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
					return
				}
			}
		}
	}
	latency := time.Since(start)

	if s.cfg.Decisions != nil {
		if _, err := s.cfg.Decisions.Append(c.Request.Context(), decisionlog.Record{
			Timestamp: now.UnixMilli(),
			SignalID:  sig.ID,
			Symbol:    sig.Symbol,
			UserID:    req.Settings.UserID,
			Action:    string(sig.Action),
			Execute:   verdict.Execute,
			Reason:    verdict.Reason,
			LatencyMs: latency.Milliseconds(),
		}); err != nil {
			logger.Errorf("decision audit append failed: %v", err)
		}
	}

	body := gin.H{
		"signal_id": sig.ID,
		"user_id":   req.Settings.UserID,
		"execute":   verdict.Execute,
		"reason":    verdict.Reason,
	}
	if exec != nil {
		body["execution_id"] = exec.ID
	}
	c.JSON(http.StatusOK, body)
}

type executionReportRequest struct {
	Status           string  `json:"status"`
	ActualEntryPrice float64 `json:"actual_entry_price"`
	LatencyMs        int64   `json:"latency_ms"`
}

// handleExecutionReport resolves a PENDING execution with its downstream
// outcome. The first EXECUTED report wins the signal's ACTIVE to EXECUTED
// transition; later winners of already-resolved signals get a benign
// already_resolved marker instead of an error.
func (s *Server) handleExecutionReport(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "execution id must be a positive integer"})
		return
	}
	var req executionReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status := bot.ExecutionStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	switch status {
	case bot.ExecutionExecuted, bot.ExecutionFailed, bot.ExecutionSkipped, bot.ExecutionCancelled:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be one of EXECUTED/FAILED/SKIPPED/CANCELLED"})
		return
	}

	exec, err := s.cfg.Executions.GetExecution(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if exec.Status != bot.ExecutionPending {
		c.JSON(http.StatusConflict, gin.H{"error": "execution already resolved", "status": exec.Status})
		return
	}

	exec.Status = status
	exec.LatencyMs = req.LatencyMs
	if status == bot.ExecutionExecuted && req.ActualEntryPrice > 0 {
		exec.ActualEntryPrice = req.ActualEntryPrice
		exec.Slippage = bot.SlippagePct(exec.SignalPrice, req.ActualEntryPrice)
	}
	if err := s.cfg.Executions.UpdateExecution(c.Request.Context(), exec); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	body := gin.H{"execution": exec}
	if status == bot.ExecutionExecuted {
		err := s.cfg.Signals.Transition(c.Request.Context(), exec.SignalID,
			signal.StatusActive, signal.StatusExecuted, time.Now().UTC())
		switch {
		case err == nil:
			body["signal_status"] = signal.StatusExecuted
		case errors.Is(err, store.ErrAlreadyResolved):
			// Another execution already advanced the signal. The execution
			// record itself still stands.
			body["already_resolved"] = true
		case errors.Is(err, store.ErrNotFound):
			body["already_resolved"] = true
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleListExecutions(c *gin.Context) {
	signalID := strings.TrimSpace(c.Query("signal_id"))
	if signalID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "signal_id is required"})
		return
	}
	execs, err := s.cfg.Executions.ListExecutions(c.Request.Context(), signalID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": execs, "count": len(execs)})
}

func (s *Server) handleDecisionLog(c *gin.Context) {
	records, err := s.cfg.Decisions.List(c.Request.Context(), decisionlog.Query{
		SignalID: c.Query("signal_id"),
		UserID:   c.Query("user_id"),
		Limit:    queryInt(c, "limit", 0),
		Offset:   queryInt(c, "offset", 0),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": records, "count": len(records)})
}

func (s *Server) handleChart(c *gin.Context) {
	if s.cfg.Source == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "chart rendering is not enabled"})
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}
	interval := c.DefaultQuery("interval", s.cfg.ChartInterval)

	candles, err := s.cfg.Source.FetchHistory(c.Request.Context(), symbol, interval, 200)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	var marks []signal.Signal
	if active, err := s.cfg.Signals.FindActive(c.Request.Context(), store.ActiveFilter{Symbol: symbol}, now); err == nil {
		marks = append(marks, active...)
	}
	if history, err := s.cfg.Signals.FindHistory(c.Request.Context(), store.HistoryFilter{Symbol: symbol, Limit: 50}, now); err == nil {
		marks = append(marks, history...)
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := visual.RenderHTML(c.Writer, visual.ChartInput{
		Symbol:     symbol,
		Interval:   interval,
		Candles:    candles,
		FastPeriod: s.cfg.FastPeriod,
		SlowPeriod: s.cfg.SlowPeriod,
		Signals:    marks,
	}); err != nil {
		logger.Errorf("chart render failed for %s: %v", symbol, err)
	}
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
