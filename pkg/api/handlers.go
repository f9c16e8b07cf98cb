package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"pocket-ledger/pkg/boxes"
	"pocket-ledger/pkg/ledger"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// amountField accepts "12,50", "12.5" or 12.5.
type amountField json.RawMessage

func (a *amountField) UnmarshalJSON(data []byte) error {
	*a = append((*a)[:0], data...)
	return nil
}

func (a amountField) parse() (ledger.Money, error) {
	raw := bytes.TrimSpace(a)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, fmt.Errorf("%w: required", ledger.ErrInvalidAmount)
	}
	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, fmt.Errorf("%w: %v", ledger.ErrInvalidAmount, err)
		}
	}
	return ledger.ParseAmount(text)
}

type moneyRequest struct {
	Amount      amountField `json:"amount"`
	Description string      `json:"description"`
	Source      string      `json:"source"`
}

type receiptResponse struct {
	Transaction ledger.Transaction `json:"transaction"`
	Balance     string             `json:"balance"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "running",
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"store":     s.ledger.StoreName(),
		"index":     s.ledger.IndexStats(),
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	balance, err := s.ledger.Balance(ctx)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"balance": balance.String()})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	history, err := s.ledger.Transactions(ctx)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	tx, err := s.ledger.Transaction(ctx, mux.Vars(r)["id"])
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	req, amount, ok := s.decodeMoney(w, r)
	if !ok {
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	receipt, err := s.ledger.DepositFrom(ctx, amount, req.Description, req.Source)
	s.writeReceipt(w, r, receipt, err)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	req, amount, ok := s.decodeMoney(w, r)
	if !ok {
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	receipt, err := s.ledger.Transfer(ctx, amount, req.Description)
	s.writeReceipt(w, r, receipt, err)
}

func (s *Server) handleReceive(w http.ResponseWriter, r *http.Request) {
	req, amount, ok := s.decodeMoney(w, r)
	if !ok {
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	receipt, err := s.ledger.Receive(ctx, amount, req.Description)
	s.writeReceipt(w, r, receipt, err)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	state, err := s.ledger.Verify(ctx)
	if errors.Is(err, ledger.ErrInconsistentState) {
		// Verify only reports an inconsistency for a history that sums.
		sum, _ := ledger.Sum(state.Transactions)
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"consistent":  false,
			"balance":     state.Balance.String(),
			"history_sum": sum.String(),
			"error":       err.Error(),
		})
		return
	}
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"consistent":   true,
		"balance":      state.Balance.String(),
		"transactions": len(state.Transactions),
	})
}

func (s *Server) handleListBoxes(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	list, err := s.boxes.List(ctx)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetBox(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	box, err := s.boxes.Get(ctx, mux.Vars(r)["id"])
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, box)
}

func (s *Server) handleCreateBox(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	box, err := s.boxes.Create(ctx, req.Name)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, box)
}

func (s *Server) decodeMoney(w http.ResponseWriter, r *http.Request) (moneyRequest, ledger.Money, bool) {
	var req moneyRequest
	if !decodeBody(w, r, &req) {
		return req, 0, false
	}
	amount, err := req.Amount.parse()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return req, 0, false
	}
	return req, amount, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) writeReceipt(w http.ResponseWriter, r *http.Request, receipt ledger.Receipt, err error) {
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, receiptResponse{
		Transaction: receipt.Transaction,
		Balance:     receipt.Balance.String(),
	})
}

// writeFailure maps domain errors to statuses. Storage failures get a
// generic message; the detail only goes to the log.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidDescription),
		errors.Is(err, boxes.ErrInvalidName):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, boxes.ErrDuplicateName),
		errors.Is(err, ledger.ErrInconsistentState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, boxes.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrCorruptState), errors.Is(err, boxes.ErrCorruptState):
		s.logger.Error("stored data is corrupt", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "stored data could not be read")
	default:
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "storage unavailable, try again later")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
