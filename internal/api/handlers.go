package api

import (
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/labstack/echo/v4"

	"github.com/profilerelay/relayer/internal/relayer"
	"github.com/profilerelay/relayer/pkg/types"
)

const (
	defaultTransactionListLimit = 100
	maxTransactionListLimit     = 1000
)

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleExecuteRelay(c echo.Context) error {
	var req ExecuteRelayRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, echo.NewHTTPError(http.StatusBadRequest, err.Error()))
	}
	if err := c.Validate(&req); err != nil {
		return errorResponse(c, err)
	}

	callNonce, err := hexutil.DecodeBig(req.Nonce)
	if err != nil {
		return errorResponse(c, types.ErrInvalidArgument)
	}
	callData, err := hexutil.Decode(req.CallData)
	if err != nil {
		return errorResponse(c, types.ErrInvalidArgument)
	}
	signature, err := hexutil.Decode(req.Signature)
	if err != nil {
		return errorResponse(c, types.ErrInvalidArgument)
	}

	hash, err := s.relayer.ExecuteRelay(c.Request().Context(), &relayer.ExecuteRelayRequest{
		ProfileAddress: req.Address,
		CallNonce:      callNonce,
		CallData:       callData,
		Signature:      signature,
	})
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, ExecuteRelayResponse{SettlementHash: hash})
}

func (s *Server) handleListTransactions(c echo.Context) error {
	limit := defaultTransactionListLimit
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxTransactionListLimit {
			return errorResponse(c, types.ErrInvalidArgument)
		}
		limit = parsed
	}

	records, err := s.relayer.ListTransactions(c.Request().Context(), c.Param("address"), limit)
	if err != nil {
		return errorResponse(c, err)
	}

	response := make([]TransactionResponse, 0, len(records))
	for i := range records {
		response = append(response, toTransactionResponse(&records[i]))
	}
	return c.JSON(http.StatusOK, response)
}

func (s *Server) handleQuotaStatus(c echo.Context) error {
	timestamp, err := strconv.ParseInt(c.QueryParam("timestamp"), 10, 64)
	if err != nil {
		return errorResponse(c, types.ErrInvalidArgument)
	}
	signature, err := hexutil.Decode(c.QueryParam("signature"))
	if err != nil {
		return errorResponse(c, types.ErrInvalidArgument)
	}

	status, err := s.relayer.GetQuotaStatus(c.Request().Context(), &relayer.QuotaStatusRequest{
		ProfileAddress:  c.Param("address"),
		TimestampMillis: timestamp,
		Signature:       signature,
	})
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, QuotaStatusResponse{
		Used:      status.Used,
		Unit:      status.Unit,
		Total:     status.Total,
		ResetDate: status.ResetDate,
	})
}

func (s *Server) handleCreateDelegation(c echo.Context) error {
	var req CreateDelegationRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, echo.NewHTTPError(http.StatusBadRequest, err.Error()))
	}
	if err := c.Validate(&req); err != nil {
		return errorResponse(c, err)
	}

	delegation, err := s.relayer.CreateDelegation(c.Request().Context(), req.ApproverAddress, req.ApprovedAddress, req.MonthlyAllowance)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"id":               delegation.ID,
		"approverAddress":  delegation.ApproverAddress,
		"approvedAddress":  delegation.ApprovedAddress,
		"monthlyAllowance": delegation.MonthlyAllowance,
	})
}
