package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/profilerelay/relayer/internal/relayer"
	"github.com/profilerelay/relayer/pkg/db/models"
	"github.com/profilerelay/relayer/pkg/types"
)

// Relayer is the slice of the orchestrator the HTTP surface consumes.
type Relayer interface {
	ExecuteRelay(ctx context.Context, req *relayer.ExecuteRelayRequest) (string, error)
	GetQuotaStatus(ctx context.Context, req *relayer.QuotaStatusRequest) (*relayer.QuotaStatusResponse, error)
	ListTransactions(ctx context.Context, profileAddress string, limit int) ([]models.RelayTransaction, error)
	CreateDelegation(ctx context.Context, approverAddress, approvedAddress string, monthlyAllowance uint64) (*models.Delegation, error)
}

type Server struct {
	echo       *echo.Echo
	relayer    Relayer
	listenAddr string
}

type requestValidator struct {
	validate *validator.Validate
}

func (v *requestValidator) Validate(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func NewServer(listenAddr string, r Relayer) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &requestValidator{validate: validator.New()}
	e.Use(middleware.Recover())

	s := &Server{
		echo:       e,
		relayer:    r,
		listenAddr: listenAddr,
	}

	e.GET("/healthz", s.handleHealth)
	v1 := e.Group("/v1")
	v1.POST("/relay/execute", s.handleExecuteRelay)
	v1.GET("/profiles/:address/transactions", s.handleListTransactions)
	v1.GET("/profiles/:address/quota", s.handleQuotaStatus)
	v1.POST("/delegations", s.handleCreateDelegation)

	return s
}

func (s *Server) Start() error {
	log.Info().Str("addr", s.listenAddr).Msg("[Api] listening")
	err := s.echo.Start(s.listenAddr)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying router for in-process tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// errorResponse maps the stable error taxonomy to HTTP statuses. Anything
// outside the taxonomy is logged and reported as a generic failure so
// internal details never cross the boundary.
func errorResponse(c echo.Context, err error) error {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return c.JSON(httpErr.Code, ErrorResponse{Error: http.StatusText(httpErr.Code)})
	}

	switch {
	case errors.Is(err, types.ErrInvalidArgument):
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, types.ErrUnauthorized), errors.Is(err, types.ErrStaleTimestamp):
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: err.Error()})
	case errors.Is(err, types.ErrQuotaExceeded):
		return c.JSON(http.StatusPaymentRequired, ErrorResponse{Error: err.Error()})
	case errors.Is(err, types.ErrDuplicateAuthorization), errors.Is(err, types.ErrDelegationExists):
		return c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
	case errors.Is(err, types.ErrGasEstimationFailed):
		return c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error()})
	default:
		log.Error().Err(err).Msg("[Api] request failed")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}
