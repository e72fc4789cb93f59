package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clearledger/sponsorvest/internal/access"
	"github.com/clearledger/sponsorvest/internal/pause"
	"github.com/clearledger/sponsorvest/internal/token"
	"github.com/clearledger/sponsorvest/pkg/vesting"
)

const principalContextKey = "auth_claims"

// Stable error codes surfaced in HTTP error envelopes.
const (
	errorCodeInvalidArgument   = "invalid_argument"
	errorCodeInvalidPayload    = "invalid_payload"
	errorCodeUnauthorized      = "unauthorized"
	errorCodeUnknownAccount    = "unknown_account"
	errorCodeDuplicateKey      = "duplicate_idempotency_key"
	errorCodeStaleClaim        = "stale_claim"
	errorCodeBalanceConflict   = "balance_conflict"
	errorCodeNothingToClaim    = "nothing_to_claim"
	errorCodeInsufficientUnits = "insufficient_units"
	errorCodeMintFailed        = "mint_failed"
	errorCodeTokenError        = "token_error"
	errorCodeInternal          = "internal"
)

// Dependencies carries the wired services the HTTP API exposes.
type Dependencies struct {
	Logger  *zap.Logger
	Vesting *vesting.Service
	Tokens  *token.Service
	Pause   *pause.Switch
}

// Run boots the HTTP API using the supplied configuration and serves
// until ctx is cancelled.
func Run(ctx context.Context, cfg Config, deps Dependencies) error {
	if deps.Logger == nil || deps.Vesting == nil || deps.Tokens == nil || deps.Pause == nil {
		return fmt.Errorf("http server: missing dependencies")
	}

	authenticator, err := access.NewAuthenticator([]byte(cfg.SigningKey), cfg.TokenIssuer)
	if err != nil {
		return fmt.Errorf("authenticator: %w", err)
	}

	handler := &httpHandler{
		logger:      deps.Logger,
		vesting:     deps.Vesting,
		tokens:      deps.Tokens,
		pauseSwitch: deps.Pause,
	}

	router := setupRouter(cfg, handler, authenticator, deps.Pause)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		deps.Logger.Info("sponsorvest api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			deps.Logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler, authenticator *access.Authenticator, pauseSwitch *pause.Switch) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/v1")
	api.Use(authenticator.GinMiddleware(principalContextKey))

	api.GET("/entitlement", handler.handleEntitlement)
	api.GET("/batches", handler.handleBatches)
	api.GET("/wallet", handler.handleWallet)

	// The pause switch must stay reachable while paused, so the admin
	// toggles sit outside the gated group.
	api.POST("/admin/pause", handler.handlePause)
	api.POST("/admin/resume", handler.handleResume)

	mutating := api.Group("")
	mutating.Use(pauseSwitch.GinMiddleware())
	mutating.POST("/activate", handler.handleActivate)
	mutating.POST("/claim", handler.handleClaim)
	mutating.POST("/admin/mint", handler.handleMint)

	return router
}

type httpHandler struct {
	logger      *zap.Logger
	vesting     *vesting.Service
	tokens      *token.Service
	pauseSwitch *pause.Switch
}

func (handler *httpHandler) handleActivate(ctx *gin.Context) {
	principal, ok := getPrincipal(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorResponse(errorCodeUnauthorized, "missing principal"))
		return
	}
	var request activateRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, "expected JSON body"))
		return
	}

	subscriberID, err := vesting.NewSubscriberID(principal.Subject)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	units, err := vesting.NewUnitCount(request.Units)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	rawKey := request.IdempotencyKey
	if strings.TrimSpace(rawKey) == "" {
		rawKey = fmt.Sprintf("activate:%s", uuid.NewString())
	}
	idempotencyKey, err := vesting.NewIdempotencyKey(rawKey)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	rawMetadata := ""
	if request.Metadata != nil {
		rawMetadata = marshalMetadata(request.Metadata)
	}
	metadata, err := vesting.NewMetadataJSON(rawMetadata)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}

	batch, err := handler.vesting.Activate(ctx.Request.Context(), subscriberID, units, idempotencyKey, metadata)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"batch": toBatchPayload(batch)})
}

func (handler *httpHandler) handleClaim(ctx *gin.Context) {
	principal, ok := getPrincipal(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorResponse(errorCodeUnauthorized, "missing principal"))
		return
	}
	subscriberID, err := vesting.NewSubscriberID(principal.Subject)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}

	claimed, err := handler.vesting.Claim(ctx.Request.Context(), subscriberID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}

	// The claimed counter has already advanced. A mint failure here
	// leaves credit accounted but not issued; the operator settles the
	// difference through /v1/admin/mint.
	if err := handler.tokens.Mint(ctx.Request.Context(), principal.Subject, token.Amount(claimed.Int64())); err != nil {
		handler.logger.Error("claim mint failed",
			zap.String("subscriber_id", principal.Subject),
			zap.Int64("credits", claimed.Int64()),
			zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse(errorCodeMintFailed, "credit claimed but not minted"))
		return
	}
	handler.respondClaimed(ctx, claimed, principal.Subject)
}

func (handler *httpHandler) handleEntitlement(ctx *gin.Context) {
	principal, ok := getPrincipal(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorResponse(errorCodeUnauthorized, "missing principal"))
		return
	}
	subscriberID, err := vesting.NewSubscriberID(principal.Subject)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	entitlement, err := handler.vesting.Entitlement(ctx.Request.Context(), subscriberID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"entitlement": entitlementPayload{
		ProducedCredits:  entitlement.ProducedCredits.Int64(),
		ClaimedCredits:   entitlement.ClaimedCredits.Int64(),
		ClaimableCredits: entitlement.ClaimableCredits.Int64(),
	}})
}

func (handler *httpHandler) handleBatches(ctx *gin.Context) {
	principal, ok := getPrincipal(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorResponse(errorCodeUnauthorized, "missing principal"))
		return
	}
	subscriberID, err := vesting.NewSubscriberID(principal.Subject)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	batches, err := handler.vesting.Batches(ctx.Request.Context(), subscriberID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payloads := make([]batchPayload, 0, len(batches))
	for _, batch := range batches {
		payloads = append(payloads, toBatchPayload(batch))
	}
	ctx.JSON(http.StatusOK, gin.H{"batches": payloads})
}

func (handler *httpHandler) handleWallet(ctx *gin.Context) {
	principal, ok := getPrincipal(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorResponse(errorCodeUnauthorized, "missing principal"))
		return
	}
	handler.respondWithWallet(ctx, principal.Subject)
}

func (handler *httpHandler) handleMint(ctx *gin.Context) {
	if err := access.RequireCapability(ctx.Request.Context(), access.CapabilityMinter); err != nil {
		handler.respondError(ctx, err)
		return
	}
	var request mintRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, "expected JSON body"))
		return
	}
	if err := handler.tokens.Mint(ctx.Request.Context(), request.SubscriberID, token.Amount(request.Amount)); err != nil {
		handler.respondError(ctx, err)
		return
	}
	handler.respondWithWallet(ctx, request.SubscriberID)
}

func (handler *httpHandler) handlePause(ctx *gin.Context) {
	if err := access.RequireCapability(ctx.Request.Context(), access.CapabilityPauser); err != nil {
		handler.respondError(ctx, err)
		return
	}
	handler.pauseSwitch.Pause()
	handler.logger.Info("service paused")
	ctx.JSON(http.StatusOK, gin.H{"status": "paused"})
}

func (handler *httpHandler) handleResume(ctx *gin.Context) {
	if err := access.RequireCapability(ctx.Request.Context(), access.CapabilityPauser); err != nil {
		handler.respondError(ctx, err)
		return
	}
	handler.pauseSwitch.Resume()
	handler.logger.Info("service resumed")
	ctx.JSON(http.StatusOK, gin.H{"status": "running"})
}

func (handler *httpHandler) respondClaimed(ctx *gin.Context, claimed vesting.CreditAmount, holderID string) {
	wallet, err := handler.fetchWallet(ctx.Request.Context(), holderID)
	if err != nil {
		handler.logger.Error("wallet fetch failed", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse(errorCodeTokenError, "wallet unavailable"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"claimed_credits": claimed.Int64(),
		"wallet":          wallet,
	})
}

func (handler *httpHandler) respondWithWallet(ctx *gin.Context, holderID string) {
	wallet, err := handler.fetchWallet(ctx.Request.Context(), holderID)
	if err != nil {
		handler.logger.Error("wallet fetch failed", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse(errorCodeTokenError, "wallet unavailable"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"wallet": wallet})
}

func (handler *httpHandler) fetchWallet(ctx context.Context, holderID string) (walletPayload, error) {
	wallet, err := handler.tokens.WalletOf(ctx, holderID)
	if err != nil {
		return walletPayload{}, err
	}
	return walletPayload{
		Balance:     int64(wallet.Balance),
		TotalSupply: int64(wallet.TotalSupply),
	}, nil
}

func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	statusCode, errorCode := statusFromError(err)
	if statusCode == http.StatusInternalServerError {
		handler.logger.Error("request failed", zap.Error(err))
		ctx.JSON(statusCode, errorResponse(errorCode, "internal error"))
		return
	}
	ctx.JSON(statusCode, errorResponse(errorCode, err.Error()))
}

func statusFromError(err error) (int, string) {
	switch {
	case errors.Is(err, vesting.ErrInvalidUnitCount),
		errors.Is(err, vesting.ErrInvalidSubscriberID),
		errors.Is(err, vesting.ErrInvalidIdempotencyKey),
		errors.Is(err, vesting.ErrInvalidMetadataJSON),
		errors.Is(err, token.ErrInvalidAmount),
		errors.Is(err, token.ErrInvalidHolderID):
		return http.StatusBadRequest, errorCodeInvalidArgument
	case errors.Is(err, access.ErrUnauthorized):
		return http.StatusForbidden, errorCodeUnauthorized
	case errors.Is(err, vesting.ErrUnknownAccount):
		return http.StatusNotFound, errorCodeUnknownAccount
	case errors.Is(err, vesting.ErrDuplicateIdempotencyKey):
		return http.StatusConflict, errorCodeDuplicateKey
	case errors.Is(err, vesting.ErrStaleClaim):
		return http.StatusConflict, errorCodeStaleClaim
	case errors.Is(err, token.ErrBalanceConflict):
		return http.StatusConflict, errorCodeBalanceConflict
	case errors.Is(err, vesting.ErrNoClaimableCredit):
		return http.StatusUnprocessableEntity, errorCodeNothingToClaim
	case errors.Is(err, token.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, errorCodeInsufficientUnits
	default:
		return http.StatusInternalServerError, errorCodeInternal
	}
}

func marshalMetadata(metadata any) string {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func getPrincipal(ctx *gin.Context) (access.Principal, bool) {
	principalValue, ok := ctx.Get(principalContextKey)
	if !ok {
		return access.Principal{}, false
	}
	principal, ok := principalValue.(access.Principal)
	return principal, ok
}

func toBatchPayload(batch vesting.Batch) batchPayload {
	return batchPayload{
		BatchID:            batch.BatchID().String(),
		Units:              batch.Units().Int64(),
		IdempotencyKey:     batch.IdempotencyKey().String(),
		Metadata:           json.RawMessage(batch.MetadataJSON().String()),
		PurchasedAtUnixUTC: batch.PurchasedAtUnixUTC(),
	}
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

type activateRequest struct {
	Units          int64          `json:"units"`
	IdempotencyKey string         `json:"idempotency_key"`
	Metadata       map[string]any `json:"metadata"`
}

type mintRequest struct {
	SubscriberID string `json:"subscriber_id"`
	Amount       int64  `json:"amount"`
}

type entitlementPayload struct {
	ProducedCredits  int64 `json:"produced_credits"`
	ClaimedCredits   int64 `json:"claimed_credits"`
	ClaimableCredits int64 `json:"claimable_credits"`
}

type batchPayload struct {
	BatchID            string          `json:"batch_id"`
	Units              int64           `json:"units"`
	IdempotencyKey     string          `json:"idempotency_key"`
	Metadata           json.RawMessage `json:"metadata"`
	PurchasedAtUnixUTC int64           `json:"purchased_at_unix_utc"`
}

type walletPayload struct {
	Balance     int64 `json:"balance"`
	TotalSupply int64 `json:"total_supply"`
}
