// paygated serves paid HTTP resources: it issues 402 quotes, verifies and
// settles payment proofs through the chain facilitators, and records every
// verified payment in the ledger.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	pay "github.com/0xgaut85/r1x-pay"
	"github.com/0xgaut85/r1x-pay/config"
	"github.com/0xgaut85/r1x-pay/facilitator"
	"github.com/0xgaut85/r1x-pay/gateway"
	"github.com/0xgaut85/r1x-pay/ledger"
	"github.com/0xgaut85/r1x-pay/solana"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration", zap.Error(err))
	}

	db, err := ledger.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatal("failed to open ledger", zap.String("path", cfg.DatabasePath), zap.Error(err))
	}
	defer db.Close()
	recorder := ledger.NewRecorder(db, cfg.FeeRecipient, log)

	var evmOpts []facilitator.Option
	evmOpts = append(evmOpts, facilitator.WithLogger(log))
	if cfg.EVM.APIKeyID != "" || cfg.EVM.APIKeySecret != "" {
		evmOpts = append(evmOpts, facilitator.WithBasicAuth(cfg.EVM.APIKeyID, cfg.EVM.APIKeySecret))
	}
	evmFacilitator, err := facilitator.NewEVMClient(cfg.EVM.FacilitatorURL, evmOpts...)
	if err != nil {
		log.Fatal("failed to build EVM facilitator client", zap.Error(err))
	}
	solanaFacilitator := facilitator.NewSolanaClient(cfg.Solana.FacilitatorURL, facilitator.WithLogger(log))

	// resolved lazily; the endpoint can rotate server-side without a redeploy
	var solanaRPC *solana.EndpointSource
	switch {
	case cfg.Solana.RPCURL != "":
		solanaRPC = solana.StaticEndpoint(cfg.Solana.RPCURL)
	case cfg.Solana.RPCConfigURL != "":
		solanaRPC = solana.NewEndpointSource(cfg.Solana.RPCConfigURL, solana.WithEndpointLogger(log))
	}

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		status := gin.H{"status": "ok"}
		if solanaRPC != nil {
			status["solanaRpc"] = solanaRPC.String()
		}
		c.JSON(http.StatusOK, status)
	})

	router.GET("/transactions/:hash", func(c *gin.Context) {
		tx, err := recorder.GetByHash(c.Request.Context(), c.Param("hash"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, tx)
	})

	router.GET("/services/:id/transactions", func(c *gin.Context) {
		txs, err := recorder.ListByService(c.Request.Context(), c.Param("id"), 100)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"transactions": txs})
	})

	deps := gateway.Deps{
		Codec:    pay.NewCodec(log),
		Verifier: evmFacilitator,
		Settler:  evmFacilitator,
		Recorder: recorder,
		Log:      log,
	}
	router.GET("/paid/chat",
		gateway.Payment(gateway.Quote{
			Amount:   "1000000",
			Token:    pay.USDCAddressBase,
			Merchant: cfg.Merchant,
			ChainID:  cfg.EVM.ChainID,
		}, deps,
			gateway.WithService("svc-chat", "Chat Completions", "$1.00"),
			gateway.WithFeePercentage(cfg.FeePercentage)),
		func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"content": "paid resource"})
		})

	solanaDeps := deps
	solanaDeps.Verifier = solanaFacilitator
	solanaDeps.Settler = solanaFacilitator
	router.GET("/paid/chat-solana",
		gateway.Payment(gateway.Quote{
			Amount:   "1000000",
			Token:    pay.USDCMintSolana,
			Merchant: cfg.Merchant,
			ChainID:  pay.ChainIDSolana,
		}, solanaDeps,
			gateway.WithService("svc-chat-solana", "Chat Completions (Solana)", "$1.00"),
			gateway.WithFeePercentage(cfg.FeePercentage)),
		func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"content": "paid resource"})
		})

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("paygated listening", zap.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown incomplete", zap.Error(err))
	}
}
