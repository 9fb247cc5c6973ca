// Package gateway is the server-side payment middleware: it turns an
// unauthenticated request into a 402 quote and a proof-bearing retry into a
// verified, settled, recorded payment.
package gateway

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	pay "github.com/0xgaut85/r1x-pay"
	"github.com/0xgaut85/r1x-pay/evm"
	"github.com/0xgaut85/r1x-pay/facilitator"
	"github.com/0xgaut85/r1x-pay/ledger"
)

const x402Version = 1

const defaultQuoteValidity = 10 * time.Minute

// Quote is the price tag the middleware attaches to a route.
type Quote struct {
	Amount   string // atomic units
	Token    string // contract address or mint
	Merchant string
	ChainID  int64
}

// Deps are the collaborators the middleware drives for a paid retry.
type Deps struct {
	Codec    *pay.Codec
	Verifier facilitator.Verifier
	Settler  facilitator.Settler
	Recorder *ledger.Recorder
	Log      *zap.Logger
}

type options struct {
	serviceID     string
	serviceName   string
	priceDisplay  string
	feePercentage int
	quoteValidity time.Duration
}

// Option configures the payment middleware.
type Option func(*options)

// WithService sets the ledger service identity for recorded payments.
func WithService(id, name, priceDisplay string) Option {
	return func(o *options) {
		o.serviceID, o.serviceName, o.priceDisplay = id, name, priceDisplay
	}
}

// WithFeePercentage sets the platform fee share recorded per payment.
func WithFeePercentage(pct int) Option {
	return func(o *options) { o.feePercentage = pct }
}

// WithQuoteValidity sets the quote deadline window.
func WithQuoteValidity(d time.Duration) Option {
	return func(o *options) { o.quoteValidity = d }
}

// Payment returns a gin middleware guarding a route behind the given quote.
// Requests without an X-PAYMENT header receive a 402 quote body. Requests
// carrying a proof are verified and settled against the facilitator and
// recorded in the ledger; the response then carries an X-PAYMENT-RESPONSE
// receipt header.
func Payment(quote Quote, deps Deps, opts ...Option) gin.HandlerFunc {
	o := &options{
		serviceID:     "default",
		serviceName:   "default",
		quoteValidity: defaultQuoteValidity,
	}
	for _, opt := range opts {
		opt(o)
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		header := c.GetHeader(evm.HeaderPayment)
		if header == "" {
			respondQuote(c, quote, o, "")
			return
		}

		proof, err := deps.Codec.Decode(header)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":       err.Error(),
				"x402Version": x402Version,
			})
			return
		}

		ctx := c.Request.Context()
		verdict, err := deps.Verifier.Verify(ctx, proof, quote.Merchant)
		if err != nil {
			log.Error("facilitator verify failed", zap.Error(err))
			// transient transport failures are the upstream's fault; anything
			// else (configuration, bad client) is ours
			status := http.StatusInternalServerError
			if pay.IsTransient(err) {
				status = http.StatusBadGateway
			}
			c.AbortWithStatusJSON(status, gin.H{
				"error":       "payment verification unavailable",
				"x402Version": x402Version,
			})
			return
		}
		if !verdict.Verified {
			// the protocol answer to an unverified proof is another quote
			respondQuote(c, quote, o, verdict.Reason)
			return
		}

		if deps.Settler != nil {
			settled, err := deps.Settler.Settle(ctx, proof, quote.Merchant)
			switch {
			case err != nil:
				log.Warn("facilitator settle failed", zap.Error(err))
			case settled.Settled && settled.SettlementHash != "":
				proof.SettlementHash = settled.SettlementHash
			}
		}

		if deps.Recorder != nil {
			deps.Recorder.Record(ctx, ledger.RecordParams{
				Proof:         proof,
				ServiceID:     o.serviceID,
				ServiceName:   o.serviceName,
				PriceDisplay:  o.priceDisplay,
				FeePercentage: o.feePercentage,
			})
			if proof.SettlementHash != "" {
				if err := deps.Recorder.RecordSettlement(ctx, proof.TransactionHash, proof.SettlementHash); err != nil {
					log.Warn("failed to record settlement",
						zap.String("transactionHash", proof.TransactionHash),
						zap.Error(err))
				}
			}
		}

		c.Header(evm.HeaderPaymentResponse, pay.EncodeReceipt(&pay.Receipt{
			SettlementHash:  proof.SettlementHash,
			TransactionHash: proof.TransactionHash,
		}))
		c.Next()
	}
}

func respondQuote(c *gin.Context, quote Quote, o *options, reason string) {
	nonce, err := evm.NewNonce()
	if err != nil {
		// entropy failure; a quote with an empty nonce cannot be signed for
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":       "quote generation failed",
			"x402Version": x402Version,
		})
		return
	}
	body := gin.H{
		"x402Version": x402Version,
		"amount":      quote.Amount,
		"token":       quote.Token,
		"merchant":    quote.Merchant,
		"chainId":     quote.ChainID,
		"deadline":    time.Now().Add(o.quoteValidity).Unix(),
		"nonce":       nonce,
		"delivery":    evm.DeliveryHeader,
	}
	if reason != "" {
		body["error"] = reason
	}
	c.AbortWithStatusJSON(http.StatusPaymentRequired, body)
}
