package metrics

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"txsubmit/internal/txbuilder"
)

const namespace = "txsubmit"

// Collector records pipeline events as prometheus metrics.
type Collector struct {
	stageRetries *prometheus.CounterVec
	outcomes     *prometheus.CounterVec
	maxFee       prometheus.Gauge
	gasLimit     prometheus.Gauge
}

var _ txbuilder.Observer = (*Collector)(nil)

func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		stageRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_retries_total",
			Help:      "the number of retried attempts per pipeline stage",
		}, []string{"stage"}),
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "submission results by kind",
		}, []string{"result"}),
		maxFee: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "max_fee_per_gas_wei",
			Help:      "the max fee per gas of the most recent fee envelope",
		}),
		gasLimit: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gas_limit",
			Help:      "the most recent simulated gas limit",
		}),
	}
}

func (c *Collector) FeeComputed(fees txbuilder.FeeEnvelope) {
	if fees.MaxFeePerGas == nil {
		return
	}
	v, _ := new(big.Float).SetInt(fees.MaxFeePerGas).Float64()
	c.maxFee.Set(v)
}

func (c *Collector) GasEstimated(gasLimit uint64) {
	c.gasLimit.Set(float64(gasLimit))
}

func (c *Collector) NonceResolved(common.Address, uint64) {}

func (c *Collector) BroadcastAccepted(common.Hash) {
	c.outcomes.WithLabelValues("accepted").Inc()
}

func (c *Collector) BroadcastConfirmed(receipt *types.Receipt) {
	if receipt != nil && receipt.Status == types.ReceiptStatusFailed {
		c.outcomes.WithLabelValues("reverted").Inc()
		return
	}
	c.outcomes.WithLabelValues("confirmed").Inc()
}

func (c *Collector) SubmissionFailed(kind txbuilder.ErrorKind, err error) {
	c.outcomes.WithLabelValues(kind.String()).Inc()
}

func (c *Collector) Retrying(stage txbuilder.Stage, attempt int, err error, wait time.Duration) {
	c.stageRetries.WithLabelValues(string(stage)).Inc()
}

// Server serves /metrics for a gatherer until its context is done.
type Server struct {
	server *http.Server
	log    *slog.Logger
}

func NewServer(addr string, gatherer prometheus.Gatherer, log *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &Server{
		server: &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		log:    log,
	}
}

func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("metrics server started", "addr", s.server.Addr, "endpoint", "/metrics")
		errCh <- s.server.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		s.log.Debug("metrics server shutdown")
		return nil
	}
}
