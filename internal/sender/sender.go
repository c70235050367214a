// Package sender implements the background delivery loop spec.md §4.5
// describes: drain the generated/validated queues, merge by submitter,
// POST to the configured HTTP sink, and track locally-recomputed
// distances for peer-submitted batches until every nonce has one. There
// is no GPU context to isolate here (unlike a Worker), so -- unlike the
// source's separate OS process -- this rewrite runs the Sender as a
// goroutine inside the control process; see DESIGN.md.
package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/luxfi/log"

	"github.com/gonka-ai/gonka/internal/controller"
	"github.com/gonka-ai/gonka/internal/metrics"
	"github.com/gonka-ai/gonka/internal/proofbatch"
)

// inValidation is the registry's value type: the locally-tracked
// recompute progress for one peer-submitted batch.
type inValidation = proofbatch.InValidation

// registryCap is the default bound on the in-validation registry
// (spec.md §9 Open Question, resolved in favor of the recommended
// mitigation: a bounded LRU).
const registryCap = 10_000

// pollInterval is how often the Sender checks the controller's queues
// for new batches.
const pollInterval = 200 * time.Millisecond

// httpTimeout bounds a single egress POST.
const httpTimeout = 10 * time.Second

// Source is the subset of *controller.ParallelController the Sender
// depends on, kept as an interface so tests can substitute a fake.
type Source interface {
	GetGenerated() ([]*proofbatch.Batch, error)
	GetValidated() ([]*proofbatch.Batch, error)
}

var _ Source = (*controller.ParallelController)(nil)

// Sender drains a Source's generated/validated queues and ships the
// results to sinkURL, scoring peer submissions for fraud along the way.
type Sender struct {
	sinkURL        string
	source         Source
	rTarget        float32
	fraudThreshold float64

	client  *http.Client
	backoff *backoff
	metrics *metrics.Metrics
	log     log.Logger

	registry *lru

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Sender; call Start to begin draining.
func New(sinkURL string, source Source, rTarget float32, fraudThreshold float64, m *metrics.Metrics, logger log.Logger) *Sender {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	return &Sender{
		sinkURL:        sinkURL,
		source:         source,
		rTarget:        rTarget,
		fraudThreshold: fraudThreshold,
		client:         &http.Client{Timeout: httpTimeout},
		backoff:        newBackoff(),
		metrics:        m,
		log:            logger,
		registry:       newLRU(registryCap),
		done:           make(chan struct{}),
	}
}

// Start launches the drain loop in a background goroutine.
func (s *Sender) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(ctx)
}

// Stop cancels the drain loop and waits for it to exit.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
}

// AddInValidation registers batch as awaiting a local recompute, for a
// peer-submitted proof the Manager routed to this node's worker fleet.
func (s *Sender) AddInValidation(batch *proofbatch.Batch) {
	k := key{PublicKey: batch.PublicKey, BlockHash: batch.BlockHash}
	s.registry.put(k, proofbatch.NewInValidation(batch))
}

func (s *Sender) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.drainGenerated(ctx)
			s.drainValidated(ctx)
		}
	}
}

func (s *Sender) drainGenerated(ctx context.Context) {
	batches, err := s.source.GetGenerated()
	if err != nil {
		s.log.Error("drain generated failed", "err", err)
		return
	}
	if len(batches) == 0 {
		return
	}
	for _, group := range proofbatch.GroupByPublicKey(batches) {
		merged, err := proofbatch.Merge(group)
		if err != nil {
			s.log.Error("merge generated group failed", "err", err)
			continue
		}
		if s.metrics != nil {
			s.metrics.BatchesGenerated.Inc()
			s.metrics.ProofsAccepted.Add(float64(merged.Len()))
		}
		// post retries until delivered or ctx is cancelled; the batch is
		// never dropped on the floor (spec.md §4.5).
		s.post(ctx, "/generated", merged)
	}
}

func (s *Sender) drainValidated(ctx context.Context) {
	batches, err := s.source.GetValidated()
	if err != nil {
		s.log.Error("drain validated failed", "err", err)
		return
	}
	for _, recomputed := range batches {
		k := key{PublicKey: recomputed.PublicKey, BlockHash: recomputed.BlockHash}
		pending, ok := s.registry.get(k)
		if !ok {
			s.log.Error("validated batch with no in-validation record", "public_key", recomputed.PublicKey)
			continue
		}
		pending.Process(recomputed)
		if !pending.IsReady() {
			continue
		}

		validated, err := pending.Validated(s.rTarget, s.fraudThreshold)
		if err != nil {
			// Not retryable: the recomputed proof itself is malformed, so
			// nothing about re-sending it would change.
			s.registry.remove(k)
			if s.metrics != nil {
				s.metrics.BatchesDropped.WithLabelValues("protocol_error").Inc()
			}
			s.log.Error("scoring validated batch failed", "err", err)
			continue
		}
		if s.metrics != nil {
			s.metrics.BatchesValidated.Inc()
			s.metrics.ProofsRejected.Add(float64(validated.NInvalid))
			if validated.FraudDetected {
				s.metrics.FraudDetected.Inc()
			}
		}

		// Keep the record -- and the recomputed proof it guards -- in the
		// registry while post retries, so a failed POST does not lose it.
		// If the Sender is stopped mid-retry, post returns and the record
		// is removed undelivered.
		s.post(ctx, "/validated", validated)
		s.registry.remove(k)
		if s.metrics != nil {
			s.metrics.QueueDepth.WithLabelValues("in_validation").Set(float64(s.registry.len()))
		}
	}
}

// post sends v as a JSON body to path, retrying indefinitely with
// per-endpoint exponential backoff until it succeeds or ctx is cancelled
// (spec.md §4.5, §7 EgressError): the batch is held by the caller and
// never dropped on a delivery failure.
func (s *Sender) post(ctx context.Context, path string, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		s.log.Error("marshal egress body failed", "path", path, "err", err)
		return
	}

	for {
		s.backoff.Wait(ctx, path)
		select {
		case <-ctx.Done():
			return
		default:
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.sinkURL+path, bytes.NewReader(body))
		if err != nil {
			s.log.Error("build egress request failed", "path", path, "err", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			s.backoff.Failure(path)
			s.log.Error("egress POST failed, retrying", "path", path, "err", err)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 300 {
			s.backoff.Failure(path)
			s.log.Error("egress POST rejected, retrying", "path", path, "status", resp.StatusCode)
			continue
		}
		s.backoff.Success(path)
		return
	}
}

// String satisfies fmt.Stringer for log contexts; named so it is easy to
// grep for in structured log output.
func (s *Sender) String() string {
	return fmt.Sprintf("Sender(sink=%s, in_validation=%d)", s.sinkURL, s.registry.len())
}
