// Package submitter implements the per-account submit loop (C3),
// grounded on core/vjudge/main.py's Submitter. Each Submitter owns one
// authenticated siteclient.Client, one input channel of submission ids,
// and one poller.Poller it hands newly-submitted and already-in-flight
// work to, exactly mirroring the original's _status_crawler handoff.
package submitter

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sleepymole/vjudge-dispatcher/observability"
	"github.com/sleepymole/vjudge-dispatcher/poller"
	"github.com/sleepymole/vjudge-dispatcher/siteclient"
	"github.com/sleepymole/vjudge-dispatcher/store"
)

// idleTimeout matches the original's `self._submit_queue.get(timeout=60)`.
const idleTimeout = 60 * time.Second

// minSubmitInterval is the original's unconditional `time.sleep(5)`
// between iterations of the submit loop. It is enforced alongside a
// token-bucket rate.Limiter with the same interval (belt-and-suspenders:
// the sleep is the literal ported behavior, the limiter is the teacher's
// idiom for admission control). Neither is configurable.
const minSubmitInterval = 5 * time.Second

// Submitter runs a single bot account's submit loop until Stop is
// called and the queue drains.
type Submitter struct {
	client  siteclient.Client
	store   store.Store
	poller  *poller.Poller
	limiter *rate.Limiter
	log     *zap.Logger

	queue chan int64
	stop  chan struct{}
	done  chan struct{}
}

// New builds a Submitter bound to client and starts its loop in a new
// goroutine. The caller retains ownership of st; pl belongs to this
// Submitter from here on, and Stop shuts down this Submitter's own loop
// and then stops pl.
func New(client siteclient.Client, st store.Store, pl *poller.Poller, log *zap.Logger) *Submitter {
	s := &Submitter{
		client:  client,
		store:   st,
		poller:  pl,
		limiter: rate.NewLimiter(rate.Every(minSubmitInterval), 1),
		log:     log,
		queue:   make(chan int64, 256),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Enqueue hands submissionID to this account's submit loop. It never
// blocks past the channel's buffer; a full buffer indicates the
// supervisor's pool sizing needs attention, so it reports false instead
// of blocking the supervisor's dispatch loop.
func (s *Submitter) Enqueue(submissionID int64) bool {
	select {
	case s.queue <- submissionID:
		return true
	default:
		return false
	}
}

func (s *Submitter) run() {
	defer close(s.done)
	s.log.Info("started submitter", zap.String("oj_name", s.client.Name()))
	ctx := context.Background()
	for {
		select {
		case id := <-s.queue:
			s.handle(ctx, id)
			time.Sleep(minSubmitInterval)
		case <-time.After(idleTimeout):
			continue
		case <-s.stop:
			// Drain whatever is already queued before exiting, matching the
			// original's "keep looping until the queue empties and stop was
			// requested" behavior (Empty + stop_event.is_set() -> break).
			for {
				select {
				case id := <-s.queue:
					s.handle(ctx, id)
					time.Sleep(minSubmitInterval)
					continue
				default:
				}
				break
			}
			s.poller.Stop(context.Background())
			s.log.Info("stopped submitter", zap.String("oj_name", s.client.Name()))
			return
		}
	}
}

func (s *Submitter) handle(ctx context.Context, submissionID int64) {
	log := s.log.With(zap.String("trace_id", uuid.New().String()))
	sub, err := s.store.GetSubmission(ctx, submissionID)
	if err != nil {
		log.Error("load submission failed", zap.Int64("submission_id", submissionID), zap.Error(err))
		return
	}
	if sub == nil {
		log.Error("submission not found", zap.Int64("submission_id", submissionID))
		return
	}
	log.Info("start judging submission", zap.Int64("submission_id", submissionID), zap.String("verdict", sub.Verdict))

	if sub.Verdict != store.VerdictQueuing && sub.Verdict != store.VerdictBeingJudged {
		return
	}
	if sub.Verdict == store.VerdictBeingJudged {
		s.poller.AddTask(ctx, poller.Task{
			SubmissionID: sub.ID,
			RunID:        sub.RunID,
			ProblemID:    sub.ProblemID,
			UserID:       sub.BotUserID,
		})
		return
	}

	s.limiter.Wait(ctx)

	userID, _ := s.client.UserID()
	runID, err := s.client.SubmitProblem(ctx, sub.ProblemID, sub.Language, sub.SourceCode)
	if err != nil {
		if se, ok := err.(*siteclient.Error); ok && se.Kind == siteclient.KindLoginRequired {
			if updateErr := s.client.UpdateCookies(ctx); updateErr == nil {
				if !s.Enqueue(submissionID) {
					log.Error("requeue after re-login failed: queue full", zap.Int64("submission_id", submissionID))
				}
				log.Debug("submitter login expired, logged in again", zap.String("oj_name", s.client.Name()))
				observability.SubmitAttempts.WithLabelValues(s.client.Name(), "login_required").Inc()
				return
			}
		}
		observability.SubmitAttempts.WithLabelValues(s.client.Name(), "submit_error").Inc()
		if setErr := s.store.SetSubmissionVerdict(ctx, submissionID, store.VerdictSubmitFailed, 0, 0); setErr != nil {
			log.Error("persist submit-failed verdict failed", zap.Int64("submission_id", submissionID), zap.Error(setErr))
		}
		log.Error("submission submit failed", zap.Int64("submission_id", submissionID), zap.Error(err))
		return
	}

	if err := s.store.SetSubmissionRunID(ctx, submissionID, runID, userID); err != nil {
		log.Error("persist run id failed", zap.Int64("submission_id", submissionID), zap.Error(err))
		return
	}
	if err := s.store.SetSubmissionVerdict(ctx, submissionID, store.VerdictBeingJudged, 0, 0); err != nil {
		log.Error("persist being-judged verdict failed", zap.Int64("submission_id", submissionID), zap.Error(err))
		return
	}
	observability.SubmitAttempts.WithLabelValues(s.client.Name(), "ok").Inc()
	log.Info("submission submitted successfully", zap.Int64("submission_id", submissionID))
	s.poller.AddTask(ctx, poller.Task{
		SubmissionID: submissionID,
		RunID:        runID,
		ProblemID:    sub.ProblemID,
		UserID:       userID,
	})
}

// Stop signals the submit loop to drain its queue and exit, then
// blocks until it has.
func (s *Submitter) Stop() {
	close(s.stop)
	<-s.done
}
