package activitypub

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/subverse/subverse/db"
	"github.com/subverse/subverse/domain"
	"github.com/subverse/subverse/util"
)

// backoffSchedule spaces retries per delivery attempt. After the schedule
// and max attempts are exhausted the row goes dead.
var backoffSchedule = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
}

const (
	pollInterval  = 10 * time.Second
	purgeInterval = 1 * time.Hour
	dueBatchSize  = 200
)

// DeliveryWorker drains the delivery log. Deliveries to the same
// destination (same local actor, same remote host) run in order on one
// goroutine; distinct destinations run concurrently under a semaphore.
type DeliveryWorker struct {
	db     *db.DB
	conf   *util.AppConfig
	client *http.Client
	sem    *semaphore.Weighted

	// Rows stay pending while their POST is in flight, so a poll tick can
	// re-read them. inflight keeps one goroutine per destination key.
	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewDeliveryWorker(database *db.DB, conf *util.AppConfig) *DeliveryWorker {
	workers := conf.Conf.Delivery.Workers
	if workers <= 0 {
		workers = 4
	}
	timeout := time.Duration(conf.Conf.Delivery.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &DeliveryWorker{
		db:       database,
		conf:     conf,
		client:   &http.Client{Timeout: timeout},
		sem:      semaphore.NewWeighted(int64(workers)),
		inflight: make(map[string]struct{}),
	}
}

// Start runs the poll and retention loops until the context is cancelled.
func (w *DeliveryWorker) Start(ctx context.Context) {
	log.Printf("Delivery: Worker started with %d slots", w.conf.Conf.Delivery.Workers)

	poll := time.NewTicker(pollInterval)
	purge := time.NewTicker(purgeInterval)
	defer poll.Stop()
	defer purge.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Delivery: Worker stopped")
			return
		case <-poll.C:
			w.runOnce(ctx)
		case <-purge.C:
			w.purge()
		}
	}
}

// runOnce picks up due rows, groups them by destination, and delivers each
// group sequentially so per-destination ordering holds.
func (w *DeliveryWorker) runOnce(ctx context.Context) {
	err, due := w.db.ReadDueDeliveries(dueBatchSize)
	if err != nil {
		log.Printf("Delivery: Failed to read due deliveries: %v", err)
		return
	}
	if due == nil || len(*due) == 0 {
		return
	}

	groups := make(map[string][]domain.DeliveryLog)
	var order []string
	for _, d := range *due {
		key := d.DestinationKey()
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], d)
	}

	for _, key := range order {
		if !w.claim(key) {
			continue
		}
		batch := groups[key]
		if err := w.sem.Acquire(ctx, 1); err != nil {
			w.release(key)
			return
		}
		go func(key string, batch []domain.DeliveryLog) {
			defer w.sem.Release(1)
			defer w.release(key)
			for idx := range batch {
				w.Deliver(&batch[idx])
			}
		}(key, batch)
	}
}

// claim marks a destination key in flight. A key that is already being
// drained must not be picked up again: the same row would be POSTed
// twice concurrently and per-destination ordering would break.
func (w *DeliveryWorker) claim(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.inflight[key]; busy {
		return false
	}
	w.inflight[key] = struct{}{}
	return true
}

func (w *DeliveryWorker) release(key string) {
	w.mu.Lock()
	delete(w.inflight, key)
	w.mu.Unlock()
}

// Deliver attempts one delivery and records the outcome. Attempt counting
// and status transitions happen here; the SQL guards make double delivery
// of the same row harmless.
func (w *DeliveryWorker) Deliver(d *domain.DeliveryLog) {
	targetDomain, err := util.ExtractDomain(d.TargetInbox)
	if err != nil {
		w.fail(d, fmt.Sprintf("invalid target inbox: %v", err))
		return
	}

	// Block lists apply at send time too: a domain blocked after enqueue
	// still never receives the payload.
	if err, blocked := w.db.IsInstanceBlocked(targetDomain); err == nil && blocked {
		w.dead(d, "target instance blocked")
		return
	}

	err, actor := w.db.ReadActorById(d.ActorId)
	if err != nil || actor == nil {
		w.fail(d, "signing actor no longer exists")
		return
	}

	attempt := d.Attempts + 1
	status, err := w.post(d, actor)
	if err == nil {
		if err := w.db.MarkDeliveryDelivered(d.Id, attempt); err != nil {
			log.Printf("Delivery: Failed to mark %s delivered: %v", d.Id, err)
		}
		log.Printf("Delivery: Delivered %s to %s (attempt %d)", d.ActivityId, d.TargetInbox, attempt)
		return
	}

	if !transient(status) {
		w.fail(d, err.Error())
		return
	}

	maxAttempts := w.conf.Conf.Delivery.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if attempt >= maxAttempts {
		w.dead(d, err.Error())
		return
	}

	nextRetry := time.Now().Add(BackoffFor(attempt))
	if err := w.db.MarkDeliveryRetry(d.Id, attempt, err.Error(), nextRetry); err != nil {
		log.Printf("Delivery: Failed to schedule retry for %s: %v", d.Id, err)
	}
	log.Printf("Delivery: Will retry %s to %s at %s (attempt %d): %v",
		d.ActivityId, d.TargetInbox, nextRetry.Format(time.RFC3339), attempt, err)
}

// post sends the signed payload. Returns the HTTP status (0 on transport
// error) and a nil error only on 2xx.
func (w *DeliveryWorker) post(d *domain.DeliveryLog, actor *domain.Actor) (int, error) {
	privateKey, err := ParsePrivateKey(actor.PrivateKey)
	if err != nil {
		return http.StatusBadRequest, fmt.Errorf("failed to parse signing key: %w", err)
	}

	body := []byte(d.ActivityJSON)
	req, err := http.NewRequest(http.MethodPost, d.TargetInbox, bytes.NewReader(body))
	if err != nil {
		return http.StatusBadRequest, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", util.GetNameAndVersion())
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)

	if err := SignRequest(req, privateKey, actor.KeyId(), body); err != nil {
		return http.StatusBadRequest, fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.StatusCode, nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	return resp.StatusCode, fmt.Errorf("remote returned %d: %s",
		resp.StatusCode, strings.TrimSpace(string(snippet)))
}

// transient reports whether a delivery outcome is worth retrying: network
// errors, rate limiting and server-side failures are; other 4xx are not.
func transient(status int) bool {
	if status == 0 {
		return true
	}
	if status == http.StatusTooManyRequests {
		return true
	}
	return status >= 500
}

// BackoffFor returns the wait before the next attempt after `attempt`
// failed attempts.
func BackoffFor(attempt int) time.Duration {
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(backoffSchedule) {
		idx = len(backoffSchedule) - 1
	}
	return backoffSchedule[idx]
}

func (w *DeliveryWorker) fail(d *domain.DeliveryLog, reason string) {
	if err := w.db.MarkDeliveryFailed(d.Id, d.Attempts+1, reason); err != nil {
		log.Printf("Delivery: Failed to mark %s failed: %v", d.Id, err)
	}
	log.Printf("Delivery: Permanent failure for %s to %s: %s", d.ActivityId, d.TargetInbox, reason)
}

func (w *DeliveryWorker) dead(d *domain.DeliveryLog, reason string) {
	if err := w.db.MarkDeliveryDead(d.Id, d.Attempts+1, reason); err != nil {
		log.Printf("Delivery: Failed to mark %s dead: %v", d.Id, err)
	}
	log.Printf("Delivery: Giving up on %s to %s: %s", d.ActivityId, d.TargetInbox, reason)
}

func (w *DeliveryWorker) purge() {
	retentionDays := w.conf.Conf.Delivery.RetentionDays
	if retentionDays <= 0 {
		retentionDays = 30
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	if err := w.db.PurgeDeliveries(cutoff); err != nil {
		log.Printf("Delivery: Failed to purge old rows: %v", err)
		return
	}
	log.Printf("Delivery: Purged settled rows older than %s", cutoff.Format(time.RFC3339))
}
