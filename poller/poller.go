package poller

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ajgon/feed-api/db"
	"github.com/ajgon/feed-api/models"
	"github.com/ajgon/feed-api/parser"
)

// Poller refreshes every stored feed on a fixed interval, spreading the
// work over a small pool of workers.
type Poller struct {
	db        *db.DB
	getter    parser.Getter
	interval  time.Duration
	workers   int
	overwrite bool

	queue  chan models.Feed
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func New(ctx context.Context, d *db.DB, getter parser.Getter, interval time.Duration, workers int, overwrite bool) *Poller {
	ctx, cancel := context.WithCancel(ctx)

	if workers < 1 {
		workers = 1
	}

	return &Poller{
		db:        d,
		getter:    getter,
		interval:  interval,
		workers:   workers,
		overwrite: overwrite,
		queue:     make(chan models.Feed, workers),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the workers and the refresh ticker. It returns
// immediately; call Stop to shut the loop down and wait for in-flight
// refreshes to finish.
func (p *Poller) Start() {
	for i := 0; i < p.workers; i++ {
		go p.startWorker(i)
	}

	go p.run()
}

func (p *Poller) Stop() {
	p.cancel()
	p.wg.Wait()
}

func (p *Poller) run() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Refresh once at startup, then on every tick.
	p.enqueueAll()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.enqueueAll()
		}
	}
}

func (p *Poller) enqueueAll() {
	feeds, err := p.db.ListFeeds(p.ctx)
	if err != nil {
		log.Errorf("Poller: Error listing feeds: %v", err)
		return
	}

	for _, feed := range feeds {
		select {
		case <-p.ctx.Done():
			return
		case p.queue <- feed:
		}
	}
}

func (p *Poller) startWorker(id int) {
	p.wg.Add(1)
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			log.Infof("Poller worker %d: Shutting down", id)
			return
		case feed := <-p.queue:
			if err := p.refresh(feed); err != nil {
				log.WithFields(log.Fields{
					"feed": feed.URL,
				}).Errorf("Poller worker %d: Error refreshing feed: %v", id, err)
			}
		}
	}
}

// refresh fetches and reparses a single feed. With overwrite enabled the
// stored feed metadata is replaced by whatever the feed reports now;
// otherwise only the item list is reconciled.
func (p *Poller) refresh(feed models.Feed) error {
	batch, err := parser.ParseURL(p.ctx, p.getter, feed.FeedType, feed.URL)
	if err != nil {
		return err
	}

	if p.overwrite {
		_, err = p.db.Ingest(p.ctx, *batch, true)
		return err
	}

	for i := range batch.Items {
		batch.Items[i].FeedID = feed.ID
	}
	batch.Feed = nil
	_, err = p.db.Ingest(p.ctx, *batch, false)
	return err
}
