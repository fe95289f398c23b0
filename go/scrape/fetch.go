package scrape

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// PageFetcher is the per-source page access layer: it ties together the tab
// pool, the ban checker, and the source's ban phrase and captcha marker.
// Source adapters call Fetch and get back page HTML ready for parsing.
type PageFetcher struct {
	pool       *TabPool
	ban        *BanChecker
	banPhrase  string
	captchaDiv string
}

// NewPageFetcher returns a PageFetcher over pool. banPhrase and captchaDiv
// may be empty for sources that never rate-limit or challenge.
func NewPageFetcher(pool *TabPool, ban *BanChecker, banPhrase, captchaDiv string) *PageFetcher {
	return &PageFetcher{pool: pool, ban: ban, banPhrase: banPhrase, captchaDiv: captchaDiv}
}

// Fetch loads url in a pooled tab and returns its page source after the
// politeness wait. A detected ban restarts the driver and returns
// ErrBanned; the caller's retry loop re-attempts later with the widened
// wait window.
func (f *PageFetcher) Fetch(url, tag string) (string, error) {
	var started = time.Now()
	var tabID = f.pool.Acquire(tag)
	defer f.pool.Release(tabID, tag)

	if err := f.pool.Load(tabID, url); err != nil {
		return "", err
	}
	var page, err = f.pool.HTML(tabID, 0, f.captchaDiv)
	if err != nil {
		return "", err
	}

	if f.banPhrase != "" && f.ban != nil && f.ban.HasBanPhrase(page, f.banPhrase) {
		if err = f.pool.Restart(); err != nil {
			log.WithField("err", err).Error("driver restart after ban failed")
		}
		return "", fmt.Errorf("fetching %s: %w", url, ErrBanned)
	}

	log.WithFields(log.Fields{
		"url":     url,
		"tag":     tag,
		"tab":     tabID,
		"elapsed": time.Since(started).String(),
	}).Debug("page fetched")
	return page, nil
}

// Close shuts the underlying pool down.
func (f *PageFetcher) Close() error { return f.pool.Close() }
