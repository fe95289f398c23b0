package scrape

import (
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Settings is the persisted politeness state consumed by the pool and the
// ban checker. The stat store satisfies it.
type Settings interface {
	WaitWindow() (min, max float64)
	SetWaitWindow(min, max float64) error
	WasBanned() bool
	SetWasBanned(b bool) error
}

type tab struct {
	handle    string
	available bool
}

// TabPool is a fixed-capacity pool of browser tabs over one shared driver.
// The driver process is not thread-safe, so every driver call holds
// driverMu; tab bookkeeping is guarded separately by mu with a condition
// variable for acquire.
type TabPool struct {
	iface      string
	driver     Driver
	settings   Settings
	urlTimeout time.Duration
	captcha    *CaptchaPolicy

	mu        sync.Mutex
	cond      *sync.Cond
	tabs      map[int]*tab
	available int

	driverMu sync.Mutex
}

// NewTabPool starts the driver and opens size tabs.
func NewTabPool(iface string, driver Driver, size int, urlTimeout time.Duration,
	settings Settings, captcha *CaptchaPolicy) (*TabPool, error) {

	var p = &TabPool{
		iface:      iface,
		driver:     driver,
		settings:   settings,
		urlTimeout: urlTimeout,
		captcha:    captcha,
		tabs:       make(map[int]*tab),
	}
	p.cond = sync.NewCond(&p.mu)

	if err := p.initTabs(size); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *TabPool) initTabs(size int) error {
	if err := p.driver.Start(); err != nil {
		return errors.Wrapf(err, "starting driver for %s", p.iface)
	}

	// The session's initial window counts as tab zero.
	var handles, err = p.driver.Handles()
	if err != nil {
		return errors.Wrap(err, "listing initial windows")
	}
	var id int
	for _, h := range handles {
		p.tabs[id] = &tab{handle: h, available: true}
		id++
	}
	for ; id < size; id++ {
		var handle string
		if handle, err = p.driver.OpenTab(); err != nil {
			return errors.Wrapf(err, "opening tab %d", id)
		}
		p.tabs[id] = &tab{handle: handle, available: true}
	}
	p.available = len(p.tabs)

	log.WithFields(log.Fields{
		"interface": p.iface,
		"tabs":      len(p.tabs),
	}).Info("tab pool initialized")
	return nil
}

// Size returns the pool capacity.
func (p *TabPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tabs)
}

// Acquire blocks until a tab is available and returns its id. The tag is
// only used for logging.
func (p *TabPool) Acquire(tag string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.available == 0 {
		p.cond.Wait()
	}
	for id, t := range p.tabs {
		if t.available {
			t.available = false
			p.available--
			log.WithFields(log.Fields{
				"interface": p.iface,
				"tab":       id,
				"tag":       tag,
			}).Debug("tab acquired")
			return id
		}
	}
	panic("tab pool: available count and tab states disagree")
}

// Release marks the tab available again and wakes one waiter.
func (p *TabPool) Release(id int, tag string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var t, ok = p.tabs[id]
	if !ok || t.available {
		log.WithFields(log.Fields{
			"interface": p.iface,
			"tab":       id,
			"tag":       tag,
		}).Warn("release of a tab that was not held")
		return
	}
	t.available = true
	p.available++
	p.cond.Signal()

	log.WithFields(log.Fields{
		"interface": p.iface,
		"tab":       id,
		"tag":       tag,
	}).Debug("tab released")
}

// Load switches to the tab's window and navigates it to url, waiting for
// the page load to complete.
func (p *TabPool) Load(id int, url string) error {
	p.mu.Lock()
	var t, ok = p.tabs[id]
	p.mu.Unlock()
	if !ok {
		return errors.Errorf("no tab %d in %s pool", id, p.iface)
	}

	p.driverMu.Lock()
	defer p.driverMu.Unlock()

	if err := p.driver.SwitchTo(t.handle); err != nil {
		return errors.Wrapf(err, "switching to tab %d", id)
	}
	return p.driver.Navigate(url, p.urlTimeout)
}

// HTML waits out the politeness window, runs the captcha policy when a
// captcha marker is supplied, and returns the tab's page source. A positive
// extraWait overrides the random window.
func (p *TabPool) HTML(id int, extraWait time.Duration, captchaDiv string) (string, error) {
	var wait = extraWait
	if wait <= 0 {
		var min, max = p.settings.WaitWindow()
		wait = time.Duration((min + rand.Float64()*(max-min)) * float64(time.Second))
	}
	time.Sleep(wait)

	p.mu.Lock()
	var t, ok = p.tabs[id]
	p.mu.Unlock()
	if !ok {
		return "", errors.Errorf("no tab %d in %s pool", id, p.iface)
	}

	p.driverMu.Lock()
	defer p.driverMu.Unlock()

	if err := p.driver.SwitchTo(t.handle); err != nil {
		return "", errors.Wrapf(err, "switching to tab %d", id)
	}
	var html, err = p.driver.PageSource()
	if err != nil {
		return "", errors.Wrapf(err, "reading page source of tab %d", id)
	}

	if captchaDiv != "" && p.captcha != nil {
		if err = p.captcha.Handle(p, id, html, captchaDiv); err != nil {
			return "", err
		}
		// The page may have changed while the captcha was handled.
		if html, err = p.driver.PageSource(); err != nil {
			return "", errors.Wrapf(err, "re-reading page source of tab %d", id)
		}
	}
	return html, nil
}

// Restart tears the driver down and brings the pool back with every tab
// pointed at the URL it was showing. Used after a detected ban.
func (p *TabPool) Restart() error {
	p.driverMu.Lock()
	defer p.driverMu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()

	var urls = make(map[int]string, len(p.tabs))
	for id, t := range p.tabs {
		if err := p.driver.SwitchTo(t.handle); err != nil {
			continue
		}
		if url, err := p.driver.CurrentURL(); err == nil {
			urls[id] = url
		}
	}

	if err := p.driver.Stop(); err != nil {
		log.WithField("err", err).Warn("driver did not stop cleanly, continuing restart")
	}
	if err := p.driver.Start(); err != nil {
		return errors.Wrapf(err, "restarting driver for %s", p.iface)
	}

	var handles, err = p.driver.Handles()
	if err != nil {
		return errors.Wrap(err, "listing windows after restart")
	}
	var size = len(p.tabs)
	p.tabs = make(map[int]*tab, size)
	var id int
	for _, h := range handles {
		if id == size {
			break
		}
		p.tabs[id] = &tab{handle: h, available: true}
		id++
	}
	for ; id < size; id++ {
		var handle string
		if handle, err = p.driver.OpenTab(); err != nil {
			return errors.Wrapf(err, "reopening tab %d", id)
		}
		p.tabs[id] = &tab{handle: handle, available: true}
	}
	p.available = size
	p.cond.Broadcast()

	for id, url := range urls {
		var t = p.tabs[id]
		if err = p.driver.SwitchTo(t.handle); err != nil {
			continue
		}
		if err = p.driver.Navigate(url, p.urlTimeout); err != nil {
			log.WithFields(log.Fields{
				"tab": id,
				"url": url,
				"err": err,
			}).Warn("failed to reload tab after restart")
		}
	}

	log.WithField("interface", p.iface).Info("tab pool restarted")
	return nil
}

// Close quits the driver.
func (p *TabPool) Close() error {
	p.driverMu.Lock()
	defer p.driverMu.Unlock()
	return p.driver.Stop()
}
