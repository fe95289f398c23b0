package scrape

import (
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// CaptchaAction selects how the harvester reacts to a captcha wall.
type CaptchaAction string

const (
	// CaptchaIgnore skips the page.
	CaptchaIgnore CaptchaAction = "IGNORE"
	// CaptchaWaitUser blocks until a human solves the captcha in the
	// visible browser window.
	CaptchaWaitUser CaptchaAction = "WAIT_USER"
	// CaptchaBypass hands the page to an external solver.
	CaptchaBypass CaptchaAction = "BYPASS"
)

// Solver is the external captcha-solving provider used by CaptchaBypass.
type Solver interface {
	Solve(pool *TabPool, tabID int, page string) error
}

// CaptchaPolicy applies the configured action when a page carries a
// captcha marker.
type CaptchaPolicy struct {
	action CaptchaAction
	solver Solver

	// pollInterval for WAIT_USER; shortened in tests.
	pollInterval time.Duration
}

// NewCaptchaPolicy returns a policy for the given action. solver may be nil
// unless the action is CaptchaBypass.
func NewCaptchaPolicy(action CaptchaAction, solver Solver) *CaptchaPolicy {
	return &CaptchaPolicy{action: action, solver: solver, pollInterval: 5 * time.Second}
}

// Handle inspects page for the captcha marker and applies the policy.
// A nil return means the page is usable; typed errors tell the scraper
// queue to skip the page.
func (c *CaptchaPolicy) Handle(pool *TabPool, tabID int, page, marker string) error {
	if !strings.Contains(page, marker) {
		return nil
	}

	log.WithFields(log.Fields{
		"tab":    tabID,
		"marker": marker,
		"action": c.action,
	}).Warn("captcha detected")

	switch c.action {
	case CaptchaIgnore:
		return ErrIgnoreCaptcha

	case CaptchaWaitUser:
		// Poll the live page until the marker disappears.
		for {
			time.Sleep(c.pollInterval)
			var html, err = pool.driver.PageSource()
			if err != nil {
				return err
			}
			if !strings.Contains(html, marker) {
				log.WithField("tab", tabID).Info("captcha solved by user")
				return nil
			}
		}

	case CaptchaBypass:
		if c.solver == nil {
			return ErrUnimplementedCaptcha
		}
		return c.solver.Solve(pool, tabID, page)

	default:
		return ErrIgnoreCaptcha
	}
}
