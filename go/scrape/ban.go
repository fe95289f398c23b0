package scrape

import (
	"math"
	"math/rand"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/html"
)

// relaxInterval is how often the politeness monitor reconsiders the wait
// window.
const relaxInterval = time.Hour

// BanChecker detects rate-limiting phrases in fetched pages and drives the
// wait-window feedback loop: every detected ban widens the window by the
// configured penalty, and a background monitor narrows it again during
// quiet hours.
type BanChecker struct {
	settings Settings
	penalty  float64
}

// NewBanChecker returns a BanChecker widening by penalty seconds per ban.
func NewBanChecker(settings Settings, penalty float64) *BanChecker {
	return &BanChecker{settings: settings, penalty: penalty}
}

// HasBanPhrase reports whether phrase occurs in the visible text of page.
// On a hit it widens the wait window and sets the sticky ban flag.
func (b *BanChecker) HasBanPhrase(page, phrase string) bool {
	if !strings.Contains(visibleText(page), phrase) {
		return false
	}

	var min, max = b.settings.WaitWindow()
	min, max = widen(min, max, b.penalty)
	if err := b.settings.SetWaitWindow(min, max); err != nil {
		log.WithField("err", err).Error("failed to persist widened wait window")
	}
	if err := b.settings.SetWasBanned(true); err != nil {
		log.WithField("err", err).Error("failed to persist ban flag")
	}

	log.WithFields(log.Fields{
		"phrase":   phrase,
		"min_wait": min,
		"max_wait": max,
	}).Warn("ban phrase detected, wait window widened")
	return true
}

// widen grows the window by penalty on one random endpoint, keeping
// max at least min + sqrt(min) so the window never collapses.
func widen(min, max, penalty float64) (float64, float64) {
	if rand.Float64() > 0.5 && max > min {
		min += penalty
	} else {
		max += penalty
	}
	if floor := min + math.Sqrt(min); max < floor {
		max = floor
	}
	return min, max
}

// relax shaves one second off a random endpoint, with sanity floors.
func relax(min, max float64) (float64, float64) {
	if rand.Float64() > 0.5 && max <= min {
		min = math.Max(min-1, 0)
	} else {
		max = math.Max(min+math.Sqrt(min), max-1)
	}
	return min, max
}

// Monitor runs until stop is closed. Each pass either consumes the sticky
// ban flag (leaving the window alone for one interval) or narrows the
// window one step.
func (b *BanChecker) Monitor(stop <-chan struct{}) {
	var ticker = time.NewTicker(relaxInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		if b.settings.WasBanned() {
			if err := b.settings.SetWasBanned(false); err != nil {
				log.WithField("err", err).Error("failed to clear ban flag")
			}
			log.Info("ban observed this hour, keeping widened wait window")
			continue
		}

		var min, max = b.settings.WaitWindow()
		min, max = relax(min, max)
		if err := b.settings.SetWaitWindow(min, max); err != nil {
			log.WithField("err", err).Error("failed to persist relaxed wait window")
			continue
		}
		log.WithFields(log.Fields{
			"min_wait": min,
			"max_wait": max,
		}).Info("no ban observed, wait window relaxed")
	}
}

// visibleText returns the rendered text of an HTML page, excluding script
// and style bodies. Malformed input degrades to whatever the tokenizer can
// recover.
func visibleText(page string) string {
	var sb strings.Builder
	var z = html.NewTokenizer(strings.NewReader(page))
	var skip int

	for {
		switch z.Next() {
		case html.ErrorToken:
			return sb.String()
		case html.StartTagToken:
			var name, _ = z.TagName()
			switch string(name) {
			case "script", "style", "noscript":
				skip++
			}
		case html.EndTagToken:
			var name, _ = z.TagName()
			switch string(name) {
			case "script", "style", "noscript":
				if skip > 0 {
					skip--
				}
			}
		case html.TextToken:
			if skip == 0 {
				sb.Write(z.Text())
				sb.WriteByte(' ')
			}
		}
	}
}
