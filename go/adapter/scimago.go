package adapter

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Gawain27/PubScraper/go/message"
	"github.com/Gawain27/PubScraper/go/scrape"
	"github.com/Gawain27/PubScraper/go/store"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// IfaceScimago is the journal-ranking adapter identifier.
const IfaceScimago = "scimago"

// ScimagoSource walks the journal ranking year by year, one listing page
// per phase. The page cursor for each year is persisted in the stat store
// so restarts resume where the previous run stopped.
type ScimagoSource struct {
	Pages *scrape.PageFetcher
	// Parse turns a ranking page into a multi-record container with
	// "records" and "is_end".
	Parse func(page string, year string, pageNo int) (store.Doc, error)
}

// NewScimagoSource returns the journal-ranking adapter.
func NewScimagoSource(pages *scrape.PageFetcher, parse func(string, string, int) (store.Doc, error)) *ScimagoSource {
	if parse == nil {
		parse = parseScimagoPage
	}
	return &ScimagoSource{Pages: pages, Parse: parse}
}

// InterfaceID implements Source.
func (s *ScimagoSource) InterfaceID() string { return IfaceScimago }

// VariantType implements Source.
func (s *ScimagoSource) VariantType() int { return VariantScimago }

// ClassOf implements Source; phase references are entity classes.
func (s *ScimagoSource) ClassOf(phaseRef int) int { return phaseRef }

// GeneratePhase implements Source. args are {year, pageNo}.
func (s *ScimagoSource) GeneratePhase(phaseCode int, args []string, expectedID string) Phase {
	return Phase{
		Iface:         IfaceScimago,
		Ref:           phaseCode,
		Fetch:         s.fetchRankPage,
		Args:          args,
		ExpectedID:    expectedID,
		MultiResult:   true,
		RollOverDepth: true,
	}
}

func (s *ScimagoSource) fetchRankPage(ctx context.Context, args []string) (store.Doc, error) {
	var year = args[0]
	var pageNo, err = strconv.Atoi(args[1])
	if err != nil {
		return nil, errors.Wrapf(err, "bad ranking page number %q", args[1])
	}

	var u = fmt.Sprintf("https://www.scimagojr.com/journalrank.php?year=%s&page=%d", year, pageNo)
	page, err := s.Pages.Fetch(u, TypeJournalFetch)
	if err != nil {
		return nil, err
	}
	return s.Parse(page, year, pageNo)
}

// PrepareNextPhase implements Source: advance the year's page cursor and
// schedule the next listing page, until the source reports the end.
func (s *ScimagoSource) PrepareNextPhase(f *Fetcher, phaseRef int, doc store.Doc, depth int) ([]NextPhase, error) {
	if doc == nil {
		return nil, nil
	}
	var year, _ = doc["year"].(string)
	if isEnd, _ := doc["is_end"].(bool); isEnd {
		log.WithField("year", year).Error("journal ranking exhausted for year")
		return nil, errors.Wrapf(ErrEndOfIteration, "journal ranking year %s", year)
	}

	var next, err = f.Stats.Increment(scimagoCursorKey(year))
	if err != nil {
		return nil, err
	}
	var pageNo = int(next) + 1

	var np, ok = f.PhaseWithPriority(s, ClassJournal, message.PrioJournalReq,
		[]string{year, strconv.Itoa(pageNo)}, scimagoPageID(year, pageNo))
	if !ok {
		return nil, nil
	}
	return []NextPhase{np}, nil
}

// StartCollectors implements Source: one ranking walk per seed year,
// resuming from the persisted cursor.
func (s *ScimagoSource) StartCollectors(f *Fetcher, seeds []string) {
	for _, year := range seeds {
		var cursor int64
		if _, err := f.Stats.Get(scimagoCursorKey(year), &cursor); err != nil {
			log.WithFields(log.Fields{"year": year, "err": err}).
				Error("could not read ranking cursor, starting from page 1")
			cursor = 0
		}
		var pageNo = int(cursor) + 1
		f.Seed(s, ClassJournal, message.PrioInterfaceReq,
			[]string{year, strconv.Itoa(pageNo)}, scimagoPageID(year, pageNo))
	}
}

func scimagoCursorKey(year string) string { return "scimago_year_" + year }

func scimagoPageID(year string, pageNo int) string {
	return fmt.Sprintf("scimago_%s_p%d", year, pageNo)
}
