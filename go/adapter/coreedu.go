package adapter

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Gawain27/PubScraper/go/message"
	"github.com/Gawain27/PubScraper/go/scrape"
	"github.com/Gawain27/PubScraper/go/store"
	"github.com/pkg/errors"
)

// IfaceCoreEdu is the conference-ranking adapter identifier.
const IfaceCoreEdu = "core_edu"

// CoreEduSource harvests the conference ranking portal page by page. Pages
// are seeded up front from the configured page count, so the source has no
// next-phase expansion.
type CoreEduSource struct {
	Pages *scrape.PageFetcher
	// Parse turns a portal page into a multi-record container.
	Parse func(page string, pageNo int) (store.Doc, error)
}

// NewCoreEduSource returns the conference-ranking adapter.
func NewCoreEduSource(pages *scrape.PageFetcher, parse func(string, int) (store.Doc, error)) *CoreEduSource {
	if parse == nil {
		parse = parseCorePage
	}
	return &CoreEduSource{Pages: pages, Parse: parse}
}

// InterfaceID implements Source.
func (s *CoreEduSource) InterfaceID() string { return IfaceCoreEdu }

// VariantType implements Source.
func (s *CoreEduSource) VariantType() int { return VariantCoreEdu }

// ClassOf implements Source; phase references are entity classes.
func (s *CoreEduSource) ClassOf(phaseRef int) int { return phaseRef }

// GeneratePhase implements Source. args are {pageNo}.
func (s *CoreEduSource) GeneratePhase(phaseCode int, args []string, expectedID string) Phase {
	return Phase{
		Iface:       IfaceCoreEdu,
		Ref:         phaseCode,
		Fetch:       s.fetchRankPage,
		Args:        args,
		ExpectedID:  expectedID,
		MultiResult: true,
	}
}

func (s *CoreEduSource) fetchRankPage(ctx context.Context, args []string) (store.Doc, error) {
	var pageNo, err = strconv.Atoi(args[0])
	if err != nil {
		return nil, errors.Wrapf(err, "bad portal page number %q", args[0])
	}

	var u = fmt.Sprintf("http://portal.core.edu.au/conf-ranks/?search=&by=all&page=%d", pageNo)
	page, err := s.Pages.Fetch(u, TypeConferenceFetch)
	if err != nil {
		return nil, err
	}
	return s.Parse(page, pageNo)
}

// PrepareNextPhase implements Source; every page is seeded up front.
func (s *CoreEduSource) PrepareNextPhase(f *Fetcher, phaseRef int, doc store.Doc, depth int) ([]NextPhase, error) {
	return nil, nil
}

// StartCollectors implements Source: seeds are portal page numbers,
// highest first so the freshest rankings land early.
func (s *CoreEduSource) StartCollectors(f *Fetcher, seeds []string) {
	for _, pageNo := range seeds {
		f.Seed(s, ClassConference, message.PrioConferenceReq,
			[]string{pageNo}, "core_p"+pageNo)
	}
}
