package adapter

import (
	"context"
	"net/url"
	"time"

	"github.com/Gawain27/PubScraper/go/message"
	"github.com/Gawain27/PubScraper/go/scrape"
	"github.com/Gawain27/PubScraper/go/store"
	log "github.com/sirupsen/logrus"
)

// IfaceScholar is the author/publication index adapter identifier.
const IfaceScholar = "scholar"

// scholarSeedInterval spaces root author fetches so the crawl does not
// open with a burst against the most defended source.
const scholarSeedInterval = 30 * time.Second

// ScholarParsers turn fetched pages into documents. Parsing is pluggable;
// the adapter only owns the crawl graph.
type ScholarParsers struct {
	// Author parses a profile search page into an author document with
	// "publications" (ids) and "coauthors" (names). favoredOrg breaks ties
	// between same-named authors.
	Author func(page, name, favoredOrg string) (store.Doc, error)
	// Pub parses a publication page into a document with "authors" (names).
	Pub func(page, pubID string) (store.Doc, error)
	// Citations parses the citations listing into a multi-record container.
	Citations func(page, pubID string) (store.Doc, error)
	// Versions parses the versions listing into a multi-record container.
	Versions func(page, pubID string) (store.Doc, error)
}

// ScholarSource crawls the author index: authors expand to publications
// and coauthors, publications expand to their authors plus citation and
// version listings.
type ScholarSource struct {
	Pages      *scrape.PageFetcher
	Parsers    ScholarParsers
	FavoredOrg string

	// seedInterval is overridable in tests.
	seedInterval time.Duration
}

// NewScholarSource returns the author-index adapter.
func NewScholarSource(pages *scrape.PageFetcher, parsers ScholarParsers, favoredOrg string) *ScholarSource {
	return &ScholarSource{
		Pages:        pages,
		Parsers:      parsers,
		FavoredOrg:   favoredOrg,
		seedInterval: scholarSeedInterval,
	}
}

// InterfaceID implements Source.
func (s *ScholarSource) InterfaceID() string { return IfaceScholar }

// VariantType implements Source.
func (s *ScholarSource) VariantType() int { return VariantScholar }

// ClassOf implements Source; phase references are entity classes.
func (s *ScholarSource) ClassOf(phaseRef int) int { return phaseRef }

// GeneratePhase implements Source.
func (s *ScholarSource) GeneratePhase(phaseCode int, args []string, expectedID string) Phase {
	var p = Phase{
		Iface:      IfaceScholar,
		Ref:        phaseCode,
		Args:       args,
		ExpectedID: expectedID,
	}
	switch phaseCode {
	case ClassAuthor, ClassCoauthor:
		p.Fetch = s.fetchAuthor
	case ClassPublication:
		p.Fetch = s.fetchPub
	case ClassCitation:
		p.Fetch = s.fetchCitations
		p.MultiResult = true
		p.RollOverDepth = true
	case ClassVersion:
		p.Fetch = s.fetchVersions
		p.MultiResult = true
		p.RollOverDepth = true
	}
	return p
}

func (s *ScholarSource) fetchAuthor(ctx context.Context, args []string) (store.Doc, error) {
	var name = args[0]
	var u = "https://scholar.google.com/citations?view_op=search_authors&mauthors=" +
		url.QueryEscape(name)
	var page, err = s.Pages.Fetch(u, TypeAuthorFetch)
	if err != nil {
		return nil, err
	}
	return s.Parsers.Author(page, name, s.FavoredOrg)
}

func (s *ScholarSource) fetchPub(ctx context.Context, args []string) (store.Doc, error) {
	var pubID = args[0]
	var page, err = s.Pages.Fetch(
		"https://scholar.google.com/citations?view_op=view_citation&citation_for_view="+
			url.QueryEscape(pubID), TypePubFetch)
	if err != nil {
		return nil, err
	}
	return s.Parsers.Pub(page, pubID)
}

func (s *ScholarSource) fetchCitations(ctx context.Context, args []string) (store.Doc, error) {
	var pubID = args[0]
	var page, err = s.Pages.Fetch(
		"https://scholar.google.com/scholar?cites="+url.QueryEscape(pubID), "citations_fetch")
	if err != nil {
		return nil, err
	}
	return s.Parsers.Citations(page, pubID)
}

func (s *ScholarSource) fetchVersions(ctx context.Context, args []string) (store.Doc, error) {
	var pubID = args[0]
	var page, err = s.Pages.Fetch(
		"https://scholar.google.com/scholar?cluster="+url.QueryEscape(pubID), "versions_fetch")
	if err != nil {
		return nil, err
	}
	return s.Parsers.Versions(page, pubID)
}

// PrepareNextPhase implements Source.
func (s *ScholarSource) PrepareNextPhase(f *Fetcher, phaseRef int, doc store.Doc, depth int) ([]NextPhase, error) {
	if doc == nil {
		return nil, nil
	}
	var nexts []NextPhase

	switch phaseRef {
	case ClassAuthor, ClassCoauthor:
		for _, id := range stringList(doc["publications"]) {
			if np, ok := f.PhaseWithPriority(s, ClassPublication, message.PrioPubReq,
				[]string{id}, "pub_"+id); ok {
				nexts = append(nexts, np)
			}
		}
		for _, name := range stringList(doc["coauthors"]) {
			if np, ok := f.PhaseWithPriority(s, ClassCoauthor, message.PrioAuthorReq,
				[]string{name}, "author_"+name); ok {
				nexts = append(nexts, np)
			}
		}

	case ClassPublication:
		var pubID, ok = doc["pub_id"].(string)
		if !ok {
			return nil, ErrEntityShape
		}
		for _, name := range stringList(doc["authors"]) {
			if np, ok := f.PhaseWithPriority(s, ClassAuthor, message.PrioAuthorReq,
				[]string{name}, "author_"+name); ok {
				nexts = append(nexts, np)
			}
		}
		if np, ok := f.PhaseWithPriority(s, ClassCitation, message.PrioPubReq,
			[]string{pubID}, "cit_"+pubID); ok {
			nexts = append(nexts, np)
		}
		if np, ok := f.PhaseWithPriority(s, ClassVersion, message.PrioPubReq,
			[]string{pubID}, "ver_"+pubID); ok {
			nexts = append(nexts, np)
		}
	}
	return nexts, nil
}

// StartCollectors implements Source: one root author fetch per seed, with
// a pause between seeds.
func (s *ScholarSource) StartCollectors(f *Fetcher, seeds []string) {
	for i, name := range seeds {
		if i > 0 {
			time.Sleep(s.seedInterval)
		}
		log.WithFields(log.Fields{
			"source": IfaceScholar,
			"author": name,
		}).Info("seeding root author")
		f.Seed(s, ClassAuthor, message.PrioInterfaceReq, []string{name}, "author_"+name)
	}
}

// stringList coerces a document list field into its string members. Fresh
// documents hold []string; documents round-tripped through the store hold
// []any.
func stringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		var out = make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
