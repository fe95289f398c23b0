package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/Gawain27/PubScraper/go/message"
	"github.com/Gawain27/PubScraper/go/store"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// IfaceDblp is the bibliography cross-check adapter identifier.
const IfaceDblp = "dblp"

// dblpEndpoint is the publication search API. It answers JSON, so this
// source needs no browser tab.
const dblpEndpoint = "https://dblp.org/search/publ/api"

// DblpSource queries the bibliography API for every seed author and stores
// the hit list as one multi-record publication container. It is a
// single-phase source; cross-checking produces no further expansion.
type DblpSource struct {
	Client *http.Client
}

// NewDblpSource returns the bibliography adapter.
func NewDblpSource(client *http.Client) *DblpSource {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &DblpSource{Client: client}
}

// InterfaceID implements Source.
func (s *DblpSource) InterfaceID() string { return IfaceDblp }

// VariantType implements Source.
func (s *DblpSource) VariantType() int { return VariantDblp }

// ClassOf implements Source; phase references are entity classes.
func (s *DblpSource) ClassOf(phaseRef int) int { return phaseRef }

// GeneratePhase implements Source.
func (s *DblpSource) GeneratePhase(phaseCode int, args []string, expectedID string) Phase {
	return Phase{
		Iface:       IfaceDblp,
		Ref:         phaseCode,
		Fetch:       s.fetchPubs,
		Args:        args,
		ExpectedID:  expectedID,
		MultiResult: true,
	}
}

type dblpResponse struct {
	Result struct {
		Hits struct {
			Hit []struct {
				Info map[string]any `json:"info"`
			} `json:"hit"`
		} `json:"hits"`
	} `json:"result"`
}

func (s *DblpSource) fetchPubs(ctx context.Context, args []string) (store.Doc, error) {
	var author = args[0]
	var u = dblpEndpoint + "?format=json&h=500&q=" + url.QueryEscape(author)

	var req, err = http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "querying bibliography for %s", author)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("bibliography query for %s answered %s", author, resp.Status)
	}

	var decoded dblpResponse
	if err = json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, errors.Wrapf(err, "decoding bibliography response for %s", author)
	}

	var records = make([]any, 0, len(decoded.Result.Hits.Hit))
	for _, hit := range decoded.Result.Hits.Hit {
		records = append(records, hit.Info)
	}
	log.WithFields(log.Fields{
		"author":  author,
		"records": len(records),
	}).Debug("bibliography fetched")

	return store.Doc{"author": author, "records": records}, nil
}

// PrepareNextPhase implements Source; the bibliography is terminal.
func (s *DblpSource) PrepareNextPhase(f *Fetcher, phaseRef int, doc store.Doc, depth int) ([]NextPhase, error) {
	return nil, nil
}

// StartCollectors implements Source: one publication search per seed
// author.
func (s *DblpSource) StartCollectors(f *Fetcher, seeds []string) {
	for _, name := range seeds {
		f.Seed(s, ClassPublication, message.PrioPubReq, []string{name}, "dblp_pubs_"+name)
	}
}
