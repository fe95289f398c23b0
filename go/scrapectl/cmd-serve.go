package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Gawain27/PubScraper/go/adapter"
	"github.com/Gawain27/PubScraper/go/comm"
	"github.com/Gawain27/PubScraper/go/message"
	"github.com/Gawain27/PubScraper/go/queue"
	"github.com/Gawain27/PubScraper/go/router"
	"github.com/Gawain27/PubScraper/go/scrape"
	"github.com/Gawain27/PubScraper/go/store"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// scholarBanPhrase marks a rate-limited author-index page.
const scholarBanPhrase = "We're sorry..."

// scholarCaptchaDiv marks a captcha wall on the author index.
const scholarCaptchaDiv = "gs_captcha_ccl"

type cmdServe struct {
	Config
}

func (cmd *cmdServe) Execute(_ []string) error {
	cmd.initLog()

	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	var sigCh = make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		var sig = <-sigCh
		log.WithField("signal", sig.String()).Info("shutting down")
		cancel()
	}()

	// Stores.
	var stats, err = store.OpenStats(cmd.StatsPath)
	if err != nil {
		return err
	}
	defer stats.Close()
	if err = stats.EnsureWaitWindow(cmd.MinWaitTime, cmd.MaxWaitTime); err != nil {
		return err
	}

	docs, err := store.OpenDocs(ctx, cmd.RedisAddr, cmd.RedisPassword, cmd.RedisDB)
	if err != nil {
		return err
	}
	defer docs.Close()

	var messages = message.NewFactory(stats)

	// Delivery side.
	var socket = comm.NewSynchroSocket(fmt.Sprintf("%s:%d", cmd.ServerURL, cmd.EntityPort))
	defer socket.Close()

	if cmd.RecoveryInstance {
		if err = comm.NewRecovery(docs, socket).Run(ctx); err != nil {
			return errors.Wrap(err, "recovery pass failed")
		}
	}

	var outSender = comm.NewOutSender(docs, socket)
	go outSender.Run(ctx)
	defer outSender.Stop()

	var load = comm.NewLoadState()
	var serializer = &comm.SerializationUnit{Store: docs, Messages: messages}
	var packager = &comm.PackagingUnit{Store: docs, Messages: messages, Load: load}

	// Fetching substrate.
	var ban = scrape.NewBanChecker(stats, cmd.BanPenalty)
	var captcha = scrape.NewCaptchaPolicy(scrape.CaptchaAction(cmd.CaptchaAction), nil)
	var urlTimeout = time.Duration(cmd.URLTimeout * float64(time.Second))

	var enabled = cmd.enabledInterfaces()
	var sources = make(map[string]adapter.Source)
	var pools []*scrape.TabPool

	var newPages = func(iface, banPhrase, captchaDiv string) (*scrape.PageFetcher, error) {
		var driver = scrape.NewWebDriver(cmd.DriverURL, cmd.BrowserType)
		var pool, err = scrape.NewTabPool(iface, driver, cmd.MaxIfaceRequests,
			urlTimeout, stats, captcha)
		if err != nil {
			return nil, errors.Wrapf(err, "building %s tab pool", iface)
		}
		pools = append(pools, pool)
		return scrape.NewPageFetcher(pool, ban, banPhrase, captchaDiv), nil
	}
	defer func() {
		for _, p := range pools {
			_ = p.Close()
		}
	}()

	if enabled[adapter.IfaceScholar] {
		var pages *scrape.PageFetcher
		if pages, err = newPages(adapter.IfaceScholar, scholarBanPhrase, scholarCaptchaDiv); err != nil {
			return err
		}
		sources[adapter.IfaceScholar] = adapter.NewScholarSource(
			pages, adapter.DefaultScholarParsers(), cmd.FavoredOrg)
	}
	if enabled[adapter.IfaceDblp] {
		sources[adapter.IfaceDblp] = adapter.NewDblpSource(nil)
	}
	if enabled[adapter.IfaceScimago] {
		var pages *scrape.PageFetcher
		if pages, err = newPages(adapter.IfaceScimago, "", ""); err != nil {
			return err
		}
		sources[adapter.IfaceScimago] = adapter.NewScimagoSource(pages, nil)
	}
	if enabled[adapter.IfaceCoreEdu] {
		var pages *scrape.PageFetcher
		if pages, err = newPages(adapter.IfaceCoreEdu, "", ""); err != nil {
			return err
		}
		sources[adapter.IfaceCoreEdu] = adapter.NewCoreEduSource(pages, nil)
	}

	// Scheduling core.
	var fetcher = &adapter.Fetcher{
		Store:     docs,
		Stats:     stats,
		Messages:  messages,
		Seen:      adapter.NewSeenIDs(),
		Freshness: time.Duration(cmd.MinSecondsBetweenUpdates) * time.Second,
		DelayMin:  time.Duration(cmd.MinWaitTime * float64(time.Second)),
		DelayMax:  time.Duration(cmd.MaxWaitTime * float64(time.Second)),
	}

	var master = queue.NewMaster(cmd.DepthMax)
	var processors = map[string]router.Processor{
		message.DestScraper: &router.ScraperQueue{
			Stats:   stats,
			Fetcher: fetcher,
			Sources: sources,
		},
		message.DestOutSender: &router.OutSenderQueue{Sender: outSender},
		message.DestSystem: &router.SystemQueue{
			Serializer: serializer,
			Packager:   packager,
			Load:       load,
		},
	}

	rtr, err := router.New(router.Config{
		MaxActiveThreads: cmd.MaxActiveThreads,
		MaxWorktime:      cmd.worktime(),
		MaxBufferRetries: cmd.MaxBufferRetries,
		RetryWait:        time.Duration(cmd.RetryTimeSec * float64(time.Second)),
		DebugDelay:       cmd.DebugDelay,
	}, master, processors)
	if err != nil {
		return err
	}

	// The bus is the router; close the construction loop.
	fetcher.Bus = rtr
	serializer.Bus = rtr
	packager.Bus = rtr

	// Status feed and metrics.
	status, err := comm.NewStatusListener(
		fmt.Sprintf(":%d", cmd.StatusPort), rtr, messages)
	if err != nil {
		return err
	}
	go status.Serve()
	defer status.Close()

	if cmd.MetricsAddr != "" {
		go func() {
			var mux = http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cmd.MetricsAddr, mux); err != nil {
				log.WithField("err", err).Error("metrics listener failed")
			}
		}()
	}

	// Politeness monitor.
	if cmd.AutoAdaptive {
		var stop = make(chan struct{})
		defer close(stop)
		go ban.Monitor(stop)
	}

	// Seed the crawl.
	cmd.startCollectors(fetcher, sources)

	rtr.Run(ctx)
	log.Info("harvester stopped")
	return nil
}

// startCollectors spawns one seeding goroutine per enabled source.
func (cmd *cmdServe) startCollectors(f *adapter.Fetcher, sources map[string]adapter.Source) {
	var authors []string
	for _, name := range strings.Split(cmd.RootAuthors, ",") {
		if name = strings.TrimSpace(name); name != "" {
			authors = append(authors, name)
		}
	}
	if cmd.ShuffleRoots {
		rand.Shuffle(len(authors), func(i, j int) {
			authors[i], authors[j] = authors[j], authors[i]
		})
	}

	var years []string
	for y := cmd.ScimagoFromYear; y <= time.Now().Year(); y++ {
		years = append(years, strconv.Itoa(y))
	}

	var corePages []string
	for p := cmd.CorePagesNumber; p >= 1; p-- {
		corePages = append(corePages, strconv.Itoa(p))
	}

	var seedsFor = map[string][]string{
		adapter.IfaceScholar: authors,
		adapter.IfaceDblp:    authors,
		adapter.IfaceScimago: years,
		adapter.IfaceCoreEdu: corePages,
	}
	for id, src := range sources {
		var seeds = seedsFor[id]
		if len(seeds) == 0 {
			continue
		}
		go src.StartCollectors(f, seeds)
		log.WithFields(log.Fields{
			"source": id,
			"seeds":  len(seeds),
		}).Info("collector started")
	}
}
