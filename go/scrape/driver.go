// Package scrape is the fetching substrate: a bounded pool of browser tabs
// over a single shared driver, adaptive politeness driven by ban-phrase
// detection, and the captcha-handling policy. The HTML parsing of each
// source stays outside; callers receive page sources and turn them into
// JSON-shaped documents.
package scrape

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Gawain27/PubScraper/go/message"
	"github.com/pkg/errors"
)

// Driver is the browser driver contract consumed by the tab pool. The
// driver process is shared and not thread-safe; the pool serializes every
// call behind its own lock.
type Driver interface {
	// Start launches (or connects to) the driver process.
	Start() error
	// Stop quits the driver, closing every window.
	Stop() error
	// OpenTab opens a fresh tab and returns its window handle.
	OpenTab() (string, error)
	// Handles lists all window handles.
	Handles() ([]string, error)
	// SwitchTo focuses the given window handle.
	SwitchTo(handle string) error
	// Navigate loads url in the focused window and waits until the
	// document ready state is complete, dismissing unexpected alerts.
	// Expiry of timeout surfaces as message.ErrTimeout.
	Navigate(url string, timeout time.Duration) error
	// PageSource returns the focused window's page source.
	PageSource() (string, error)
	// CurrentURL returns the focused window's location.
	CurrentURL() (string, error)
}

// WebDriver is a minimal client of the W3C WebDriver wire protocol,
// pointed at a locally running chromedriver or geckodriver.
type WebDriver struct {
	endpoint  string
	browser   string
	client    *http.Client
	sessionID string
}

// NewWebDriver returns a WebDriver for the given remote endpoint
// (e.g. http://127.0.0.1:9515) and browser name (chrome, firefox,
// embedded). The embedded browser is a headless chromium, so it speaks to
// the same driver under the chrome name.
func NewWebDriver(endpoint, browser string) *WebDriver {
	if browser == "embedded" {
		browser = "chrome"
	}
	return &WebDriver{
		endpoint: strings.TrimRight(endpoint, "/"),
		browser:  browser,
		client:   &http.Client{Timeout: 2 * time.Minute},
	}
}

type wdResponse struct {
	Value json.RawMessage `json:"value"`
}

type wdError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (d *WebDriver) do(method, path string, body any, out any) error {
	var buf io.Reader
	if body != nil {
		var raw, err = json.Marshal(body)
		if err != nil {
			return err
		}
		buf = bytes.NewReader(raw)
	}
	var req, err = http.NewRequest(method, d.endpoint+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var wrapper wdResponse
	if err = json.NewDecoder(resp.Body).Decode(&wrapper); err != nil {
		return errors.Wrapf(err, "decoding driver response for %s", path)
	}
	if resp.StatusCode >= 400 {
		var we wdError
		_ = json.Unmarshal(wrapper.Value, &we)
		if we.Error == "timeout" || we.Error == "script timeout" {
			return fmt.Errorf("driver %s: %s: %w", path, we.Message, message.ErrTimeout)
		}
		return fmt.Errorf("driver %s: %s (%s)", path, we.Message, we.Error)
	}
	if out != nil {
		return json.Unmarshal(wrapper.Value, out)
	}
	return nil
}

func (d *WebDriver) session(path string) string {
	return "/session/" + d.sessionID + path
}

// Start opens a WebDriver session.
func (d *WebDriver) Start() error {
	var caps = map[string]any{
		"capabilities": map[string]any{
			"alwaysMatch": map[string]any{"browserName": d.browser},
		},
	}
	var out struct {
		SessionID string `json:"sessionId"`
	}
	if err := d.do("POST", "/session", caps, &out); err != nil {
		return errors.Wrap(err, "starting driver session")
	}
	d.sessionID = out.SessionID
	return nil
}

// Stop deletes the session.
func (d *WebDriver) Stop() error {
	if d.sessionID == "" {
		return nil
	}
	var err = d.do("DELETE", d.session(""), nil, nil)
	d.sessionID = ""
	return err
}

// OpenTab opens a new tab and returns its handle.
func (d *WebDriver) OpenTab() (string, error) {
	var out struct {
		Handle string `json:"handle"`
	}
	if err := d.do("POST", d.session("/window/new"), map[string]string{"type": "tab"}, &out); err != nil {
		return "", err
	}
	return out.Handle, nil
}

// Handles lists all window handles.
func (d *WebDriver) Handles() ([]string, error) {
	var out []string
	if err := d.do("GET", d.session("/window/handles"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SwitchTo focuses a window handle.
func (d *WebDriver) SwitchTo(handle string) error {
	return d.do("POST", d.session("/window"), map[string]string{"handle": handle}, nil)
}

// Navigate loads url and polls until document.readyState is complete or
// timeout expires. Unexpected alerts are dismissed and navigation resumes.
func (d *WebDriver) Navigate(url string, timeout time.Duration) error {
	var deadline = time.Now().Add(timeout)

	var err = d.do("POST", d.session("/url"), map[string]string{"url": url}, nil)
	if err != nil && strings.Contains(err.Error(), "unexpected alert") {
		_ = d.do("POST", d.session("/alert/dismiss"), struct{}{}, nil)
		err = d.do("POST", d.session("/url"), map[string]string{"url": url}, nil)
	}
	if err != nil {
		return err
	}

	for {
		var state string
		var script = map[string]any{"script": "return document.readyState", "args": []any{}}
		if err = d.do("POST", d.session("/execute/sync"), script, &state); err == nil && state == "complete" {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("page load of %s: %w", url, message.ErrTimeout)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// PageSource returns the focused window's page source.
func (d *WebDriver) PageSource() (string, error) {
	var out string
	if err := d.do("GET", d.session("/source"), nil, &out); err != nil {
		return "", err
	}
	return out, nil
}

// CurrentURL returns the focused window's location.
func (d *WebDriver) CurrentURL() (string, error) {
	var out string
	if err := d.do("GET", d.session("/url"), nil, &out); err != nil {
		return "", err
	}
	return out, nil
}
