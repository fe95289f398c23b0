package scrape

import "github.com/pkg/errors"

// ErrIgnoreCaptcha is raised when a captcha was found and the configured
// policy is to skip the page. The scraper queue swallows it with a warning.
var ErrIgnoreCaptcha = errors.New("captcha found, ignoring page")

// ErrUnimplementedCaptcha is raised when the bypass policy is selected but
// no solver is wired for the source.
var ErrUnimplementedCaptcha = errors.New("captcha bypass not implemented for this source")

// ErrBanned is raised when a fetched page carries the source's ban phrase.
var ErrBanned = errors.New("source has rate-limited this client")
