package scrape

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCaptchaPolicyPassesCleanPages(t *testing.T) {
	var policy = NewCaptchaPolicy(CaptchaIgnore, nil)
	require.NoError(t, policy.Handle(nil, 0, "<html>no challenge</html>", "gs_captcha_ccl"))
}

func TestCaptchaIgnoreSkipsPage(t *testing.T) {
	var policy = NewCaptchaPolicy(CaptchaIgnore, nil)
	var err = policy.Handle(nil, 0, `<div id="gs_captcha_ccl"></div>`, "gs_captcha_ccl")
	require.ErrorIs(t, err, ErrIgnoreCaptcha)
}

func TestCaptchaBypassWithoutSolver(t *testing.T) {
	var policy = NewCaptchaPolicy(CaptchaBypass, nil)
	var err = policy.Handle(nil, 0, `<div id="gs_captcha_ccl"></div>`, "gs_captcha_ccl")
	require.ErrorIs(t, err, ErrUnimplementedCaptcha)
}

type fakeSolver struct{ called bool }

func (s *fakeSolver) Solve(pool *TabPool, tabID int, page string) error {
	s.called = true
	return nil
}

func TestCaptchaBypassDelegatesToSolver(t *testing.T) {
	var solver = &fakeSolver{}
	var policy = NewCaptchaPolicy(CaptchaBypass, solver)
	require.NoError(t, policy.Handle(nil, 3, `<div id="gs_captcha_ccl"></div>`, "gs_captcha_ccl"))
	require.True(t, solver.called)
}

func TestCaptchaWaitUserReturnsOnceSolved(t *testing.T) {
	var pool, driver = testPool(t, 1)
	var policy = NewCaptchaPolicy(CaptchaWaitUser, nil)
	policy.pollInterval = 5 * time.Millisecond

	driver.mu.Lock()
	driver.focused = driver.handles[0]
	driver.pages[driver.focused] = `<div id="gs_captcha_ccl"></div>`
	driver.mu.Unlock()

	go func() {
		time.Sleep(20 * time.Millisecond)
		driver.mu.Lock()
		driver.pages[driver.focused] = "<html>solved</html>"
		driver.mu.Unlock()
	}()

	var err = policy.Handle(pool, 0, `<div id="gs_captcha_ccl"></div>`, "gs_captcha_ccl")
	require.NoError(t, err)
}
