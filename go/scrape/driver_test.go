package scrape

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmbeddedBrowserSpeaksChromeToTheDriver(t *testing.T) {
	var d = NewWebDriver("http://127.0.0.1:9515/", "embedded")
	require.Equal(t, "chrome", d.browser)
	require.Equal(t, "http://127.0.0.1:9515", d.endpoint)
}

func TestNamedBrowsersPassThrough(t *testing.T) {
	require.Equal(t, "chrome", NewWebDriver("http://127.0.0.1:9515", "chrome").browser)
	require.Equal(t, "firefox", NewWebDriver("http://127.0.0.1:4444", "firefox").browser)
}
