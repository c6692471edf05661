// Package weburl builds the concrete URL used to load a widget into an
// iframe or webview, substituting the placeholders a widget's raw url may
// contain. Grounded on WidgetSettings::get_url; this is host-application
// glue, never imported by pkg/widget/machine or the other core packages.
package weburl

import (
	"net/url"
	"strconv"
	"strings"
)

// Settings describes how to fill in a widget's templated url.
type Settings struct {
	WidgetID   string
	ParentURL  string
	UserID     string
	Lang       string
	FontScale  float64
	AnalyticsID string
}

// Build substitutes $widgetId, $parentUrl, $userId, $lang, $fontScale, and
// $analyticsID in rawURL with the values in s. $parentUrl is percent-encoded
// since it is itself a full URL embedded as a query value.
func Build(rawURL string, s Settings) string {
	r := strings.NewReplacer(
		"$widgetId", s.WidgetID,
		"$parentUrl", url.QueryEscape(s.ParentURL),
		"$userId", s.UserID,
		"$lang", s.Lang,
		"$fontScale", strconv.FormatFloat(s.FontScale, 'f', -1, 64),
		"$analyticsID", s.AnalyticsID,
	)
	return r.Replace(rawURL)
}
