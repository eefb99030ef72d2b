package enrich

import (
	"strings"

	"github.com/Wuchinator/streamin-analytics/internal/event"
	"github.com/mssola/useragent"
)

// ClassifyUserAgent sets at most one of mobile/tablet/desktop. Bots and
// agents the parser cannot place get no device class.
func ClassifyUserAgent(raw string) event.ClientInfo {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return event.ClientInfo{}
	}

	ua := useragent.New(raw)
	name, version := ua.Browser()
	info := event.ClientInfo{
		Browser:  name,
		Version:  version,
		OS:       ua.OSInfo().Name,
		Platform: ua.Platform(),
	}

	if ua.Bot() {
		return info
	}

	switch {
	case isTablet(raw, ua):
		info.IsTablet = true
	case ua.Mobile():
		info.IsMobile = true
	case name != "" && info.OS != "":
		info.IsDesktop = true
	}

	return info
}

func isTablet(raw string, ua *useragent.UserAgent) bool {
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "ipad"), strings.Contains(lower, "tablet"), strings.Contains(lower, "kindle"), strings.Contains(lower, "silk/"):
		return true
	case strings.Contains(lower, "android") && !strings.Contains(lower, "mobile"):
		return true
	}
	return ua.Platform() == "iPad"
}
