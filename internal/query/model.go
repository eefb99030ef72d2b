package query

import "github.com/Wuchinator/streamin-analytics/internal/analytics"

type OverviewResponse struct {
	Overview     *analytics.Overview      `json:"overview"`
	TopCountries []analytics.CountryCount `json:"topCountries"`
}
