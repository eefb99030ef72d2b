package enrich

import (
	"context"
	"fmt"
	"net"

	"github.com/Wuchinator/streamin-analytics/internal/event"
	"github.com/oschwald/geoip2-golang"
)

// MaxMindProvider reads a local GeoLite2/GeoIP2 City database.
type MaxMindProvider struct {
	reader *geoip2.Reader
}

func OpenMaxMindProvider(path string) (*MaxMindProvider, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open geoip database %q: %w", path, err)
	}
	return &MaxMindProvider{reader: reader}, nil
}

func (p *MaxMindProvider) Name() string {
	return "maxmind"
}

func (p *MaxMindProvider) Lookup(_ context.Context, ip string) (*event.Geo, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, fmt.Errorf("%w: invalid address %q", ErrGeoNotFound, ip)
	}

	record, err := p.reader.City(parsed)
	if err != nil {
		return nil, fmt.Errorf("maxmind lookup: %w", err)
	}
	if record.Country.IsoCode == "" {
		return nil, ErrGeoNotFound
	}

	geo := &event.Geo{
		Country:  record.Country.IsoCode,
		City:     record.City.Names["en"],
		Timezone: record.Location.TimeZone,
	}
	if len(record.Subdivisions) > 0 {
		geo.Region = record.Subdivisions[0].IsoCode
	}
	if record.Location.Latitude != 0 || record.Location.Longitude != 0 {
		geo.LL = &[2]float64{record.Location.Latitude, record.Location.Longitude}
	}
	return geo, nil
}

func (p *MaxMindProvider) Close() error {
	return p.reader.Close()
}
