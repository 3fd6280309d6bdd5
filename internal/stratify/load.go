// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stratify

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/apex/log"
	"github.com/biter777/countries"
	"golang.org/x/text/encoding/charmap"

	"github.com/pdiddy/resurgence/internal/openalex"
	"github.com/pdiddy/resurgence/internal/tabular"
	"github.com/pdiddy/resurgence/pkg/types"
)

// ISO3 maps an alpha-2 code to alpha-3. Unknown codes map to "".
func ISO3(iso2 string) string {
	iso2 = strings.ToUpper(strings.TrimSpace(iso2))
	if len(iso2) != 2 {
		return ""
	}
	c := countries.ByName(iso2)
	if c == countries.Unknown || c.Alpha2() != iso2 {
		return ""
	}
	return c.Alpha3()
}

// CountryPublications converts an authorships.countries group_by response.
// Keys without a known alpha-2 code keep an empty CountryCode so the join
// reports them as unmatched.
func CountryPublications(resp *openalex.GroupByResponse) []types.CountryPublication {
	out := make([]types.CountryPublication, 0, len(resp.GroupBy))
	for _, g := range resp.GroupBy {
		iso2 := openalex.CountryISO2(g.Key)
		out = append(out, types.CountryPublication{
			CountryCode:      ISO3(iso2),
			ISO2:             iso2,
			Name:             g.KeyDisplayName,
			PublicationCount: g.Count,
		})
	}
	return out
}

// LoadDevelopmentIndex reads the UNDP composite indices time series, which
// is Latin-1 encoded. Rows whose iso3 is not a three-letter code are
// regional aggregates and are skipped. Rows without a value for the
// requested year are dropped with a warning. Tiers are assigned from the
// value with th; a disagreeing hdicode is only logged.
func LoadDevelopmentIndex(path string, year int, th types.TierThresholds, logger log.Interface) ([]types.DevelopmentIndexRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	col := fmt.Sprintf("hdi_%d", year)
	r, err := tabular.NewReader(path, charmap.ISO8859_1.NewDecoder().Reader(f), "iso3", "country", "hdicode", col)
	if err != nil {
		return nil, err
	}

	var out []types.DevelopmentIndexRecord
	var aggregates, missing, recoded int
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		code := rec.Get("iso3")
		if len(code) != 3 {
			aggregates++
			continue
		}
		raw := rec.Get(col)
		if raw == "" {
			missing++
			logger.WithFields(log.Fields{"iso3": code, "country": rec.Get("country")}).Debug("no development index value")
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, &types.ParseError{File: path, Line: rec.Line, Field: col, Err: err}
		}
		d := types.DevelopmentIndexRecord{
			CountryCode: code,
			Country:     rec.Get("country"),
			IndexValue:  v,
			Tier:        types.TierFor(v, th),
		}
		if published, err := types.ParseTier(rec.Get("hdicode")); err == nil && published != d.Tier {
			recoded++
			logger.WithFields(log.Fields{
				"iso3":      code,
				"hdicode":   published,
				"threshold": d.Tier,
			}).Debug("hdicode differs from threshold tier")
		}
		out = append(out, d)
	}

	if len(out) == 0 {
		return nil, &types.ParseError{File: path, Field: col, Err: errors.New("no countries with a development index value")}
	}
	entry := logger.WithFields(log.Fields{
		"countries":  len(out),
		"aggregates": aggregates,
		"missing":    missing,
		"recoded":    recoded,
	})
	if missing > 0 {
		entry.Warn("countries without a development index value dropped")
	} else {
		entry.Debug("loaded development index")
	}
	return out, nil
}

// LoadRegionalGrowth reads the regional growth reference table (Region,
// CT_Growth, GenAI_Growth and an optional Source column).
func LoadRegionalGrowth(path string) ([]types.RegionalGrowthRecord, error) {
	var out []types.RegionalGrowthRecord
	err := tabular.ReadFile(path, func(r *tabular.Reader) error {
		for {
			rec, err := r.Read()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			ct, err := rec.Float("CT_Growth")
			if err != nil {
				return err
			}
			genai, err := rec.Float("GenAI_Growth")
			if err != nil {
				return err
			}
			out = append(out, types.RegionalGrowthRecord{
				Region:         rec.Get("Region"),
				CTGrowthPct:    ct,
				GenAIGrowthPct: genai,
				Source:         rec.Get("Source"),
			})
		}
	}, "Region", "CT_Growth", "GenAI_Growth")
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, &types.ParseError{File: path, Err: errors.New("no regions")}
	}
	return out, nil
}
