package radiko

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"radio-recorder-backend/internal/logging"
)

// Station is one broadcast station from the program directory.
type Station struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	ASCIIName  string   `json:"ascii_name"`
	Ruby       string   `json:"ruby"`
	Href       string   `json:"href"`
	AreaID     string   `json:"area_id,omitempty"`
	RegionName string   `json:"region_name,omitempty"`
	AreaFree   string   `json:"areafree"`
	TimeFree   string   `json:"timefree"`
	LogoURLs   []string `json:"logo_urls"`
}

// Program is one guide entry. Start/End carry the parsed local instants;
// StartRaw/EndRaw keep the service's 14-digit strings losslessly.
type Program struct {
	ID          string    `json:"id"`
	StationID   string    `json:"station_id"`
	Title       string    `json:"title"`
	SubTitle    string    `json:"sub_title"`
	Description string    `json:"desc"`
	Info        string    `json:"info"`
	Performer   string    `json:"pfm"`
	URL         string    `json:"url"`
	StartRaw    string    `json:"start_time"`
	EndRaw      string    `json:"end_time"`
	Start       time.Time `json:"start_time_iso"`
	End         time.Time `json:"end_time_iso"`
	Date        string    `json:"date"`
}

// Guide fetches station lists and program metadata from the directory's
// XML feeds. Read-only; safe for concurrent use.
type Guide struct {
	baseURL string
	client  *http.Client
	loc     *time.Location
	log     zerolog.Logger
}

// NewGuide creates a program directory client. baseURL is the versioned API
// root (e.g. https://radiko.jp/v3).
func NewGuide(baseURL string, loc *time.Location) *Guide {
	return &Guide{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		loc:     loc,
		log:     logging.WithComponent("guide"),
	}
}

type stationXML struct {
	ID        string `xml:"id"`
	Name      string `xml:"name"`
	ASCIIName string `xml:"ascii_name"`
	Ruby      string `xml:"ruby"`
	Href      string `xml:"href"`
	AreaFree  string `xml:"areafree"`
	TimeFree  string `xml:"timefree"`
	Logos     []struct {
		URL string `xml:",chardata"`
	} `xml:"logo"`
}

type stationListXML struct {
	XMLName  xml.Name     `xml:"stations"`
	AreaID   string       `xml:"area_id,attr"`
	Stations []stationXML `xml:"station"`
}

type regionFullXML struct {
	XMLName xml.Name `xml:"region_full"`
	Regions []struct {
		AreaID     string       `xml:"area_id,attr"`
		RegionName string       `xml:"region_name,attr"`
		Stations   []stationXML `xml:"station"`
	} `xml:"region"`
}

type progXML struct {
	ID        string `xml:"id,attr"`
	FT        string `xml:"ft,attr"`
	To        string `xml:"to,attr"`
	Title     string `xml:"title"`
	SubTitle  string `xml:"sub_title"`
	Desc      string `xml:"desc"`
	Info      string `xml:"info"`
	Performer string `xml:"pfm"`
	URL       string `xml:"url"`
}

type progsXML struct {
	Date  string    `xml:"date"`
	Progs []progXML `xml:"prog"`
}

type programGuideXML struct {
	XMLName  xml.Name `xml:"radiko"`
	Stations struct {
		Station []struct {
			ID    string     `xml:"id,attr"`
			Name  string     `xml:"name"`
			Progs []progsXML `xml:"progs"`
		} `xml:"station"`
	} `xml:"stations"`
}

// Stations returns the station list for one area code (e.g. JP13).
func (g *Guide) Stations(ctx context.Context, areaCode string) ([]Station, error) {
	url := fmt.Sprintf("%s/station/list/%s.xml", g.baseURL, areaCode)
	var doc stationListXML
	if err := g.fetchXML(ctx, url, &doc); err != nil {
		return nil, err
	}
	out := make([]Station, 0, len(doc.Stations))
	for _, s := range doc.Stations {
		out = append(out, stationFromXML(s, doc.AreaID, ""))
	}
	return out, nil
}

// AllStations returns every station across all regions.
func (g *Guide) AllStations(ctx context.Context) ([]Station, error) {
	url := fmt.Sprintf("%s/station/region/full.xml", g.baseURL)
	var doc regionFullXML
	if err := g.fetchXML(ctx, url, &doc); err != nil {
		return nil, err
	}
	var out []Station
	for _, region := range doc.Regions {
		for _, s := range region.Stations {
			out = append(out, stationFromXML(s, region.AreaID, region.RegionName))
		}
	}
	return out, nil
}

// ProgramsByDate returns the guide for one station on a YYYYMMDD date.
func (g *Guide) ProgramsByDate(ctx context.Context, stationID, date string) ([]Program, error) {
	url := fmt.Sprintf("%s/program/station/date/%s/%s.xml", g.baseURL, date, stationID)
	return g.fetchPrograms(ctx, url, stationID)
}

// WeeklyPrograms returns one week of guide entries for a station.
func (g *Guide) WeeklyPrograms(ctx context.Context, stationID string) ([]Program, error) {
	url := fmt.Sprintf("%s/program/station/weekly/%s.xml", g.baseURL, stationID)
	return g.fetchPrograms(ctx, url, stationID)
}

// CurrentProgram returns the program airing on the station at now,
// or nil when the guide has no entry covering that instant.
func (g *Guide) CurrentProgram(ctx context.Context, stationID string, now time.Time) (*Program, error) {
	programs, err := g.ProgramsByDate(ctx, stationID, FormatDate(now, g.loc))
	if err != nil {
		return nil, err
	}
	for i := range programs {
		p := &programs[i]
		if !now.Before(p.Start) && now.Before(p.End) {
			return p, nil
		}
	}
	return nil, nil
}

func (g *Guide) fetchPrograms(ctx context.Context, url, stationID string) ([]Program, error) {
	var doc programGuideXML
	if err := g.fetchXML(ctx, url, &doc); err != nil {
		return nil, err
	}
	var out []Program
	for _, station := range doc.Stations.Station {
		for _, day := range station.Progs {
			for _, prog := range day.Progs {
				p := Program{
					ID:          prog.ID,
					StationID:   stationID,
					Title:       prog.Title,
					SubTitle:    prog.SubTitle,
					Description: prog.Desc,
					Info:        prog.Info,
					Performer:   prog.Performer,
					URL:         prog.URL,
					StartRaw:    prog.FT,
					EndRaw:      prog.To,
					Date:        day.Date,
				}
				if t, err := ParseTime(prog.FT, g.loc); err == nil {
					p.Start = t
				} else {
					g.log.Warn().Str("station", stationID).Str("ft", prog.FT).Msg("unparsable program start time")
					continue
				}
				if t, err := ParseTime(prog.To, g.loc); err == nil {
					p.End = t
				} else {
					g.log.Warn().Str("station", stationID).Str("to", prog.To).Msg("unparsable program end time")
					continue
				}
				out = append(out, p)
			}
		}
	}
	return out, nil
}

func (g *Guide) fetchXML(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: received non-200 status code: %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if err := xml.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to unmarshal guide response: %w", err)
	}
	return nil
}

func stationFromXML(s stationXML, areaID, regionName string) Station {
	logos := make([]string, 0, len(s.Logos))
	for _, l := range s.Logos {
		logos = append(logos, l.URL)
	}
	return Station{
		ID:         s.ID,
		Name:       s.Name,
		ASCIIName:  s.ASCIIName,
		Ruby:       s.Ruby,
		Href:       s.Href,
		AreaID:     areaID,
		RegionName: regionName,
		AreaFree:   s.AreaFree,
		TimeFree:   s.TimeFree,
		LogoURLs:   logos,
	}
}
