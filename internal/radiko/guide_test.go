package radiko

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stationListBody = `<?xml version="1.0" encoding="UTF-8"?>
<stations area_id="JP13" area_name="TOKYO JAPAN">
  <station>
    <id>TBS</id>
    <name>TBSラジオ</name>
    <ascii_name>TBS RADIO</ascii_name>
    <ruby>ティービーエスラジオ</ruby>
    <href>https://www.tbsradio.jp/</href>
    <logo width="224" height="100">https://radiko.jp/res/banner/TBS/small.png</logo>
    <logo width="448" height="200">https://radiko.jp/res/banner/TBS/large.png</logo>
    <areafree>1</areafree>
    <timefree>1</timefree>
  </station>
  <station>
    <id>QRR</id>
    <name>文化放送</name>
    <ascii_name>JOQR BUNKA HOSO</ascii_name>
    <ruby>ぶんかほうそう</ruby>
    <href>http://www.joqr.co.jp/</href>
    <areafree>1</areafree>
    <timefree>0</timefree>
  </station>
</stations>`

const programGuideBody = `<?xml version="1.0" encoding="UTF-8"?>
<radiko>
  <ttl>1800</ttl>
  <stations>
    <station id="TBS">
      <name>TBSラジオ</name>
      <progs>
        <date>20260310</date>
        <prog id="11111" ft="20260310050000" to="20260310063000" dur="5400">
          <title>おはよう一直線</title>
          <sub_title></sub_title>
          <desc>朝のニュース</desc>
          <info>&lt;p&gt;番組情報&lt;/p&gt;</info>
          <pfm>生島ヒロシ</pfm>
          <url>https://www.tbsradio.jp/ohayou/</url>
        </prog>
        <prog id="22222" ft="20260310063000" to="20260310110000" dur="16200">
          <title>森本毅郎・スタンバイ!</title>
          <pfm>森本毅郎</pfm>
          <url></url>
        </prog>
        <prog id="33333" ft="bogus" to="20260310120000">
          <title>壊れた番組</title>
        </prog>
      </progs>
    </station>
  </stations>
</radiko>`

func newGuideServer(t *testing.T, path, body string) *Guide {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return NewGuide(srv.URL, time.FixedZone("JST", 9*60*60))
}

func TestGuide_Stations(t *testing.T) {
	g := newGuideServer(t, "/station/list/JP13.xml", stationListBody)

	stations, err := g.Stations(context.Background(), "JP13")
	require.NoError(t, err)
	require.Len(t, stations, 2)

	tbs := stations[0]
	assert.Equal(t, "TBS", tbs.ID)
	assert.Equal(t, "TBSラジオ", tbs.Name)
	assert.Equal(t, "TBS RADIO", tbs.ASCIIName)
	assert.Equal(t, "JP13", tbs.AreaID)
	assert.Equal(t, "1", tbs.TimeFree)
	assert.Len(t, tbs.LogoURLs, 2)

	assert.Equal(t, "QRR", stations[1].ID)
	assert.Equal(t, "0", stations[1].TimeFree)
}

func TestGuide_ProgramsByDate(t *testing.T) {
	g := newGuideServer(t, "/program/station/date/20260310/TBS.xml", programGuideBody)

	programs, err := g.ProgramsByDate(context.Background(), "TBS", "20260310")
	require.NoError(t, err)
	// The entry with an unparsable timestamp is dropped, not fatal.
	require.Len(t, programs, 2)

	first := programs[0]
	assert.Equal(t, "おはよう一直線", first.Title)
	assert.Equal(t, "TBS", first.StationID)
	assert.Equal(t, "20260310050000", first.StartRaw)
	assert.Equal(t, "20260310063000", first.EndRaw)
	assert.Equal(t, "20260310", first.Date)
	assert.Equal(t, 5, first.Start.Hour())
	assert.Equal(t, 90*time.Minute, first.End.Sub(first.Start))
}

func TestGuide_CurrentProgram(t *testing.T) {
	g := newGuideServer(t, "/program/station/date/20260310/TBS.xml", programGuideBody)
	loc := time.FixedZone("JST", 9*60*60)

	now := time.Date(2026, 3, 10, 7, 0, 0, 0, loc)
	p, err := g.CurrentProgram(context.Background(), "TBS", now)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "森本毅郎・スタンバイ!", p.Title)

	// Nothing on air at this instant.
	night := time.Date(2026, 3, 10, 23, 0, 0, 0, loc)
	p, err = g.CurrentProgram(context.Background(), "TBS", night)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestGuide_FetchError(t *testing.T) {
	g := newGuideServer(t, "/station/list/JP13.xml", stationListBody)

	_, err := g.Stations(context.Background(), "JP99")
	assert.Error(t, err)
}
