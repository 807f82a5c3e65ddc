package radiko

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"radio-recorder-backend/internal/logging"
)

// Authentication failure taxonomy. All are non-fatal to the caller: the
// coordinator records them as a failed attempt and moves on.
var (
	ErrMissingChallengeParams = errors.New("challenge response missing auth parameters")
	ErrChallengeRejected      = errors.New("partial key rejected by auth endpoint")
	ErrNoStreamAvailable      = errors.New("no playable stream url resolved")
)

// Session is the ephemeral result of one auth handshake. Created fresh per
// capture attempt and discarded when the attempt ends.
type Session struct {
	Token      string
	KeyOffset  int
	KeyLength  int
	PartialKey string
	Area       string
}

// Authenticator performs the two-step token handshake and resolves playlist
// URLs for live and timeshift playback.
type Authenticator struct {
	baseURL   string
	authKey   string
	userAgent string
	client    *http.Client
	loc       *time.Location
	log       zerolog.Logger
}

// NewAuthenticator creates an Authenticator. authKey is the shared secret
// embedded in the service's player; it changes with protocol revisions.
func NewAuthenticator(baseURL, authKey, userAgent string, loc *time.Location) *Authenticator {
	return &Authenticator{
		baseURL:   baseURL,
		authKey:   authKey,
		userAgent: userAgent,
		client:    &http.Client{Timeout: 30 * time.Second},
		loc:       loc,
		log:       logging.WithComponent("auth"),
	}
}

// UserAgent returns the synthetic user agent the service expects; capture
// processes must present the same one.
func (a *Authenticator) UserAgent() string {
	return a.userAgent
}

func (a *Authenticator) serviceHeaders(req *http.Request) {
	req.Header.Set("User-Agent", a.userAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("X-Radiko-App", "pc_html5")
	req.Header.Set("X-Radiko-App-Version", "0.0.1")
	req.Header.Set("X-Radiko-User", "dummy_user")
	req.Header.Set("X-Radiko-Device", "pc")
}

// Authenticate runs the challenge/confirm handshake and returns a fresh
// session. Step 1 yields a token plus a byte range into the shared secret;
// step 2 submits the base64 of that slice and grants an area.
func (a *Authenticator) Authenticate(ctx context.Context) (*Session, error) {
	session, err := a.requestChallenge(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.confirmChallenge(ctx, session); err != nil {
		return nil, err
	}
	a.log.Debug().Str("area", session.Area).Msg("authentication completed")
	return session, nil
}

func (a *Authenticator) requestChallenge(ctx context.Context) (*Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v2/api/auth1", nil)
	if err != nil {
		return nil, err
	}
	a.serviceHeaders(req)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth challenge request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	token := resp.Header.Get("X-Radiko-AuthToken")
	offsetStr := resp.Header.Get("X-Radiko-KeyOffset")
	lengthStr := resp.Header.Get("X-Radiko-KeyLength")
	if token == "" || offsetStr == "" || lengthStr == "" {
		return nil, ErrMissingChallengeParams
	}
	offset, err := strconv.Atoi(offsetStr)
	if err != nil || offset < 0 {
		return nil, fmt.Errorf("%w: bad key offset %q", ErrMissingChallengeParams, offsetStr)
	}
	length, err := strconv.Atoi(lengthStr)
	if err != nil || length < 0 {
		return nil, fmt.Errorf("%w: bad key length %q", ErrMissingChallengeParams, lengthStr)
	}
	// Compared this way round so a huge offset or length cannot overflow
	// the sum and slip past the check.
	if offset > len(a.authKey) || length > len(a.authKey)-offset {
		return nil, fmt.Errorf("%w: key range offset %d length %d exceeds secret", ErrMissingChallengeParams, offset, length)
	}

	return &Session{
		Token:      token,
		KeyOffset:  offset,
		KeyLength:  length,
		PartialKey: base64.StdEncoding.EncodeToString([]byte(a.authKey[offset : offset+length])),
	}, nil
}

func (a *Authenticator) confirmChallenge(ctx context.Context, session *Session) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v2/api/auth2", nil)
	if err != nil {
		return err
	}
	a.serviceHeaders(req)
	req.Header.Set("X-Radiko-AuthToken", session.Token)
	req.Header.Set("X-Radiko-PartialKey", session.PartialKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("auth confirm request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrChallengeRejected, resp.StatusCode)
	}
	session.Area = strings.TrimSpace(string(body))
	return nil
}

// StreamURL resolves the live playlist URL for a station.
func (a *Authenticator) StreamURL(ctx context.Context, stationID string, session *Session) (string, error) {
	params := url.Values{}
	params.Set("station_id", stationID)
	params.Set("l", "15")
	params.Set("lsid", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("type", "b")
	return a.resolvePlaylist(ctx, params, session)
}

// TimeshiftStreamURL resolves the catch-up playlist URL for a finished
// program window, encoded in the service's 14-digit local-time format.
func (a *Authenticator) TimeshiftStreamURL(ctx context.Context, stationID string, start, end time.Time, session *Session) (string, error) {
	startStr := FormatTime(start, a.loc)
	endStr := FormatTime(end, a.loc)
	params := url.Values{}
	params.Set("station_id", stationID)
	params.Set("l", "15")
	params.Set("lsid", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("type", "b")
	params.Set("start_at", startStr)
	params.Set("ft", startStr)
	params.Set("to", endStr)
	return a.resolvePlaylist(ctx, params, session)
}

// resolvePlaylist requests the playlist endpoint and returns the playable
// URL: the redirect target when the service redirects, otherwise the first
// absolute URL inside the returned master playlist.
func (a *Authenticator) resolvePlaylist(ctx context.Context, params url.Values, session *Session) (string, error) {
	requestURL := a.baseURL + "/v2/api/ts/playlist.m3u8?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", a.userAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("X-Radiko-AuthToken", session.Token)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("playlist request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("%w: status %d", ErrNoStreamAvailable, resp.StatusCode)
	}

	if final := resp.Request.URL.String(); final != requestURL {
		return final, nil
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "https://") || strings.HasPrefix(line, "http://") {
			return line, nil
		}
	}
	return "", ErrNoStreamAvailable
}
