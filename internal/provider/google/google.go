package google

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/briefcast-io/calsync/internal/provider"
)

const (
	// ProviderName tags connections backed by Google Calendar.
	ProviderName = "google"

	defaultRequestTimeout = 30 * time.Second
	eventsPageSize        = 250
)

// Client implements provider.CalendarProvider against Google's OAuth token
// endpoint and the Calendar v3 API.
type Client struct {
	cfg     *oauth2.Config
	timeout time.Duration
}

// New creates a Google calendar provider from OAuth client credentials.
// requestTimeout bounds every outbound call; zero selects the default.
func New(clientID, clientSecret, redirectURL string, requestTimeout time.Duration) *Client {
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	return &Client{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     google.Endpoint,
			Scopes:       []string{calendar.CalendarReadonlyScope},
		},
		timeout: requestTimeout,
	}
}

func (c *Client) Name() string {
	return ProviderName
}

// AuthCodeURL builds the consent URL for the initial user redirect.
// offline access is required to receive a refresh token.
func (c *Client) AuthCodeURL(state string) string {
	return c.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (c *Client) ExchangeCode(ctx context.Context, code string) (*provider.Tokens, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	tok, err := c.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, classifyError("code exchange", err)
	}
	return tokensFromOAuth2(tok), nil
}

func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*provider.Tokens, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	src := c.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, classifyError("token refresh", err)
	}
	return tokensFromOAuth2(tok), nil
}

func (c *Client) ListEvents(ctx context.Context, accessToken, calendarID string, w provider.Window) ([]*provider.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	svc, err := calendar.NewService(ctx, option.WithTokenSource(src))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	if calendarID == "" {
		calendarID = "primary"
	}

	var events []*provider.Event
	pageToken := ""
	for {
		call := svc.Events.List(calendarID).
			TimeMin(w.Start.Format(time.RFC3339)).
			TimeMax(w.End.Format(time.RFC3339)).
			SingleEvents(true).
			OrderBy("startTime").
			MaxResults(eventsPageSize).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, classifyError("events list", err)
		}

		for _, item := range resp.Items {
			ev, ok := convertEvent(item)
			if ok {
				events = append(events, ev)
			}
		}

		if resp.NextPageToken == "" {
			return events, nil
		}
		pageToken = resp.NextPageToken
	}
}

// convertEvent reduces a calendar API item to the sync engine's event shape.
// Cancelled events and events without a resolvable start time are skipped.
func convertEvent(item *calendar.Event) (*provider.Event, bool) {
	if item == nil || item.Status == "cancelled" {
		return nil, false
	}

	start, ok := eventTime(item.Start)
	if !ok {
		return nil, false
	}
	end, ok := eventTime(item.End)
	if !ok {
		end = start
	}

	ev := &provider.Event{
		ID:      item.Id,
		Summary: item.Summary,
		Start:   start,
		End:     end,
	}
	for _, att := range item.Attendees {
		if att == nil || att.Email == "" {
			continue
		}
		ev.Attendees = append(ev.Attendees, att.Email)
	}
	return ev, true
}

// eventTime resolves a start/end marker, handling both timed events
// (DateTime) and all-day events (Date).
func eventTime(t *calendar.EventDateTime) (time.Time, bool) {
	if t == nil {
		return time.Time{}, false
	}
	if t.DateTime != "" {
		parsed, err := time.Parse(time.RFC3339, t.DateTime)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	if t.Date != "" {
		parsed, err := time.Parse("2006-01-02", t.Date)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	return time.Time{}, false
}

// classifyError translates raw provider-library failures into the error
// taxonomy callers are written against. Raw errors never cross this boundary
// unclassified.
func classifyError(op string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.ErrorCode == "invalid_grant" {
			return fmt.Errorf("%s: %w: %s", op, provider.ErrInvalidGrant, retrieveErr.ErrorCode)
		}
		if retrieveErr.Response != nil && retryableStatus(retrieveErr.Response.StatusCode) {
			return fmt.Errorf("%s: %w: status %d", op, provider.ErrTransient, retrieveErr.Response.StatusCode)
		}
		return fmt.Errorf("%s: %w: %s", op, provider.ErrInvalidGrant, retrieveErr.ErrorCode)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if retryableStatus(apiErr.Code) {
			return fmt.Errorf("%s: %w: status %d", op, provider.ErrTransient, apiErr.Code)
		}
		if apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden {
			return fmt.Errorf("%s: %w: status %d", op, provider.ErrInvalidGrant, apiErr.Code)
		}
		return fmt.Errorf("%s: provider error: %w", op, err)
	}

	// Timeouts and connection resets count as transient.
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %v", op, provider.ErrTransient, err)
	}

	return fmt.Errorf("%s: provider error: %w", op, err)
}

func retryableStatus(code int) bool {
	return code >= http.StatusInternalServerError || code == http.StatusTooManyRequests
}

func tokensFromOAuth2(tok *oauth2.Token) *provider.Tokens {
	return &provider.Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
}
