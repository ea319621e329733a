package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/klokku/calcache/internal/config"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

var ErrUnauthenticated = errors.New("google calendar credentials are missing")

type CalendarItem struct {
	ID      string
	Summary string
}

// NewHTTPClient returns a client that refreshes access tokens from the
// configured refresh token. Obtaining the refresh token is left to the user.
func NewHTTPClient(ctx context.Context, cfg config.Google) (*http.Client, error) {
	if cfg.ClientId == "" || cfg.RefreshToken == "" {
		return nil, ErrUnauthenticated
	}
	oauthConfig := &oauth2.Config{
		ClientID:     cfg.ClientId,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gcal.CalendarEventsScope, gcal.CalendarReadonlyScope},
	}
	return oauthConfig.Client(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken}), nil
}

func NewService(ctx context.Context, cfg config.Google, opts ...option.ClientOption) (*gcal.Service, error) {
	client, err := NewHTTPClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	service, err := gcal.NewService(ctx, append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)...)
	if err != nil {
		err := fmt.Errorf("unable to create Calendar client: %v", err)
		log.Error(err)
		return nil, err
	}
	return service, nil
}

// ListCalendars returns the calendars visible to the account, which helps
// picking a calendar id for the configuration.
func ListCalendars(ctx context.Context, service *gcal.Service) ([]CalendarItem, error) {
	calendars, err := service.CalendarList.List().Context(ctx).Do()
	if err != nil {
		err := fmt.Errorf("unable to retrieve calendars from Google Calendar: %v", err)
		log.Error(err)
		return nil, err
	}
	items := make([]CalendarItem, 0, len(calendars.Items))
	for _, cal := range calendars.Items {
		items = append(items, CalendarItem{ID: cal.Id, Summary: cal.Summary})
	}
	return items, nil
}
