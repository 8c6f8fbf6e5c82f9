package gallery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bull/csa-content-sync/internal/catalog"
)

// ViewSource is what the public gallery listing reads.
type ViewSource interface {
	List(ctx context.Context) ([]catalog.Image, error)
	ListEvents(ctx context.Context) ([]catalog.Event, error)
}

// View is the public gallery: images grouped by folder and linked to events.
type View struct {
	Events      []EventGroup `json:"events"`
	Count       int          `json:"count"`
	TotalImages int          `json:"total_images"`
}

// EventGroup is one gallery section.
type EventGroup struct {
	ID         string   `json:"id"`
	EventTitle string   `json:"eventTitle"`
	Date       string   `json:"date"`
	Location   string   `json:"location"`
	Tags       []string `json:"tags"`
	Photos     []Photo  `json:"photos"`
}

// Photo is one image of a section.
type Photo struct {
	URL       string    `json:"url"`
	Name      string    `json:"name"`
	Caption   string    `json:"caption"`
	CreatedAt time.Time `json:"created_at"`
}

// BuildView groups catalog images by folder, in order of each folder's
// first image. A folder is labelled with the event it matches by name,
// else the event any of its images is linked to, else the folder name.
// Drive URLs are rewritten to proxy paths and invalid URLs are dropped.
func BuildView(ctx context.Context, src ViewSource, proxyPrefix string) (*View, error) {
	images, err := src.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	events, err := src.ListEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	byID := make(map[string]catalog.Event, len(events))
	for _, e := range events {
		byID[e.ID] = e
	}

	var order []string
	photos := make(map[string][]Photo)
	linked := make(map[string]string)
	for _, img := range images {
		folder := strings.TrimSpace(img.FolderName)
		if folder == "" {
			continue
		}
		if _, ok := photos[folder]; !ok {
			order = append(order, folder)
			photos[folder] = []Photo{}
		}
		if img.EventID != "" && linked[folder] == "" {
			linked[folder] = img.EventID
		}

		url := ProxyURL(strings.TrimSpace(img.ImageURL), proxyPrefix)
		if !validPhotoURL(url) {
			continue
		}
		photos[folder] = append(photos[folder], Photo{
			URL:       url,
			Name:      img.Filename,
			Caption:   img.Caption,
			CreatedAt: img.CreatedAt,
		})
	}

	view := &View{Events: []EventGroup{}}
	for _, folder := range order {
		ps := photos[folder]
		if len(ps) == 0 {
			continue
		}

		group := EventGroup{
			ID:         "gallery-" + strings.ReplaceAll(strings.ToLower(folder), " ", "-"),
			EventTitle: folder,
			Date:       ps[0].CreatedAt.UTC().Format(time.DateOnly),
			Tags:       []string{},
			Photos:     ps,
		}

		ev, ok := MatchEvent(folder, events)
		if !ok {
			ev, ok = byID[linked[folder]]
		}
		if ok {
			group.ID = "gallery-" + ev.ID
			group.EventTitle = ev.Title
			group.Date = ev.Date()
			group.Location = ev.Location
			if ev.Tags != nil {
				group.Tags = ev.Tags
			}
		}

		view.Events = append(view.Events, group)
		view.TotalImages += len(ps)
	}
	view.Count = len(view.Events)
	return view, nil
}
