package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/amishk599/jobharvest/internal/model"
)

// Ensure FreshRSS implements model.FeedProvider.
var _ model.FeedProvider = (*FreshRSS)(nil)

const freshRSSPageSize = 1000

// FreshRSS reads the Google Reader compatible reading list of a FreshRSS
// instance. Items carry their content, so no pages are fetched.
type FreshRSS struct {
	baseURL  string
	username string
	password string
	client   *http.Client
}

func NewFreshRSS(baseURL, username, password string, client *http.Client) *FreshRSS {
	return &FreshRSS{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		client:   client,
	}
}

type freshRSSStream struct {
	Items []freshRSSItem `json:"items"`
}

type freshRSSItem struct {
	Title     string `json:"title"`
	Published int64  `json:"published"`
	Canonical []struct {
		Href string `json:"href"`
	} `json:"canonical"`
	Summary struct {
		Content string `json:"content"`
	} `json:"summary"`
	Content struct {
		Content string `json:"content"`
	} `json:"content"`
	Origin struct {
		Title string `json:"title"`
	} `json:"origin"`
}

func (f *FreshRSS) FetchCandidates(ctx context.Context) ([]model.Posting, error) {
	q := url.Values{}
	q.Set("output", "json")
	q.Set("n", strconv.Itoa(freshRSSPageSize))
	target := f.baseURL + "/reader/api/0/stream/contents/reading-list?" + q.Encode()

	var stream freshRSSStream
	err := getJSON(ctx, f.client, target, func(req *http.Request) {
		req.SetBasicAuth(f.username, f.password)
	}, &stream)
	if err != nil {
		return nil, fmt.Errorf("freshrss reading list: %w", err)
	}

	postings := make([]model.Posting, 0, len(stream.Items))
	for _, item := range stream.Items {
		var link string
		if len(item.Canonical) > 0 {
			link = strings.TrimSpace(item.Canonical[0].Href)
		}
		title := strings.TrimSpace(item.Title)

		var published string
		if item.Published > 0 {
			published = strconv.FormatInt(item.Published, 10)
		}

		postings = append(postings, model.Posting{
			ID:          model.PostingID(title, link),
			Title:       title,
			Link:        link,
			Description: item.Summary.Content,
			Content:     item.Content.Content,
			Published:   published,
			Source:      item.Origin.Title,
			Category:    "general",
		})
	}
	return postings, nil
}
