package data

import "fmt"

type URLStatus string

// DocumentStatus shares the URL vocabulary; a document's status is a rollup
// of its children.
type DocumentStatus = URLStatus

const (
	StatusUndownload  URLStatus = "undownload"
	StatusDownloading URLStatus = "downloading"
	StatusDownloaded  URLStatus = "downloaded"
	StatusTransfered  URLStatus = "transfered"
)

// urlRank orders URL statuses so transitions only move forward.
var urlRank = map[URLStatus]int{
	StatusUndownload:  0,
	StatusDownloading: 1,
	StatusDownloaded:  2,
	StatusTransfered:  3,
}

func (s URLStatus) Valid() bool {
	_, ok := urlRank[s]
	return ok
}

// Advances reports whether moving from s to next is a forward transition.
func (s URLStatus) Advances(next URLStatus) bool {
	return urlRank[next] > urlRank[s]
}

// RollupStatus derives a document status from its URL rows: the document is
// only as far along as its least advanced child.
func RollupStatus(urls []DownloadURL) DocumentStatus {
	if len(urls) == 0 {
		return StatusUndownload
	}
	lowest := StatusTransfered
	anyStarted := false
	for _, u := range urls {
		if urlRank[u.Status] < urlRank[lowest] {
			lowest = u.Status
		}
		if urlRank[u.Status] >= urlRank[StatusDownloading] {
			anyStarted = true
		}
	}
	if lowest == StatusUndownload && anyStarted {
		return StatusDownloading
	}
	return lowest
}

type MovieStatus string

const (
	MovieUncheck     MovieStatus = "uncheck"
	MovieSubscribed  MovieStatus = "subscribed"
	MovieDownloading MovieStatus = "downloading"
	MovieDownloaded  MovieStatus = "downloaded"
	MovieAdded       MovieStatus = "added"
)

var movieTransitions = map[MovieStatus][]MovieStatus{
	MovieUncheck:     {MovieSubscribed, MovieDownloading},
	MovieSubscribed:  {MovieUncheck, MovieDownloading},
	MovieDownloading: {MovieDownloaded},
	MovieDownloaded:  {MovieAdded},
	MovieAdded:       nil,
}

func (s MovieStatus) Valid() bool {
	_, ok := movieTransitions[s]
	return ok
}

func (s MovieStatus) CanTransition(to MovieStatus) bool {
	for _, next := range movieTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates a movie status change and returns a ConflictError that
// names both states when the move is not allowed.
func (s MovieStatus) Transition(to MovieStatus) error {
	if s == "" {
		s = MovieUncheck
	}
	if s.CanTransition(to) {
		return nil
	}
	switch {
	case to == MovieSubscribed && s == MovieSubscribed:
		return &ConflictError{Msg: "movie is already subscribed"}
	case to == MovieSubscribed:
		return &ConflictError{Msg: fmt.Sprintf("movie is %s and cannot be subscribed", s)}
	case to == MovieUncheck:
		return &ConflictError{Msg: fmt.Sprintf("movie is %s, only subscribed movies can be unsubscribed", s)}
	}
	return &ConflictError{Msg: fmt.Sprintf("invalid movie status transition %s -> %s", s, to)}
}
