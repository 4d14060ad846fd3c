package data

import (
	"errors"
	"strings"
	"testing"
)

func rows(ss ...URLStatus) []DownloadURL {
	out := make([]DownloadURL, 0, len(ss))
	for _, s := range ss {
		out = append(out, DownloadURL{Status: s})
	}
	return out
}

func TestRollupStatus(t *testing.T) {
	tests := []struct {
		name string
		in   []DownloadURL
		want DocumentStatus
	}{
		{"no children", nil, StatusUndownload},
		{"all undownload", rows(StatusUndownload, StatusUndownload), StatusUndownload},
		{"one started", rows(StatusUndownload, StatusDownloading), StatusDownloading},
		{"one finished one pending", rows(StatusDownloaded, StatusUndownload), StatusDownloading},
		{"lowest wins", rows(StatusDownloaded, StatusDownloading), StatusDownloading},
		{"all downloaded", rows(StatusDownloaded, StatusDownloaded), StatusDownloaded},
		{"transfered and downloaded", rows(StatusTransfered, StatusDownloaded), StatusDownloaded},
		{"all transfered", rows(StatusTransfered), StatusTransfered},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RollupStatus(tt.in); got != tt.want {
				t.Fatalf("RollupStatus = %s want %s", got, tt.want)
			}
		})
	}
}

func TestURLStatusAdvances(t *testing.T) {
	if !StatusUndownload.Advances(StatusDownloading) {
		t.Fatal("undownload -> downloading should advance")
	}
	if StatusDownloaded.Advances(StatusDownloading) {
		t.Fatal("downloaded -> downloading must not advance")
	}
	if StatusDownloading.Advances(StatusDownloading) {
		t.Fatal("same status is not an advance")
	}
	if URLStatus("bogus").Valid() {
		t.Fatal("unknown status reported valid")
	}
}

func TestMovieTransition(t *testing.T) {
	tests := []struct {
		from, to MovieStatus
		ok       bool
		msg      string
	}{
		{MovieUncheck, MovieSubscribed, true, ""},
		{"", MovieSubscribed, true, ""},
		{MovieSubscribed, MovieUncheck, true, ""},
		{MovieUncheck, MovieDownloading, true, ""},
		{MovieDownloading, MovieDownloaded, true, ""},
		{MovieDownloaded, MovieAdded, true, ""},
		{MovieSubscribed, MovieSubscribed, false, "already subscribed"},
		{MovieDownloading, MovieSubscribed, false, "cannot be subscribed"},
		{MovieUncheck, MovieUncheck, false, "only subscribed movies"},
		{MovieAdded, MovieDownloading, false, "invalid movie status transition"},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := tt.from.Transition(tt.to)
			if tt.ok {
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				return
			}
			if !errors.Is(err, ErrConflict) {
				t.Fatalf("expected ErrConflict got %v", err)
			}
			if !strings.Contains(err.Error(), tt.msg) {
				t.Fatalf("message %q does not contain %q", err.Error(), tt.msg)
			}
		})
	}
}

func TestErrorsUnwrap(t *testing.T) {
	if !errors.Is(Invalid("bad %d", 1), ErrValidation) {
		t.Fatal("ValidationError should match ErrValidation")
	}
	inner := errors.New("dial tcp")
	ue := &UpstreamError{Op: "preview", StatusCode: 502, Err: inner}
	if !errors.Is(ue, ErrUpstream) || !errors.Is(ue, inner) {
		t.Fatal("UpstreamError should match both sentinel and cause")
	}
	if got := ue.Error(); got != "preview: http 502: dial tcp" {
		t.Fatalf("Error() = %q", got)
	}
	if !errors.Is(&UnavailableError{Msg: "x"}, ErrDownloaderUnavailable) {
		t.Fatal("UnavailableError should match ErrDownloaderUnavailable")
	}
	if !errors.Is(Persistence("insert", inner), ErrPersistence) {
		t.Fatal("Persistence should wrap ErrPersistence")
	}
	if Persistence("noop", nil) != nil {
		t.Fatal("Persistence(nil) should be nil")
	}
}
