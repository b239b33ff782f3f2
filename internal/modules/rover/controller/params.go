package controller

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

const (
	defaultHistoryLimit = 300
	maxHistoryLimit     = 5000
	defaultExportLimit  = 2000
	minExportLimit      = 10
	maxExportLimit      = 20000
	defaultSummaryMins  = 60
	maxWindowMinutes    = 1440
)

// parseHistoryQuery validates limit (1..5000, default 300) and the optional
// minutes window (1..1440; 0 means unbounded).
func parseHistoryQuery(r *http.Request) (limit, minutes int, err error) {
	limit, err = parseBoundedInt(r, "limit", defaultHistoryLimit, 1, maxHistoryLimit)
	if err != nil {
		return 0, 0, err
	}
	minutes, err = parseWindow(r)
	if err != nil {
		return 0, 0, err
	}
	return limit, minutes, nil
}

// parseExportQuery validates limit (10..20000, default 2000) and the optional
// minutes window.
func parseExportQuery(r *http.Request) (limit, minutes int, err error) {
	limit, err = parseBoundedInt(r, "limit", defaultExportLimit, minExportLimit, maxExportLimit)
	if err != nil {
		return 0, 0, err
	}
	minutes, err = parseWindow(r)
	if err != nil {
		return 0, 0, err
	}
	return limit, minutes, nil
}

// parseSummaryQuery validates minutes (1..1440, default 60).
func parseSummaryQuery(r *http.Request) (minutes int, err error) {
	return parseBoundedInt(r, "minutes", defaultSummaryMins, 1, maxWindowMinutes)
}

func parseWindow(r *http.Request) (int, error) {
	if r.URL.Query().Get("minutes") == "" {
		return 0, nil
	}
	return parseBoundedInt(r, "minutes", 0, 1, maxWindowMinutes)
}

func parseBoundedInt(r *http.Request, name string, def, lo, hi int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.New("invalid '" + name + "' (expected integer)")
	}
	if n < lo {
		return 0, fmt.Errorf("'%s' must be >= %d", name, lo)
	}
	if n > hi {
		return 0, fmt.Errorf("'%s' must be <= %d", name, hi)
	}
	return n, nil
}
