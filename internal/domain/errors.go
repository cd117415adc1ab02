package domain

import "errors"

var ErrNotFound = errors.New("not found")
var ErrConflict = errors.New("conflict")
var ErrInvalidInput = errors.New("invalid input")

// Component failure sentinels. Adapters wrap subprocess output with these
// so callers can tell which stage failed while the raw message stays
// available for failure classification.
var ErrDownloader = errors.New("downloader failed")
var ErrExtractor = errors.New("extractor failed")
var ErrRepository = errors.New("repository failure")
