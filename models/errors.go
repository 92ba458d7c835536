package models

import "errors"

var (
	// ErrDuplicateFeed is returned when a feed with the same URL already
	// exists and the ingest was not forced.
	ErrDuplicateFeed = errors.New("feed already exists or missing url")

	// ErrUnknownAPIKey is returned when no user matches the presented key.
	// The sync endpoint maps it to auth=0 rather than an HTTP error.
	ErrUnknownAPIKey = errors.New("invalid api key")

	// ErrEmptySelection is returned when an interactive choice would be
	// offered over zero candidates.
	ErrEmptySelection = errors.New("empty list to determine")

	// ErrRelationExists is returned when attaching an already attached
	// feed/group or feed/user pair.
	ErrRelationExists = errors.New("relation already exists")
)
