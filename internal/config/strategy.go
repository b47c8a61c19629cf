package config

import (
	"strconv"
	"strings"

	"github.com/machichima/obstore/pkg/obserrors"
)

// StrategyMode selects how an S3-compatible backend enforces conditional
// writes (conditional put, copy-if-not-exists).
type StrategyMode uint8

const (
	// StrategyETag uses native If-Match / If-None-Match request headers.
	StrategyETag StrategyMode = iota
	// StrategyHeader sends a fixed header and treats any failure status as
	// a precondition failure.
	StrategyHeader
	// StrategyHeaderWithStatus sends a fixed header and matches a specific
	// failure status code.
	StrategyHeaderWithStatus
	// StrategyDynamo coordinates through an external lock table. Parsed and
	// carried for configuration parity; execution is up to the backend.
	StrategyDynamo
)

// WriteStrategy is the parsed form of the aws_conditional_put and
// aws_copy_if_not_exists option values.
type WriteStrategy struct {
	Mode        StrategyMode
	Header      string
	HeaderValue string
	Status      int
	Table       string
}

// ParseWriteStrategy parses a strategy value:
//
//	etag
//	header:<name>:<value>
//	header-with-status:<name>:<value>:<code>
//	dynamo:<table> or dynamo:<table>:<timeout-ms>
func ParseWriteStrategy(raw string) (WriteStrategy, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "etag") {
		return WriteStrategy{Mode: StrategyETag}, nil
	}

	parts := strings.Split(raw, ":")
	switch strings.ToLower(parts[0]) {
	case "header":
		if len(parts) != 3 {
			return WriteStrategy{}, obserrors.New(obserrors.Generic, "", "",
				"invalid header strategy %q: want header:<name>:<value>", raw)
		}
		return WriteStrategy{Mode: StrategyHeader, Header: parts[1], HeaderValue: parts[2]}, nil
	case "header-with-status":
		if len(parts) != 4 {
			return WriteStrategy{}, obserrors.New(obserrors.Generic, "", "",
				"invalid header-with-status strategy %q: want header-with-status:<name>:<value>:<code>", raw)
		}
		code, err := strconv.Atoi(parts[3])
		if err != nil || code < 100 || code > 599 {
			return WriteStrategy{}, obserrors.New(obserrors.Generic, "", "",
				"invalid status code in strategy %q", raw)
		}
		return WriteStrategy{Mode: StrategyHeaderWithStatus, Header: parts[1], HeaderValue: parts[2], Status: code}, nil
	case "dynamo":
		if len(parts) < 2 || len(parts) > 3 || parts[1] == "" {
			return WriteStrategy{}, obserrors.New(obserrors.Generic, "", "",
				"invalid dynamo strategy %q: want dynamo:<table>", raw)
		}
		return WriteStrategy{Mode: StrategyDynamo, Table: parts[1]}, nil
	}
	return WriteStrategy{}, obserrors.New(obserrors.Generic, "", "",
		"unknown conditional write strategy %q", raw)
}
