package isolate

import (
	"strconv"
	"strings"

	appErr "judgelet/pkg/errors"
)

// Meta is the parsed form of the isolator's meta file.
type Meta struct {
	TimeSec     float64
	WallTimeSec float64
	MemoryKB    int64
	ExitCode    int
	Status      string
}

// ParseMeta reads the newline-separated key:value meta text. Keys other than
// time, time-wall, max-rss, exitcode and status are ignored; blank lines are
// skipped. A value that fails to parse makes the whole record unusable.
func ParseMeta(text string) (Meta, error) {
	var meta Meta
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		var err error
		switch key {
		case "time":
			meta.TimeSec, err = strconv.ParseFloat(value, 64)
		case "time-wall":
			meta.WallTimeSec, err = strconv.ParseFloat(value, 64)
		case "max-rss":
			meta.MemoryKB, err = strconv.ParseInt(value, 10, 64)
		case "exitcode":
			meta.ExitCode, err = strconv.Atoi(value)
		case "status":
			meta.Status = value
		}
		if err != nil {
			return Meta{}, appErr.Wrapf(err, appErr.MetaUnparsable, "bad meta value %s=%q", key, value)
		}
	}
	return meta, nil
}
