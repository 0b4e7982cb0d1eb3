package datasource

import (
	"os"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/moznion/go-optional"
	"github.com/tradeforge-dev/backsim/internal/types"
	"github.com/tradeforge-dev/backsim/pkg/errors"
)

// CSVSource loads bars from a CSV file with RFC3339 timestamps. The file is
// read once and cached for repeated Load calls.
type CSVSource struct {
	filePath string
	cache    []types.Bar
}

// NewCSVSource creates a source over the given CSV file.
func NewCSVSource(filePath string) *CSVSource {
	return &CSVSource{filePath: filePath}
}

// Load reads the file on first use and returns the bars inside the window.
func (s *CSVSource) Load(startTime, endTime optional.Option[time.Time]) ([]types.Bar, error) {
	if s.cache == nil {
		if err := s.loadFile(); err != nil {
			return nil, err
		}
	}

	return filterWindow(s.cache, startTime, endTime), nil
}

func (s *CSVSource) loadFile() error {
	csvFile, err := os.Open(s.filePath)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeDataNotFound, err, "failed to open CSV file %s", s.filePath)
	}
	defer csvFile.Close()

	var bars []types.Bar
	if err := gocsv.UnmarshalFile(csvFile, &bars); err != nil {
		return errors.Wrapf(errors.ErrCodeDataParse, err, "failed to parse CSV file %s", s.filePath)
	}

	if len(bars) == 0 {
		return errors.Newf(errors.ErrCodeNoBarsLoaded, "CSV file %s contains no bars", s.filePath)
	}

	if err := verifyOrdered(bars); err != nil {
		return err
	}

	s.cache = bars

	return nil
}

// ClearCache drops the cached bars so the next Load re-reads the file.
func (s *CSVSource) ClearCache() {
	s.cache = nil
}
