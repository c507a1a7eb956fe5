package autocomplete

import (
	"bufio"
	"encoding/binary"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	apperrors "github.com/papyrus-search/papyrus/pkg/errors"
	"github.com/papyrus-search/papyrus/pkg/logger"
	"github.com/papyrus-search/papyrus/pkg/metrics"
)

// Server answers prefix queries from the built table. The table is immutable
// after Load, so the server is safe for concurrent use.
type Server struct {
	table     map[string][]Suggestion
	maxPrefix int
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerMetrics attaches Prometheus collectors.
func WithServerMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// Load reads the table from path into memory.
func Load(path string, opts ...ServerOption) (*Server, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.Newf(apperrors.ErrMissingInput, "autocomplete index %s: %v", path, err)
		}
		return nil, apperrors.Newf(apperrors.ErrIO, "opening %s: %v", path, err)
	}
	defer f.Close()

	s := &Server{logger: logger.WithComponent("autocomplete")}
	for _, opt := range opts {
		opt(s)
	}

	r := bufio.NewReader(f)
	read := func(v interface{}) error {
		return binary.Read(r, binary.LittleEndian, v)
	}
	corrupt := func(err error) error {
		return apperrors.Newf(apperrors.ErrCorruptData, "autocomplete index %s: %v", path, err)
	}

	var prefixCount uint32
	if err := read(&prefixCount); err != nil {
		return nil, corrupt(err)
	}
	s.table = make(map[string][]Suggestion, prefixCount)
	for i := uint32(0); i < prefixCount; i++ {
		prefix, err := readString16(r)
		if err != nil {
			return nil, corrupt(err)
		}
		var entryCount uint16
		if err := read(&entryCount); err != nil {
			return nil, corrupt(err)
		}
		entries := make([]Suggestion, entryCount)
		for j := range entries {
			term, err := readString16(r)
			if err != nil {
				return nil, corrupt(err)
			}
			entries[j].Term = term
			if err := read(&entries[j].Popularity); err != nil {
				return nil, corrupt(err)
			}
			if err := read(&entries[j].WordID); err != nil {
				return nil, corrupt(err)
			}
			if err := read(&entries[j].DF); err != nil {
				return nil, corrupt(err)
			}
			if err := read(&entries[j].CF); err != nil {
				return nil, corrupt(err)
			}
		}
		s.table[prefix] = entries
		if len(prefix) > s.maxPrefix {
			s.maxPrefix = len(prefix)
		}
	}
	if _, err := r.ReadByte(); err != io.EOF {
		return nil, corrupt(io.ErrUnexpectedEOF)
	}

	s.logger.Info("autocomplete table loaded", "path", path, "prefixes", len(s.table))
	return s, nil
}

// MaxPrefix returns the longest prefix length stored in the table.
func (s *Server) MaxPrefix() int {
	return s.maxPrefix
}

// Prefixes returns the number of stored prefixes.
func (s *Server) Prefixes() int {
	return len(s.table)
}

// Suggest returns up to limit completions for the prefix. The prefix is
// lowercased; one longer than the table's max depth is truncated to it. A
// prefix shorter than two bytes yields nothing.
func (s *Server) Suggest(prefix string, limit int) []Suggestion {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.AutocompleteLatency.Observe(time.Since(start).Seconds())
			s.metrics.SuggestRequestsTotal.Inc()
		}
	}()

	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if len(prefix) < MinPrefixLen {
		return nil
	}
	if len(prefix) > s.maxPrefix {
		prefix = prefix[:s.maxPrefix]
	}
	entries := s.table[prefix]
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

func readString16(r io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
