package persistence

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/core"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/event"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/observability"
)

const maxLineBytes = 4 << 20

// EventLog appends hash-chained JSON lines, one file per domain. Appends to
// a domain are serialized; distinct domains write in parallel.
//
// After each successful append the envelope is offered to every subscribed
// sink without blocking. A full sink drops the event and counts it.
type EventLog struct {
	dir     string
	clock   core.Clock
	logger  zerolog.Logger
	metrics *observability.Metrics

	mu    sync.Mutex
	files map[event.Domain]*domainFile

	sinksMu sync.RWMutex
	sinks   []sink
	closed  bool

	degraded atomic.Bool

	open func(path string) (logFile, error)
}

// logFile is the subset of *os.File an append needs.
type logFile interface {
	io.Writer
	Stat() (os.FileInfo, error)
	Truncate(size int64) error
	Close() error
}

func openLogFile(path string) (logFile, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
}

type domainFile struct {
	mu     sync.Mutex
	path   string
	file   logFile
	seq    int64
	hasher *core.ChainHasher
}

type sink struct {
	name string
	ch   chan event.Envelope
}

// NewEventLog creates dir if needed. Domain files are opened lazily.
func NewEventLog(dir string, clock core.Clock, logger zerolog.Logger, metrics *observability.Metrics) (*EventLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", dir, err)
	}
	if clock == nil {
		clock = core.SystemClock
	}
	return &EventLog{
		dir:     dir,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
		files:   make(map[event.Domain]*domainFile),
		open:    openLogFile,
	}, nil
}

// LogPath returns the file backing domain inside dir.
func LogPath(dir string, domain event.Domain) string {
	return filepath.Join(dir, string(domain)+"_events.json")
}

// Dir returns the directory holding the domain files.
func (l *EventLog) Dir() string { return l.dir }

// Subscribe registers a fan-out sink. Call before the first append.
func (l *EventLog) Subscribe(name string, buffer int) <-chan event.Envelope {
	ch := make(chan event.Envelope, buffer)
	l.sinksMu.Lock()
	l.sinks = append(l.sinks, sink{name: name, ch: ch})
	l.sinksMu.Unlock()
	return ch
}

// Degraded reports whether any append has failed since start.
func (l *EventLog) Degraded() bool {
	return l.degraded.Load()
}

// Append writes one line for payload to domain's file and returns the
// envelope as written. A failed append does not advance the sequence or
// the chain, and marks the log degraded.
func (l *EventLog) Append(domain event.Domain, payload event.Payload) (event.Envelope, error) {
	env, err := l.append(domain, payload)
	if err != nil {
		l.degraded.Store(true)
		if l.metrics != nil {
			l.metrics.EventLogErrors.WithLabelValues(string(domain)).Inc()
			l.metrics.AuditDegraded.WithLabelValues(string(domain)).Inc()
		}
		l.logger.Error().Err(err).
			Str("domain", string(domain)).
			Str("event", string(payload.EventType())).
			Msg("audit append failed")
		return event.Envelope{}, err
	}
	if l.metrics != nil {
		l.metrics.EventLogAppends.WithLabelValues(string(domain)).Inc()
	}
	return env, nil
}

func (l *EventLog) append(domain event.Domain, payload event.Payload) (event.Envelope, error) {
	fields, err := event.Fields(payload)
	if err != nil {
		return event.Envelope{}, err
	}

	df, err := l.domainFile(domain)
	if err != nil {
		return event.Envelope{}, err
	}

	df.mu.Lock()
	defer df.mu.Unlock()

	tip := df.hasher.Tip()
	env := event.Envelope{
		Domain:        domain,
		Event:         payload.EventType(),
		SchemaVersion: event.SchemaVersion,
		Sequence:      df.seq + 1,
		Timestamp:     l.clock().UTC(),
		PrevHash:      hex.EncodeToString(tip[:]),
		Fields:        fields,
	}
	body, err := env.CanonicalBody()
	if err != nil {
		return event.Envelope{}, err
	}
	hash := df.hasher.Compute(env.Sequence, body)
	env.Hash = hex.EncodeToString(hash[:])

	line, err := json.Marshal(env)
	if err != nil {
		return event.Envelope{}, fmt.Errorf("marshal %s line: %w", domain, err)
	}
	line = append(line, '\n')

	if df.file == nil {
		f, err := l.open(df.path)
		if err != nil {
			return event.Envelope{}, fmt.Errorf("open %s: %w", df.path, err)
		}
		df.file = f
	}
	info, err := df.file.Stat()
	if err != nil {
		df.file.Close()
		df.file = nil
		return event.Envelope{}, fmt.Errorf("stat %s: %w", df.path, err)
	}
	if _, err := df.file.Write(line); err != nil {
		// A torn line would fuse with the next one; cut back to the last
		// complete line and drop the handle so the next append reopens.
		if terr := df.file.Truncate(info.Size()); terr != nil {
			l.logger.Error().Err(terr).Str("path", df.path).Int64("size", info.Size()).Msg("truncate after failed write")
		}
		df.file.Close()
		df.file = nil
		return event.Envelope{}, fmt.Errorf("write %s: %w", df.path, err)
	}

	df.seq = env.Sequence
	df.hasher.Advance(hash)
	l.fanOut(env)
	return env, nil
}

func (l *EventLog) fanOut(env event.Envelope) {
	l.sinksMu.RLock()
	defer l.sinksMu.RUnlock()
	if l.closed {
		return
	}
	for _, s := range l.sinks {
		select {
		case s.ch <- env:
		default:
			if l.metrics != nil {
				l.metrics.FanoutDrops.WithLabelValues(s.name).Inc()
			}
			l.logger.Warn().
				Str("sink", s.name).
				Str("domain", string(env.Domain)).
				Int64("sequence", env.Sequence).
				Msg("sink full, event dropped")
		}
		if l.metrics != nil {
			l.metrics.SetChannelMetrics(s.name, len(s.ch), cap(s.ch))
		}
	}
}

// domainFile returns the state for domain, resuming sequence and chain from
// an existing file on first use.
func (l *EventLog) domainFile(domain event.Domain) (*domainFile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if df, ok := l.files[domain]; ok {
		return df, nil
	}

	path := LogPath(l.dir, domain)
	df := &domainFile{path: path, hasher: core.NewChainHasher(string(domain))}

	last, err := lastEnvelope(path)
	if err != nil {
		return nil, err
	}
	if last != nil {
		tip, err := DecodeHash(last.Hash)
		if err != nil {
			return nil, fmt.Errorf("resume %s: %w", path, err)
		}
		df.seq = last.Sequence
		df.hasher = core.ResumeChainHasher(tip)
	}

	l.files[domain] = df
	return df, nil
}

// Close closes open files and every sink channel. Appends after Close still
// write to disk but no longer fan out.
func (l *EventLog) Close() error {
	l.sinksMu.Lock()
	if !l.closed {
		l.closed = true
		for _, s := range l.sinks {
			close(s.ch)
		}
	}
	l.sinksMu.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	var errs []error
	for _, df := range l.files {
		df.mu.Lock()
		if df.file != nil {
			errs = append(errs, df.file.Close())
			df.file = nil
		}
		df.mu.Unlock()
	}
	return errors.Join(errs...)
}

// ScanLog calls fn for every line of the file at path in order. Lines that
// do not decode are passed with a non-nil err. A missing file is empty.
// Returning false from fn stops the scan.
func ScanLog(path string, fn func(env event.Envelope, raw []byte, err error) bool) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return scanLines(f, fn)
}

func scanLines(r io.Reader, fn func(env event.Envelope, raw []byte, err error) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var env event.Envelope
		err := json.Unmarshal(raw, &env)
		if !fn(env, append([]byte(nil), raw...), err) {
			return nil
		}
	}
	return scanner.Err()
}

func lastEnvelope(path string) (*event.Envelope, error) {
	var last *event.Envelope
	err := ScanLog(path, func(env event.Envelope, _ []byte, err error) bool {
		if err == nil && env.Hash != "" {
			e := env
			last = &e
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return last, nil
}

// DecodeHash parses a hex chain hash as written in a log line.
func DecodeHash(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != len(out) {
		return out, fmt.Errorf("hash length %d, want %d", len(b), len(out))
	}
	copy(out[:], b)
	return out, nil
}
