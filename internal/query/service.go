package query

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/core"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/event"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/persistence"
)

// QueryService provides read-only access to the domain logs. The JSONL
// files are the source of truth; the Postgres mirror is only consulted
// for MirrorStatus.
type QueryService struct {
	dir    string
	mirror *MirrorReader
}

func NewQueryService(dir string, mirror *MirrorReader) *QueryService {
	return &QueryService{dir: dir, mirror: mirror}
}

// Replay returns the envelopes of domain whose fields equal every filter
// value, in sequence order. Malformed lines are skipped and counted. A
// limit <= 0 returns every match.
func (qs *QueryService) Replay(domain event.Domain, filter map[string]string, limit int) (*ReplayResponse, error) {
	resp := &ReplayResponse{Domain: domain, Events: []event.Envelope{}}
	err := persistence.ScanLog(persistence.LogPath(qs.dir, domain), func(env event.Envelope, _ []byte, err error) bool {
		if err != nil {
			resp.Skipped++
			return true
		}
		env.Domain = domain
		if !matches(env, filter) {
			return true
		}
		resp.Events = append(resp.Events, env)
		return limit <= 0 || len(resp.Events) < limit
	})
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", domain, err)
	}
	resp.Count = len(resp.Events)
	return resp, nil
}

func matches(env event.Envelope, filter map[string]string) bool {
	for k, want := range filter {
		var got string
		switch k {
		case event.FieldEvent:
			got = string(env.Event)
		case event.FieldSequence:
			got = strconv.FormatInt(env.Sequence, 10)
		default:
			if _, ok := env.Fields[k]; !ok {
				return false
			}
			got = env.Field(k)
		}
		if got != want {
			return false
		}
	}
	return true
}

// Verify recomputes the chain of domain from its genesis hash and reports
// the first line that does not follow: a malformed line, a sequence gap, a
// prev_hash that is not the previous hash, or a hash that does not commit
// to the line's body.
func (qs *QueryService) Verify(domain event.Domain) (*IntegrityReport, error) {
	report := &IntegrityReport{Domain: domain, IsHealthy: true}
	prev := core.GenesisHash(string(domain))
	line := 0

	fail := func(seq int64, reason string) bool {
		report.IsHealthy = false
		report.FirstBreak = &ChainBreak{Sequence: seq, Line: line, Reason: reason}
		return false
	}

	err := persistence.ScanLog(persistence.LogPath(qs.dir, domain), func(env event.Envelope, _ []byte, err error) bool {
		line++
		if err != nil {
			return fail(report.LastSequence+1, "malformed line: "+err.Error())
		}
		if env.Sequence != report.LastSequence+1 {
			return fail(env.Sequence, fmt.Sprintf("sequence %d follows %d", env.Sequence, report.LastSequence))
		}
		if env.PrevHash != hex.EncodeToString(prev[:]) {
			return fail(env.Sequence, "prev_hash does not match previous hash")
		}
		body, err := env.CanonicalBody()
		if err != nil {
			return fail(env.Sequence, "canonical body: "+err.Error())
		}
		want := core.ChainHash(prev, env.Sequence, body)
		got, err := persistence.DecodeHash(env.Hash)
		if err != nil || !bytes.Equal(got[:], want[:]) {
			return fail(env.Sequence, "hash_chain does not match body")
		}
		prev = want
		report.LastSequence = env.Sequence
		report.Checked++
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("verify %s: %w", domain, err)
	}
	return report, nil
}
