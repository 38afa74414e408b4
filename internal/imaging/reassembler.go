// Package imaging reassembles images sent by the payload as numbered
// symbols. An image is promoted only when every source symbol is present and
// the reassembled bytes match the CRC-32 announced in its metadata.
package imaging

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/banshee-data/raptorhab/internal/protocol"
)

var (
	ErrMissingSymbols = errors.New("missing image symbols")
	ErrImageCRC       = errors.New("image crc mismatch")
	ErrSymbolRange    = errors.New("symbol index out of range")
)

// ImageError reports why a pending image could not be promoted. None of
// these are fatal; the image stays pending (or is discarded, per policy).
type ImageError struct {
	Kind    error
	ImageID uint16
	Detail  string
}

func (e *ImageError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("image %d: %v", e.ImageID, e.Kind)
	}
	return fmt.Sprintf("image %d: %v: %s", e.ImageID, e.Kind, e.Detail)
}

func (e *ImageError) Unwrap() error { return e.Kind }

// MismatchPolicy selects what happens when every symbol is present but the
// reassembled image fails its CRC.
type MismatchPolicy int

const (
	// Hold keeps the symbols. A later copy of any symbol replaces the stored
	// one and reassembly is retried.
	Hold MismatchPolicy = iota
	// Discard drops the pending image so it can be received from scratch.
	Discard
)

func (p MismatchPolicy) String() string {
	if p == Discard {
		return "discard"
	}
	return "hold"
}

// ParseMismatchPolicy accepts "hold" or "discard".
func ParseMismatchPolicy(s string) (MismatchPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "hold":
		return Hold, nil
	case "discard":
		return Discard, nil
	}
	return Hold, fmt.Errorf("unknown image mismatch policy %q", s)
}

// Image is a completed, CRC-verified image.
type Image struct {
	ID            uint16             `json:"id"`
	Meta          protocol.ImageMeta `json:"meta"`
	Data          []byte             `json:"-"`
	FirstReceived time.Time          `json:"first_received"`
	Completed     time.Time          `json:"completed"`
}

// Progress summarises a pending image.
type Progress struct {
	ImageID       uint16    `json:"image_id"`
	HasMeta       bool      `json:"has_meta"`
	Received      int       `json:"received"`
	Needed        int       `json:"needed"`
	Percent       float64   `json:"percent"`
	FirstReceived time.Time `json:"first_received"`
	LastReceived  time.Time `json:"last_received"`
}

// Stats counts reassembler activity since the last Reset.
type Stats struct {
	Metas       uint64 `json:"metas"`
	Symbols     uint64 `json:"symbols"`
	Duplicates  uint64 `json:"duplicates"`
	OutOfRange  uint64 `json:"out_of_range"`
	LateIgnored uint64 `json:"late_ignored"`
	CRCFailures uint64 `json:"crc_failures"`
	Discarded   uint64 `json:"discarded"`
	Completed   uint64 `json:"completed"`
}

type pendingImage struct {
	id            uint16
	meta          *protocol.ImageMeta
	symbols       map[uint32][]byte
	firstReceived time.Time
	lastReceived  time.Time
}

func (p *pendingImage) progress() Progress {
	pr := Progress{
		ImageID:       p.id,
		HasMeta:       p.meta != nil,
		Received:      len(p.symbols),
		FirstReceived: p.firstReceived,
		LastReceived:  p.lastReceived,
	}
	if p.meta != nil && p.meta.NumSourceSymbols > 0 {
		pr.Needed = int(p.meta.NumSourceSymbols)
		pr.Percent = min(100, float64(pr.Received)/float64(pr.Needed)*100)
	}
	return pr
}

// Reassembler tracks one pending image per image id. It is not safe for
// concurrent use.
type Reassembler struct {
	policy  MismatchPolicy
	pending map[uint16]*pendingImage
	decoded map[uint16]struct{}
	stats   Stats
}

// NewReassembler returns an empty reassembler using policy on CRC mismatch.
func NewReassembler(policy MismatchPolicy) *Reassembler {
	return &Reassembler{
		policy:  policy,
		pending: make(map[uint16]*pendingImage),
		decoded: make(map[uint16]struct{}),
	}
}

// Policy returns the configured mismatch policy.
func (r *Reassembler) Policy() MismatchPolicy { return r.policy }

func (r *Reassembler) entry(id uint16, now time.Time) *pendingImage {
	p, ok := r.pending[id]
	if !ok {
		p = &pendingImage{id: id, symbols: make(map[uint32][]byte), firstReceived: now}
		r.pending[id] = p
	}
	return p
}

// AddMeta attaches (or replaces) the metadata of an image. It returns the
// completed image when the metadata was the last missing piece. Symbols
// already buffered with an index beyond the new symbol count are dropped.
func (r *Reassembler) AddMeta(meta *protocol.ImageMeta, now time.Time) (*Image, error) {
	r.stats.Metas++
	if _, done := r.decoded[meta.ImageID]; done {
		r.stats.LateIgnored++
		return nil, nil
	}
	p := r.entry(meta.ImageID, now)
	m := *meta
	p.meta = &m
	p.lastReceived = now
	for esi := range p.symbols {
		if esi >= uint32(m.NumSourceSymbols) {
			delete(p.symbols, esi)
			r.stats.OutOfRange++
		}
	}
	return r.tryAssemble(p, now)
}

// AddSymbol stores one image symbol keyed by its encoding symbol index and
// returns the completed image once every source symbol is present and the
// CRC matches. A returned error explains why a ready-looking image was not
// promoted; it never invalidates the reassembler.
func (r *Reassembler) AddSymbol(d *protocol.ImageData, now time.Time) (*Image, error) {
	r.stats.Symbols++
	if _, done := r.decoded[d.ImageID]; done {
		r.stats.LateIgnored++
		return nil, nil
	}
	p := r.entry(d.ImageID, now)
	p.lastReceived = now
	if p.meta != nil && d.ESI >= uint32(p.meta.NumSourceSymbols) {
		r.stats.OutOfRange++
		return nil, &ImageError{Kind: ErrSymbolRange, ImageID: d.ImageID,
			Detail: fmt.Sprintf("esi %d >= %d", d.ESI, p.meta.NumSourceSymbols)}
	}
	if _, dup := p.symbols[d.ESI]; dup {
		r.stats.Duplicates++
	}
	sym := make([]byte, len(d.Symbol))
	copy(sym, d.Symbol)
	p.symbols[d.ESI] = sym
	return r.tryAssemble(p, now)
}

func (r *Reassembler) tryAssemble(p *pendingImage, now time.Time) (*Image, error) {
	if p.meta == nil || p.meta.NumSourceSymbols == 0 {
		return nil, nil
	}
	k := int(p.meta.NumSourceSymbols)
	if len(p.symbols) < k {
		return nil, nil
	}

	var missing []uint32
	size := 0
	for i := uint32(0); i < uint32(k); i++ {
		sym, ok := p.symbols[i]
		if !ok {
			missing = append(missing, i)
			continue
		}
		size += len(sym)
	}
	if len(missing) > 0 {
		return nil, &ImageError{Kind: ErrMissingSymbols, ImageID: p.id, Detail: fmt.Sprintf("missing %v", missing)}
	}

	data := make([]byte, 0, max(size, int(p.meta.TotalSize)))
	for i := uint32(0); i < uint32(k); i++ {
		data = append(data, p.symbols[i]...)
	}
	total := int(p.meta.TotalSize)
	if len(data) > total {
		data = data[:total]
	} else if len(data) < total {
		data = append(data, make([]byte, total-len(data))...)
	}

	if got := protocol.Checksum(data); got != p.meta.CRC32 {
		r.stats.CRCFailures++
		if r.policy == Discard {
			delete(r.pending, p.id)
			r.stats.Discarded++
		}
		return nil, &ImageError{Kind: ErrImageCRC, ImageID: p.id,
			Detail: fmt.Sprintf("calc %08X, want %08X (%s)", got, p.meta.CRC32, r.policy)}
	}

	delete(r.pending, p.id)
	r.decoded[p.id] = struct{}{}
	r.stats.Completed++
	return &Image{
		ID:            p.id,
		Meta:          *p.meta,
		Data:          data,
		FirstReceived: p.firstReceived,
		Completed:     now,
	}, nil
}

// Progress returns the state of a pending image.
func (r *Reassembler) Progress(id uint16) (Progress, bool) {
	p, ok := r.pending[id]
	if !ok {
		return Progress{}, false
	}
	return p.progress(), true
}

// Pending lists every pending image ordered by id.
func (r *Reassembler) Pending() []Progress {
	out := make([]Progress, 0, len(r.pending))
	for _, p := range r.pending {
		out = append(out, p.progress())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ImageID < out[j].ImageID })
	return out
}

// Decoded reports whether id has already been promoted.
func (r *Reassembler) Decoded(id uint16) bool {
	_, ok := r.decoded[id]
	return ok
}

// Stats returns a copy of the counters.
func (r *Reassembler) Stats() Stats { return r.stats }

// Reset forgets every pending and decoded image.
func (r *Reassembler) Reset() {
	clear(r.pending)
	clear(r.decoded)
	r.stats = Stats{}
}
