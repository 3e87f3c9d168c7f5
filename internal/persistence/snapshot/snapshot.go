package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"

	"labyrinth.ai/internal/geo"
	"labyrinth.ai/internal/radar"
)

const Version = 1

type Header struct {
	Version int       `json:"version"`
	RunID   string    `json:"run_id"`
	Team    string    `json:"team"`
	TakenAt time.Time `json:"taken_at"`
}

// SnapshotV1 is the team memory: shared hints, the labyrinth map and each agent's exploration state.
type SnapshotV1 struct {
	Header Header `json:"header"`

	Leader  string        `json:"leader,omitempty"`
	Exit    *geo.Position `json:"exit,omitempty"`
	Compass *float64      `json:"compass,omitempty"`
	Grid    *geo.GridSize `json:"grid,omitempty"`

	Cells  []CellV1  `json:"cells"`
	Agents []AgentV1 `json:"agents"`
}

type CellV1 struct {
	X    int    `json:"x"`
	Y    int    `json:"y"`
	Kind uint8  `json:"kind"`
	Code string `json:"code,omitempty"`
}

type AgentV1 struct {
	Name     string         `json:"name"`
	Position geo.Position   `json:"position"`
	Turns    uint64         `json:"turns"`
	Visits   []VisitV1      `json:"visits"`
	History  []geo.Position `json:"history,omitempty"`
}

type VisitV1 struct {
	X     int `json:"x"`
	Y     int `json:"y"`
	Count int `json:"count"`
}

// CellsFromMap flattens a labyrinth map in row-major order.
func CellsFromMap(m map[geo.Position]radar.Cell) []CellV1 {
	out := make([]CellV1, 0, len(m))
	for p, c := range m {
		out = append(out, CellV1{X: p.X, Y: p.Y, Kind: uint8(c.Kind), Code: c.Code})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Y != out[j].Y {
			return out[i].Y < out[j].Y
		}
		return out[i].X < out[j].X
	})
	return out
}

func (s SnapshotV1) Map() map[geo.Position]radar.Cell {
	out := make(map[geo.Position]radar.Cell, len(s.Cells))
	for _, c := range s.Cells {
		out[geo.Position{X: c.X, Y: c.Y}] = radar.Cell{Kind: radar.CellKind(c.Kind), Code: c.Code}
	}
	return out
}

func VisitsFromMap(m map[geo.Position]int) []VisitV1 {
	out := make([]VisitV1, 0, len(m))
	for p, n := range m {
		out = append(out, VisitV1{X: p.X, Y: p.Y, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Y != out[j].Y {
			return out[i].Y < out[j].Y
		}
		return out[i].X < out[j].X
	})
	return out
}

func (a AgentV1) VisitMap() map[geo.Position]int {
	out := make(map[geo.Position]int, len(a.Visits))
	for _, v := range a.Visits {
		out[geo.Position{X: v.X, Y: v.Y}] = v.Count
	}
	return out
}

// WriteSnapshot writes to a temp file and renames it into place.
func WriteSnapshot(path string, snap SnapshotV1) (err error) {
	if snap.Header.Version == 0 {
		snap.Header.Version = Version
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The header line duplicates snap.Header; it exists for tools that stop after one line.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader decodes only the leading JSON line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("header: %w", err)
	}
	return h, nil
}

// FileName is the snapshot name for one run, e.g. team-<run>.snap.zst.
func FileName(runID string) string {
	return "team-" + runID + ".snap.zst"
}
