package vector

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
)

var (
	snapshotMagic   = [4]byte{'M', 'I', 'V', '2'}
	snapshotMagicV1 = [4]byte{'M', 'I', 'V', '1'}
)

// Save writes every table to path. The directory is created if needed.
// Format: magic, table count, then per table its name, owning tenant and row
// count, then per row the id, page content, metadata JSON and vector, each
// length-prefixed. Tables claimed by a tenant but still empty are written
// with zero rows so their ownership survives a restart.
func (s *MemoryStore) Save(path string) error {
	if path == "" {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := s.writeSnapshot(w); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("flush snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

func (s *MemoryStore) writeSnapshot(w io.Writer) error {
	if _, err := w.Write(snapshotMagic[:]); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	owners := s.router.Owners()
	tables := make([]string, 0, len(owners))
	for name := range owners {
		tables = append(tables, name)
	}
	for name := range s.tables {
		if _, ok := owners[name]; !ok {
			tables = append(tables, name)
		}
	}
	sort.Strings(tables)
	if err := writeUint32(w, uint32(len(tables))); err != nil {
		return err
	}
	for _, name := range tables {
		rows := s.tables[name]
		if err := writeBytes(w, []byte(name)); err != nil {
			return err
		}
		if err := writeBytes(w, []byte(owners[name])); err != nil {
			return err
		}
		if err := writeUint32(w, uint32(len(rows))); err != nil {
			return err
		}
		for id, row := range rows {
			meta, err := json.Marshal(row.doc.Metadata)
			if err != nil {
				return fmt.Errorf("encode metadata of %s: %w", id, err)
			}
			for _, field := range [][]byte{[]byte(id), []byte(row.doc.PageContent), meta, float32SliceToBytes(row.vector)} {
				if err := writeBytes(w, field); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Load replaces the store contents with the snapshot at path and restores
// table ownership, so a tenant colliding with a persisted one is still
// rejected. A missing file leaves the store unchanged. Version 1 snapshots
// carry no owners and only restore rows.
func (s *MemoryStore) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil || (magic != snapshotMagic && magic != snapshotMagicV1) {
		return fmt.Errorf("not a vector snapshot: %s", path)
	}
	withOwners := magic == snapshotMagic
	nTables, err := readUint32(r)
	if err != nil {
		return err
	}
	tables := make(map[string]map[string]*memRow, nTables)
	owners := make(map[string]string, nTables)
	for t := uint32(0); t < nTables; t++ {
		name, err := readBytes(r)
		if err != nil {
			return err
		}
		if withOwners {
			owner, err := readBytes(r)
			if err != nil {
				return err
			}
			// Only the default table belongs to the empty tenant; an empty
			// owner elsewhere came from a version 1 snapshot and is unknown.
			if len(owner) > 0 || string(name) == DefaultTable {
				owners[string(name)] = string(owner)
			}
		}
		nRows, err := readUint32(r)
		if err != nil {
			return err
		}
		rows := make(map[string]*memRow, nRows)
		for i := uint32(0); i < nRows; i++ {
			var fields [4][]byte
			for j := range fields {
				if fields[j], err = readBytes(r); err != nil {
					return err
				}
			}
			meta := map[string]any{}
			if err := json.Unmarshal(fields[2], &meta); err != nil {
				return fmt.Errorf("decode metadata: %w", err)
			}
			id := string(fields[0])
			rows[id] = &memRow{
				doc:    Document{ID: id, PageContent: string(fields[1]), Metadata: meta},
				vector: bytesToFloat32Slice(fields[3]),
			}
		}
		if nRows > 0 {
			tables[string(name)] = rows
		}
	}

	s.mu.Lock()
	s.tables = tables
	s.mu.Unlock()
	s.router.Restore(owners)
	return nil
}

func writeUint32(w io.Writer, v uint32) error {
	if err := binary.Write(w, binary.LittleEndian, v); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

func writeBytes(w io.Writer, b []byte) error {
	if err := writeUint32(w, uint32(len(b))); err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

func readUint32(r io.Reader) (uint32, error) {
	var v uint32
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return 0, fmt.Errorf("read snapshot: %w", err)
	}
	return v, nil
}

func readBytes(r io.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return b, nil
}

func float32SliceToBytes(s []float32) []byte {
	out := make([]byte, len(s)*4)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
