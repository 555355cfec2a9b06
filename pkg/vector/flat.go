package vector

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
)

// tombstoneValue pads dead slots in the data file. Search skips any slot
// whose first component equals it; no normalized vector can contain it.
const tombstoneValue float32 = -1

// sidecar is the JSON file mapping ids to data-file slots. It is what makes
// the flat index restartable: the data file alone has no id information.
type sidecar struct {
	IDToSlot     map[string]int `json:"idToSlot"`
	SlotToID     map[int]string `json:"slotToId"`
	NextSlot     int            `json:"nextSlot"`
	DeletedCount int            `json:"deletedCount"`
	Dim          int            `json:"dim"`
}

// FlatIndex is the in-process backend: brute-force L2 over little-endian
// float32 rows in a data file, with the id↔slot sidecar persisted as JSON.
// All vectors live in memory; the files exist so the index survives
// restarts.
type FlatIndex struct {
	mu       sync.RWMutex
	dim      int
	dataPath string
	sidePath string

	vectors  map[int][]float32 // slot -> normalized vector (live slots only)
	idToSlot map[string]int
	slotToID map[int]string
	nextSlot int
	deleted  int
}

// OpenFlat loads (or creates) a flat index of the given dimension at
// dataPath, with the sidecar at dataPath + ".json".
func OpenFlat(dataPath string, dim int) (*FlatIndex, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("vector: dimension must be positive, got %d", dim)
	}
	idx := &FlatIndex{
		dim:      dim,
		dataPath: dataPath,
		sidePath: dataPath + ".json",
		vectors:  make(map[int][]float32),
		idToSlot: make(map[string]int),
		slotToID: make(map[int]string),
	}
	if err := idx.load(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (x *FlatIndex) load() error {
	raw, err := os.ReadFile(x.sidePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("vector: read sidecar: %w", err)
	}
	var sc sidecar
	if err := json.Unmarshal(raw, &sc); err != nil {
		return fmt.Errorf("vector: decode sidecar: %w", err)
	}
	if sc.Dim != 0 && sc.Dim != x.dim {
		return fmt.Errorf("vector: sidecar dimension %d does not match configured %d", sc.Dim, x.dim)
	}
	if sc.IDToSlot != nil {
		x.idToSlot = sc.IDToSlot
	}
	if sc.SlotToID != nil {
		x.slotToID = sc.SlotToID
	}
	x.nextSlot = sc.NextSlot
	x.deleted = sc.DeletedCount

	data, err := os.ReadFile(x.dataPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("vector: read data file: %w", err)
	}
	rowBytes := x.dim * 4
	for slot := range x.slotToID {
		off := slot * rowBytes
		if off+rowBytes > len(data) {
			return fmt.Errorf("vector: data file truncated at slot %d", slot)
		}
		vec := make([]float32, x.dim)
		for i := 0; i < x.dim; i++ {
			bits := binary.LittleEndian.Uint32(data[off+i*4 : off+i*4+4])
			vec[i] = math.Float32frombits(bits)
		}
		x.vectors[slot] = vec
	}
	return nil
}

// Insert upserts id with a normalized copy of vec. Re-inserting an existing
// id tombstones its previous slot.
func (x *FlatIndex) Insert(id string, vec []float32) error {
	if len(vec) != x.dim {
		return fmt.Errorf("vector: got %d dimensions, index is %d", len(vec), x.dim)
	}
	normalized := Normalize(vec)

	x.mu.Lock()
	defer x.mu.Unlock()

	if old, exists := x.idToSlot[id]; exists {
		if err := x.tombstone(old); err != nil {
			return err
		}
		delete(x.slotToID, old)
	}

	slot := x.nextSlot
	x.nextSlot++
	if err := x.writeRow(slot, normalized); err != nil {
		return err
	}
	x.vectors[slot] = normalized
	x.idToSlot[id] = slot
	x.slotToID[slot] = id
	return nil
}

// Delete tombstones id's slot. Deleting an unknown id is a no-op.
func (x *FlatIndex) Delete(id string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	slot, exists := x.idToSlot[id]
	if !exists {
		return nil
	}
	if err := x.tombstone(slot); err != nil {
		return err
	}
	delete(x.idToSlot, id)
	delete(x.slotToID, slot)
	return nil
}

// tombstone pads the slot and drops its in-memory vector. Caller holds the
// lock.
func (x *FlatIndex) tombstone(slot int) error {
	pad := make([]float32, x.dim)
	for i := range pad {
		pad[i] = tombstoneValue
	}
	if err := x.writeRow(slot, pad); err != nil {
		return err
	}
	delete(x.vectors, slot)
	x.deleted++
	return nil
}

func (x *FlatIndex) writeRow(slot int, vec []float32) error {
	f, err := os.OpenFile(x.dataPath, os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return fmt.Errorf("vector: open data file: %w", err)
	}
	defer f.Close()

	row := make([]byte, x.dim*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(row[i*4:], math.Float32bits(v))
	}
	if _, err := f.WriteAt(row, int64(slot)*int64(x.dim)*4); err != nil {
		return fmt.Errorf("vector: write slot %d: %w", slot, err)
	}
	return nil
}

// Search brute-forces L2 over live slots and converts to similarity.
func (x *FlatIndex) Search(vec []float32, k int, threshold float32) ([]Result, error) {
	if len(vec) != x.dim {
		return nil, fmt.Errorf("vector: got %d dimensions, index is %d", len(vec), x.dim)
	}
	query := Normalize(vec)

	x.mu.RLock()
	defer x.mu.RUnlock()

	results := make([]Result, 0, k)
	for slot, stored := range x.vectors {
		if stored[0] == tombstoneValue {
			continue
		}
		sim := similarity(l2Squared(query, stored))
		if sim < threshold {
			continue
		}
		results = append(results, Result{ID: x.slotToID[slot], Similarity: sim})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Count returns the number of live ids.
func (x *FlatIndex) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.idToSlot)
}

// Compact rewrites the data file with live slots only, renumbers the maps,
// and resets the tombstone counter.
func (x *FlatIndex) Compact() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	// Stable order so compaction is deterministic.
	live := make([]int, 0, len(x.slotToID))
	for slot := range x.slotToID {
		live = append(live, slot)
	}
	sort.Ints(live)

	tmpPath := x.dataPath + ".compact"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return fmt.Errorf("vector: open compact file: %w", err)
	}

	newVectors := make(map[int][]float32, len(live))
	newIDToSlot := make(map[string]int, len(live))
	newSlotToID := make(map[int]string, len(live))
	row := make([]byte, x.dim*4)
	for newSlot, oldSlot := range live {
		vec := x.vectors[oldSlot]
		for i, v := range vec {
			binary.LittleEndian.PutUint32(row[i*4:], math.Float32bits(v))
		}
		if _, err := f.WriteAt(row, int64(newSlot)*int64(x.dim)*4); err != nil {
			f.Close()
			return fmt.Errorf("vector: compact write slot %d: %w", newSlot, err)
		}
		id := x.slotToID[oldSlot]
		newVectors[newSlot] = vec
		newIDToSlot[id] = newSlot
		newSlotToID[newSlot] = id
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("vector: close compact file: %w", err)
	}
	if err := os.Rename(tmpPath, x.dataPath); err != nil {
		return fmt.Errorf("vector: swap compact file: %w", err)
	}

	x.vectors = newVectors
	x.idToSlot = newIDToSlot
	x.slotToID = newSlotToID
	x.nextSlot = len(live)
	x.deleted = 0
	return x.flushLocked()
}

// DeletedCount reports accumulated tombstones since the last compaction.
func (x *FlatIndex) DeletedCount() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.deleted
}

// Close flushes the sidecar.
func (x *FlatIndex) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.flushLocked()
}

func (x *FlatIndex) flushLocked() error {
	sc := sidecar{
		IDToSlot:     x.idToSlot,
		SlotToID:     x.slotToID,
		NextSlot:     x.nextSlot,
		DeletedCount: x.deleted,
		Dim:          x.dim,
	}
	raw, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("vector: encode sidecar: %w", err)
	}
	tmp := x.sidePath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0640); err != nil {
		return fmt.Errorf("vector: write sidecar: %w", err)
	}
	if err := os.Rename(tmp, x.sidePath); err != nil {
		return fmt.Errorf("vector: swap sidecar: %w", err)
	}
	return nil
}
