package graphics

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"io"
	"os"

	vk "github.com/vulkan-go/vulkan"
)

// Shader bundles are a fixed-layout little-endian container for compiled
// SPIR-V, keyed by name and stage so an engine build ships one blob
// instead of loose files.
const (
	BundleMagic   uint32 = 0x53484452
	BundleVersion uint32 = 1

	bundleNameLen       = 256
	bundleEntryPointLen = 64
)

type bundleHeader struct {
	Magic      uint32
	Version    uint32
	EntryCount uint32
	DataSize   uint32
	Reserved   [4]uint32
}

type bundleEntryRecord struct {
	NameHash   uint32
	Stage      uint32
	Offset     uint32
	Size       uint32
	Name       [bundleNameLen]byte
	EntryPoint [bundleEntryPointLen]byte
}

type bundleEntry struct {
	Name       string
	EntryPoint string
	Stage      vk.ShaderStageFlagBits
	Offset     uint32
	Size       uint32
}

// ShaderBundle holds named, per-stage SPIR-V blobs and round-trips them
// through the on-disk container format. A failed load leaves the bundle's
// previous contents untouched.
type ShaderBundle struct {
	entries []bundleEntry
	data    []byte
	index   map[uint32]int
}

func NewShaderBundle() *ShaderBundle {
	return &ShaderBundle{index: make(map[uint32]int)}
}

func hashName(name string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(name))
	return h.Sum32()
}

// bundleKey disambiguates the same shader name across stages.
func bundleKey(nameHash uint32, stage vk.ShaderStageFlagBits) uint32 {
	return nameHash ^ (uint32(stage) << 24)
}

// Len returns the number of entries.
func (b *ShaderBundle) Len() int {
	return len(b.entries)
}

// Add stores a blob under (name, stage). An empty entryPoint defaults to
// "main".
func (b *ShaderBundle) Add(name string, stage vk.ShaderStageFlagBits, entryPoint string, code []byte) error {
	if name == "" {
		return fmt.Errorf("shader name must not be empty")
	}
	if len(name) >= bundleNameLen {
		return fmt.Errorf("shader name %q exceeds %d bytes", name, bundleNameLen-1)
	}
	if entryPoint == "" {
		entryPoint = "main"
	}
	if len(entryPoint) >= bundleEntryPointLen {
		return fmt.Errorf("entry point %q exceeds %d bytes", entryPoint, bundleEntryPointLen-1)
	}
	if len(code) == 0 {
		return fmt.Errorf("shader %q has no bytecode", name)
	}

	key := bundleKey(hashName(name), stage)
	if _, exists := b.index[key]; exists {
		return fmt.Errorf("shader %q already bundled for stage %d", name, stage)
	}

	entry := bundleEntry{
		Name:       name,
		EntryPoint: entryPoint,
		Stage:      stage,
		Offset:     uint32(len(b.data)),
		Size:       uint32(len(code)),
	}
	b.data = append(b.data, code...)
	b.index[key] = len(b.entries)
	b.entries = append(b.entries, entry)
	return nil
}

// Lookup returns the bytecode and entry point stored under (name, stage).
func (b *ShaderBundle) Lookup(name string, stage vk.ShaderStageFlagBits) (code []byte, entryPoint string, ok bool) {
	i, ok := b.index[bundleKey(hashName(name), stage)]
	if !ok {
		return nil, "", false
	}
	e := b.entries[i]
	return b.data[e.Offset : e.Offset+e.Size], e.EntryPoint, true
}

// Entries lists the bundle contents as (name, stage) pairs.
func (b *ShaderBundle) Entries() []struct {
	Name  string
	Stage vk.ShaderStageFlagBits
} {
	ret := make([]struct {
		Name  string
		Stage vk.ShaderStageFlagBits
	}, len(b.entries))
	for i, e := range b.entries {
		ret[i].Name = e.Name
		ret[i].Stage = e.Stage
	}
	return ret
}

// WriteTo serializes the bundle.
func (b *ShaderBundle) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer

	header := bundleHeader{
		Magic:      BundleMagic,
		Version:    BundleVersion,
		EntryCount: uint32(len(b.entries)),
		DataSize:   uint32(len(b.data)),
	}
	if err := binary.Write(&buf, binary.LittleEndian, header); err != nil {
		return 0, err
	}

	for _, e := range b.entries {
		record := bundleEntryRecord{
			NameHash: hashName(e.Name),
			Stage:    uint32(e.Stage),
			Offset:   e.Offset,
			Size:     e.Size,
		}
		copy(record.Name[:], e.Name)
		copy(record.EntryPoint[:], e.EntryPoint)
		if err := binary.Write(&buf, binary.LittleEndian, record); err != nil {
			return 0, err
		}
	}

	buf.Write(b.data)

	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

// ReadFrom replaces the bundle's contents with the serialized form read
// from r. On any decode error, including a bad magic or version, the
// bundle keeps its previous contents.
func (b *ShaderBundle) ReadFrom(r io.Reader) (int64, error) {
	var header bundleHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return 0, fmt.Errorf("read bundle header: %w", err)
	}
	n := int64(binary.Size(header))

	if header.Magic != BundleMagic {
		return n, fmt.Errorf("bad bundle magic 0x%08x", header.Magic)
	}
	if header.Version != BundleVersion {
		return n, fmt.Errorf("unsupported bundle version %d", header.Version)
	}

	entries := make([]bundleEntry, 0, header.EntryCount)
	index := make(map[uint32]int, header.EntryCount)
	for i := uint32(0); i < header.EntryCount; i++ {
		var record bundleEntryRecord
		if err := binary.Read(r, binary.LittleEndian, &record); err != nil {
			return n, fmt.Errorf("read bundle entry %d: %w", i, err)
		}
		n += int64(binary.Size(record))

		if uint64(record.Offset)+uint64(record.Size) > uint64(header.DataSize) {
			return n, fmt.Errorf("bundle entry %d exceeds data section", i)
		}

		entry := bundleEntry{
			Name:       cString(record.Name[:]),
			EntryPoint: cString(record.EntryPoint[:]),
			Stage:      vk.ShaderStageFlagBits(record.Stage),
			Offset:     record.Offset,
			Size:       record.Size,
		}
		index[bundleKey(record.NameHash, entry.Stage)] = len(entries)
		entries = append(entries, entry)
	}

	data := make([]byte, header.DataSize)
	read, err := io.ReadFull(r, data)
	n += int64(read)
	if err != nil {
		return n, fmt.Errorf("read bundle data: %w", err)
	}

	b.entries = entries
	b.data = data
	b.index = index
	return n, nil
}

// Save writes the bundle to a file.
func (b *ShaderBundle) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := b.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Load replaces the bundle's contents with a file's. The in-memory state
// survives a failed load.
func (b *ShaderBundle) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = b.ReadFrom(f)
	return err
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
