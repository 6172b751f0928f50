package snapshot

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

type encoding int

const (
	encodingJSON encoding = iota
	encodingGzipJSON
	encodingMsgpack
)

func encodingFor(path string) encoding {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".json.gz"):
		return encodingGzipJSON
	case strings.HasSuffix(lower, ".msgpack"):
		return encodingMsgpack
	default:
		return encodingJSON
	}
}

// document accepts the legacy top-level timestamp some older captures carry.
type document struct {
	Snapshot
	LegacyTimestamp string `json:"timestamp,omitempty"`
}

type headerDocument struct {
	BackupInfo BackupInfo `json:"backup_info"`
	ServerInfo struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"server_info"`
	Stats           Stats  `json:"stats"`
	LegacyTimestamp string `json:"timestamp"`
}

// Load reads, decodes and shape-checks a snapshot file. The format is
// chosen by extension: .json, .json.gz or .msgpack.
func Load(path string) (*Snapshot, error) {
	var doc document
	if err := decodeFile(path, &doc); err != nil {
		return nil, err
	}

	if doc.BackupInfo.Timestamp == "" {
		doc.BackupInfo.Timestamp = doc.LegacyTimestamp
	}
	snap := doc.Snapshot
	if err := checkShape(&snap); err != nil {
		return nil, fmt.Errorf("invalid snapshot %s: %w", path, err)
	}
	snap.normalize()

	return &snap, nil
}

// Peek decodes only what chain discovery needs from a snapshot file.
func Peek(path string) (Header, error) {
	var doc headerDocument
	if err := decodeFile(path, &doc); err != nil {
		return Header{}, err
	}

	if doc.ServerInfo.ID == "" || doc.ServerInfo.Name == "" {
		return Header{}, &ValidationError{Path: "server_info", Message: "missing id or name"}
	}

	ts := doc.BackupInfo.Timestamp
	if ts == "" {
		ts = doc.LegacyTimestamp
	}
	if ts == "" {
		return Header{}, &ValidationError{Path: "backup_info.timestamp", Message: "missing"}
	}

	return Header{
		Path:        path,
		ServerID:    doc.ServerInfo.ID,
		ServerName:  doc.ServerInfo.Name,
		Timestamp:   ts,
		Incremental: doc.BackupInfo.Incremental,
		BackupInfo:  doc.BackupInfo,
		Stats:       doc.Stats,
	}, nil
}

// Save writes snap to path, creating parent directories. JSON output is
// indented with deterministic key order.
func Save(path string, snap *Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return &StorageError{Path: path, Op: "create directory for", Err: err}
	}

	var buf bytes.Buffer
	switch encodingFor(path) {
	case encodingMsgpack:
		enc := msgpack.NewEncoder(&buf)
		enc.SetCustomStructTag("json")
		if err := enc.Encode(snap); err != nil {
			return &StorageError{Path: path, Op: "encode", Err: err}
		}
	case encodingGzipJSON:
		data, err := CanonicalJSON(snap)
		if err != nil {
			return &StorageError{Path: path, Op: "encode", Err: err}
		}
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return &StorageError{Path: path, Op: "compress", Err: err}
		}
		if err := zw.Close(); err != nil {
			return &StorageError{Path: path, Op: "compress", Err: err}
		}
	default:
		data, err := PrettyJSON(snap)
		if err != nil {
			return &StorageError{Path: path, Op: "encode", Err: err}
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return &StorageError{Path: path, Op: "write", Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return &StorageError{Path: path, Op: "write", Err: err}
	}
	return nil
}

func decodeFile(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return &StorageError{Path: path, Op: "read", Err: err}
	}
	defer f.Close()

	var r io.Reader = f
	enc := encodingFor(path)
	if enc == encodingGzipJSON {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return &StorageError{Path: path, Op: "decompress", Err: err}
		}
		defer zr.Close()
		r = zr
	}

	if enc == encodingMsgpack {
		dec := msgpack.NewDecoder(r)
		dec.UseInternedStrings(true)
		dec.SetCustomStructTag("json")
		if err := dec.Decode(v); err != nil {
			return &StorageError{Path: path, Op: "decode", Err: err}
		}
		return nil
	}

	if err := json.NewDecoder(r).Decode(v); err != nil {
		return &StorageError{Path: path, Op: "decode", Err: err}
	}
	return nil
}

// checkShape enforces the minimal required top-level keys.
func checkShape(s *Snapshot) error {
	var errs []error
	if s.ServerInfo.ID == "" {
		errs = append(errs, &ValidationError{Path: "server_info.id", Message: "missing"})
	}
	if s.ServerInfo.Name == "" {
		errs = append(errs, &ValidationError{Path: "server_info.name", Message: "missing"})
	}
	if s.BackupInfo.Timestamp == "" {
		errs = append(errs, &ValidationError{Path: "backup_info.timestamp", Message: "missing"})
	}
	if s.Channels == nil {
		errs = append(errs, &ValidationError{Path: "channels", Message: "missing"})
	}
	return errors.Join(errs...)
}

// normalize replaces nil maps so callers can index without checks.
func (s *Snapshot) normalize() {
	if s.Channels == nil {
		s.Channels = map[string]ChannelRecord{}
	}
	if s.Roles == nil {
		s.Roles = map[string]RoleRecord{}
	}
	if s.Members == nil {
		s.Members = map[string]MemberRecord{}
	}
	if s.Emojis == nil {
		s.Emojis = map[string]EmojiRecord{}
	}
	if s.Stickers == nil {
		s.Stickers = map[string]StickerRecord{}
	}
}
