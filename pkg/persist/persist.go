// Package persist writes segmentation snapshots to disk and reads them back.
//
// A saved segmentation is a small little-endian header followed by the voxel
// payload, optionally compressed:
//
//	magic    [4]byte  "SEGV"
//	version  uint8
//	codec    uint8    none, gzip, snappy or zstd
//	rank     uint8
//	shape    [rank]uint32
//	payload  ...
package persist

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"

	"segviewer/internal/models"
	"segviewer/pkg/logging"
)

const (
	magic         = "SEGV"
	formatVersion = 1
	maxRank       = 8
	// maxVoxels bounds the allocation a header can request
	maxVoxels     = math.MaxInt32
)

// ErrFormat is returned when reading something that is not a saved segmentation
var ErrFormat = errors.New("not a segmentation file")

// Compression selects the payload codec
type Compression uint8

const (
	None Compression = iota
	Gzip
	Snappy
	Zstd
)

func (c Compression) String() string {
	switch c {
	case None:
		return "none"
	case Gzip:
		return "gzip"
	case Snappy:
		return "snappy"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("Compression(%d)", uint8(c))
	}
}

// ParseCompression maps a config name to a codec
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return None, nil
	case "gzip":
		return Gzip, nil
	case "snappy":
		return Snappy, nil
	case "zstd":
		return Zstd, nil
	default:
		return None, fmt.Errorf("unknown compression %q", name)
	}
}

// Sink receives segmentation snapshots
type Sink interface {
	Save(ctx context.Context, vol *models.Volume) error
}

type header struct {
	Magic   [4]byte
	Version uint8
	Codec   uint8
	Rank    uint8
}

// Encode writes vol to w
func Encode(w io.Writer, vol *models.Volume, c Compression) error {
	if vol == nil {
		return fmt.Errorf("encode: nil volume")
	}
	if vol.Dims() == 0 || vol.Dims() > maxRank {
		return fmt.Errorf("encode: rank %d not in [1,%d]", vol.Dims(), maxRank)
	}

	h := header{Version: formatVersion, Codec: uint8(c), Rank: uint8(vol.Dims())}
	copy(h.Magic[:], magic)
	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	shape := make([]uint32, len(vol.Shape))
	for i, d := range vol.Shape {
		shape[i] = uint32(d)
	}
	if err := binary.Write(w, binary.LittleEndian, shape); err != nil {
		return fmt.Errorf("write shape: %w", err)
	}

	switch c {
	case None:
		_, err := w.Write(vol.Data)
		return err
	case Gzip:
		zw := gzip.NewWriter(w)
		if _, err := zw.Write(vol.Data); err != nil {
			return fmt.Errorf("gzip payload: %w", err)
		}
		return zw.Close()
	case Snappy:
		_, err := w.Write(snappy.Encode(nil, vol.Data))
		return err
	case Zstd:
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return err
		}
		if _, err := enc.Write(vol.Data); err != nil {
			enc.Close()
			return fmt.Errorf("zstd payload: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("illegal compression %s", c)
	}
}

// Decode reads a volume written by Encode
func Decode(r io.Reader) (*models.Volume, error) {
	var h header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if string(h.Magic[:]) != magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrFormat, h.Magic[:])
	}
	if h.Version != formatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrFormat, h.Version)
	}
	if h.Rank == 0 || h.Rank > maxRank {
		return nil, fmt.Errorf("%w: rank %d", ErrFormat, h.Rank)
	}
	shape32 := make([]uint32, h.Rank)
	if err := binary.Read(r, binary.LittleEndian, shape32); err != nil {
		return nil, fmt.Errorf("%w: short shape: %v", ErrFormat, err)
	}
	shape := make([]int, h.Rank)
	n := 1
	for i, d := range shape32 {
		shape[i] = int(d)
		if d != 0 && n > maxVoxels/int(d) {
			return nil, fmt.Errorf("%w: shape %v exceeds %d voxels", ErrFormat, shape32, maxVoxels)
		}
		n *= int(d)
	}
	vol := &models.Volume{Shape: shape, Data: make([]uint8, n)}

	var payload io.Reader
	switch Compression(h.Codec) {
	case None:
		payload = r
	case Gzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip payload: %w", err)
		}
		defer zr.Close()
		payload = zr
	case Snappy:
		raw, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		data, err := snappy.Decode(nil, raw)
		if err != nil {
			return nil, fmt.Errorf("snappy payload: %w", err)
		}
		payload = bytes.NewReader(data)
	case Zstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd payload: %w", err)
		}
		defer dec.Close()
		payload = dec
	default:
		return nil, fmt.Errorf("%w: unknown codec %d", ErrFormat, h.Codec)
	}

	if _, err := io.ReadFull(payload, vol.Data); err != nil {
		return nil, fmt.Errorf("%w: payload of %d voxels: %v", ErrFormat, n, err)
	}
	return vol, nil
}

// FileSink saves every snapshot to the same path, replacing the previous file
type FileSink struct {
	Path        string
	Compression Compression

	logger logrus.FieldLogger
}

// NewFileSink creates a sink writing to path
func NewFileSink(path string, c Compression, logger logrus.FieldLogger) *FileSink {
	return &FileSink{
		Path:        path,
		Compression: c,
		logger:      logging.Or(logger).WithField("path", path),
	}
}

// Save writes vol next to the target and renames it into place, so readers
// never see a partial file.
func (f *FileSink) Save(ctx context.Context, vol *models.Volume) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()

	if dir := filepath.Dir(f.Path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create save directory: %w", err)
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.Path), filepath.Base(f.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create save file: %w", err)
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriter(tmp)
	if err := Encode(bw, vol, f.Compression); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode segmentation: %w", err)
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("failed to move save file into place: %w", err)
	}

	fields := logrus.Fields{
		"shape":       vol.Shape,
		"compression": f.Compression,
		"elapsed":     time.Since(start).Round(time.Millisecond),
	}
	if info, err := os.Stat(f.Path); err == nil {
		fields["size"] = humanize.Bytes(uint64(info.Size()))
	}
	f.logger.WithFields(fields).Info("Segmentation saved")
	return nil
}

// Load reads a segmentation saved by a FileSink
func Load(path string) (*models.Volume, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open segmentation: %w", err)
	}
	defer file.Close()

	vol, err := Decode(bufio.NewReader(file))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return vol, nil
}
